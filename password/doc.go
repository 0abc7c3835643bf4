// Package password hashes and verifies passwords with Argon2id.
//
// # Output format
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.NeedsRehash] reports hashes made with weaker parameters so the
// caller can upgrade them on the next successful login.
//
// This package never stores passwords and never logs them; the reference
// user directory in directory/sqlite is its only caller.
package password
