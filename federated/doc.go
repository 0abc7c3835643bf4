// Package federated verifies identity-provider ID tokens and derives local
// usernames for first-time federated sign-ins.
//
// The default [GoogleVerifier] calls Google's tokeninfo endpoint; any other
// provider plugs in through [Verifier].
package federated
