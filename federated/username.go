package federated

import (
	"context"
	"strconv"
	"strings"
)

const maxUsernameAttempts = 1000

// UsernameFromEmail returns the sanitized local part of email. Characters
// outside [a-z0-9._-] are dropped; an empty result becomes "user".
func UsernameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	var b strings.Builder
	for _, r := range strings.ToLower(local) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "user"
	}
	return b.String()
}

// UniqueUsername returns base, or base followed by the first numeric suffix
// (1, 2, ...) that exists reports as free.
func UniqueUsername(ctx context.Context, base string, exists func(context.Context, string) (bool, error)) (string, error) {
	candidate := base
	for i := 1; i <= maxUsernameAttempts; i++ {
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + strconv.Itoa(i)
	}
	return "", ErrNoUsername
}
