package internal

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"strings"
)

const (
	// PATPrefix starts every PAT id.
	PATPrefix = "pat_"

	patRawSize     = 12
	refreshRawSize = 64
)

var errShortRead = errors.New("short random read")

func readRandom(r io.Reader, n int) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, errShortRead
		}
		return nil, err
	}
	return buf, nil
}

// NewPATID returns "pat_" followed by 24 hex characters. A nil r uses
// crypto/rand.
func NewPATID(r io.Reader) (string, error) {
	raw, err := readRandom(r, patRawSize)
	if err != nil {
		return "", err
	}
	return PATPrefix + hex.EncodeToString(raw), nil
}

// NewRefreshToken returns 64 random bytes as 128 lowercase hex characters.
func NewRefreshToken(r io.Reader) (string, error) {
	raw, err := readRandom(r, refreshRawSize)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// IsPATID reports whether s has the shape produced by NewPATID.
func IsPATID(s string) bool {
	if !strings.HasPrefix(s, PATPrefix) {
		return false
	}
	return isLowerHex(s[len(PATPrefix):], patRawSize*2)
}

// IsRefreshToken reports whether s has the shape produced by NewRefreshToken.
// Callers use it to skip a store round trip for garbage input.
func IsRefreshToken(s string) bool {
	return isLowerHex(s, refreshRawSize*2)
}

func isLowerHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
