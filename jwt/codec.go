package jwt

import (
	"encoding/base64"
	"fmt"
	"strings"
)

var (
	toURL   = strings.NewReplacer("+", "-", "/", "_", "=", "")
	fromURL = strings.NewReplacer("-", "+", "_", "/")
)

// Base64URLEncode encodes b with the URL alphabet and no padding.
func Base64URLEncode(b []byte) string {
	return toURL.Replace(base64.StdEncoding.EncodeToString(b))
}

// Base64URLDecode reverses [Base64URLEncode]. Missing padding is restored
// before decoding, so both padded and unpadded input are accepted.
func Base64URLDecode(s string) ([]byte, error) {
	std := fromURL.Replace(s)
	if rem := len(std) % 4; rem != 0 {
		std += strings.Repeat("=", 4-rem)
	}

	out, err := base64.StdEncoding.DecodeString(std)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return out, nil
}
