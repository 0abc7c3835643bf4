package jwt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var compactPattern = regexp.MustCompile(`^[A-Za-z0-9\-_=]+\.[A-Za-z0-9\-_=]+\.[A-Za-z0-9\-_=]+$`)

// Decoded is a parsed compact token. The encoded segments are kept so the
// signature is always checked against the bytes the client sent.
type Decoded struct {
	Header           Header
	HeaderEncoded    string
	HeaderJSON       json.RawMessage
	Payload          Claims
	PayloadEncoded   string
	PayloadJSON      json.RawMessage
	Signature        []byte
	SignatureEncoded string
}

// SigningInput returns "header.payload" as sent.
func (d *Decoded) SigningInput() string {
	return d.HeaderEncoded + "." + d.PayloadEncoded
}

// HeaderFields returns the header as a generic map, including fields this
// package does not model.
func (d *Decoded) HeaderFields() (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(d.HeaderJSON, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PayloadFields returns the payload as a generic map.
func (d *Decoded) PayloadFields() (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(d.PayloadJSON, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SigningInput serializes header and payload and joins their base64url forms.
func SigningInput(header Header, payload Claims) (string, error) {
	h, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	p, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return Base64URLEncode(h) + "." + Base64URLEncode(p), nil
}

// Encode assembles prefix + b64(header) + "." + b64(payload) + "." + b64(signature).
func Encode(header Header, payload Claims, signature []byte, prefix string) (string, error) {
	input, err := SigningInput(header, payload)
	if err != nil {
		return "", err
	}
	return prefix + input + "." + Base64URLEncode(signature), nil
}

// Decode splits and decodes a compact token. A non-empty expectedPrefix
// must be present and is stripped first.
func Decode(token, expectedPrefix string) (*Decoded, error) {
	if expectedPrefix != "" {
		if !strings.HasPrefix(token, expectedPrefix) {
			return nil, ErrInvalidPrefix
		}
		token = token[len(expectedPrefix):]
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, len(parts))
	}

	headerJSON, err := Base64URLDecode(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedToken, err)
	}
	payloadJSON, err := Base64URLDecode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}
	sig, err := Base64URLDecode(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrMalformedToken, err)
	}

	d := &Decoded{
		HeaderEncoded:    parts[0],
		HeaderJSON:       headerJSON,
		PayloadEncoded:   parts[1],
		PayloadJSON:      payloadJSON,
		Signature:        sig,
		SignatureEncoded: parts[2],
	}
	if err := json.Unmarshal(headerJSON, &d.Header); err != nil {
		return nil, fmt.Errorf("%w: header json: %v", ErrMalformedToken, err)
	}
	if err := json.Unmarshal(payloadJSON, &d.Payload); err != nil {
		return nil, fmt.Errorf("%w: payload json: %v", ErrMalformedToken, err)
	}

	return d, nil
}

// LooksCompact reports whether token (after prefix) is three base64url
// segments. It is the cheap shape check applied to bearer credentials.
func LooksCompact(token, prefix string) bool {
	if prefix != "" {
		if !strings.HasPrefix(token, prefix) {
			return false
		}
		token = token[len(prefix):]
	}
	return compactPattern.MatchString(token)
}
