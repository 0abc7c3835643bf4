package jwt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// TypeJWT is the only accepted "typ" header value.
const TypeJWT = "JWT"

// Header is the JOSE header written by this package.
type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// Claims is the access-token payload:
//
//	{iss, iat, nbf, exp, data: {user: {id, username, ip, device, pat, ...}}}
type Claims struct {
	Issuer    string    `json:"iss"`
	IssuedAt  int64     `json:"iat"`
	NotBefore int64     `json:"nbf"`
	ExpiresAt int64     `json:"exp"`
	Data      ClaimData `json:"data"`
}

type ClaimData struct {
	User UserClaims `json:"user"`
}

// UserClaims identifies the subject and the session the token belongs to.
// Extra holds enricher-provided fields; they are flattened next to the
// fixed keys on the wire and never override them.
type UserClaims struct {
	ID       string
	Username string
	IP       string
	Device   string
	PAT      string
	Extra    map[string]any
}

var reservedUserKeys = map[string]struct{}{
	"id": {}, "username": {}, "ip": {}, "device": {}, "pat": {},
}

// IsReservedUserKey reports whether key is one of the fixed data.user keys.
func IsReservedUserKey(key string) bool {
	_, ok := reservedUserKeys[key]
	return ok
}

func (u UserClaims) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(u.Extra)+5)
	for k, v := range u.Extra {
		if IsReservedUserKey(k) {
			continue
		}
		out[k] = v
	}
	out["id"] = u.ID
	out["username"] = u.Username
	out["ip"] = u.IP
	out["device"] = u.Device
	out["pat"] = u.PAT
	return json.Marshal(out)
}

func (u *UserClaims) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*u = UserClaims{}
	for k, v := range raw {
		switch k {
		case "id":
			id, err := decodeID(v)
			if err != nil {
				return err
			}
			u.ID = id
		case "username":
			if err := decodeOptionalString(v, &u.Username); err != nil {
				return fmt.Errorf("username: %w", err)
			}
		case "ip":
			if err := decodeOptionalString(v, &u.IP); err != nil {
				return fmt.Errorf("ip: %w", err)
			}
		case "device":
			if err := decodeOptionalString(v, &u.Device); err != nil {
				return fmt.Errorf("device: %w", err)
			}
		case "pat":
			if err := decodeOptionalString(v, &u.PAT); err != nil {
				return fmt.Errorf("pat: %w", err)
			}
		default:
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return err
			}
			if u.Extra == nil {
				u.Extra = make(map[string]any)
			}
			u.Extra[k] = val
		}
	}
	return nil
}

// Numeric ids are accepted so tokens minted by integer-keyed directories
// still resolve.
func decodeID(v json.RawMessage) (string, error) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", nil
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return "", fmt.Errorf("id: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	return n.String(), nil
}

func decodeOptionalString(v json.RawMessage, dst *string) error {
	if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		*dst = ""
		return nil
	}
	return json.Unmarshal(v, dst)
}

// CheckTiming enforces nbf <= iat <= exp.
func (c Claims) CheckTiming() error {
	if c.ExpiresAt == 0 {
		return fmt.Errorf("%w: exp missing", ErrInvalidClaims)
	}
	if c.NotBefore > c.IssuedAt || c.IssuedAt > c.ExpiresAt {
		return fmt.Errorf("%w: nbf=%d iat=%d exp=%d", ErrInvalidClaims, c.NotBefore, c.IssuedAt, c.ExpiresAt)
	}
	return nil
}
