package session

import (
	"fmt"
	"strconv"
)

// RecordVersion is written to the "v" field of every record hash. Readers
// accept any version up to the current one; unknown fields are ignored.
const RecordVersion = 1

const (
	fieldVersion  = "v"
	fieldUserID   = "uid"
	fieldPAT      = "pat"
	fieldToken    = "token"
	fieldCreated  = "created"
	fieldLastUsed = "last_used"
	fieldExpires  = "exp"
	fieldRefresh  = "refresh"
)

// EncodeRecord flattens r into hash field/value pairs.
func EncodeRecord(r *Record) []string {
	return []string{
		fieldVersion, strconv.Itoa(RecordVersion),
		fieldUserID, r.UserID,
		fieldPAT, r.PAT,
		fieldToken, r.Token,
		fieldCreated, strconv.FormatInt(r.Created, 10),
		fieldLastUsed, strconv.FormatInt(r.LastUsed, 10),
		fieldExpires, strconv.FormatInt(r.ExpiresAt, 10),
		fieldRefresh, r.RefreshToken,
	}
}

// DecodeRecord rebuilds a Record from a record hash.
func DecodeRecord(fields map[string]string) (*Record, error) {
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}

	v, err := strconv.Atoi(fields[fieldVersion])
	if err != nil || v < 1 || v > RecordVersion {
		return nil, fmt.Errorf("%w: unsupported record version %q", ErrRecordCorrupt, fields[fieldVersion])
	}

	r := &Record{
		UserID:       fields[fieldUserID],
		PAT:          fields[fieldPAT],
		Token:        fields[fieldToken],
		RefreshToken: fields[fieldRefresh],
	}
	if r.PAT == "" || r.UserID == "" {
		return nil, fmt.Errorf("%w: missing identity", ErrRecordCorrupt)
	}

	for name, dst := range map[string]*int64{
		fieldCreated:  &r.Created,
		fieldLastUsed: &r.LastUsed,
		fieldExpires:  &r.ExpiresAt,
	} {
		raw, ok := fields[name]
		if !ok || raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrRecordCorrupt, name, err)
		}
		*dst = n
	}

	return r, nil
}
