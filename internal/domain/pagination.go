package domain

import (
	"encoding/base64"
	"encoding/json"
)

// DefaultMaxResults is the default page size when none is specified.
const DefaultMaxResults = 100

// MaxMaxResults is the maximum allowed page size.
const MaxMaxResults = 1000

// PageRequest holds pagination parameters for list operations.
type PageRequest struct {
	MaxResults int
	PageToken  string // opaque token minted by the backend that serves the listing
}

// Limit returns the effective page size, clamped to [1, MaxMaxResults].
func (p PageRequest) Limit() int {
	if p.MaxResults <= 0 {
		return DefaultMaxResults
	}
	if p.MaxResults > MaxMaxResults {
		return MaxMaxResults
	}
	return p.MaxResults
}

// pageToken is the envelope every continuation cursor travels in. Backend
// and scope tags let the decoder reject tokens replayed against a different
// backend or listing without ever interpreting a foreign cursor.
type pageToken struct {
	Backend string          `json:"b"`
	Scope   string          `json:"s"`
	Cursor  json.RawMessage `json:"d"`
}

// EncodePageToken wraps a backend-private cursor in an opaque token bound to
// the given backend tag and listing scope.
func EncodePageToken(backend, scope string, cursor any) (string, error) {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return "", err
	}
	blob, err := json.Marshal(pageToken{Backend: backend, Scope: scope, Cursor: raw})
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(blob), nil
}

// DecodePageToken unwraps a token into the backend's cursor type. Tokens
// that are not valid envelopes, or whose tags do not match the requesting
// backend and scope, fail with a ValidationError; the cursor payload itself
// is only unmarshalled after the tags check out.
func DecodePageToken(token, backend, scope string, cursor any) error {
	blob, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return ErrValidation("malformed page token")
	}
	var env pageToken
	if err := json.Unmarshal(blob, &env); err != nil {
		return ErrValidation("malformed page token")
	}
	if env.Backend != backend || env.Scope != scope {
		return ErrValidation("page token was issued for a different listing")
	}
	if err := json.Unmarshal(env.Cursor, cursor); err != nil {
		return ErrValidation("malformed page token")
	}
	return nil
}
