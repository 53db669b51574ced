package domain

// anonymousName is the reserved principal name for unauthenticated access.
// Backends store anonymous grants under this name, so recipients may not
// claim it for themselves.
const anonymousName = "ANONYMOUS"

// RecipientID identifies the principal a request is served on behalf of.
// The zero value is invalid; construct one with NewRecipientID or use
// Anonymous.
type RecipientID struct {
	name string
}

// Anonymous is the shared identity for unauthenticated requests.
var Anonymous = RecipientID{name: anonymousName}

// NewRecipientID validates a recipient name and wraps it. The name must be
// non-empty and must not collide with the reserved anonymous principal.
func NewRecipientID(name string) (RecipientID, error) {
	if name == "" {
		return RecipientID{}, ErrValidation("recipient name must not be empty")
	}
	if name == anonymousName {
		return RecipientID{}, ErrValidation("recipient name %q is reserved", anonymousName)
	}
	return RecipientID{name: name}, nil
}

// String returns the recipient's name; Anonymous renders as "ANONYMOUS".
func (r RecipientID) String() string { return r.name }

// IsAnonymous reports whether this is the anonymous principal.
func (r RecipientID) IsAnonymous() bool { return r.name == anonymousName }

// IsZero reports whether the recipient was never initialized.
func (r RecipientID) IsZero() bool { return r.name == "" }

// ClientID identifies an authenticated API client (the subject of a token).
// It is distinct from RecipientID: a client authenticates, a recipient is
// what grants are keyed on; today they map one-to-one.
type ClientID struct {
	name string
}

// NewClientID validates a client name and wraps it.
func NewClientID(name string) (ClientID, error) {
	if name == "" {
		return ClientID{}, ErrValidation("client name must not be empty")
	}
	if name == anonymousName {
		return ClientID{}, ErrValidation("client name %q is reserved", anonymousName)
	}
	return ClientID{name: name}, nil
}

func (c ClientID) String() string { return c.name }

// Recipient converts the client identity into the recipient grants are
// resolved against.
func (c ClientID) Recipient() RecipientID { return RecipientID{name: c.name} }
