// Package access wraps a catalog backend with the enforcement rules every
// backend shares: securable names are validated before touching storage,
// and denied lookups are collapsed into NotFound so the protocol surface
// never discloses that a securable exists.
//
// Grant evaluation itself lives in the backends, below the pagination
// boundary; this layer only normalizes what crosses it.
package access

import (
	"context"
	"errors"
	"strings"

	"lakeshare/internal/domain"
)

// Catalog decorates a backend catalog.
type Catalog struct {
	backend domain.Catalog
}

var _ domain.Catalog = (*Catalog)(nil)

// Wrap decorates a backend with name validation and denial masking.
func Wrap(backend domain.Catalog) *Catalog {
	return &Catalog{backend: backend}
}

// validateName rejects names that are empty or contain the characters the
// backends use as key separators.
func validateName(kind, name string) error {
	if name == "" {
		return domain.ErrValidation("%s name must not be empty", kind)
	}
	if strings.ContainsAny(name, ".#/") {
		return domain.ErrValidation("%s name %q contains a reserved character", kind, name)
	}
	return nil
}

// maskDenied converts AccessDeniedError into NotFoundError with a message
// that does not reveal the securable exists.
func maskDenied(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	var denied *domain.AccessDeniedError
	if errors.As(err, &denied) {
		return domain.ErrNotFound(format, args...)
	}
	return err
}

// ListShares implements domain.Catalog.
func (c *Catalog) ListShares(ctx context.Context, recipient domain.RecipientID, page domain.PageRequest) (domain.Page[domain.Share], error) {
	return c.backend.ListShares(ctx, recipient, page)
}

// GetShare implements domain.Catalog.
func (c *Catalog) GetShare(ctx context.Context, recipient domain.RecipientID, share string) (domain.Share, error) {
	if err := validateName("share", share); err != nil {
		return domain.Share{}, err
	}
	out, err := c.backend.GetShare(ctx, recipient, share)
	return out, maskDenied(err, "share %q not found", share)
}

// ListSchemas implements domain.Catalog.
func (c *Catalog) ListSchemas(ctx context.Context, recipient domain.RecipientID, share string, page domain.PageRequest) (domain.Page[domain.Schema], error) {
	if err := validateName("share", share); err != nil {
		return domain.Page[domain.Schema]{}, err
	}
	out, err := c.backend.ListSchemas(ctx, recipient, share, page)
	return out, maskDenied(err, "share %q not found", share)
}

// ListSchemaTables implements domain.Catalog.
func (c *Catalog) ListSchemaTables(ctx context.Context, recipient domain.RecipientID, share, schema string, page domain.PageRequest) (domain.Page[domain.Table], error) {
	if err := validateName("share", share); err != nil {
		return domain.Page[domain.Table]{}, err
	}
	if err := validateName("schema", schema); err != nil {
		return domain.Page[domain.Table]{}, err
	}
	out, err := c.backend.ListSchemaTables(ctx, recipient, share, schema, page)
	return out, maskDenied(err, "schema %q not found in share %q", schema, share)
}

// ListShareTables implements domain.Catalog.
func (c *Catalog) ListShareTables(ctx context.Context, recipient domain.RecipientID, share string, page domain.PageRequest) (domain.Page[domain.Table], error) {
	if err := validateName("share", share); err != nil {
		return domain.Page[domain.Table]{}, err
	}
	out, err := c.backend.ListShareTables(ctx, recipient, share, page)
	return out, maskDenied(err, "share %q not found", share)
}

// GetTable implements domain.Catalog.
func (c *Catalog) GetTable(ctx context.Context, recipient domain.RecipientID, share, schema, table string) (domain.Table, error) {
	if err := validateName("share", share); err != nil {
		return domain.Table{}, err
	}
	if err := validateName("schema", schema); err != nil {
		return domain.Table{}, err
	}
	if err := validateName("table", table); err != nil {
		return domain.Table{}, err
	}
	out, err := c.backend.GetTable(ctx, recipient, share, schema, table)
	return out, maskDenied(err, "table %s.%s.%s not found", share, schema, table)
}
