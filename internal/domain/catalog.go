package domain

import "context"

// Share is a named collection of schemas exposed to recipients.
type Share struct {
	ID   string
	Name string
}

// Schema is a named collection of tables within a share.
type Schema struct {
	Name  string
	Share string
}

// Table is a shared table. StoragePath points at the table root in object
// storage and never leaves the server; recipients only ever see pre-signed
// URLs derived from it.
type Table struct {
	ID          string
	Name        string
	Schema      string
	Share       string
	ShareID     string
	StoragePath string
}

// Page is one page of a listing plus the token for the next one. An empty
// NextPageToken means the listing is exhausted.
type Page[T any] struct {
	Items         []T
	NextPageToken string
}

// Catalog is the read contract every catalog backend implements. All
// listings are ordered by (name, id) ascending and scoped to what the
// recipient has been granted: implementations must not let an item the
// recipient cannot see influence results, page boundaries, or tokens.
//
// Point lookups return NotFoundError for missing securables and
// AccessDeniedError for existing ones the recipient lacks; callers at the
// protocol boundary collapse the two (see package access).
type Catalog interface {
	// ListShares pages through the shares visible to the recipient.
	ListShares(ctx context.Context, recipient RecipientID, page PageRequest) (Page[Share], error)

	// GetShare fetches a single share by name.
	GetShare(ctx context.Context, recipient RecipientID, share string) (Share, error)

	// ListSchemas pages through the schemas of a share.
	ListSchemas(ctx context.Context, recipient RecipientID, share string, page PageRequest) (Page[Schema], error)

	// ListSchemaTables pages through the tables of one schema.
	ListSchemaTables(ctx context.Context, recipient RecipientID, share, schema string, page PageRequest) (Page[Table], error)

	// ListShareTables pages through the tables of every schema in a share.
	ListShareTables(ctx context.Context, recipient RecipientID, share string, page PageRequest) (Page[Table], error)

	// GetTable fetches a single table by its fully qualified name.
	GetTable(ctx context.Context, recipient RecipientID, share, schema, table string) (Table, error)
}
