// Package postgres implements the catalog contract over a relational
// grant schema: shares, schemas, and tables rows plus per-level ACL join
// tables keyed by client name. Visibility is evaluated inside SQL, so
// filtering happens below the pagination boundary and keyset cursors can
// never reference a row the recipient is not allowed to see.
//
// Listings are ordered by (name, id) and paginated by keyset:
// WHERE (name, id) > (last name, last id). Multi-step reads run inside a
// read-only transaction so they observe one snapshot.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"

	"lakeshare/internal/domain"
)

const backendTag = "postgres"

const maxTransientRetries = 3

// Catalog serves shares, schemas, and tables from a Postgres grant schema.
type Catalog struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.Catalog = (*Catalog)(nil)

// New wraps an open connection pool.
func New(db *sql.DB, logger *slog.Logger) *Catalog {
	return &Catalog{db: db, logger: logger.With("component", "catalog.postgres")}
}

// Open connects to Postgres with the lib/pq driver and verifies the
// connection before handing the pool to New.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Catalog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db, logger), nil
}

// Close releases the connection pool.
func (c *Catalog) Close() error { return c.db.Close() }

// keyset cursors. Tokens carry the (name, id) of the last emitted row;
// all-tables listings also carry the schema name because they order
// schema-major.
type keyCursor struct {
	Name string `json:"n"`
	ID   string `json:"i"`
}

type tableKeyCursor struct {
	Schema string `json:"s"`
	Name   string `json:"n"`
	ID     string `json:"i"`
}

// isTransient reports whether an error is worth one more attempt:
// connection failures (class 08) and serialization conflicts (40001).
func isTransient(err error) bool {
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "08" || pqErr.Code == "40001"
	}
	return false
}

// withReadTx runs fn inside a read-only transaction, retrying the whole
// unit on transient failures. fn must be safe to re-run.
func (c *Catalog) withReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxTransientRetries), ctx)
	return backoff.Retry(func() error {
		tx, err := c.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			if isTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			if isTransient(err) {
				c.logger.Warn("transient postgres error, retrying", "error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		if err := tx.Commit(); err != nil {
			if isTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}, bo)
}

// Grant visibility fragments. Each EXISTS checks one ACL level for the
// recipient or the public ANONYMOUS client; visibility is their union
// (grants are additive). The outer query aliases they reference are fixed:
// s for shares, sc for schemas, t for tables.

func shareACLExpr(recipient string) sq.Sqlizer {
	return sq.Expr(`EXISTS (
		SELECT 1 FROM share_acl sa
		JOIN clients cl ON cl.id = sa.client_id
		WHERE sa.share_id = s.id AND cl.name IN (?, 'ANONYMOUS'))`, recipient)
}

func schemaACLExpr(recipient string) sq.Sqlizer {
	return sq.Expr(`EXISTS (
		SELECT 1 FROM schema_acl ga
		JOIN clients cl ON cl.id = ga.client_id
		WHERE ga.schema_id = sc.id AND cl.name IN (?, 'ANONYMOUS'))`, recipient)
}

func tableACLExpr(recipient string) sq.Sqlizer {
	return sq.Expr(`EXISTS (
		SELECT 1 FROM table_acl ta
		JOIN clients cl ON cl.id = ta.client_id
		WHERE ta.table_id = t.id AND cl.name IN (?, 'ANONYMOUS'))`, recipient)
}

// anyGrantInShareExpr is share navigability: a grant on the share itself or
// on anything beneath it.
func anyGrantInShareExpr(recipient string) sq.Sqlizer {
	return sq.Or{
		shareACLExpr(recipient),
		sq.Expr(`EXISTS (
			SELECT 1 FROM schemas sc
			JOIN schema_acl ga ON ga.schema_id = sc.id
			JOIN clients cl ON cl.id = ga.client_id
			WHERE sc.share_id = s.id AND cl.name IN (?, 'ANONYMOUS'))`, recipient),
		sq.Expr(`EXISTS (
			SELECT 1 FROM schemas sc
			JOIN tables t ON t.schema_id = sc.id
			JOIN table_acl ta ON ta.table_id = t.id
			JOIN clients cl ON cl.id = ta.client_id
			WHERE sc.share_id = s.id AND cl.name IN (?, 'ANONYMOUS'))`, recipient),
	}
}

// anyGrantInSchemaExpr is schema navigability within an already visible
// share: share grant, schema grant, or any table grant beneath the schema.
func anyGrantInSchemaExpr(recipient string) sq.Sqlizer {
	return sq.Or{
		shareACLExpr(recipient),
		schemaACLExpr(recipient),
		sq.Expr(`EXISTS (
			SELECT 1 FROM tables t
			JOIN table_acl ta ON ta.table_id = t.id
			JOIN clients cl ON cl.id = ta.client_id
			WHERE t.schema_id = sc.id AND cl.name IN (?, 'ANONYMOUS'))`, recipient),
	}
}

// tableVisibleExpr is table readability: a grant on the table or on either
// ancestor.
func tableVisibleExpr(recipient string) sq.Sqlizer {
	return sq.Or{
		shareACLExpr(recipient),
		schemaACLExpr(recipient),
		tableACLExpr(recipient),
	}
}

func runQuery(ctx context.Context, tx *sql.Tx, b sq.SelectBuilder) (*sql.Rows, error) {
	query, args, err := b.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return tx.QueryContext(ctx, query, args...)
}

// lookupShare resolves a share row by name, distinguishing missing from
// denied.
func lookupShare(ctx context.Context, tx *sql.Tx, recipient, share string) (domain.Share, error) {
	var out domain.Share
	var visible bool
	b := sq.Select("s.id", "s.name").
		Column(sq.Alias(anyGrantInShareExpr(recipient), "visible")).
		From("shares s").
		Where(sq.Eq{"s.name": share})
	query, args, err := b.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return out, fmt.Errorf("build query: %w", err)
	}
	err = tx.QueryRowContext(ctx, query, args...).Scan(&out.ID, &out.Name, &visible)
	if errors.Is(err, sql.ErrNoRows) {
		return out, domain.ErrNotFound("share %q not found", share)
	}
	if err != nil {
		return out, fmt.Errorf("lookup share %q: %w", share, err)
	}
	if !visible {
		return out, domain.ErrAccessDenied("recipient %s has no grant on share %q", recipient, share)
	}
	return out, nil
}

// ListShares implements domain.Catalog.
func (c *Catalog) ListShares(ctx context.Context, recipient domain.RecipientID, page domain.PageRequest) (domain.Page[domain.Share], error) {
	var cur keyCursor
	hasCursor := page.PageToken != ""
	if hasCursor {
		if err := domain.DecodePageToken(page.PageToken, backendTag, "shares", &cur); err != nil {
			return domain.Page[domain.Share]{}, err
		}
	}
	limit := page.Limit()

	var out domain.Page[domain.Share]
	err := c.withReadTx(ctx, func(tx *sql.Tx) error {
		out = domain.Page[domain.Share]{}
		b := sq.Select("s.id", "s.name").
			From("shares s").
			Where(anyGrantInShareExpr(recipient.String())).
			OrderBy("s.name", "s.id").
			Limit(uint64(limit + 1))
		if hasCursor {
			b = b.Where(sq.Expr("(s.name, s.id) > (?, ?)", cur.Name, cur.ID))
		}

		rows, err := runQuery(ctx, tx, b)
		if err != nil {
			return fmt.Errorf("list shares: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var s domain.Share
			if err := rows.Scan(&s.ID, &s.Name); err != nil {
				return fmt.Errorf("scan share: %w", err)
			}
			out.Items = append(out.Items, s)
		}
		return rows.Err()
	})
	if err != nil {
		return domain.Page[domain.Share]{}, err
	}

	if len(out.Items) > limit {
		out.Items = out.Items[:limit]
		last := out.Items[limit-1]
		token, err := domain.EncodePageToken(backendTag, "shares", keyCursor{Name: last.Name, ID: last.ID})
		if err != nil {
			return domain.Page[domain.Share]{}, fmt.Errorf("encode page token: %w", err)
		}
		out.NextPageToken = token
	}
	return out, nil
}

// GetShare implements domain.Catalog.
func (c *Catalog) GetShare(ctx context.Context, recipient domain.RecipientID, share string) (domain.Share, error) {
	var out domain.Share
	err := c.withReadTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = lookupShare(ctx, tx, recipient.String(), share)
		return err
	})
	return out, err
}

// ListSchemas implements domain.Catalog.
func (c *Catalog) ListSchemas(ctx context.Context, recipient domain.RecipientID, share string, page domain.PageRequest) (domain.Page[domain.Schema], error) {
	scope := "schemas:" + share
	var cur keyCursor
	hasCursor := page.PageToken != ""
	if hasCursor {
		if err := domain.DecodePageToken(page.PageToken, backendTag, scope, &cur); err != nil {
			return domain.Page[domain.Schema]{}, err
		}
	}
	limit := page.Limit()

	type schemaRow struct {
		id   string
		name string
	}
	var fetched []schemaRow
	err := c.withReadTx(ctx, func(tx *sql.Tx) error {
		fetched = nil
		parent, err := lookupShare(ctx, tx, recipient.String(), share)
		if err != nil {
			return err
		}

		b := sq.Select("sc.id", "sc.name").
			From("schemas sc").
			Join("shares s ON s.id = sc.share_id").
			Where(sq.Eq{"sc.share_id": parent.ID}).
			Where(anyGrantInSchemaExpr(recipient.String())).
			OrderBy("sc.name", "sc.id").
			Limit(uint64(limit + 1))
		if hasCursor {
			b = b.Where(sq.Expr("(sc.name, sc.id) > (?, ?)", cur.Name, cur.ID))
		}

		rows, err := runQuery(ctx, tx, b)
		if err != nil {
			return fmt.Errorf("list schemas of %q: %w", share, err)
		}
		defer rows.Close()
		for rows.Next() {
			var r schemaRow
			if err := rows.Scan(&r.id, &r.name); err != nil {
				return fmt.Errorf("scan schema: %w", err)
			}
			fetched = append(fetched, r)
		}
		return rows.Err()
	})
	if err != nil {
		return domain.Page[domain.Schema]{}, err
	}

	var out domain.Page[domain.Schema]
	if len(fetched) > limit {
		fetched = fetched[:limit]
		last := fetched[limit-1]
		token, err := domain.EncodePageToken(backendTag, scope, keyCursor{Name: last.name, ID: last.id})
		if err != nil {
			return domain.Page[domain.Schema]{}, fmt.Errorf("encode page token: %w", err)
		}
		out.NextPageToken = token
	}
	for _, r := range fetched {
		out.Items = append(out.Items, domain.Schema{Name: r.name, Share: share})
	}
	return out, nil
}

// tableSelect is the projection every table listing shares.
func tableSelect() sq.SelectBuilder {
	return sq.Select("t.id", "t.name", "sc.name", "s.name", "s.id", "t.location").
		From("tables t").
		Join("schemas sc ON sc.id = t.schema_id").
		Join("shares s ON s.id = sc.share_id")
}

func scanTables(rows *sql.Rows) ([]domain.Table, error) {
	var out []domain.Table
	for rows.Next() {
		var t domain.Table
		if err := rows.Scan(&t.ID, &t.Name, &t.Schema, &t.Share, &t.ShareID, &t.StoragePath); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// lookupSchema resolves a schema row within an already resolved share.
func lookupSchema(ctx context.Context, tx *sql.Tx, recipient, shareID, share, schema string) (string, error) {
	var id string
	var visible bool
	b := sq.Select("sc.id").
		Column(sq.Alias(anyGrantInSchemaExpr(recipient), "visible")).
		From("schemas sc").
		Join("shares s ON s.id = sc.share_id").
		Where(sq.Eq{"sc.share_id": shareID, "sc.name": schema})
	query, args, err := b.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return "", fmt.Errorf("build query: %w", err)
	}
	err = tx.QueryRowContext(ctx, query, args...).Scan(&id, &visible)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound("schema %q not found in share %q", schema, share)
	}
	if err != nil {
		return "", fmt.Errorf("lookup schema %s.%s: %w", share, schema, err)
	}
	if !visible {
		return "", domain.ErrAccessDenied("recipient %s has no grant on schema %s.%s", recipient, share, schema)
	}
	return id, nil
}

// ListSchemaTables implements domain.Catalog.
func (c *Catalog) ListSchemaTables(ctx context.Context, recipient domain.RecipientID, share, schema string, page domain.PageRequest) (domain.Page[domain.Table], error) {
	scope := "tables:" + share + "." + schema
	var cur keyCursor
	hasCursor := page.PageToken != ""
	if hasCursor {
		if err := domain.DecodePageToken(page.PageToken, backendTag, scope, &cur); err != nil {
			return domain.Page[domain.Table]{}, err
		}
	}
	limit := page.Limit()

	var fetched []domain.Table
	err := c.withReadTx(ctx, func(tx *sql.Tx) error {
		fetched = nil
		parent, err := lookupShare(ctx, tx, recipient.String(), share)
		if err != nil {
			return err
		}
		schemaID, err := lookupSchema(ctx, tx, recipient.String(), parent.ID, share, schema)
		if err != nil {
			return err
		}

		b := tableSelect().
			Where(sq.Eq{"t.schema_id": schemaID}).
			Where(tableVisibleExpr(recipient.String())).
			OrderBy("t.name", "t.id").
			Limit(uint64(limit + 1))
		if hasCursor {
			b = b.Where(sq.Expr("(t.name, t.id) > (?, ?)", cur.Name, cur.ID))
		}

		rows, err := runQuery(ctx, tx, b)
		if err != nil {
			return fmt.Errorf("list tables of %s.%s: %w", share, schema, err)
		}
		defer rows.Close()
		fetched, err = scanTables(rows)
		return err
	})
	if err != nil {
		return domain.Page[domain.Table]{}, err
	}

	out := domain.Page[domain.Table]{}
	if len(fetched) > limit {
		fetched = fetched[:limit]
		last := fetched[limit-1]
		token, err := domain.EncodePageToken(backendTag, scope, keyCursor{Name: last.Name, ID: last.ID})
		if err != nil {
			return domain.Page[domain.Table]{}, fmt.Errorf("encode page token: %w", err)
		}
		out.NextPageToken = token
	}
	out.Items = fetched
	return out, nil
}

// ListShareTables implements domain.Catalog. Ordered schema-major:
// (schema name, table name, table id).
func (c *Catalog) ListShareTables(ctx context.Context, recipient domain.RecipientID, share string, page domain.PageRequest) (domain.Page[domain.Table], error) {
	scope := "all-tables:" + share
	var cur tableKeyCursor
	hasCursor := page.PageToken != ""
	if hasCursor {
		if err := domain.DecodePageToken(page.PageToken, backendTag, scope, &cur); err != nil {
			return domain.Page[domain.Table]{}, err
		}
	}
	limit := page.Limit()

	var fetched []domain.Table
	err := c.withReadTx(ctx, func(tx *sql.Tx) error {
		fetched = nil
		parent, err := lookupShare(ctx, tx, recipient.String(), share)
		if err != nil {
			return err
		}

		b := tableSelect().
			Where(sq.Eq{"sc.share_id": parent.ID}).
			Where(tableVisibleExpr(recipient.String())).
			OrderBy("sc.name", "t.name", "t.id").
			Limit(uint64(limit + 1))
		if hasCursor {
			b = b.Where(sq.Expr("(sc.name, t.name, t.id) > (?, ?, ?)", cur.Schema, cur.Name, cur.ID))
		}

		rows, err := runQuery(ctx, tx, b)
		if err != nil {
			return fmt.Errorf("list tables of %q: %w", share, err)
		}
		defer rows.Close()
		fetched, err = scanTables(rows)
		return err
	})
	if err != nil {
		return domain.Page[domain.Table]{}, err
	}

	out := domain.Page[domain.Table]{}
	if len(fetched) > limit {
		fetched = fetched[:limit]
		last := fetched[limit-1]
		token, err := domain.EncodePageToken(backendTag, scope, tableKeyCursor{Schema: last.Schema, Name: last.Name, ID: last.ID})
		if err != nil {
			return domain.Page[domain.Table]{}, fmt.Errorf("encode page token: %w", err)
		}
		out.NextPageToken = token
	}
	out.Items = fetched
	return out, nil
}

// GetTable implements domain.Catalog. Share, schema, and table are resolved
// in three steps inside one read transaction so each missing level reports
// its own NotFound against a single snapshot.
func (c *Catalog) GetTable(ctx context.Context, recipient domain.RecipientID, share, schema, table string) (domain.Table, error) {
	var out domain.Table
	err := c.withReadTx(ctx, func(tx *sql.Tx) error {
		parent, err := lookupShare(ctx, tx, recipient.String(), share)
		if err != nil {
			return err
		}
		schemaID, err := lookupSchema(ctx, tx, recipient.String(), parent.ID, share, schema)
		if err != nil {
			return err
		}

		var visible bool
		b := tableSelect().
			Column(sq.Alias(tableVisibleExpr(recipient.String()), "visible")).
			Where(sq.Eq{"t.schema_id": schemaID, "t.name": table})
		query, args, err := b.PlaceholderFormat(sq.Dollar).ToSql()
		if err != nil {
			return fmt.Errorf("build query: %w", err)
		}
		err = tx.QueryRowContext(ctx, query, args...).
			Scan(&out.ID, &out.Name, &out.Schema, &out.Share, &out.ShareID, &out.StoragePath, &visible)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound("table %s.%s.%s not found", share, schema, table)
		}
		if err != nil {
			return fmt.Errorf("lookup table %s.%s.%s: %w", share, schema, table, err)
		}
		if !visible {
			return domain.ErrAccessDenied("recipient %s has no grant on table %s.%s.%s", recipient, share, schema, table)
		}
		return nil
	})
	if err != nil {
		return domain.Table{}, err
	}
	return out, nil
}
