// Package file implements the catalog contract over a declarative YAML
// document. The whole document is parsed into an immutable in-memory
// snapshot; reloads swap the snapshot atomically, and page tokens carry a
// content fingerprint so a cursor minted against one snapshot cannot be
// replayed against another.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"lakeshare/internal/domain"
)

const backendTag = "file"

// Catalog serves shares, schemas, and tables from a YAML share file.
type Catalog struct {
	path   string
	logger *slog.Logger

	mu   sync.RWMutex
	snap *snapshot
}

var _ domain.Catalog = (*Catalog)(nil)

// New loads the share file at path. The file must parse and validate;
// a server should not start against a broken catalog.
func New(path string, logger *slog.Logger) (*Catalog, error) {
	c := &Catalog{path: path, logger: logger.With("component", "catalog.file")}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the share file and swaps the active snapshot. On error
// the previous snapshot stays in service.
func (c *Catalog) Reload() error {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read share file %s: %w", c.path, err)
	}
	snap, err := parseSnapshot(raw)
	if err != nil {
		return fmt.Errorf("load share file %s: %w", c.path, err)
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	c.logger.Info("share file loaded",
		"path", c.path,
		"shares", len(snap.shares),
		"fingerprint", snap.fingerprint)
	return nil
}

func (c *Catalog) snapshot() *snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// offsetCursor is the file backend's private page cursor: a position in
// the filtered listing plus the fingerprint of the snapshot it indexes.
type offsetCursor struct {
	Offset      int    `json:"o"`
	Fingerprint string `json:"f"`
}

func pageOf[T any](items []T, page domain.PageRequest, scope, fingerprint string) (domain.Page[T], error) {
	offset := 0
	if page.PageToken != "" {
		var cur offsetCursor
		if err := domain.DecodePageToken(page.PageToken, backendTag, scope, &cur); err != nil {
			return domain.Page[T]{}, err
		}
		if cur.Fingerprint != fingerprint {
			return domain.Page[T]{}, domain.ErrValidation("page token is no longer valid")
		}
		if cur.Offset < 0 || cur.Offset > len(items) {
			return domain.Page[T]{}, domain.ErrValidation("page token is no longer valid")
		}
		offset = cur.Offset
	}

	end := offset + page.Limit()
	if end > len(items) {
		end = len(items)
	}

	out := domain.Page[T]{Items: items[offset:end]}
	if end < len(items) {
		token, err := domain.EncodePageToken(backendTag, scope, offsetCursor{Offset: end, Fingerprint: fingerprint})
		if err != nil {
			return domain.Page[T]{}, fmt.Errorf("encode page token: %w", err)
		}
		out.NextPageToken = token
	}
	return out, nil
}

// ListShares implements domain.Catalog.
func (c *Catalog) ListShares(ctx context.Context, recipient domain.RecipientID, page domain.PageRequest) (domain.Page[domain.Share], error) {
	snap := c.snapshot()
	var visible []domain.Share
	for i := range snap.shares {
		if snap.shares[i].shareVisible(recipient) {
			visible = append(visible, snap.shares[i].share)
		}
	}
	return pageOf(visible, page, "shares", snap.fingerprint)
}

// GetShare implements domain.Catalog.
func (c *Catalog) GetShare(ctx context.Context, recipient domain.RecipientID, share string) (domain.Share, error) {
	snap := c.snapshot()
	entry := snap.findShare(share)
	if entry == nil {
		return domain.Share{}, domain.ErrNotFound("share %q not found", share)
	}
	if !entry.shareVisible(recipient) {
		return domain.Share{}, domain.ErrAccessDenied("recipient %s has no grant on share %q", recipient, share)
	}
	return entry.share, nil
}

// ListSchemas implements domain.Catalog.
func (c *Catalog) ListSchemas(ctx context.Context, recipient domain.RecipientID, share string, page domain.PageRequest) (domain.Page[domain.Schema], error) {
	snap := c.snapshot()
	entry := snap.findShare(share)
	if entry == nil {
		return domain.Page[domain.Schema]{}, domain.ErrNotFound("share %q not found", share)
	}
	if !entry.shareVisible(recipient) {
		return domain.Page[domain.Schema]{}, domain.ErrAccessDenied("recipient %s has no grant on share %q", recipient, share)
	}

	var visible []domain.Schema
	for i := range entry.schemas {
		if entry.schemaVisible(&entry.schemas[i], recipient) {
			visible = append(visible, entry.schemas[i].schema)
		}
	}
	return pageOf(visible, page, "schemas:"+share, snap.fingerprint)
}

// ListSchemaTables implements domain.Catalog.
func (c *Catalog) ListSchemaTables(ctx context.Context, recipient domain.RecipientID, share, schema string, page domain.PageRequest) (domain.Page[domain.Table], error) {
	snap := c.snapshot()
	entry := snap.findShare(share)
	if entry == nil {
		return domain.Page[domain.Table]{}, domain.ErrNotFound("share %q not found", share)
	}
	if !entry.shareVisible(recipient) {
		return domain.Page[domain.Table]{}, domain.ErrAccessDenied("recipient %s has no grant on share %q", recipient, share)
	}
	scm := entry.findSchema(schema)
	if scm == nil {
		return domain.Page[domain.Table]{}, domain.ErrNotFound("schema %q not found in share %q", schema, share)
	}
	if !entry.schemaVisible(scm, recipient) {
		return domain.Page[domain.Table]{}, domain.ErrAccessDenied("recipient %s has no grant on schema %s.%s", recipient, share, schema)
	}

	var visible []domain.Table
	for i := range scm.tables {
		if entry.tableVisible(scm, &scm.tables[i], recipient) {
			visible = append(visible, scm.tables[i].table)
		}
	}
	return pageOf(visible, page, "tables:"+share+"."+schema, snap.fingerprint)
}

// ListShareTables implements domain.Catalog. Tables across all schemas of
// the share, ordered schema-major the way the snapshot is sorted.
func (c *Catalog) ListShareTables(ctx context.Context, recipient domain.RecipientID, share string, page domain.PageRequest) (domain.Page[domain.Table], error) {
	snap := c.snapshot()
	entry := snap.findShare(share)
	if entry == nil {
		return domain.Page[domain.Table]{}, domain.ErrNotFound("share %q not found", share)
	}
	if !entry.shareVisible(recipient) {
		return domain.Page[domain.Table]{}, domain.ErrAccessDenied("recipient %s has no grant on share %q", recipient, share)
	}

	var visible []domain.Table
	for i := range entry.schemas {
		scm := &entry.schemas[i]
		for j := range scm.tables {
			if entry.tableVisible(scm, &scm.tables[j], recipient) {
				visible = append(visible, scm.tables[j].table)
			}
		}
	}
	return pageOf(visible, page, "all-tables:"+share, snap.fingerprint)
}

// GetTable implements domain.Catalog.
func (c *Catalog) GetTable(ctx context.Context, recipient domain.RecipientID, share, schema, table string) (domain.Table, error) {
	snap := c.snapshot()
	entry := snap.findShare(share)
	if entry == nil {
		return domain.Table{}, domain.ErrNotFound("share %q not found", share)
	}
	scm := entry.findSchema(schema)
	if scm == nil {
		return domain.Table{}, domain.ErrNotFound("schema %q not found in share %q", schema, share)
	}
	tbl := scm.findTable(table)
	if tbl == nil {
		return domain.Table{}, domain.ErrNotFound("table %s.%s.%s not found", share, schema, table)
	}
	if !entry.tableVisible(scm, tbl, recipient) {
		return domain.Table{}, domain.ErrAccessDenied("recipient %s has no grant on table %s.%s.%s", recipient, share, schema, table)
	}
	return tbl.table, nil
}

func (s *snapshot) findShare(name string) *shareEntry {
	for i := range s.shares {
		if s.shares[i].share.Name == name {
			return &s.shares[i]
		}
	}
	return nil
}

func (s *shareEntry) findSchema(name string) *schemaEntry {
	for i := range s.schemas {
		if s.schemas[i].schema.Name == name {
			return &s.schemas[i]
		}
	}
	return nil
}

func (s *schemaEntry) findTable(name string) *tableEntry {
	for i := range s.tables {
		if s.tables[i].table.Name == name {
			return &s.tables[i]
		}
	}
	return nil
}
