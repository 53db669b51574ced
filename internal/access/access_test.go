package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakeshare/internal/domain"
)

// mockCatalog implements domain.Catalog with overridable functions.
type mockCatalog struct {
	GetShareFn  func(ctx context.Context, r domain.RecipientID, share string) (domain.Share, error)
	GetTableFn  func(ctx context.Context, r domain.RecipientID, share, schema, table string) (domain.Table, error)
	ListSharesFn func(ctx context.Context, r domain.RecipientID, page domain.PageRequest) (domain.Page[domain.Share], error)
}

func (m *mockCatalog) ListShares(ctx context.Context, r domain.RecipientID, page domain.PageRequest) (domain.Page[domain.Share], error) {
	if m.ListSharesFn != nil {
		return m.ListSharesFn(ctx, r, page)
	}
	return domain.Page[domain.Share]{}, nil
}

func (m *mockCatalog) GetShare(ctx context.Context, r domain.RecipientID, share string) (domain.Share, error) {
	if m.GetShareFn != nil {
		return m.GetShareFn(ctx, r, share)
	}
	return domain.Share{}, nil
}

func (m *mockCatalog) ListSchemas(ctx context.Context, r domain.RecipientID, share string, page domain.PageRequest) (domain.Page[domain.Schema], error) {
	return domain.Page[domain.Schema]{}, nil
}

func (m *mockCatalog) ListSchemaTables(ctx context.Context, r domain.RecipientID, share, schema string, page domain.PageRequest) (domain.Page[domain.Table], error) {
	return domain.Page[domain.Table]{}, nil
}

func (m *mockCatalog) ListShareTables(ctx context.Context, r domain.RecipientID, share string, page domain.PageRequest) (domain.Page[domain.Table], error) {
	return domain.Page[domain.Table]{}, nil
}

func (m *mockCatalog) GetTable(ctx context.Context, r domain.RecipientID, share, schema, table string) (domain.Table, error) {
	if m.GetTableFn != nil {
		return m.GetTableFn(ctx, r, share, schema, table)
	}
	return domain.Table{}, nil
}

func TestDeniedLookupMaskedAsNotFound(t *testing.T) {
	c := Wrap(&mockCatalog{
		GetShareFn: func(ctx context.Context, r domain.RecipientID, share string) (domain.Share, error) {
			return domain.Share{}, domain.ErrAccessDenied("recipient %s has no grant on share %q", r, share)
		},
	})

	_, err := c.GetShare(context.Background(), domain.Anonymous, "sales")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.NotContains(t, nf.Message, "grant")
}

func TestDeniedTableMaskedAsNotFound(t *testing.T) {
	c := Wrap(&mockCatalog{
		GetTableFn: func(ctx context.Context, r domain.RecipientID, share, schema, table string) (domain.Table, error) {
			return domain.Table{}, domain.ErrAccessDenied("no grant")
		},
	})

	_, err := c.GetTable(context.Background(), domain.Anonymous, "sales", "q1", "orders")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, `table sales.q1.orders not found`, nf.Message)
}

func TestNotFoundPassesThrough(t *testing.T) {
	c := Wrap(&mockCatalog{
		GetShareFn: func(ctx context.Context, r domain.RecipientID, share string) (domain.Share, error) {
			return domain.Share{}, domain.ErrNotFound("share %q not found", share)
		},
	})

	_, err := c.GetShare(context.Background(), domain.Anonymous, "nope")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestNamesValidatedBeforeBackend(t *testing.T) {
	called := false
	c := Wrap(&mockCatalog{
		GetTableFn: func(ctx context.Context, r domain.RecipientID, share, schema, table string) (domain.Table, error) {
			called = true
			return domain.Table{}, nil
		},
	})

	for _, bad := range []string{"", "a.b", "a#b", "a/b"} {
		_, err := c.GetTable(context.Background(), domain.Anonymous, "sales", "q1", bad)
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr, "table name %q", bad)
	}
	assert.False(t, called)
}

func TestListingsDelegate(t *testing.T) {
	want := domain.Page[domain.Share]{Items: []domain.Share{{ID: "1", Name: "s"}}, NextPageToken: "tok"}
	c := Wrap(&mockCatalog{
		ListSharesFn: func(ctx context.Context, r domain.RecipientID, page domain.PageRequest) (domain.Page[domain.Share], error) {
			return want, nil
		},
	})

	got, err := c.ListShares(context.Background(), domain.Anonymous, domain.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
