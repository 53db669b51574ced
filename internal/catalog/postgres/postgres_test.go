package postgres

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakeshare/internal/domain"
)

func newMockCatalog(t *testing.T) (*Catalog, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(db, logger), mock
}

func acme(t *testing.T) domain.RecipientID {
	t.Helper()
	r, err := domain.NewRecipientID("acme")
	require.NoError(t, err)
	return r
}

func TestListSharesKeysetPagination(t *testing.T) {
	c, mock := newMockCatalog(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT s\.id, s\.name FROM shares s`).
		WithArgs("acme", "acme", "acme").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow("id-1", "alpha").
			AddRow("id-2", "beta").
			AddRow("id-3", "gamma"))
	mock.ExpectCommit()

	page, err := c.ListShares(context.Background(), acme(t), domain.PageRequest{MaxResults: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "alpha", page.Items[0].Name)
	assert.Equal(t, "beta", page.Items[1].Name)
	require.NotEmpty(t, page.NextPageToken)

	// Resume: the keyset predicate carries the last emitted (name, id).
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT s\.id, s\.name FROM shares s`).
		WithArgs("acme", "acme", "acme", "beta", "id-2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow("id-3", "gamma"))
	mock.ExpectCommit()

	page, err = c.ListShares(context.Background(), acme(t), domain.PageRequest{MaxResults: 2, PageToken: page.NextPageToken})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "gamma", page.Items[0].Name)
	assert.Empty(t, page.NextPageToken)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetShareNotFound(t *testing.T) {
	c, mock := newMockCatalog(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM shares s WHERE s\.name`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "visible"}))
	mock.ExpectRollback()

	_, err := c.GetShare(context.Background(), acme(t), "nope")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetShareDenied(t *testing.T) {
	c, mock := newMockCatalog(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM shares s WHERE s\.name`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "visible"}).
			AddRow("id-1", "sales", false))
	mock.ExpectRollback()

	_, err := c.GetShare(context.Background(), acme(t), "sales")
	var denied *domain.AccessDeniedError
	require.ErrorAs(t, err, &denied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTableResolvesInsideOneTransaction(t *testing.T) {
	c, mock := newMockCatalog(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM shares s WHERE s\.name`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "visible"}).
			AddRow("share-1", "sales", true))
	mock.ExpectQuery(`FROM schemas sc JOIN shares s`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "visible"}).
			AddRow("schema-1", true))
	mock.ExpectQuery(`FROM tables t`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "schema", "share", "share_id", "location", "visible"}).
			AddRow("tbl-1", "orders", "q1", "sales", "share-1", "s3://warehouse/sales/q1/orders", true))
	mock.ExpectCommit()

	tbl, err := c.GetTable(context.Background(), acme(t), "sales", "q1", "orders")
	require.NoError(t, err)
	assert.Equal(t, "tbl-1", tbl.ID)
	assert.Equal(t, "s3://warehouse/sales/q1/orders", tbl.StoragePath)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTableDeniedAtTableLevel(t *testing.T) {
	c, mock := newMockCatalog(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM shares s WHERE s\.name`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "visible"}).
			AddRow("share-1", "sales", true))
	mock.ExpectQuery(`FROM schemas sc JOIN shares s`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "visible"}).
			AddRow("schema-1", true))
	mock.ExpectQuery(`FROM tables t`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "schema", "share", "share_id", "location", "visible"}).
			AddRow("tbl-1", "orders", "q1", "sales", "share-1", "s3://warehouse/sales/q1/orders", false))
	mock.ExpectRollback()

	_, err := c.GetTable(context.Background(), acme(t), "sales", "q1", "orders")
	var denied *domain.AccessDeniedError
	require.ErrorAs(t, err, &denied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSchemasForeignTokenRejected(t *testing.T) {
	c, _ := newMockCatalog(t)

	token, err := domain.EncodePageToken("dynamo", "schemas:sales", struct {
		SK string `json:"k"`
	}{"SCHEMA#sales.q1"})
	require.NoError(t, err)

	_, err = c.ListSchemas(context.Background(), acme(t), "sales", domain.PageRequest{PageToken: token})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}
