package dynamo

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakeshare/internal/domain"
)

// fakeDynamo implements API over an in-memory item set, honoring
// begins_with key conditions, Limit, and ExclusiveStartKey the way the
// real service does.
type fakeDynamo struct {
	items     map[string][]record // PK -> records sorted by SK
	throttles int                 // fail this many calls first
	calls     int
}

func (f *fakeDynamo) put(recs ...record) {
	if f.items == nil {
		f.items = map[string][]record{}
	}
	for _, r := range recs {
		f.items[r.PK] = append(f.items[r.PK], r)
	}
	for pk := range f.items {
		recs := f.items[pk]
		sort.Slice(recs, func(i, j int) bool { return recs[i].SK < recs[j].SK })
	}
}

func (f *fakeDynamo) maybeThrottle() error {
	f.calls++
	if f.throttles > 0 {
		f.throttles--
		return &types.ProvisionedThroughputExceededException{}
	}
	return nil
}

func attrS(av types.AttributeValue) string {
	s, _ := av.(*types.AttributeValueMemberS)
	if s == nil {
		return ""
	}
	return s.Value
}

func (f *fakeDynamo) Query(ctx context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if err := f.maybeThrottle(); err != nil {
		return nil, err
	}
	pk := attrS(params.ExpressionAttributeValues[":pk"])
	prefix := attrS(params.ExpressionAttributeValues[":prefix"])
	after := ""
	if params.ExclusiveStartKey != nil {
		after = attrS(params.ExclusiveStartKey["SK"])
	}

	limit := len(f.items[pk]) + 1
	if params.Limit != nil {
		limit = int(*params.Limit)
	}

	out := &dynamodb.QueryOutput{}
	var lastSK string
	for _, rec := range f.items[pk] {
		if !strings.HasPrefix(rec.SK, prefix) || rec.SK <= after {
			continue
		}
		if len(out.Items) == limit {
			out.LastEvaluatedKey = map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: pk},
				"SK": &types.AttributeValueMemberS{Value: lastSK},
			}
			return out, nil
		}
		item, err := attributevalue.MarshalMap(rec)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, item)
		lastSK = rec.SK
	}
	return out, nil
}

func (f *fakeDynamo) GetItem(ctx context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if err := f.maybeThrottle(); err != nil {
		return nil, err
	}
	pk := attrS(params.Key["PK"])
	sk := attrS(params.Key["SK"])
	for _, rec := range f.items[pk] {
		if rec.SK == sk {
			item, err := attributevalue.MarshalMap(rec)
			if err != nil {
				return nil, err
			}
			return &dynamodb.GetItemOutput{Item: item}, nil
		}
	}
	return &dynamodb.GetItemOutput{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func seedFake() *fakeDynamo {
	f := &fakeDynamo{}
	// acme holds sales; everyone holds public-data.
	f.put(
		record{PK: "acme", SK: shareSK("sales"), ID: "share-sales"},
		record{PK: "acme", SK: schemaSK("sales", "q1")},
		record{PK: "acme", SK: tableSK("sales", "q1", "orders"), ID: "tbl-orders", ShareID: "share-sales", Location: "s3://warehouse/sales/q1/orders"},
		record{PK: "acme", SK: tableSK("sales", "q1", "refunds"), ID: "tbl-refunds", ShareID: "share-sales", Location: "s3://warehouse/sales/q1/refunds"},
		record{PK: "ANONYMOUS", SK: shareSK("public-data"), ID: "share-public"},
		record{PK: "ANONYMOUS", SK: schemaSK("public-data", "reference")},
		record{PK: "ANONYMOUS", SK: tableSK("public-data", "reference", "countries"), ID: "tbl-countries", ShareID: "share-public", Location: "s3://warehouse/reference/countries"},
		// sales is also granted publicly to exercise de-duplication.
		record{PK: "ANONYMOUS", SK: shareSK("sales"), ID: "share-sales"},
	)
	return f
}

func acme(t *testing.T) domain.RecipientID {
	t.Helper()
	r, err := domain.NewRecipientID("acme")
	require.NoError(t, err)
	return r
}

func TestListSharesMergesPartitions(t *testing.T) {
	c := New(seedFake(), "grants", testLogger())

	page, err := c.ListShares(context.Background(), acme(t), domain.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "public-data", page.Items[0].Name)
	assert.Equal(t, "sales", page.Items[1].Name)
	assert.Empty(t, page.NextPageToken)
}

func TestListSharesAnonymousSeesOnlyPublicPartition(t *testing.T) {
	c := New(seedFake(), "grants", testLogger())

	page, err := c.ListShares(context.Background(), domain.Anonymous, domain.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2) // public-data + publicly granted sales
	assert.Equal(t, "public-data", page.Items[0].Name)
	assert.Equal(t, "sales", page.Items[1].Name)
}

func TestListSharesPaginationAcrossPartitions(t *testing.T) {
	c := New(seedFake(), "grants", testLogger())
	ctx := context.Background()

	first, err := c.ListShares(ctx, acme(t), domain.PageRequest{MaxResults: 1})
	require.NoError(t, err)
	require.Len(t, first.Items, 1)
	assert.Equal(t, "public-data", first.Items[0].Name)
	require.NotEmpty(t, first.NextPageToken)

	second, err := c.ListShares(ctx, acme(t), domain.PageRequest{MaxResults: 1, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "sales", second.Items[0].Name)
	assert.Empty(t, second.NextPageToken)
}

func TestForeignTokenRejected(t *testing.T) {
	c := New(seedFake(), "grants", testLogger())

	token, err := domain.EncodePageToken("file", "shares", struct {
		Offset int `json:"o"`
	}{1})
	require.NoError(t, err)

	_, err = c.ListShares(context.Background(), acme(t), domain.PageRequest{PageToken: token})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestListSchemasRequiresShareGrant(t *testing.T) {
	c := New(seedFake(), "grants", testLogger())

	_, err := c.ListSchemas(context.Background(), domain.Anonymous, "nope", domain.PageRequest{})
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	page, err := c.ListSchemas(context.Background(), acme(t), "sales", domain.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "q1", page.Items[0].Name)
	assert.Equal(t, "sales", page.Items[0].Share)
}

func TestGetTable(t *testing.T) {
	c := New(seedFake(), "grants", testLogger())

	tbl, err := c.GetTable(context.Background(), acme(t), "sales", "q1", "orders")
	require.NoError(t, err)
	assert.Equal(t, "tbl-orders", tbl.ID)
	assert.Equal(t, "share-sales", tbl.ShareID)
	assert.Equal(t, "s3://warehouse/sales/q1/orders", tbl.StoragePath)

	_, err = c.GetTable(context.Background(), domain.Anonymous, "sales", "q1", "orders")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestListSchemaTables(t *testing.T) {
	c := New(seedFake(), "grants", testLogger())

	page, err := c.ListSchemaTables(context.Background(), acme(t), "sales", "q1", domain.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "orders", page.Items[0].Name)
	assert.Equal(t, "refunds", page.Items[1].Name)
}

func TestListShareTablesSpansSchemas(t *testing.T) {
	f := seedFake()
	f.put(
		record{PK: "acme", SK: schemaSK("sales", "q2")},
		record{PK: "acme", SK: tableSK("sales", "q2", "orders"), ID: "tbl-orders-q2", ShareID: "share-sales", Location: "s3://warehouse/sales/q2/orders"},
	)
	c := New(f, "grants", testLogger())

	page, err := c.ListShareTables(context.Background(), acme(t), "sales", domain.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "q1", page.Items[0].Schema)
	assert.Equal(t, "q2", page.Items[2].Schema)
}

func TestThrottledQueryIsRetried(t *testing.T) {
	f := seedFake()
	f.throttles = 2
	c := New(f, "grants", testLogger())

	page, err := c.ListShares(context.Background(), domain.Anonymous, domain.PageRequest{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Greater(t, f.calls, 2)
}
