// Package dynamo implements the catalog contract over a single DynamoDB
// table. Grants are materialized: the provisioning path writes one item per
// (grantee, securable) pair, public securables live under the ANONYMOUS
// partition, and a share-level grant is written out as items for everything
// beneath it. Reading is therefore pure partition scanning; nothing a
// recipient was not granted ever enters a response or a page token.
//
// Reads are eventually consistent. A listing may briefly miss a grant that
// was just written or show one that was just revoked; revoked recipients
// still cannot fetch data, because signing happens after a point lookup.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"

	"lakeshare/internal/domain"
)

const backendTag = "dynamo"

// maxThrottleRetries bounds backoff on throughput-exceeded errors.
const maxThrottleRetries = 4

// API is the slice of the DynamoDB client the catalog needs.
type API interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Catalog serves shares, schemas, and tables from a DynamoDB grant table.
type Catalog struct {
	client API
	table  string
	logger *slog.Logger
}

var _ domain.Catalog = (*Catalog)(nil)

// New wraps a DynamoDB client and the grant table name.
func New(client API, table string, logger *slog.Logger) *Catalog {
	return &Catalog{
		client: client,
		table:  table,
		logger: logger.With("component", "catalog.dynamo"),
	}
}

// skCursor is the backend's private page cursor: the sort key of the last
// item already emitted. Resuming re-queries both partitions strictly after
// it, so merged pagination stays correct across them.
type skCursor struct {
	SK string `json:"k"`
}

// partitions returns the grant partitions visible to a recipient: their own
// plus the public one.
func partitions(recipient domain.RecipientID) []string {
	if recipient.IsAnonymous() {
		return []string{domain.Anonymous.String()}
	}
	return []string{recipient.String(), domain.Anonymous.String()}
}

func isThrottled(err error) bool {
	var pte *types.ProvisionedThroughputExceededException
	var rle *types.RequestLimitExceeded
	return errors.As(err, &pte) || errors.As(err, &rle)
}

func (c *Catalog) retry(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxThrottleRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isThrottled(err) {
			c.logger.Warn("dynamodb throttled, retrying", "table", c.table)
			return err
		}
		return backoff.Permanent(err)
	}, bo)
}

// queryPrefix collects up to want records from one partition whose sort
// keys start with prefix, strictly after afterSK when set.
func (c *Catalog) queryPrefix(ctx context.Context, pk, prefix, afterSK string, want int) ([]record, error) {
	var out []record
	var startKey map[string]types.AttributeValue
	if afterSK != "" {
		startKey = map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: afterSK},
		}
	}

	for len(out) < want {
		input := &dynamodb.QueryInput{
			TableName:              aws.String(c.table),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: pk},
				":prefix": &types.AttributeValueMemberS{Value: prefix},
			},
			Limit:             aws.Int32(int32(want - len(out))),
			ExclusiveStartKey: startKey,
		}

		var resp *dynamodb.QueryOutput
		err := c.retry(ctx, func() error {
			var qerr error
			resp, qerr = c.client.Query(ctx, input)
			return qerr
		})
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", c.table, err)
		}

		var batch []record
		if err := attributevalue.UnmarshalListOfMaps(resp.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal %s items: %w", c.table, err)
		}
		out = append(out, batch...)

		if resp.LastEvaluatedKey == nil {
			break
		}
		startKey = resp.LastEvaluatedKey
	}
	return out, nil
}

// listMerged produces one page of records for a listing: both partitions
// are ranged in sort-key order, merged, and de-duplicated (an item granted
// both publicly and directly appears once).
func (c *Catalog) listMerged(ctx context.Context, recipient domain.RecipientID, prefix, scope string, page domain.PageRequest) ([]record, string, error) {
	afterSK := ""
	if page.PageToken != "" {
		var cur skCursor
		if err := domain.DecodePageToken(page.PageToken, backendTag, scope, &cur); err != nil {
			return nil, "", err
		}
		afterSK = cur.SK
	}

	limit := page.Limit()
	var merged []record
	for _, pk := range partitions(recipient) {
		recs, err := c.queryPrefix(ctx, pk, prefix, afterSK, limit+1)
		if err != nil {
			return nil, "", err
		}
		merged = append(merged, recs...)
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].SK < merged[j].SK })
	deduped := merged[:0]
	for _, r := range merged {
		if len(deduped) > 0 && deduped[len(deduped)-1].SK == r.SK {
			continue
		}
		deduped = append(deduped, r)
	}

	next := ""
	if len(deduped) > limit {
		deduped = deduped[:limit]
		token, err := domain.EncodePageToken(backendTag, scope, skCursor{SK: deduped[len(deduped)-1].SK})
		if err != nil {
			return nil, "", fmt.Errorf("encode page token: %w", err)
		}
		next = token
	}
	return deduped, next, nil
}

// getRecord fetches a single grant item from the partitions visible to the
// recipient. ok is false when no partition holds it.
func (c *Catalog) getRecord(ctx context.Context, recipient domain.RecipientID, sk string) (record, bool, error) {
	for _, pk := range partitions(recipient) {
		input := &dynamodb.GetItemInput{
			TableName: aws.String(c.table),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: pk},
				"SK": &types.AttributeValueMemberS{Value: sk},
			},
		}

		var resp *dynamodb.GetItemOutput
		err := c.retry(ctx, func() error {
			var gerr error
			resp, gerr = c.client.GetItem(ctx, input)
			return gerr
		})
		if err != nil {
			return record{}, false, fmt.Errorf("get item %s: %w", c.table, err)
		}
		if len(resp.Item) == 0 {
			continue
		}

		var rec record
		if err := attributevalue.UnmarshalMap(resp.Item, &rec); err != nil {
			return record{}, false, fmt.Errorf("unmarshal %s item: %w", c.table, err)
		}
		return rec, true, nil
	}
	return record{}, false, nil
}

// ListShares implements domain.Catalog.
func (c *Catalog) ListShares(ctx context.Context, recipient domain.RecipientID, page domain.PageRequest) (domain.Page[domain.Share], error) {
	recs, next, err := c.listMerged(ctx, recipient, skSharePrefix, "shares", page)
	if err != nil {
		return domain.Page[domain.Share]{}, err
	}
	out := domain.Page[domain.Share]{NextPageToken: next}
	for _, r := range recs {
		share, err := r.toShare()
		if err != nil {
			return domain.Page[domain.Share]{}, err
		}
		out.Items = append(out.Items, share)
	}
	return out, nil
}

// GetShare implements domain.Catalog. Grant items double as existence: a
// share the recipient holds no grant on is indistinguishable from one that
// does not exist, which is exactly what the protocol surfaces anyway.
func (c *Catalog) GetShare(ctx context.Context, recipient domain.RecipientID, share string) (domain.Share, error) {
	rec, ok, err := c.getRecord(ctx, recipient, shareSK(share))
	if err != nil {
		return domain.Share{}, err
	}
	if !ok {
		return domain.Share{}, domain.ErrNotFound("share %q not found", share)
	}
	return rec.toShare()
}

// ListSchemas implements domain.Catalog.
func (c *Catalog) ListSchemas(ctx context.Context, recipient domain.RecipientID, share string, page domain.PageRequest) (domain.Page[domain.Schema], error) {
	if _, err := c.GetShare(ctx, recipient, share); err != nil {
		return domain.Page[domain.Schema]{}, err
	}
	recs, next, err := c.listMerged(ctx, recipient, schemaScanPrefix(share), "schemas:"+share, page)
	if err != nil {
		return domain.Page[domain.Schema]{}, err
	}
	out := domain.Page[domain.Schema]{NextPageToken: next}
	for _, r := range recs {
		schema, err := r.toSchema()
		if err != nil {
			return domain.Page[domain.Schema]{}, err
		}
		out.Items = append(out.Items, schema)
	}
	return out, nil
}

// ListSchemaTables implements domain.Catalog.
func (c *Catalog) ListSchemaTables(ctx context.Context, recipient domain.RecipientID, share, schema string, page domain.PageRequest) (domain.Page[domain.Table], error) {
	if _, err := c.GetShare(ctx, recipient, share); err != nil {
		return domain.Page[domain.Table]{}, err
	}
	if _, ok, err := c.getRecord(ctx, recipient, schemaSK(share, schema)); err != nil {
		return domain.Page[domain.Table]{}, err
	} else if !ok {
		return domain.Page[domain.Table]{}, domain.ErrNotFound("schema %q not found in share %q", schema, share)
	}

	recs, next, err := c.listMerged(ctx, recipient, tableScanPrefix(share, schema), "tables:"+share+"."+schema, page)
	if err != nil {
		return domain.Page[domain.Table]{}, err
	}
	return tablesPage(recs, next)
}

// ListShareTables implements domain.Catalog.
func (c *Catalog) ListShareTables(ctx context.Context, recipient domain.RecipientID, share string, page domain.PageRequest) (domain.Page[domain.Table], error) {
	if _, err := c.GetShare(ctx, recipient, share); err != nil {
		return domain.Page[domain.Table]{}, err
	}
	recs, next, err := c.listMerged(ctx, recipient, shareTableScanPrefix(share), "all-tables:"+share, page)
	if err != nil {
		return domain.Page[domain.Table]{}, err
	}
	return tablesPage(recs, next)
}

// GetTable implements domain.Catalog.
func (c *Catalog) GetTable(ctx context.Context, recipient domain.RecipientID, share, schema, table string) (domain.Table, error) {
	rec, ok, err := c.getRecord(ctx, recipient, tableSK(share, schema, table))
	if err != nil {
		return domain.Table{}, err
	}
	if !ok {
		return domain.Table{}, domain.ErrNotFound("table %s.%s.%s not found", share, schema, table)
	}
	return rec.toTable()
}

func tablesPage(recs []record, next string) (domain.Page[domain.Table], error) {
	out := domain.Page[domain.Table]{NextPageToken: next}
	for _, r := range recs {
		tbl, err := r.toTable()
		if err != nil {
			return domain.Page[domain.Table]{}, err
		}
		out.Items = append(out.Items, tbl)
	}
	return out, nil
}
