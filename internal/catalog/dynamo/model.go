package dynamo

import (
	"fmt"
	"strings"

	"lakeshare/internal/domain"
)

// Key layout of the single-table design. The partition key is the grantee
// (a recipient name, or ANONYMOUS for public grants) so a query can only
// ever see what its own partition holds; the sort key encodes the
// securable kind and fully qualified name, which keeps each listing a
// begins_with range scan in name order.
const (
	skSharePrefix  = "SHARE#"
	skSchemaPrefix = "SCHEMA#"
	skTablePrefix  = "TABLE#"
)

func shareSK(share string) string { return skSharePrefix + share }

func schemaSK(share, schema string) string {
	return skSchemaPrefix + share + "." + schema
}

func tableSK(share, schema, table string) string {
	return skTablePrefix + share + "." + schema + "." + table
}

// schemaScanPrefix covers every schema of one share. The trailing dot keeps
// a share named "sales" from matching "sales2".
func schemaScanPrefix(share string) string { return skSchemaPrefix + share + "." }

func tableScanPrefix(share, schema string) string {
	return skTablePrefix + share + "." + schema + "."
}

func shareTableScanPrefix(share string) string { return skTablePrefix + share + "." }

// record is the stored shape of every grant item. Only tables carry a
// location; only shares and tables carry IDs.
type record struct {
	PK       string `dynamodbav:"PK"`
	SK       string `dynamodbav:"SK"`
	ID       string `dynamodbav:"id,omitempty"`
	ShareID  string `dynamodbav:"share_id,omitempty"`
	Location string `dynamodbav:"location,omitempty"`
}

func (r record) toShare() (domain.Share, error) {
	name := strings.TrimPrefix(r.SK, skSharePrefix)
	if name == "" || name == r.SK {
		return domain.Share{}, fmt.Errorf("malformed share key %q", r.SK)
	}
	return domain.Share{ID: r.ID, Name: name}, nil
}

func (r record) toSchema() (domain.Schema, error) {
	fqn := strings.TrimPrefix(r.SK, skSchemaPrefix)
	parts := strings.SplitN(fqn, ".", 2)
	if fqn == r.SK || len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return domain.Schema{}, fmt.Errorf("malformed schema key %q", r.SK)
	}
	return domain.Schema{Share: parts[0], Name: parts[1]}, nil
}

func (r record) toTable() (domain.Table, error) {
	fqn := strings.TrimPrefix(r.SK, skTablePrefix)
	parts := strings.SplitN(fqn, ".", 3)
	if fqn == r.SK || len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return domain.Table{}, fmt.Errorf("malformed table key %q", r.SK)
	}
	return domain.Table{
		ID:          r.ID,
		Name:        parts[2],
		Schema:      parts[1],
		Share:       parts[0],
		ShareID:     r.ShareID,
		StoragePath: r.Location,
	}, nil
}
