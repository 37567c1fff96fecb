package athena

import (
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"

	"github.com/3leaps/lakeview/pkg/inventory"
)

// selectColumns are read positionally by decodeRow.
const selectColumns = "key, size, last_modified_date, storage_class"

// buildQuery renders the query text and its positional execution parameters.
//
// Identifiers are validated by Config.Validate and double-quoted here. Values
// are passed as execution parameters, which Athena substitutes as literal SQL,
// so each parameter is a quoted string literal.
func buildQuery(cfg Config, prefix string) (string, []string) {
	var (
		preds  []string
		params []string
	)

	if prefix != "" {
		preds = append(preds, `key LIKE ? ESCAPE '\'`)
		params = append(params, quoteLiteral(inventory.EscapeLike(prefix)+"%"))
	}
	if cfg.Bucket != "" {
		preds = append(preds, "bucket = ?")
		params = append(params, quoteLiteral(cfg.Bucket))
	}
	if cfg.Snapshot != "" {
		preds = append(preds, "dt = ?")
		params = append(params, quoteLiteral(cfg.Snapshot))
	}
	if cfg.Versioned {
		preds = append(preds, "is_latest = true", "is_delete_marker = false")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(selectColumns)
	b.WriteString(` FROM "`)
	b.WriteString(cfg.Database)
	b.WriteString(`"."`)
	b.WriteString(cfg.Table)
	b.WriteString(`"`)
	if len(preds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(preds, " AND "))
	}

	return b.String(), params
}

// quoteLiteral renders s as a single-quoted SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// decodeRow converts an Athena result row into an inventory row.
//
// Decoding is lenient: a size that does not parse yields -1 so the listing
// builder drops the row, and an unparseable timestamp is left zero.
func decodeRow(r types.Row) inventory.Row {
	col := func(i int) string {
		if i >= len(r.Data) {
			return ""
		}
		return aws.ToString(r.Data[i].VarCharValue)
	}

	size, err := strconv.ParseInt(strings.TrimSpace(col(1)), 10, 64)
	if err != nil {
		size = -1
	}

	return inventory.Row{
		Key:          col(0),
		Size:         size,
		LastModified: inventory.ParseTimestamp(col(2)),
		StorageClass: col(3),
	}
}
