package athena

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"

	"github.com/3leaps/lakeview/pkg/inventory"
)

// resultIterator pages through GetQueryResults for one succeeded execution.
//
// Athena returns the column header as the first row of the first page only;
// it is skipped there even if that page holds nothing else.
type resultIterator struct {
	svc     *Service
	ctx     context.Context
	queryID string
	prefix  string

	page      []types.Row
	idx       int
	nextToken *string
	pages     int
	done      bool
	closed    bool
	row       inventory.Row
	err       error
}

var _ inventory.RowIterator = (*resultIterator)(nil)

// Next advances to the next data row, fetching pages as needed.
func (it *resultIterator) Next() bool {
	if it.err != nil || it.closed {
		return false
	}

	for {
		if it.idx < len(it.page) {
			r := it.page[it.idx]
			it.idx++
			it.row = decodeRow(r)
			return true
		}

		if it.pages > 0 && it.nextToken == nil {
			it.done = true
		}
		if it.done {
			it.row = inventory.Row{}
			return false
		}
		if !it.fetchPage() {
			return false
		}
	}
}

func (it *resultIterator) fetchPage() bool {
	input := &athena.GetQueryResultsInput{
		QueryExecutionId: aws.String(it.queryID),
		MaxResults:       aws.Int32(int32(it.svc.cfg.PageSize)),
		NextToken:        it.nextToken,
	}

	out, err := it.svc.client.GetQueryResults(it.ctx, input)
	if err != nil {
		it.err = it.svc.wrapError("GetQueryResults", it.queryID, it.prefix, ctxOr(it.ctx, err))
		return false
	}

	it.pages++
	it.idx = 0
	it.page = nil
	if out.ResultSet != nil {
		it.page = out.ResultSet.Rows
	}
	if it.pages == 1 && len(it.page) > 0 {
		it.idx = 1
	}
	it.nextToken = out.NextToken
	if it.nextToken != nil && *it.nextToken == "" {
		it.nextToken = nil
	}
	return true
}

// Row returns the current row.
func (it *resultIterator) Row() inventory.Row {
	return it.row
}

// Err returns the first paging error.
func (it *resultIterator) Err() error {
	return it.err
}

// Close stops iteration. Athena results need no explicit release.
func (it *resultIterator) Close() error {
	it.closed = true
	it.page = nil
	return nil
}
