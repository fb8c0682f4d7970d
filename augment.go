package datatables

import (
	"context"
	"fmt"
	"strings"

	"github.com/gnemet/datatables/builder"
)

// buildFilter returns the WHERE fragment for the global and per-column
// search values, or "" when there is nothing to filter on.
func (dt *DataTables) buildFilter(req *Request) string {
	d := dt.qb.Dialect()

	var global []string
	if req.Search != "" {
		for _, c := range req.Columns {
			if !c.Searchable {
				continue
			}
			if expr, ok := dt.resolveColumn(c); ok {
				global = append(global, d.Like(expr, req.Search))
			}
		}
	}

	var perColumn []string
	for _, c := range req.Columns {
		if !c.Searchable || c.SearchValue == "" {
			continue
		}
		if expr, ok := dt.resolveColumn(c); ok {
			perColumn = append(perColumn, d.Like(expr, c.SearchValue))
		}
	}

	var clauses []string
	if len(global) > 0 {
		clauses = append(clauses, "("+strings.Join(global, " OR ")+")")
	}
	clauses = append(clauses, perColumn...)
	return strings.Join(clauses, " AND ")
}

// buildOrder returns the ORDER BY list for the request, or "".
func (dt *DataTables) buildOrder(req *Request) string {
	d := dt.qb.Dialect()

	var clauses []string
	for _, o := range req.Order {
		if o.Column < 0 || o.Column >= len(req.Columns) {
			continue
		}
		c := req.Columns[o.Column]
		if !c.Orderable {
			continue
		}
		expr, ok := dt.resolveColumn(c)
		if !ok {
			continue
		}
		dir := strings.ToUpper(strings.TrimSpace(o.Dir))
		if dir != "ASC" && dir != "DESC" {
			dir = "ASC"
		}
		clauses = append(clauses, fmt.Sprintf("%s %s", builder.Operand(d, expr), dir))
	}
	return strings.Join(clauses, ", ")
}

// filter applies the search fragment and counts the filtered rows before
// any ORDER BY or LIMIT is set.
func (dt *DataTables) filter(ctx context.Context, req *Request) error {
	where := dt.buildFilter(req)
	if where != "" {
		dt.qb.Where(where)
	}

	n, err := dt.qb.CountAllResults(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to count filtered records: %w", err)
	}
	dt.recordsFiltered = n

	dt.logger.Debug("datatables filter applied", "where", where, "records_filtered", n)
	return nil
}

func (dt *DataTables) order(req *Request) {
	if order := dt.buildOrder(req); order != "" {
		dt.qb.OrderBy(order)
		dt.logger.Debug("datatables order applied", "order_by", order)
	}
}

// limit pages the query unless the request asks for all rows.
func (dt *DataTables) limit(req *Request) {
	if req.HasStart && req.HasLength && req.Length != -1 {
		dt.qb.Limit(req.Length, req.Start)
	}
}
