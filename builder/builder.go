// Package builder defines the query-builder capabilities the DataTables
// adapter augments, and a database/sql backed implementation of them.
package builder

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Row is one materialized result row keyed by result column name.
type Row map[string]interface{}

// ResultSet is a materialized query result.
type ResultSet interface {
	FieldNames() []string
	Rows() []Row
}

// QueryBuilder is the set of operations the adapter needs from a query
// builder. Implementations accumulate WHERE, ORDER BY and LIMIT state in
// place; the adapter borrows the builder for one request.
type QueryBuilder interface {
	// CountAllResults counts the rows matched by the accumulated query,
	// ignoring ORDER BY and LIMIT. With reset the accumulated WHERE,
	// ORDER BY and LIMIT state is cleared afterwards.
	CountAllResults(ctx context.Context, reset bool) (int64, error)
	Where(fragment string)
	OrderBy(fragment string)
	Limit(length, offset int)
	Get(ctx context.Context) (ResultSet, error)
	// CompiledSelect returns the SELECT statement text built so far.
	CompiledSelect() string
	// TableFieldNames lists the columns of a table in ordinal order.
	TableFieldNames(ctx context.Context, table string) ([]string, error)
	// ResultFieldNames runs the query with a false predicate and returns
	// the result column names without mutating the builder.
	ResultFieldNames(ctx context.Context) ([]string, error)
	Dialect() Dialect
}

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Builder is a small fluent SELECT builder over database/sql.
type Builder struct {
	db      Querier
	dialect Dialect

	selects []string
	from    string
	joins   []string
	where   []string
	groupBy string
	having  string
	orderBy []string

	limit   int
	offset  int
	limited bool
}

var _ QueryBuilder = (*Builder)(nil)

// New returns an empty builder running its queries on db.
func New(db Querier, d Dialect) *Builder {
	return &Builder{db: db, dialect: d}
}

// Select appends select-list items. Each item may carry an alias and may be
// any expression the database accepts.
func (b *Builder) Select(cols ...string) *Builder {
	for _, c := range cols {
		if c = strings.TrimSpace(c); c != "" {
			b.selects = append(b.selects, c)
		}
	}
	return b
}

// From sets the primary table, optionally followed by an alias.
func (b *Builder) From(table string) *Builder {
	b.from = strings.TrimSpace(table)
	return b
}

// Join appends a join. kind is one of "", "inner", "left", "right", "full"
// or "cross"; an empty kind renders a plain JOIN.
func (b *Builder) Join(table, on string, kind ...string) *Builder {
	k := ""
	if len(kind) > 0 {
		k = strings.ToUpper(strings.TrimSpace(kind[0]))
	}
	clause := "JOIN " + strings.TrimSpace(table)
	if k != "" {
		clause = k + " " + clause
	}
	if on = strings.TrimSpace(on); on != "" {
		clause += " ON " + on
	}
	b.joins = append(b.joins, clause)
	return b
}

// GroupBy sets the GROUP BY list.
func (b *Builder) GroupBy(cols string) *Builder {
	b.groupBy = strings.TrimSpace(cols)
	return b
}

// Having sets the HAVING condition.
func (b *Builder) Having(cond string) *Builder {
	b.having = strings.TrimSpace(cond)
	return b
}

// Where appends a raw predicate; predicates are combined with AND.
func (b *Builder) Where(fragment string) {
	if fragment = strings.TrimSpace(fragment); fragment != "" {
		b.where = append(b.where, fragment)
	}
}

// OrderBy appends a raw ORDER BY list.
func (b *Builder) OrderBy(fragment string) {
	if fragment = strings.TrimSpace(fragment); fragment != "" {
		b.orderBy = append(b.orderBy, fragment)
	}
}

// Limit sets the row limit and offset.
func (b *Builder) Limit(length, offset int) {
	b.limit = length
	b.offset = offset
	b.limited = true
}

// Dialect returns the SQL dialect the builder renders for.
func (b *Builder) Dialect() Dialect {
	return b.dialect
}

// Clone returns a copy that can be mutated independently.
func (b *Builder) Clone() *Builder {
	c := *b
	c.selects = append([]string(nil), b.selects...)
	c.joins = append([]string(nil), b.joins...)
	c.where = append([]string(nil), b.where...)
	c.orderBy = append([]string(nil), b.orderBy...)
	return &c
}

// CompiledSelect renders the full statement including ORDER BY and LIMIT.
func (b *Builder) CompiledSelect() string {
	return b.compile(b.selectList(), b.where, true)
}

// CountAllResults counts matching rows. Grouped or DISTINCT queries are
// counted through a derived table, everything else by replacing the select
// list with COUNT(*).
func (b *Builder) CountAllResults(ctx context.Context, reset bool) (int64, error) {
	var query string
	if b.needsDerivedCount() {
		query = fmt.Sprintf("SELECT COUNT(*) FROM (%s) dt_count", b.compile(b.selectList(), b.where, false))
	} else {
		query = b.compile("COUNT(*)", b.where, false)
	}

	var n int64
	if err := b.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count query failed: %w", err)
	}

	if reset {
		b.where = nil
		b.orderBy = nil
		b.limited = false
	}
	return n, nil
}

// Get runs the accumulated query and materializes every row.
func (b *Builder) Get(ctx context.Context) (ResultSet, error) {
	rows, err := b.db.QueryContext(ctx, b.CompiledSelect())
	if err != nil {
		return nil, fmt.Errorf("select query failed: %w", err)
	}
	defer rows.Close()

	fields, data, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	return &Result{fields: fields, rows: data}, nil
}

// ResultFieldNames runs the query with an always-false predicate.
func (b *Builder) ResultFieldNames(ctx context.Context) ([]string, error) {
	where := append(append([]string(nil), b.where...), "1 = 0")
	rows, err := b.db.QueryContext(ctx, b.compile(b.selectList(), where, false))
	if err != nil {
		return nil, fmt.Errorf("field probe failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("field probe failed: %w", err)
	}
	return cols, rows.Err()
}

// TableFieldNames lists the columns of table using the dialect's catalog.
func (b *Builder) TableFieldNames(ctx context.Context, table string) ([]string, error) {
	cols, err := b.dialect.TableColumns(ctx, b.db, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", table, err)
	}
	return cols, nil
}

func (b *Builder) selectList() string {
	if len(b.selects) == 0 {
		return "*"
	}
	return strings.Join(b.selects, ", ")
}

func (b *Builder) needsDerivedCount() bool {
	if b.groupBy != "" || b.having != "" {
		return true
	}
	for _, s := range b.selects {
		if strings.HasPrefix(strings.ToUpper(s), "DISTINCT ") {
			return true
		}
	}
	return false
}

func (b *Builder) compile(selectList string, where []string, tail bool) string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(selectList)
	if b.from != "" {
		sb.WriteString(" FROM ")
		sb.WriteString(b.from)
	}
	for _, j := range b.joins {
		sb.WriteString(" ")
		sb.WriteString(j)
	}
	switch len(where) {
	case 0:
	case 1:
		sb.WriteString(" WHERE ")
		sb.WriteString(where[0])
	default:
		sb.WriteString(" WHERE ")
		for i, w := range where {
			if i > 0 {
				sb.WriteString(" AND ")
			}
			sb.WriteString("(")
			sb.WriteString(w)
			sb.WriteString(")")
		}
	}
	if b.groupBy != "" {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(b.groupBy)
	}
	if b.having != "" {
		sb.WriteString(" HAVING ")
		sb.WriteString(b.having)
	}
	if !tail {
		return sb.String()
	}
	if len(b.orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.orderBy, ", "))
	}
	if b.limited {
		sb.WriteString(" ")
		sb.WriteString(b.dialect.LimitClause(b.limit, b.offset))
	}
	return sb.String()
}

// Result is the ResultSet returned by Builder.Get.
type Result struct {
	fields []string
	rows   []Row
}

// NewResult builds a ResultSet from already materialized rows.
func NewResult(fields []string, rows []Row) *Result {
	return &Result{fields: fields, rows: rows}
}

func (r *Result) FieldNames() []string { return r.fields }
func (r *Result) Rows() []Row          { return r.rows }
