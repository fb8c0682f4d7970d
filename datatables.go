// Package datatables implements the server side of the DataTables grid
// protocol on top of an existing SQL query builder. It resolves the grid's
// column references against the builder's SELECT clause, applies search,
// sort and paging to the builder, and shapes the result rows into the
// DataTables JSON envelope.
package datatables

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/gnemet/datatables/builder"
	"github.com/gnemet/datatables/internal/aliases"
	"github.com/gnemet/datatables/internal/sqlselect"
)

// DefaultSequenceNumberKey is the object key of the generated row number.
const DefaultSequenceNumberKey = "sequenceNumber"

// DataTables adapts one query builder to one grid request. It is not safe
// for concurrent use.
type DataTables struct {
	qb     builder.QueryBuilder
	logger *slog.Logger
	cache  *sqlselect.Cache

	analysis *sqlselect.Analysis
	aliases  *aliases.Map

	fields   []string
	known    map[string]bool
	returned []string

	formatters map[string]Formatter
	extraKeys  []string
	extras     map[string]ColumnFunc

	only   []string
	except []string

	sequence    bool
	sequenceKey string
	asObject    bool

	recordsTotal    int64
	recordsFiltered int64

	generated bool
	err       error
}

// Option configures New.
type Option func(*DataTables)

// WithLogger sets the logger for debug output. slog.Default is used
// otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(dt *DataTables) {
		if l != nil {
			dt.logger = l
		}
	}
}

// WithAnalysisCache reuses SELECT analyses across instances.
func WithAnalysisCache(c *sqlselect.Cache) Option {
	return func(dt *DataTables) { dt.cache = c }
}

// New binds an adapter to qb. It analyzes the builder's SELECT clause,
// infers the column aliases and counts the unfiltered records. A SELECT
// clause that cannot be analyzed is returned as a *sqlselect.SyntaxError.
func New(ctx context.Context, qb builder.QueryBuilder, opts ...Option) (*DataTables, error) {
	dt := &DataTables{
		qb:         qb,
		logger:     slog.Default(),
		formatters: make(map[string]Formatter),
		extras:     make(map[string]ColumnFunc),
	}
	for _, opt := range opts {
		opt(dt)
	}

	sql := qb.CompiledSelect()
	a, err := dt.cache.Analyze(sql)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze select clause: %w", err)
	}
	dt.analysis = a

	dt.aliases, err = aliases.Resolve(ctx, a, qb)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve column aliases: %w", err)
	}

	dt.recordsTotal, err = qb.CountAllResults(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	dt.logger.Debug("datatables bound",
		"columns", len(a.Columns),
		"tables", a.Tables.Len(),
		"aliases", dt.aliases.Len(),
		"records_total", dt.recordsTotal)
	return dt, nil
}

// Err returns the first configuration error recorded by a setter.
func (dt *DataTables) Err() error {
	return dt.err
}

func (dt *DataTables) fail(op, msg string) *DataTables {
	if dt.err == nil {
		dt.err = &ConfigError{Op: op, Msg: msg}
	}
	return dt
}

// Format registers a formatter for a result field.
func (dt *DataTables) Format(key string, f Formatter) *DataTables {
	if key == "" {
		return dt.fail("Format", "empty key")
	}
	if f == nil {
		return dt.fail("Format", fmt.Sprintf("nil formatter for %q", key))
	}
	dt.formatters[key] = f
	return dt
}

// AddColumn appends a computed column. Extra columns follow the result
// fields in registration order and are neither searchable nor orderable.
func (dt *DataTables) AddColumn(key string, f ColumnFunc) *DataTables {
	if key == "" {
		return dt.fail("AddColumn", "empty key")
	}
	if f == nil {
		return dt.fail("AddColumn", fmt.Sprintf("nil column func for %q", key))
	}
	if _, ok := dt.extras[key]; !ok {
		dt.extraKeys = append(dt.extraKeys, key)
	}
	dt.extras[key] = f
	return dt
}

// AddColumnAlias makes the client identifier alias filter and sort on expr,
// e.g. AddColumnAlias("p.id", "id") for a join with an ambiguous id.
func (dt *DataTables) AddColumnAlias(expr, alias string) *DataTables {
	if expr == "" || alias == "" {
		return dt.fail("AddColumnAlias", "expression and alias must not be empty")
	}
	dt.aliases.Set(alias, expr)
	return dt
}

// AddColumnAliases registers several aliases keyed by expression. Two
// expressions for the same alias are rejected since map order is random;
// chain AddColumnAlias calls when a later registration should win.
func (dt *DataTables) AddColumnAliases(m map[string]string) *DataTables {
	exprs := make([]string, 0, len(m))
	owner := make(map[string]string, len(m))
	for expr, alias := range m {
		if prev, ok := owner[alias]; ok {
			return dt.fail("AddColumnAliases", fmt.Sprintf("alias %q registered for both %q and %q", alias, min(prev, expr), max(prev, expr)))
		}
		owner[alias] = expr
		exprs = append(exprs, expr)
	}
	sort.Strings(exprs)
	for _, expr := range exprs {
		dt.AddColumnAlias(expr, m[expr])
	}
	return dt
}

// Only restricts the returned fields to cols, in the given order.
func (dt *DataTables) Only(cols ...string) *DataTables {
	for _, c := range cols {
		if c == "" {
			return dt.fail("Only", "empty column name")
		}
	}
	dt.only = append(dt.only, cols...)
	return dt
}

// Except drops cols from the returned fields. It is ignored when Only is
// also set.
func (dt *DataTables) Except(cols ...string) *DataTables {
	for _, c := range cols {
		if c == "" {
			return dt.fail("Except", "empty column name")
		}
	}
	dt.except = append(dt.except, cols...)
	return dt
}

// AddSequenceNumber prepends a row number starting at start+1. key names
// the column in object output and defaults to DefaultSequenceNumberKey.
func (dt *DataTables) AddSequenceNumber(key ...string) *DataTables {
	k := DefaultSequenceNumberKey
	if len(key) > 0 {
		if key[0] == "" {
			return dt.fail("AddSequenceNumber", "empty key")
		}
		k = key[0]
	}
	dt.sequence = true
	dt.sequenceKey = k
	return dt
}

// AsObject emits rows as objects keyed by field name instead of arrays.
func (dt *DataTables) AsObject() *DataTables {
	dt.asObject = true
	return dt
}

// RecordsTotal returns the unfiltered record count taken by New.
func (dt *DataTables) RecordsTotal() int64 { return dt.recordsTotal }

// Analysis returns the analyzed SELECT clause.
func (dt *DataTables) Analysis() *sqlselect.Analysis { return dt.analysis }

// Generate applies req to the query builder, runs the query and shapes the
// response. It may be called once per instance.
func (dt *DataTables) Generate(ctx context.Context, req *Request) (*Response, error) {
	if dt.err != nil {
		return nil, dt.err
	}
	if dt.generated {
		return nil, ErrAlreadyGenerated
	}
	dt.generated = true

	if req == nil {
		req = &Request{}
	}

	if err := dt.loadFields(ctx); err != nil {
		return nil, err
	}
	dt.returned = returnedFields(dt.fields, dt.only, dt.except)
	if err := dt.checkKeys(); err != nil {
		return nil, err
	}

	if err := dt.filter(ctx, req); err != nil {
		return nil, err
	}
	dt.order(req)
	dt.limit(req)

	res, err := dt.qb.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}

	return &Response{
		Draw:            req.Draw,
		RecordsTotal:    dt.recordsTotal,
		RecordsFiltered: dt.recordsFiltered,
		Data:            dt.shape(res.Rows(), dt.returned, req.Start),
	}, nil
}

// checkKeys rejects a sequence number or extra column key that would
// replace a returned field.
func (dt *DataTables) checkKeys() error {
	taken := make(map[string]bool, len(dt.returned)+1)
	for _, f := range dt.returned {
		taken[f] = true
	}
	if dt.sequence {
		if taken[dt.sequenceKey] {
			return &ConfigError{Op: "AddSequenceNumber", Msg: fmt.Sprintf("key %q is already a result field", dt.sequenceKey)}
		}
		taken[dt.sequenceKey] = true
	}
	for _, k := range dt.extraKeys {
		if taken[k] {
			return &ConfigError{Op: "AddColumn", Msg: fmt.Sprintf("key %q is already a result field", k)}
		}
	}
	return nil
}

// loadFields sets the field name list. Object output names fields from the
// SELECT clause when it can; otherwise the builder runs a zero-row probe.
func (dt *DataTables) loadFields(ctx context.Context) error {
	var names []string
	ok := false

	if dt.asObject {
		var err error
		names, ok, err = aliases.FieldNames(ctx, dt.analysis, dt.qb)
		if err != nil {
			return fmt.Errorf("failed to list fields: %w", err)
		}
	}
	if !ok {
		var err error
		names, err = dt.qb.ResultFieldNames(ctx)
		if err != nil {
			return fmt.Errorf("failed to list fields: %w", err)
		}
	}

	dt.fields = dedupe(names)
	dt.known = make(map[string]bool, len(dt.fields))
	for _, f := range dt.fields {
		dt.known[f] = true
	}
	return nil
}

// Write sends resp as JSON.
func Write(w http.ResponseWriter, resp *Response) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(resp)
}
