// Package aliases maps the column identifiers a grid client sends to the
// SQL expressions to filter and sort by.
package aliases

import (
	"context"
	"fmt"
	"sort"

	"github.com/gnemet/datatables/internal/sqlselect"
)

// SchemaLookup lists the columns of a table in ordinal order.
type SchemaLookup interface {
	TableFieldNames(ctx context.Context, table string) ([]string, error)
}

// Map is a column alias map. Later writes to the same key win.
type Map struct {
	exprs map[string]string
}

func NewMap() *Map {
	return &Map{exprs: make(map[string]string)}
}

// Set maps alias to expr.
func (m *Map) Set(alias, expr string) {
	if m.exprs == nil {
		m.exprs = make(map[string]string)
	}
	m.exprs[alias] = expr
}

func (m *Map) Lookup(alias string) (string, bool) {
	if m == nil {
		return "", false
	}
	expr, ok := m.exprs[alias]
	return expr, ok
}

// Resolve returns the expression registered for name, or name itself.
func (m *Map) Resolve(name string) string {
	if expr, ok := m.Lookup(name); ok {
		return expr
	}
	return name
}

// Keys returns the aliases in sorted order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m.exprs))
	for k := range m.exprs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.exprs)
}

// Resolve builds the alias map of an analyzed SELECT. Passes run in order
// and later passes override earlier ones:
//
//  1. unaliased qualified columns map their bare name to table.field
//  2. wildcards expand to alias.field for every column of the table
//  3. aliased items map the alias to their filter key
//
// Caller registered aliases are applied on top with Map.Set.
func Resolve(ctx context.Context, a *sqlselect.Analysis, lookup SchemaLookup) (*Map, error) {
	m := NewMap()

	for _, c := range a.Columns {
		if c.Type == sqlselect.ColumnRef && c.Alias == "" && c.Table != "" {
			m.Set(c.Name, c.Qualified)
		}
	}

	for _, c := range a.Columns {
		if c.Type != sqlselect.Wildcard {
			continue
		}
		qualifier, fields, err := expand(ctx, a, c, lookup)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			m.Set(f, qualifier+"."+f)
		}
	}

	for _, c := range a.Columns {
		if c.Alias == "" || c.Type == sqlselect.Wildcard {
			continue
		}
		if key := c.Key(); key != "" {
			m.Set(c.Alias, key)
		}
	}
	return m, nil
}

// FieldNames returns the result field names of an analyzed SELECT in select
// order, without duplicates. ok is false when an item can only be named by
// running the query: unaliased expressions, wildcards over derived tables,
// and a bare * over more than one table.
func FieldNames(ctx context.Context, a *sqlselect.Analysis, lookup SchemaLookup) (names []string, ok bool, err error) {
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	for _, c := range a.Columns {
		if c.Type == sqlselect.Wildcard {
			if c.Table == "" && a.Tables.Len() > 1 {
				return nil, false, nil
			}
			qualifier, fields, err := expand(ctx, a, c, lookup)
			if err != nil {
				return nil, false, err
			}
			if qualifier == "" {
				return nil, false, nil
			}
			for _, f := range fields {
				add(f)
			}
			continue
		}
		name := c.FieldName()
		if name == "" {
			return nil, false, nil
		}
		add(name)
	}
	return names, true, nil
}

// expand lists the columns behind a wildcard item and the qualifier to
// address them with. A wildcard over a derived table, or a bare * without a
// FROM clause, expands to nothing.
func expand(ctx context.Context, a *sqlselect.Analysis, c sqlselect.Column, lookup SchemaLookup) (string, []string, error) {
	var (
		ref sqlselect.TableRef
		ok  bool
	)
	if c.Table == "" {
		ref, ok = a.Tables.Primary()
	} else if ref, ok = a.Tables.Lookup(c.Table); !ok {
		ref = sqlselect.TableRef{Alias: c.Table, Name: c.Table}
		ok = true
	}
	if !ok || ref.Derived || lookup == nil {
		return "", nil, nil
	}

	fields, err := lookup.TableFieldNames(ctx, ref.Name)
	if err != nil {
		return "", nil, fmt.Errorf("failed to expand %s.*: %w", ref.Alias, err)
	}
	return ref.Alias, fields, nil
}
