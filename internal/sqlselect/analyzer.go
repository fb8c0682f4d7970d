// Package sqlselect analyzes the select list and FROM clause of a SELECT
// statement: what each select item is, how it is aliased, and which table
// every alias in the FROM clause refers to.
package sqlselect

import (
	"fmt"
	"strings"
)

// ExprType classifies a select item.
type ExprType int

const (
	// ColumnRef is a bare or qualified column: name, t.name, db.t.name.
	ColumnRef ExprType = iota
	// Expression is any other expression.
	Expression
	// Aggregate is a function call: COUNT(o.id), CONCAT(a, ' ', b).
	Aggregate
	// Wildcard is * or t.*.
	Wildcard
)

func (t ExprType) String() string {
	switch t {
	case ColumnRef:
		return "colref"
	case Expression:
		return "expression"
	case Aggregate:
		return "aggregate"
	case Wildcard:
		return "wildcard"
	default:
		return fmt.Sprintf("ExprType(%d)", int(t))
	}
}

// Column describes one select item. Empty strings stand for absent values.
type Column struct {
	Type ExprType
	// Raw is the item as written, alias included.
	Raw string
	// Expr is the item with its alias removed.
	Expr string
	// Qualified is the unquoted dotted name of a ColumnRef, the rebuilt
	// fn(arg, arg) text of an Aggregate or the qualifier of a Wildcard.
	Qualified string
	Alias     string
	// Table is the qualifier of a ColumnRef or Wildcard.
	Table string
	// Name is the bare column name of a ColumnRef.
	Name string
}

// Key returns the expression to filter and sort the item by.
func (c Column) Key() string {
	switch c.Type {
	case ColumnRef, Aggregate:
		return c.Qualified
	case Expression:
		return c.Expr
	default:
		return ""
	}
}

// FieldName returns the name the item carries in a result row, or "" when
// only the database knows it.
func (c Column) FieldName() string {
	if c.Alias != "" {
		return c.Alias
	}
	if c.Type == ColumnRef {
		return c.Name
	}
	return ""
}

// Analysis is the result of analyzing one statement. It is immutable and
// may be shared.
type Analysis struct {
	Columns []Column
	Tables  Tables
}

var selectModifiers = map[string]bool{
	"ALL": true, "DISTINCT": true, "DISTINCTROW": true, "HIGH_PRIORITY": true,
	"STRAIGHT_JOIN": true, "SQL_SMALL_RESULT": true, "SQL_BIG_RESULT": true,
	"SQL_BUFFER_RESULT": true, "SQL_NO_CACHE": true, "SQL_CACHE": true,
	"SQL_CALC_FOUND_ROWS": true,
}

// clauseKeywords end the select list or the FROM clause.
var clauseKeywords = map[string]bool{
	"WHERE": true, "GROUP": true, "HAVING": true, "ORDER": true, "LIMIT": true,
	"UNION": true, "EXCEPT": true, "INTERSECT": true, "WINDOW": true, "FOR": true,
	"OFFSET": true, "FETCH": true, "INTO": true, "PROCEDURE": true, "LOCK": true,
	"RETURNING": true,
}

// literalWords are bare words that are values, not column names.
var literalWords = map[string]bool{
	"NULL": true, "TRUE": true, "FALSE": true, "DEFAULT": true, "UNKNOWN": true,
	"CURRENT_DATE": true, "CURRENT_TIME": true, "CURRENT_TIMESTAMP": true,
	"LOCALTIME": true, "LOCALTIMESTAMP": true, "CURRENT_USER": true,
}

// operatorWords cannot be directly followed by an implicit alias.
var operatorWords = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "XOR": true, "IS": true, "IN": true,
	"LIKE": true, "ILIKE": true, "RLIKE": true, "REGEXP": true, "SIMILAR": true,
	"BETWEEN": true, "CASE": true, "WHEN": true, "THEN": true, "ELSE": true,
	"AS": true, "DISTINCT": true, "INTERVAL": true, "ESCAPE": true, "DIV": true,
	"MOD": true, "BINARY": true, "COLLATE": true, "ANY": true, "SOME": true,
	"ALL": true, "EXISTS": true,
}

// notAliases can never be an implicit alias.
var notAliases = map[string]bool{
	"NULL": true, "TRUE": true, "FALSE": true, "UNKNOWN": true, "END": true,
	"AND": true, "OR": true, "NOT": true, "IS": true, "IN": true, "LIKE": true,
	"BETWEEN": true, "WHEN": true, "THEN": true, "ELSE": true, "CASE": true,
	"FROM": true, "AS": true, "ASC": true, "DESC": true,
	"MICROSECOND": true, "SECOND": true, "MINUTE": true, "HOUR": true,
	"DAY": true, "WEEK": true, "MONTH": true, "QUARTER": true, "YEAR": true,
}

type parser struct {
	src  string
	toks []token
	// match maps the index of every "(" to its ")" and back.
	match map[int]int
}

// Analyze parses a SELECT statement, or a bare select list, into column
// descriptors and table aliases.
func Analyze(sql string) (*Analysis, error) {
	toks, err := tokenize(sql)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, &SyntaxError{Offset: 0, Msg: "empty statement"}
	}

	p := &parser{src: sql, toks: toks}
	if err := p.matchParens(); err != nil {
		return nil, err
	}

	listStart := 0
	if sel := p.find(0, len(toks), func(t token) bool { return t.keyword("SELECT") }); sel >= 0 {
		listStart = p.skipModifiers(sel + 1)
	}
	listEnd := p.find(listStart, len(toks), func(t token) bool {
		return t.keyword("FROM") || t.keywordIn(clauseKeywords)
	})
	if listEnd < 0 {
		listEnd = len(toks)
	}
	if listStart >= listEnd {
		return nil, &SyntaxError{Offset: p.offsetAt(listStart), Msg: "empty select list"}
	}

	a := &Analysis{}
	for _, item := range p.split(listStart, listEnd) {
		if item[0] == item[1] {
			return nil, &SyntaxError{Offset: p.offsetAt(item[0]), Msg: "empty select item"}
		}
		col, err := p.column(item[0], item[1])
		if err != nil {
			return nil, err
		}
		a.Columns = append(a.Columns, col)
	}

	if listEnd < len(toks) && toks[listEnd].keyword("FROM") {
		fromEnd := p.find(listEnd+1, len(toks), func(t token) bool { return t.keywordIn(clauseKeywords) })
		if fromEnd < 0 {
			fromEnd = len(toks)
		}
		if listEnd+1 == fromEnd {
			return nil, &SyntaxError{Offset: toks[listEnd].offset, Msg: "FROM without table"}
		}
		p.tables(&a.Tables, listEnd+1, fromEnd)
	}
	return a, nil
}

func (p *parser) matchParens() error {
	p.match = make(map[int]int)
	var stack []int
	for i, t := range p.toks {
		switch {
		case t.is(tkPunct, "("):
			stack = append(stack, i)
		case t.is(tkPunct, ")"):
			if len(stack) == 0 {
				return &SyntaxError{Offset: t.offset, Msg: "unexpected )"}
			}
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			p.match[open] = i
			p.match[i] = open
		}
	}
	if len(stack) > 0 {
		return &SyntaxError{Offset: p.toks[stack[len(stack)-1]].offset, Msg: "unclosed ("}
	}
	return nil
}

func (p *parser) offsetAt(i int) int {
	if i < len(p.toks) {
		return p.toks[i].offset
	}
	return len(p.src)
}

// text returns the source text spanned by tokens [from, to).
func (p *parser) text(from, to int) string {
	if from >= to {
		return ""
	}
	last := p.toks[to-1]
	return p.src[p.toks[from].offset : last.offset+len(last.text)]
}

// find returns the index of the first token in [from, to) outside any
// parentheses that satisfies pred, or -1.
func (p *parser) find(from, to int, pred func(token) bool) int {
	for i := from; i < to; i++ {
		if p.toks[i].is(tkPunct, "(") {
			i = p.match[i]
			continue
		}
		if pred(p.toks[i]) {
			return i
		}
	}
	return -1
}

// split cuts [from, to) at top-level commas into half-open ranges.
func (p *parser) split(from, to int) [][2]int {
	var parts [][2]int
	start := from
	for {
		c := p.find(start, to, func(t token) bool { return t.is(tkPunct, ",") })
		if c < 0 {
			return append(parts, [2]int{start, to})
		}
		parts = append(parts, [2]int{start, c})
		start = c + 1
	}
}

func (p *parser) skipModifiers(i int) int {
	for i < len(p.toks) && p.toks[i].keywordIn(selectModifiers) {
		distinct := p.toks[i].keyword("DISTINCT")
		i++
		// PostgreSQL DISTINCT ON (expr, ...)
		if distinct && i+1 < len(p.toks) && p.toks[i].keyword("ON") && p.toks[i+1].is(tkPunct, "(") {
			i = p.match[i+1] + 1
		}
	}
	return i
}

func (p *parser) column(from, to int) (Column, error) {
	bodyEnd, alias := p.splitAlias(from, to)
	if bodyEnd == from {
		return Column{}, &SyntaxError{Offset: p.toks[from].offset, Msg: "missing expression before alias"}
	}

	col := Column{
		Raw:   p.text(from, to),
		Expr:  p.text(from, bodyEnd),
		Alias: alias,
	}

	switch {
	case p.isWildcard(from, bodyEnd):
		col.Type = Wildcard
		if bodyEnd-from > 1 {
			col.Table = p.dotted(from, bodyEnd-2)
			col.Qualified = col.Table
		}
	case p.isColumnRef(from, bodyEnd):
		col.Type = ColumnRef
		col.Qualified = p.dotted(from, bodyEnd)
		if i := strings.LastIndex(col.Qualified, "."); i >= 0 {
			col.Table = col.Qualified[:i]
			col.Name = col.Qualified[i+1:]
		} else {
			col.Name = col.Qualified
		}
	case p.isCall(from, bodyEnd):
		col.Type = Aggregate
		col.Qualified = p.rebuildCall(from, bodyEnd)
	default:
		col.Type = Expression
	}
	return col, nil
}

// splitAlias returns the end of the item's expression and its alias.
func (p *parser) splitAlias(from, to int) (int, string) {
	n := to - from
	last := p.toks[to-1]

	if n >= 2 && p.toks[to-2].keyword("AS") {
		switch last.kind {
		case tkIdent, tkQuoted, tkString:
			return to - 2, unquote(last)
		}
	}

	if n >= 2 && (last.kind == tkIdent || last.kind == tkQuoted) && !last.keywordIn(notAliases) {
		if p.canPrecedeAlias(p.toks[to-2]) {
			return to - 1, unquote(last)
		}
	}
	return to, ""
}

func (p *parser) canPrecedeAlias(t token) bool {
	switch t.kind {
	case tkQuoted, tkString, tkNumber, tkParam:
		return true
	case tkIdent:
		return !t.keywordIn(operatorWords)
	case tkPunct:
		return t.text == ")"
	default:
		return false
	}
}

// isIdentPath reports whether [from, to) is name(.name)*.
func (p *parser) isIdentPath(from, to int) bool {
	if from >= to || (to-from)%2 == 0 {
		return false
	}
	for i := from; i < to; i++ {
		t := p.toks[i]
		if (i-from)%2 == 1 {
			if !t.is(tkPunct, ".") {
				return false
			}
			continue
		}
		if t.kind != tkIdent && t.kind != tkQuoted {
			return false
		}
	}
	return true
}

func (p *parser) isColumnRef(from, to int) bool {
	if !p.isIdentPath(from, to) {
		return false
	}
	return to-from > 1 || !p.toks[from].keywordIn(literalWords)
}

func (p *parser) isWildcard(from, to int) bool {
	if !p.toks[to-1].is(tkPunct, "*") {
		return false
	}
	if to-from == 1 {
		return true
	}
	return to-from >= 3 && p.toks[to-2].is(tkPunct, ".") && p.isIdentPath(from, to-2)
}

// callParen returns the index of the "(" of fn(...) spanning [from, to),
// or -1.
func (p *parser) callParen(from, to int) int {
	for k := from + 1; k < to; k += 2 {
		if p.toks[k].is(tkPunct, "(") {
			if p.isIdentPath(from, k) && p.match[k] == to-1 {
				return k
			}
			return -1
		}
		if !p.toks[k].is(tkPunct, ".") {
			return -1
		}
	}
	return -1
}

func (p *parser) isCall(from, to int) bool {
	return p.toks[from].kind == tkIdent && p.callParen(from, to) >= 0
}

func (p *parser) rebuildCall(from, to int) string {
	open := p.callParen(from, to)
	var args []string
	if open+1 < to-1 {
		for _, arg := range p.split(open+1, to-1) {
			args = append(args, p.text(arg[0], arg[1]))
		}
	}
	return p.text(from, open) + "(" + strings.Join(args, ", ") + ")"
}

// dotted renders an identifier path without quotes.
func (p *parser) dotted(from, to int) string {
	var parts []string
	for i := from; i < to; i += 2 {
		parts = append(parts, unquote(p.toks[i]))
	}
	return strings.Join(parts, ".")
}
