package sqlselect

import "strings"

// TableRef is one table factor of a FROM clause.
type TableRef struct {
	// Alias is the explicit alias, or the bare table name when there is none.
	Alias string
	// Name is the table name as written, schema included. Empty for a
	// derived table.
	Name    string
	Derived bool
}

// Tables holds the FROM clause table factors in order of appearance.
type Tables struct {
	refs []TableRef
}

// Lookup returns the table an alias refers to. An exact match wins over a
// case-insensitive one.
func (t Tables) Lookup(alias string) (TableRef, bool) {
	for _, r := range t.refs {
		if r.Alias == alias {
			return r, true
		}
	}
	for _, r := range t.refs {
		if strings.EqualFold(r.Alias, alias) {
			return r, true
		}
	}
	return TableRef{}, false
}

// Primary returns the first table factor.
func (t Tables) Primary() (TableRef, bool) {
	if len(t.refs) == 0 {
		return TableRef{}, false
	}
	return t.refs[0], true
}

func (t Tables) All() []TableRef {
	return append([]TableRef(nil), t.refs...)
}

func (t Tables) Len() int { return len(t.refs) }

func (t *Tables) add(r TableRef) {
	for i, old := range t.refs {
		if old.Alias == r.Alias {
			t.refs[i] = r
			return
		}
	}
	t.refs = append(t.refs, r)
}

var joinWords = map[string]bool{
	"JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "FULL": true,
	"OUTER": true, "CROSS": true, "NATURAL": true, "STRAIGHT_JOIN": true,
}

var indexHints = map[string]bool{"USE": true, "FORCE": true, "IGNORE": true}

// isJoinWord reports whether token i starts or continues a join operator.
// LEFT( and RIGHT( are function calls.
func (p *parser) isJoinWord(i int) bool {
	if !p.toks[i].keywordIn(joinWords) {
		return false
	}
	return i+1 >= len(p.toks) || !p.toks[i+1].is(tkPunct, "(")
}

// tables collects the table factors of the FROM clause spanning [from, to).
func (p *parser) tables(into *Tables, from, to int) {
	i := from
	for i < to {
		t := p.toks[i]
		switch {
		case t.is(tkPunct, ","), p.isJoinWord(i):
			i++
		case t.keyword("ON"):
			i = p.skipCondition(i+1, to)
		case t.keyword("USING"):
			i++
			if i < to && p.toks[i].is(tkPunct, "(") {
				i = p.match[i] + 1
			}
		case t.keywordIn(indexHints):
			i = p.skipIndexHint(i, to)
		default:
			i = p.factor(into, i, to)
		}
	}
}

// factor parses one table factor starting at i and returns the index
// after it.
func (p *parser) factor(into *Tables, i, to int) int {
	if p.toks[i].keyword("LATERAL") {
		i++
		if i >= to {
			return i
		}
	}

	if p.toks[i].is(tkPunct, "(") {
		closing := p.match[i]
		if i+1 < closing && (p.toks[i+1].keyword("SELECT") || p.toks[i+1].keyword("WITH")) {
			next, alias := p.factorAlias(closing+1, to)
			if alias != "" {
				into.add(TableRef{Alias: alias, Derived: true})
			}
			return next
		}
		// parenthesized join
		p.tables(into, i+1, closing)
		return closing + 1
	}

	end := i + 1
	for end+1 < to && p.toks[end].is(tkPunct, ".") &&
		(p.toks[end+1].kind == tkIdent || p.toks[end+1].kind == tkQuoted) {
		end += 2
	}
	if !p.isIdentPath(i, end) {
		// table function or something unrecognised: skip to the next
		// separator
		for end < to && !p.toks[end].is(tkPunct, ",") && !p.isJoinWord(end) {
			if p.toks[end].is(tkPunct, "(") {
				end = p.match[end]
			}
			end++
		}
		return end
	}

	name := p.dotted(i, end)
	next, alias := p.factorAlias(end, to)
	if alias == "" {
		alias = unquote(p.toks[end-1])
	}
	into.add(TableRef{Alias: alias, Name: name})
	return next
}

// factorAlias reads an optional [AS] alias at i.
func (p *parser) factorAlias(i, to int) (int, string) {
	if i < to && p.toks[i].keyword("AS") {
		if i+1 < to && (p.toks[i+1].kind == tkIdent || p.toks[i+1].kind == tkQuoted) {
			return p.skipColumnList(i+2, to), unquote(p.toks[i+1])
		}
		return i + 1, ""
	}
	if i < to {
		t := p.toks[i]
		if (t.kind == tkIdent && !p.isJoinWord(i) && !t.keyword("ON") && !t.keyword("USING") &&
			!t.keywordIn(indexHints) && !t.keywordIn(clauseKeywords)) || t.kind == tkQuoted {
			return p.skipColumnList(i+1, to), unquote(t)
		}
	}
	return i, ""
}

// skipColumnList skips a derived table column list: AS d (a, b).
func (p *parser) skipColumnList(i, to int) int {
	if i < to && p.toks[i].is(tkPunct, "(") {
		return p.match[i] + 1
	}
	return i
}

// skipCondition skips an ON expression up to the next table separator.
func (p *parser) skipCondition(i, to int) int {
	for i < to {
		t := p.toks[i]
		if t.is(tkPunct, ",") || p.isJoinWord(i) {
			return i
		}
		if t.is(tkPunct, "(") {
			i = p.match[i]
		}
		i++
	}
	return i
}

// skipIndexHint skips USE|FORCE|IGNORE INDEX|KEY [FOR ...] (list).
func (p *parser) skipIndexHint(i, to int) int {
	for i < to {
		if p.toks[i].is(tkPunct, "(") {
			return p.match[i] + 1
		}
		i++
	}
	return i
}
