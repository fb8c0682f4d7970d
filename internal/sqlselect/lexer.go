package sqlselect

import (
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

// sqlLexer tokenizes the subset of SQL needed to find select items and
// table references. Rules are tried in order.
var sqlLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `--[^\n]*|/\*(?:[^*]|\*+[^*/])*\*+/`},
	{Name: "Whitespace", Pattern: `\s+`},

	// Literals
	{Name: "String", Pattern: `'(?:\\.|''|[^'\\])*'`},
	{Name: "QuotedIdent", Pattern: "`(?:``|[^`])*`|\"(?:\"\"|[^\"])*\""},
	{Name: "Number", Pattern: `(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?`},
	{Name: "Param", Pattern: `\?|\$\d+|:[A-Za-z_]\w*`},

	{Name: "Ident", Pattern: `[\p{L}_][\p{L}\p{N}_$]*`},

	// Punctuation (must come before the single character operators)
	{Name: "Punct", Pattern: `[(),.*\[\]]`},
	{Name: "Operator", Pattern: `::|<=>|<>|!=|<=|>=|\|\||&&|->>|->|[-+/%=<>!~^&|@#:;]`},
})

type tokenKind int

const (
	tkIdent tokenKind = iota
	tkQuoted
	tkString
	tkNumber
	tkParam
	tkPunct
	tkOperator
)

type token struct {
	kind   tokenKind
	text   string
	offset int
}

func (t token) is(kind tokenKind, text string) bool {
	return t.kind == kind && t.text == text
}

// keyword reports whether t is the bare word kw, case-insensitively.
func (t token) keyword(kw string) bool {
	return t.kind == tkIdent && strings.EqualFold(t.text, kw)
}

func (t token) keywordIn(set map[string]bool) bool {
	return t.kind == tkIdent && set[strings.ToUpper(t.text)]
}

var kindBySymbol = map[string]tokenKind{
	"String":      tkString,
	"QuotedIdent": tkQuoted,
	"Number":      tkNumber,
	"Param":       tkParam,
	"Ident":       tkIdent,
	"Punct":       tkPunct,
	"Operator":    tkOperator,
}

func tokenize(sql string) ([]token, error) {
	lex, err := sqlLexer.LexString("", sql)
	if err != nil {
		return nil, &SyntaxError{Offset: -1, Msg: err.Error()}
	}
	raw, err := lexer.ConsumeAll(lex)
	if err != nil {
		return nil, &SyntaxError{Offset: -1, Msg: err.Error()}
	}

	kinds := make(map[lexer.TokenType]tokenKind, len(kindBySymbol))
	for name, tt := range sqlLexer.Symbols() {
		if k, ok := kindBySymbol[name]; ok {
			kinds[tt] = k
		}
	}

	toks := make([]token, 0, len(raw))
	for _, t := range raw {
		k, ok := kinds[t.Type]
		if !ok {
			// EOF, whitespace and comments
			continue
		}
		toks = append(toks, token{kind: k, text: t.Value, offset: t.Pos.Offset})
	}
	return toks, nil
}

// unquote strips identifier or string delimiters.
func unquote(t token) string {
	switch t.kind {
	case tkQuoted:
		q := t.text[:1]
		return strings.ReplaceAll(t.text[1:len(t.text)-1], q+q, q)
	case tkString:
		return strings.ReplaceAll(t.text[1:len(t.text)-1], "''", "'")
	default:
		return t.text
	}
}
