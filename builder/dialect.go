package builder

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
)

// Dialect renders the database specific pieces of generated SQL.
type Dialect interface {
	Name() string
	// QuoteIdent quotes a single identifier.
	QuoteIdent(name string) string
	// QuoteString renders s as a string literal.
	QuoteString(s string) string
	// Like renders a case-insensitive substring match of keyword against
	// expr. expr is rendered with Operand.
	Like(expr, keyword string) string
	LimitClause(length, offset int) string
	TableColumns(ctx context.Context, db Querier, table string) ([]string, error)
}

var identPath = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*)*$`)

// IsIdentPath reports whether expr is a plain or dotted identifier.
func IsIdentPath(expr string) bool {
	return identPath.MatchString(expr)
}

// QuoteColumn quotes a plain or dotted identifier part by part. Any other
// expression is returned unchanged.
func QuoteColumn(d Dialect, expr string) string {
	if !IsIdentPath(expr) {
		return expr
	}
	parts := strings.Split(expr, ".")
	for i, p := range parts {
		parts[i] = d.QuoteIdent(p)
	}
	return strings.Join(parts, ".")
}

// Operand returns expr ready to sit next to an operator: identifiers are
// quoted, anything else is parenthesized.
func Operand(d Dialect, expr string) string {
	if !IsIdentPath(expr) {
		return "(" + expr + ")"
	}
	return QuoteColumn(d, expr)
}

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "mysql", "mariadb":
		return MySQLDialect{}, nil
	case "postgres", "postgresql":
		return PostgresDialect{}, nil
	case "sqlite", "sqlite3":
		return SQLiteDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

func likePattern(keyword string) string {
	return "%" + keyword + "%"
}

func splitQualified(table string) (schema, name string) {
	if i := strings.LastIndex(table, "."); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}

// MySQLDialect renders back-tick quoted MySQL / MariaDB SQL.
type MySQLDialect struct{}

func (MySQLDialect) Name() string { return "mysql" }

func (MySQLDialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (MySQLDialect) QuoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `''`)
	return "'" + s + "'"
}

func (d MySQLDialect) Like(expr, keyword string) string {
	return fmt.Sprintf("%s LIKE %s", Operand(d, expr), d.QuoteString(likePattern(keyword)))
}

func (MySQLDialect) LimitClause(length, offset int) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", length, offset)
}

func (MySQLDialect) TableColumns(ctx context.Context, db Querier, table string) ([]string, error) {
	schema, name := splitQualified(table)
	return queryStrings(ctx, db, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = COALESCE(NULLIF(?, ''), DATABASE())
		  AND table_name = ?
		ORDER BY ordinal_position`, schema, name)
}

// PostgresDialect renders double-quoted PostgreSQL SQL. Substring search
// casts the column to text and uses ILIKE.
type PostgresDialect struct{}

func (PostgresDialect) Name() string { return "postgres" }

func (PostgresDialect) QuoteIdent(name string) string {
	return pq.QuoteIdentifier(name)
}

func (PostgresDialect) QuoteString(s string) string {
	return strings.TrimSpace(pq.QuoteLiteral(s))
}

func (d PostgresDialect) Like(expr, keyword string) string {
	return fmt.Sprintf("%s::text ILIKE %s", Operand(d, expr), d.QuoteString(likePattern(keyword)))
}

func (PostgresDialect) LimitClause(length, offset int) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", length, offset)
}

func (PostgresDialect) TableColumns(ctx context.Context, db Querier, table string) ([]string, error) {
	schema, name := splitQualified(table)
	return queryStrings(ctx, db, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema())
		  AND table_name = $2
		ORDER BY ordinal_position`, schema, name)
}

// SQLiteDialect renders SQLite SQL.
type SQLiteDialect struct{}

func (SQLiteDialect) Name() string { return "sqlite3" }

func (SQLiteDialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (SQLiteDialect) QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, `'`, `''`) + "'"
}

func (d SQLiteDialect) Like(expr, keyword string) string {
	return fmt.Sprintf("%s LIKE %s", Operand(d, expr), d.QuoteString(likePattern(keyword)))
}

func (SQLiteDialect) LimitClause(length, offset int) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", length, offset)
}

func (SQLiteDialect) TableColumns(ctx context.Context, db Querier, table string) ([]string, error) {
	schema, name := splitQualified(table)
	if schema == "" {
		return queryStrings(ctx, db, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, name)
	}
	return queryStrings(ctx, db, `SELECT name FROM pragma_table_info(?, ?) ORDER BY cid`, name, schema)
}
