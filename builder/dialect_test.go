package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteColumn(t *testing.T) {
	cases := []struct {
		d        Dialect
		expr     string
		expected string
	}{
		{MySQLDialect{}, "name", "`name`"},
		{MySQLDialect{}, "u.name", "`u`.`name`"},
		{MySQLDialect{}, "CONCAT(u.first, ' ', u.last)", "CONCAT(u.first, ' ', u.last)"},
		{PostgresDialect{}, "u.name", `"u"."name"`},
		{SQLiteDialect{}, "app.users.name", `"app"."users"."name"`},
		{SQLiteDialect{}, "COUNT(o.id)", "COUNT(o.id)"},
	}

	for _, c := range cases {
		assert.Equal(t, c.expected, QuoteColumn(c.d, c.expr), "%s: %s", c.d.Name(), c.expr)
	}
}

func TestLike(t *testing.T) {
	assert.Equal(t, "`name` LIKE '%abc%'", MySQLDialect{}.Like("name", "abc"))
	assert.Equal(t, `"u"."name" LIKE '%a''b%'`, SQLiteDialect{}.Like("u.name", "a'b"))
	assert.Equal(t, `"name"::text ILIKE '%abc%'`, PostgresDialect{}.Like("name", "abc"))
	assert.Equal(t, `(a + b)::text ILIKE '%1%'`, PostgresDialect{}.Like("a + b", "1"))
	assert.Equal(t, "(active OR admin) LIKE '%zzz%'", MySQLDialect{}.Like("active OR admin", "zzz"))
	assert.Equal(t, "(active OR admin) LIKE '%zzz%'", SQLiteDialect{}.Like("active OR admin", "zzz"))
	assert.Equal(t, "(COUNT(o.id)) LIKE '%2%'", SQLiteDialect{}.Like("COUNT(o.id)", "2"))
}

func TestOperand(t *testing.T) {
	assert.Equal(t, `"u"."name"`, Operand(SQLiteDialect{}, "u.name"))
	assert.Equal(t, "(a OR b)", Operand(MySQLDialect{}, "a OR b"))
}

func TestQuoteString(t *testing.T) {
	assert.Equal(t, `'it''s'`, MySQLDialect{}.QuoteString("it's"))
	assert.Equal(t, `'a\\b'`, MySQLDialect{}.QuoteString(`a\b`))
	assert.Equal(t, `'it''s'`, PostgresDialect{}.QuoteString("it's"))
	assert.Equal(t, `E'a\\b'`, PostgresDialect{}.QuoteString(`a\b`))
	assert.Equal(t, "`we``ird`", MySQLDialect{}.QuoteIdent("we`ird"))
}

func TestDialectFor(t *testing.T) {
	for driver, name := range map[string]string{
		"mysql":    "mysql",
		"postgres": "postgres",
		"sqlite3":  "sqlite3",
	} {
		d, err := DialectFor(driver)
		assert.NoError(t, err)
		assert.Equal(t, name, d.Name())
	}

	_, err := DialectFor("oracle")
	assert.Error(t, err)
}
