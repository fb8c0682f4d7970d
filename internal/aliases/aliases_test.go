package aliases

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnemet/datatables/internal/sqlselect"
)

type fakeSchema map[string][]string

func (f fakeSchema) TableFieldNames(_ context.Context, table string) ([]string, error) {
	if table == "broken" {
		return nil, errors.New("connection reset")
	}
	return f[table], nil
}

var schema = fakeSchema{
	"users": {"id", "name", "email"},
	"teams": {"id", "title"},
}

func analyze(t *testing.T, sql string) *sqlselect.Analysis {
	t.Helper()
	a, err := sqlselect.Analyze(sql)
	require.NoError(t, err)
	return a
}

func TestResolveQualifiedColumns(t *testing.T) {
	a := analyze(t, "SELECT u.id, u.name, t.title, status FROM users u JOIN teams t ON t.id = u.team_id")

	m, err := Resolve(context.Background(), a, schema)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name", "title"}, m.Keys())
	assert.Equal(t, "u.name", m.Resolve("name"))
	assert.Equal(t, "t.title", m.Resolve("title"))
	assert.Equal(t, "status", m.Resolve("status"), "unqualified columns are used as-is")
	_, ok := m.Lookup("status")
	assert.False(t, ok)
}

func TestResolveWildcard(t *testing.T) {
	a := analyze(t, "SELECT t.* FROM users u JOIN teams t ON t.id = u.team_id")

	m, err := Resolve(context.Background(), a, schema)
	require.NoError(t, err)

	assert.Equal(t, 2, m.Len())
	assert.Equal(t, "t.id", m.Resolve("id"))
	assert.Equal(t, "t.title", m.Resolve("title"))
}

func TestResolveBareWildcardUsesPrimaryTable(t *testing.T) {
	a := analyze(t, "SELECT * FROM users JOIN teams ON teams.id = users.team_id")

	m, err := Resolve(context.Background(), a, schema)
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "id", "name"}, m.Keys())
	assert.Equal(t, "users.email", m.Resolve("email"))
}

func TestResolvePrecedence(t *testing.T) {
	a := analyze(t, `SELECT u.*, t.title AS name, COUNT(o.id) orders, u.age * 2 AS double_age
		FROM users u JOIN teams t ON t.id = u.team_id LEFT JOIN orders o ON o.user_id = u.id
		GROUP BY u.id`)

	m, err := Resolve(context.Background(), a, schema)
	require.NoError(t, err)

	assert.Equal(t, "t.title", m.Resolve("name"), "aliased items override wildcard expansion")
	assert.Equal(t, "u.email", m.Resolve("email"))
	assert.Equal(t, "COUNT(o.id)", m.Resolve("orders"))
	assert.Equal(t, "u.age * 2", m.Resolve("double_age"))

	m.Set("name", "u.name")
	assert.Equal(t, "u.name", m.Resolve("name"), "caller aliases override inference")
}

func TestResolveLookupError(t *testing.T) {
	a := analyze(t, "SELECT b.* FROM broken b")

	_, err := Resolve(context.Background(), a, schema)
	assert.ErrorContains(t, err, "connection reset")
}

func TestFieldNames(t *testing.T) {
	ctx := context.Background()

	names, ok, err := FieldNames(ctx, analyze(t, "SELECT u.id, u.name AS uname, t.* FROM users u JOIN teams t ON t.id = u.team_id"), schema)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"id", "uname", "title"}, names, "duplicates keep their first position")

	_, ok, err = FieldNames(ctx, analyze(t, "SELECT u.id, COUNT(*) FROM users u"), schema)
	require.NoError(t, err)
	assert.False(t, ok, "unaliased aggregates can only be named by the database")

	_, ok, err = FieldNames(ctx, analyze(t, "SELECT * FROM users"), nil)
	require.NoError(t, err)
	assert.False(t, ok)

	names, ok, err = FieldNames(ctx, analyze(t, "SELECT * FROM users"), schema)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"id", "name", "email"}, names)
}

func TestFieldNamesNeedQueryForJoinedWildcard(t *testing.T) {
	ctx := context.Background()

	_, ok, err := FieldNames(ctx, analyze(t, "SELECT * FROM users u JOIN teams t ON t.id = u.team_id"), schema)
	require.NoError(t, err)
	assert.False(t, ok, "a bare * over a join returns the columns of every table")

	_, ok, err = FieldNames(ctx, analyze(t, "SELECT d.* FROM (SELECT id FROM users) d"), schema)
	require.NoError(t, err)
	assert.False(t, ok, "derived tables have no catalog entry")
}

func TestNilMap(t *testing.T) {
	var m *Map
	assert.Equal(t, "x", m.Resolve("x"))
	assert.Zero(t, m.Len())
	assert.Empty(t, m.Keys())
}
