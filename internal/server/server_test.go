package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnemet/datatables/builder"
	"github.com/gnemet/datatables/database/dbpool"
	"github.com/gnemet/datatables/internal/config"
	"github.com/gnemet/datatables/internal/sqlselect"
)

func testConfig() *config.Config {
	return &config.Config{
		Databases: []config.DatabaseConfig{
			{Name: "main", Driver: "sqlite3", DSN: ":memory:", MaxOpenConns: 1},
		},
		Grids: []config.GridConfig{
			{
				Name:   "users",
				Select: []string{"u.id", "u.name", "t.title AS team"},
				From:   "users u",
				Joins:  []config.JoinConfig{{Table: "teams t", On: "t.id = u.team_id", Type: "left"}},
				Aliases: map[string]string{
					"team_name": "t.title",
				},
				SequenceNumber: "no",
				Object:         true,
			},
			{
				Name:   "teams",
				Select: []string{"*"},
				From:   "teams",
				Except: []string{"id"},
			},
		},
	}
}

func newTestServer(t *testing.T) (*Server, *Registry) {
	t.Helper()

	reg, err := NewRegistry(context.Background(), testConfig(), dbpool.Open)
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	db, ok := reg.DB("main")
	require.True(t, ok)
	seed(t, db)

	cache, err := sqlselect.NewCache(16)
	require.NoError(t, err)
	return New(config.ServerConfig{}, reg, cache, nil), reg
}

func seed(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`
		CREATE TABLE teams (id INTEGER PRIMARY KEY, title TEXT);
		CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, team_id INTEGER);
		INSERT INTO teams (id, title) VALUES (1, 'core'), (2, 'web');
		INSERT INTO users (id, name, team_id) VALUES (1, 'alice', 1), (2, 'bob', 1), (3, 'carol', 2);
	`)
	require.NoError(t, err)
}

type objectResponse struct {
	Draw            int                      `json:"draw"`
	RecordsTotal    int                      `json:"recordsTotal"`
	RecordsFiltered int                      `json:"recordsFiltered"`
	Data            []map[string]interface{} `json:"data"`
}

func TestServeObjectGrid(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	q := url.Values{}
	q.Set("draw", "2")
	q.Set("start", "0")
	q.Set("length", "10")
	q.Set("columns[0][data]", "name")
	q.Set("columns[0][searchable]", "true")
	q.Set("columns[0][orderable]", "true")
	q.Set("columns[1][data]", "team")
	q.Set("columns[1][searchable]", "true")
	q.Set("columns[1][search][value]", "core")
	q.Set("order[0][column]", "0")
	q.Set("order[0][dir]", "desc")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/grids/users?"+q.Encode(), nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	var resp objectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Draw)
	assert.Equal(t, 3, resp.RecordsTotal)
	assert.Equal(t, 2, resp.RecordsFiltered)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "bob", resp.Data[0]["name"])
	assert.EqualValues(t, 1, resp.Data[0]["no"])
	assert.Equal(t, "core", resp.Data[0]["team"])
}

func TestServeWildcardGridByPost(t *testing.T) {
	s, _ := newTestServer(t)

	form := url.Values{}
	form.Set("draw", "1")
	form.Set("columns[0][data]", "0")
	form.Set("columns[0][searchable]", "true")
	form.Set("search[value]", "we")

	r := httptest.NewRequest(http.MethodPost, "/grids/teams", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		RecordsFiltered int             `json:"recordsFiltered"`
		Data            [][]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.RecordsFiltered)
	assert.Equal(t, [][]interface{}{{"web"}}, resp.Data)
}

func TestUnknownGridAndListing(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/grids/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/grids", nil))
	assert.JSONEq(t, `{"grids":["teams","users"]}`, w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestSwapRegistry(t *testing.T) {
	s, old := newTestServer(t)

	cfg := testConfig()
	cfg.Grids = cfg.Grids[1:]
	reg, err := NewRegistry(context.Background(), cfg, dbpool.Open)
	require.NoError(t, err)
	defer reg.Close()

	assert.Same(t, old, s.Swap(reg))
	assert.Equal(t, []string{"teams"}, s.registry.Load().Names())
}

func TestNewRegistryOpenError(t *testing.T) {
	cfg := testConfig()
	cfg.Databases[0].Driver = "oracle"

	_, err := NewRegistry(context.Background(), cfg, dbpool.Open)
	assert.Error(t, err)
}

func TestGridBuilder(t *testing.T) {
	g := &Grid{
		Config: config.GridConfig{
			Select:  []string{"team_id", "COUNT(*) AS members"},
			From:    "users",
			Where:   []string{"active = 1"},
			GroupBy: "team_id",
		},
		Dialect: builder.SQLiteDialect{},
	}
	assert.Equal(t, "SELECT team_id, COUNT(*) AS members FROM users WHERE active = 1 GROUP BY team_id", g.Builder().CompiledSelect())
}

func TestHandlerMiddleware(t *testing.T) {
	s, _ := newTestServer(t)
	s.cfg = config.ServerConfig{Gzip: true, CORSOrigins: []string{"https://app.example.com"}}
	h := s.Handler()

	r := httptest.NewRequest(http.MethodOptions, "/grids/users", nil)
	r.Header.Set("Origin", "https://app.example.com")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "/grids/users?draw=1", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	r.Header.Set(requestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestRetireWaitsForRunningRequests(t *testing.T) {
	s, old := newTestServer(t)
	db, _ := old.DB("main")

	running := s.acquire()
	require.Same(t, old, running)

	reg, err := NewRegistry(context.Background(), testConfig(), dbpool.Open)
	require.NoError(t, err)
	defer reg.Close()
	newDB, _ := reg.DB("main")
	seed(t, newDB)

	done := s.Swap(reg).Retire()
	select {
	case <-done:
		t.Fatal("pools closed while a request was running")
	default:
	}
	require.NoError(t, db.Ping(), "the running request keeps its pool")

	_, err = running.grids["users"].Builder().CountAllResults(context.Background(), false)
	require.NoError(t, err)
	running.leave()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pools were not closed after the last request left")
	}
	assert.Error(t, db.Ping())

	assert.Same(t, reg, s.acquire(), "new requests enter the installed registry")
	reg.leave()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/grids/users?draw=1", nil))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestNoRegistryInstalled(t *testing.T) {
	s, reg := newTestServer(t)
	assert.Same(t, reg, s.Swap(nil))
	<-reg.Retire()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/grids/users", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
