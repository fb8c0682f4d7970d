package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gnemet/datatables"
	"github.com/gnemet/datatables/builder"
	"github.com/gnemet/datatables/database/dbpool"
	"github.com/gnemet/datatables/internal/config"
)

// OpenFunc opens a database pool. dbpool.Open in production.
type OpenFunc func(ctx context.Context, cfg dbpool.Config) (*sql.DB, builder.Dialect, error)

// Grid is a configured grid bound to its database.
type Grid struct {
	Config  config.GridConfig
	DB      *sql.DB
	Dialect builder.Dialect
}

// Builder returns a fresh query builder for the grid's base query.
func (g *Grid) Builder() *builder.Builder {
	c := g.Config
	b := builder.New(g.DB, g.Dialect).
		Select(c.Select...).
		From(c.From).
		GroupBy(c.GroupBy).
		Having(c.Having)
	for _, j := range c.Joins {
		b.Join(j.Table, j.On, j.Type)
	}
	for _, w := range c.Where {
		b.Where(w)
	}
	return b
}

// Configure applies the grid's adapter settings.
func (g *Grid) Configure(dt *datatables.DataTables) error {
	c := g.Config
	for alias, expr := range c.Aliases {
		dt.AddColumnAlias(expr, alias)
	}
	if len(c.Only) > 0 {
		dt.Only(c.Only...)
	}
	if len(c.Except) > 0 {
		dt.Except(c.Except...)
	}
	if c.SequenceNumber != "" {
		dt.AddSequenceNumber(c.SequenceNumber)
	}
	if c.Object {
		dt.AsObject()
	}
	return dt.Err()
}

// Registry holds the grids of one configuration and the pools they use.
// A retired registry closes its pools once the requests that entered it
// have left.
type Registry struct {
	grids map[string]*Grid
	dbs   map[string]*sql.DB

	mu       sync.Mutex
	inflight int
	retired  bool
	done     chan struct{}
}

// NewRegistry opens every database a grid refers to.
func NewRegistry(ctx context.Context, cfg *config.Config, open OpenFunc) (*Registry, error) {
	r := &Registry{
		grids: make(map[string]*Grid, len(cfg.Grids)),
		dbs:   make(map[string]*sql.DB),
		done:  make(chan struct{}),
	}
	dialects := make(map[string]builder.Dialect)

	for _, gc := range cfg.Grids {
		dc, ok := cfg.DatabaseFor(gc)
		if !ok {
			r.Close()
			return nil, fmt.Errorf("grid %s: no database configured", gc.Name)
		}

		db, ok := r.dbs[dc.Name]
		if !ok {
			var (
				d   builder.Dialect
				err error
			)
			db, d, err = open(ctx, dc.Pool())
			if err != nil {
				r.Close()
				return nil, fmt.Errorf("grid %s: %w", gc.Name, err)
			}
			r.dbs[dc.Name] = db
			dialects[dc.Name] = d
		}

		r.grids[gc.Name] = &Grid{Config: gc, DB: db, Dialect: dialects[dc.Name]}
	}
	return r, nil
}

func (r *Registry) Grid(name string) (*Grid, bool) {
	g, ok := r.grids[name]
	return g, ok
}

// Names returns the grid names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.grids))
	for n := range r.grids {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DB returns the pool opened for a configured database.
func (r *Registry) DB(name string) (*sql.DB, bool) {
	db, ok := r.dbs[name]
	return db, ok
}

// Close closes every pool.
func (r *Registry) Close() {
	for name, db := range r.dbs {
		if err := db.Close(); err != nil {
			slog.Warn("Failed to close database", "name", name, "error", err)
		}
	}
}

// enter registers a request. It fails once the registry is retired.
func (r *Registry) enter() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired {
		return false
	}
	r.inflight++
	return true
}

func (r *Registry) leave() {
	r.mu.Lock()
	r.inflight--
	last := r.retired && r.inflight == 0
	r.mu.Unlock()
	if last {
		r.shutdown()
	}
}

// Retire stops new requests from entering and closes the pools after the
// last running request leaves. The returned channel is closed once the
// pools are closed.
func (r *Registry) Retire() <-chan struct{} {
	r.mu.Lock()
	if r.retired {
		r.mu.Unlock()
		return r.done
	}
	r.retired = true
	idle := r.inflight == 0
	r.mu.Unlock()

	if idle {
		r.shutdown()
	}
	return r.done
}

func (r *Registry) shutdown() {
	r.Close()
	close(r.done)
}
