// Package config loads the dtserve YAML configuration.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/gnemet/datatables/database/dbpool"
	"github.com/gnemet/datatables/internal/logging"
)

//go:embed schema.json
var schemaJSON []byte

// AppFs is the filesystem configuration is read from.
var AppFs = afero.NewOsFs()

type Config struct {
	Application struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"application"`

	Server    ServerConfig     `yaml:"server"`
	Log       logging.Config   `yaml:"log"`
	Cache     CacheConfig      `yaml:"cache"`
	Databases []DatabaseConfig `yaml:"databases"`
	Grids     []GridConfig     `yaml:"grids"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	CORSOrigins  []string      `yaml:"cors_origins"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Gzip         bool          `yaml:"gzip"`
}

type CacheConfig struct {
	Size int `yaml:"size"`
}

type DatabaseConfig struct {
	Name            string        `yaml:"name"`
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	Schema          string        `yaml:"schema"`
	Default         bool          `yaml:"default"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// Pool converts the entry to a dbpool configuration.
func (d DatabaseConfig) Pool() dbpool.Config {
	return dbpool.Config{
		Name:            d.Name,
		Driver:          d.Driver,
		DSN:             d.DSN,
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.Database,
		Schema:          d.Schema,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
	}
}

type JoinConfig struct {
	Table string `yaml:"table"`
	On    string `yaml:"on"`
	Type  string `yaml:"type"`
}

// GridConfig describes one grid: the query it serves and how the adapter
// shapes it.
type GridConfig struct {
	Name     string       `yaml:"name"`
	Database string       `yaml:"database"`
	Select   []string     `yaml:"select"`
	From     string       `yaml:"from"`
	Joins    []JoinConfig `yaml:"joins"`
	Where    []string     `yaml:"where"`
	GroupBy  string       `yaml:"group_by"`
	Having   string       `yaml:"having"`
	// Aliases maps client identifiers to SQL expressions.
	Aliases        map[string]string `yaml:"aliases"`
	Only           []string          `yaml:"only"`
	Except         []string          `yaml:"except"`
	SequenceNumber string            `yaml:"sequence_number"`
	Object         bool              `yaml:"object"`
}

// ValidationError lists the schema violations of a configuration file.
type ValidationError struct {
	Path   string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is invalid: %s", e.Path, strings.Join(e.Errors, "; "))
}

// Load reads path, expands ${VAR} references from the environment and a
// .env file next to it, validates the result against the embedded schema
// and decodes it.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(AppFs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Expand env vars in YAML
	expanded := []byte(os.ExpandEnv(string(data)))

	if err := validate(path, expanded); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.check(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks a configuration file against the schema without
// decoding it.
func Validate(path string) error {
	data, err := afero.ReadFile(AppFs, path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	return validate(path, []byte(os.ExpandEnv(string(data))))
}

func validate(path string, data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if doc == nil {
		return &ValidationError{Path: path, Errors: []string{"empty document"}}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("failed to validate %s: %w", path, err)
	}
	if result.Valid() {
		return nil
	}

	verr := &ValidationError{Path: path}
	for _, desc := range result.Errors() {
		verr.Errors = append(verr.Errors, desc.String())
	}
	return verr
}

// loadDotEnv sets variables from a .env file without overriding the
// environment. A missing file is not an error.
func loadDotEnv(path string) error {
	data, err := afero.ReadFile(AppFs, path)
	if err != nil {
		return nil
	}
	vars, err := godotenv.Parse(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for k, v := range vars {
		if _, ok := os.LookupEnv(k); !ok {
			os.Setenv(k, v)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Cache.Size == 0 {
		c.Cache.Size = 512
	}
}

func (c *Config) check() error {
	dbs := make(map[string]bool, len(c.Databases))
	for _, d := range c.Databases {
		if dbs[d.Name] {
			return fmt.Errorf("duplicate database %q", d.Name)
		}
		dbs[d.Name] = true
	}

	grids := make(map[string]bool, len(c.Grids))
	for _, g := range c.Grids {
		if grids[g.Name] {
			return fmt.Errorf("duplicate grid %q", g.Name)
		}
		grids[g.Name] = true
		if g.Database != "" && !dbs[g.Database] {
			return fmt.Errorf("grid %q: unknown database %q", g.Name, g.Database)
		}
	}
	return nil
}

// DefaultDatabase returns the database marked default, else the first one.
func (c *Config) DefaultDatabase() (DatabaseConfig, bool) {
	for _, d := range c.Databases {
		if d.Default {
			return d, true
		}
	}
	if len(c.Databases) > 0 {
		return c.Databases[0], true
	}
	return DatabaseConfig{}, false
}

// DatabaseFor returns the database a grid runs on.
func (c *Config) DatabaseFor(g GridConfig) (DatabaseConfig, bool) {
	if g.Database == "" {
		return c.DefaultDatabase()
	}
	for _, d := range c.Databases {
		if d.Name == g.Database {
			return d, true
		}
	}
	return DatabaseConfig{}, false
}
