package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmap/docmap/internal/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, config.DriverMemory, cfg.Store.Driver)
}

func TestLoad_toml(t *testing.T) {
	path := writeFile(t, "docmap.toml", `
[store]
driver = "sqlite"
path = "/tmp/docmap.db"

[log]
level = "debug"
format = "json"

[session]
max_depth = 3
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Config{
		Store:   config.Store{Driver: config.DriverSQLite, Path: "/tmp/docmap.db"},
		Log:     config.Log{Level: "debug", Format: "json"},
		Session: config.Session{MaxDepth: 3},
	}, cfg)
}

func TestLoad_yaml(t *testing.T) {
	path := writeFile(t, "docmap.yaml", `
store:
  driver: postgres
  dsn: postgres://localhost/docmap
session:
  max_depth: 2
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/docmap", cfg.Store.DSN)
	assert.Equal(t, 2, cfg.Session.MaxDepth)
	assert.Equal(t, "info", cfg.Log.Level, "unset keys keep their defaults")
}

func TestLoad_envOverrides(t *testing.T) {
	path := writeFile(t, "docmap.yml", "store:\n  driver: memory\n")
	t.Setenv("DOCMAP_STORE_DRIVER", "bolt")
	t.Setenv("DOCMAP_STORE_PATH", "/var/lib/docmap.bolt")
	t.Setenv("DOCMAP_LOG_LEVEL", "warn")
	t.Setenv("DOCMAP_SESSION_MAX_DEPTH", "5")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DriverBolt, cfg.Store.Driver)
	assert.Equal(t, "/var/lib/docmap.bolt", cfg.Store.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Session.MaxDepth)
}

func TestLoad_errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("unknown extension", func(t *testing.T) {
		_, err := config.Load(writeFile(t, "docmap.ini", "driver=memory"))
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})
	t.Run("unknown key", func(t *testing.T) {
		_, err := config.Load(writeFile(t, "docmap.toml", "[store]\nengine = \"memory\"\n"))
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})
	t.Run("malformed yaml", func(t *testing.T) {
		_, err := config.Load(writeFile(t, "docmap.yaml", "store: [\n"))
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})
	t.Run("non numeric env override", func(t *testing.T) {
		t.Setenv("DOCMAP_SESSION_MAX_DEPTH", "deep")
		_, err := config.Load("")
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})
}

func TestConfig_Validate(t *testing.T) {
	for name, mutate := range map[string]func(*config.Config){
		"unknown driver":       func(c *config.Config) { c.Store.Driver = "mongo" },
		"bolt without path":    func(c *config.Config) { c.Store.Driver = config.DriverBolt },
		"sqlite without path":  func(c *config.Config) { c.Store.Driver = config.DriverSQLite },
		"postgres without dsn": func(c *config.Config) { c.Store.Driver = config.DriverPostgres },
		"unknown log level":    func(c *config.Config) { c.Log.Level = "loud" },
		"unknown log format":   func(c *config.Config) { c.Log.Format = "xml" },
		"negative max depth":   func(c *config.Config) { c.Session.MaxDepth = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidConfig)
		})
	}

	t.Run("every problem is reported", func(t *testing.T) {
		cfg := config.Default()
		cfg.Log.Format = "xml"
		cfg.Session.MaxDepth = -1
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "log.format")
		assert.Contains(t, err.Error(), "max_depth")
	})
}
