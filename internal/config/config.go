// Package config loads the docmap command configuration.
//
// Values come from the defaults, then from a TOML or YAML file chosen by its extension,
// then from DOCMAP_* environment variables, each layer overriding the previous one.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/docmap/docmap/internal/errorkit"
)

const ErrInvalidConfig errorkit.Error = "ErrInvalidConfig"

const (
	DriverMemory   = "memory"
	DriverBolt     = "bolt"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var Drivers = []string{DriverMemory, DriverBolt, DriverSQLite, DriverPostgres}

type Config struct {
	Store   Store   `toml:"store" yaml:"store"`
	Log     Log     `toml:"log" yaml:"log"`
	Session Session `toml:"session" yaml:"session"`
}

type Store struct {
	// Driver selects the document store: memory, bolt, sqlite or postgres.
	Driver string `toml:"driver" yaml:"driver" env:"DOCMAP_STORE_DRIVER"`
	// Path is the database file of the bolt and sqlite drivers.
	Path string `toml:"path" yaml:"path" env:"DOCMAP_STORE_PATH"`
	// DSN is the connection string of the postgres driver.
	DSN string `toml:"dsn" yaml:"dsn" env:"DOCMAP_STORE_DSN"`
}

type Log struct {
	Level  string `toml:"level" yaml:"level" env:"DOCMAP_LOG_LEVEL"`
	Format string `toml:"format" yaml:"format" env:"DOCMAP_LOG_FORMAT"`
}

type Session struct {
	// MaxDepth bounds reference resolution on load; zero means unlimited.
	MaxDepth int `toml:"max_depth" yaml:"max_depth" env:"DOCMAP_SESSION_MAX_DEPTH"`
}

func Default() Config {
	return Config{
		Store: Store{Driver: DriverMemory},
		Log:   Log{Level: "info", Format: "console"},
	}
}

// Load reads the configuration file at path and applies the environment overrides.
// With an empty path only the defaults and the environment are used.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnvOverrides(reflect.ValueOf(&cfg).Elem()); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return ErrInvalidConfig.F("failed to parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return ErrInvalidConfig.F("failed to parse %s: %w", path, err)
		}
	default:
		return ErrInvalidConfig.F("unsupported config file extension: %q", ext)
	}
	return nil
}

// applyEnvOverrides sets the fields tagged with env from the environment variables that are set.
func applyEnvOverrides(rStruct reflect.Value) error {
	for i, numField := 0, rStruct.NumField(); i < numField; i++ {
		rStructField := rStruct.Type().Field(i)
		field := rStruct.Field(i)
		if field.Kind() == reflect.Struct {
			if err := applyEnvOverrides(field); err != nil {
				return err
			}
			continue
		}
		key, ok := rStructField.Tag.Lookup("env")
		if !ok {
			continue
		}
		val, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		switch field.Kind() {
		case reflect.String:
			field.SetString(val)
		case reflect.Int:
			n, err := strconv.Atoi(val)
			if err != nil {
				return ErrInvalidConfig.F("%s: %w", key, err)
			}
			field.SetInt(int64(n))
		default:
			return ErrInvalidConfig.F("%s: unsupported field type %s", key, field.Type())
		}
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if !slices.Contains(Drivers, c.Store.Driver) {
		errs = append(errs, ErrInvalidConfig.F("invalid store driver: %q (valid: %v)", c.Store.Driver, Drivers))
	}
	switch c.Store.Driver {
	case DriverBolt, DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, ErrInvalidConfig.F("the %s driver needs store.path", c.Store.Driver))
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, ErrInvalidConfig.F("the postgres driver needs store.dsn"))
		}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, ErrInvalidConfig.F("log.level: %w", err))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, ErrInvalidConfig.F("invalid log.format: %q (valid: json, console)", c.Log.Format))
	}
	if c.Session.MaxDepth < 0 {
		errs = append(errs, ErrInvalidConfig.F("session.max_depth must not be negative"))
	}
	return errorkit.Merge(errs...)
}
