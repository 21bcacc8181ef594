// Package config loads workpump settings from a YAML file and WORKPUMP_*
// environment variables. Environment values take precedence over the file.
//
//	WORKPUMP_STORAGE_DRIVER       memory|sqlite|postgres|bolt (default memory)
//	WORKPUMP_SQLITE_PATH          sqlite file (default workpump.db)
//	WORKPUMP_BOLT_PATH            bbolt file (default workpump.bolt)
//	WORKPUMP_POSTGRES_DSN         postgres DSN
//	WORKPUMP_ARCHIVE_DRIVER       fs|s3|memory (default fs)
//	WORKPUMP_ARCHIVE_FS_ROOT      archive directory (default ./archive)
//	WORKPUMP_ARCHIVE_S3_BUCKET    bucket, required for s3
//	WORKPUMP_ARCHIVE_S3_REGION    region (default us-east-1)
//	WORKPUMP_ARCHIVE_S3_ENDPOINT  custom endpoint, e.g. MinIO
//	WORKPUMP_ARCHIVE_S3_PATH_STYLE  true|false
//	WORKPUMP_METRICS_DRIVER       none|expvar|prometheus (default none)
//	WORKPUMP_LOG_LEVEL            debug|info|warn|error (default info)
//	WORKPUMP_LOG_FORMAT           auto|text|json (default auto)
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageBolt     = "bolt"
)

// Archive drivers.
const (
	ArchiveFilesystem = "fs"
	ArchiveS3         = "s3"
	ArchiveMemory     = "memory"
)

// Metrics drivers.
const (
	MetricsNone       = "none"
	MetricsExpvar     = "expvar"
	MetricsPrometheus = "prometheus"
)

// Log formats.
const (
	LogFormatAuto = "auto"
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid value")

// Config is the full process configuration.
type Config struct {
	Log     Log     `yaml:"log"`
	Storage Storage `yaml:"storage"`
	Archive Archive `yaml:"archive"`
	Metrics Metrics `yaml:"metrics"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Storage selects the snapshot store.
type Storage struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	BoltPath    string `yaml:"bolt_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Archive selects the object store used for exports.
type Archive struct {
	Driver string `yaml:"driver"`
	FSRoot string `yaml:"fs_root"`
	S3     S3     `yaml:"s3"`
}

// S3 describes an S3 compatible bucket.
type S3 struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// Metrics selects the metrics exporter.
type Metrics struct {
	Driver string `yaml:"driver"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Log:     Log{Level: "info", Format: LogFormatAuto},
		Storage: Storage{Driver: StorageMemory, SQLitePath: "workpump.db", BoltPath: "workpump.bolt"},
		Archive: Archive{Driver: ArchiveFilesystem, FSRoot: "./archive"},
		Metrics: Metrics{Driver: MetricsNone},
	}
}

// Load reads path (optional) and the process environment.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer func() { _ = f.Close() }()
		if err := decode(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"WORKPUMP_STORAGE_DRIVER":      &c.Storage.Driver,
		"WORKPUMP_SQLITE_PATH":         &c.Storage.SQLitePath,
		"WORKPUMP_BOLT_PATH":           &c.Storage.BoltPath,
		"WORKPUMP_POSTGRES_DSN":        &c.Storage.PostgresDSN,
		"WORKPUMP_ARCHIVE_DRIVER":      &c.Archive.Driver,
		"WORKPUMP_ARCHIVE_FS_ROOT":     &c.Archive.FSRoot,
		"WORKPUMP_ARCHIVE_S3_BUCKET":   &c.Archive.S3.Bucket,
		"WORKPUMP_ARCHIVE_S3_REGION":   &c.Archive.S3.Region,
		"WORKPUMP_ARCHIVE_S3_ENDPOINT": &c.Archive.S3.Endpoint,
		"WORKPUMP_METRICS_DRIVER":      &c.Metrics.Driver,
		"WORKPUMP_LOG_LEVEL":           &c.Log.Level,
		"WORKPUMP_LOG_FORMAT":          &c.Log.Format,
	}
	for name, target := range strs {
		if v, ok := lookup(name); ok && v != "" {
			*target = v
		}
	}
	if v, ok := lookup("WORKPUMP_ARCHIVE_S3_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: WORKPUMP_ARCHIVE_S3_PATH_STYLE=%q", ErrInvalid, v)
		}
		c.Archive.S3.PathStyle = b
	}
	return nil
}

// Validate checks driver names and driver specific requirements.
func (c Config) Validate() error {
	checks := []struct {
		field string
		value string
		allow []string
	}{
		{"storage.driver", c.Storage.Driver, []string{StorageMemory, StorageSQLite, StoragePostgres, StorageBolt}},
		{"archive.driver", c.Archive.Driver, []string{ArchiveFilesystem, ArchiveS3, ArchiveMemory}},
		{"metrics.driver", c.Metrics.Driver, []string{MetricsNone, MetricsExpvar, MetricsPrometheus}},
		{"log.format", c.Log.Format, []string{LogFormatAuto, LogFormatText, LogFormatJSON}},
	}
	for _, chk := range checks {
		if !slices.Contains(chk.allow, chk.value) {
			return fmt.Errorf("%w: %s %q (want one of %v)", ErrInvalid, chk.field, chk.value, chk.allow)
		}
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if c.Archive.Driver == ArchiveS3 && c.Archive.S3.Bucket == "" {
		return fmt.Errorf("%w: archive.s3.bucket is required for the s3 driver", ErrInvalid)
	}
	return nil
}

// SlogLevel parses Level.
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("%w: log.level %q", ErrInvalid, l.Level)
	}
	return level, nil
}
