// Package config loads kvorm settings from an optional YAML file and KVORM_*
// environment variables.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"kvorm/internal/infra/archive"
	"kvorm/internal/infra/archive/core"
	"kvorm/internal/logging"
	"kvorm/internal/snapshot"
	"kvorm/pkg/storage"
)

const (
	fileName = "kvorm"
	fileType = "yaml"
	// EnvPrefix prefixes every environment variable.
	EnvPrefix = "KVORM"
)

// Config is the complete runtime configuration.
type Config struct {
	Storage storage.Config `mapstructure:"storage"`
	Archive archive.Config `mapstructure:"archive"`
	Log     logging.Config `mapstructure:"log"`
	// Schema is the path of the YAML model declarations.
	Schema        string `mapstructure:"schema"`
	SnapshotCodec string `mapstructure:"snapshot_codec"`
}

var defaults = map[string]any{
	"storage.driver":      string(storage.DriverSQLite),
	"storage.sqlite_path": "./kvorm.db",
	"archive.driver":      string(core.DriverFilesystem),
	"archive.root":        "./kvorm-archive",
	"archive.s3.region":   "us-east-1",
	"log.format":          string(logging.FormatText),
	"log.level":           "info",
	"schema":              "schema.yaml",
	"snapshot_codec":      "json",
}

// envBindings maps config keys to their environment variables.
var envBindings = map[string]string{
	"storage.driver":        storage.EnvDriver,
	"storage.sqlite_path":   storage.EnvSQLitePath,
	"storage.postgres_dsn":  storage.EnvPostgresDSN,
	"archive.driver":        "KVORM_ARCHIVE_DRIVER",
	"archive.root":          "KVORM_ARCHIVE_ROOT",
	"archive.s3.bucket":     "KVORM_S3_BUCKET",
	"archive.s3.region":     "KVORM_S3_REGION",
	"archive.s3.endpoint":   "KVORM_S3_ENDPOINT",
	"archive.s3.path_style": "KVORM_S3_PATH_STYLE",
	"archive.s3.prefix":     "KVORM_S3_PREFIX",
	"log.format":            "KVORM_LOG_FORMAT",
	"log.level":             "KVORM_LOG_LEVEL",
	"schema":                "KVORM_SCHEMA",
	"snapshot_codec":        "KVORM_SNAPSHOT_CODEC",
}

// Load reads the configuration. With an empty path it looks for kvorm.yaml in
// the working directory and a missing file is not an error; an explicit path
// must exist. Environment variables override the file.
func Load(path string) (Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(fileName)
		v.SetConfigType(fileType)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown drivers, formats and codecs.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case storage.DriverMemory, storage.DriverSQLite, storage.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Storage.Driver == storage.DriverPostgres && c.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn: required for the postgres driver"))
	}
	switch c.Archive.Driver {
	case core.DriverFilesystem, core.DriverMemory:
	case core.DriverS3:
		if c.Archive.S3.Bucket == "" {
			errs = append(errs, errors.New("archive.s3.bucket: required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.driver: unknown driver %q", c.Archive.Driver))
	}
	switch c.Log.Format {
	case logging.FormatText, logging.FormatJSON, logging.FormatZap:
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if _, err := snapshot.CodecByName(c.SnapshotCodec); err != nil {
		errs = append(errs, fmt.Errorf("snapshot_codec: %w", err))
	}
	return errors.Join(errs...)
}
