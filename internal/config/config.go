// Package config loads taskledger settings from an optional YAML file, an
// optional .env file and TASKLEDGER_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"taskledger/internal/blob"
	"taskledger/internal/ledger"
	"taskledger/internal/logging"
	"taskledger/pkg/domain"
)

// Namespace prefixes every environment key.
const Namespace = "TASKLEDGER"

// Metrics exporters.
const (
	MetricsNone       = "none"
	MetricsExpvar     = "expvar"
	MetricsPrometheus = "prometheus"
)

// Trace exporters.
const (
	TracingNone = "none"
	TracingJSON = "json"
	TracingOTel = "otel"
)

// ProgramConfig names the program that owns every derived address.
type ProgramConfig struct {
	ID         string `yaml:"id"`
	ProfileTag string `yaml:"profile_tag"`
	TaskTag    string `yaml:"task_tag"`
}

// Config is the full process configuration.
type Config struct {
	Program ProgramConfig   `yaml:"program"`
	Ledger  ledger.Config   `yaml:"ledger"`
	Export  blob.Config     `yaml:"export"`
	Log     logging.Options `yaml:"log"`
	Keypair string          `yaml:"keypair"`
	Metrics string          `yaml:"metrics"`
	Tracing string          `yaml:"tracing"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Program: ProgramConfig{
			ID:         domain.DefaultProgramID,
			ProfileTag: domain.DefaultProfileTag,
			TaskTag:    domain.DefaultTaskTag,
		},
		Ledger:  ledger.Config{Driver: ledger.DriverSQLite, SQLitePath: "taskledger.db"},
		Export:  blob.Config{Driver: blob.DriverFilesystem, FSRoot: "exports"},
		Log:     logging.DefaultOptions(),
		Keypair: "taskledger-keypair.json",
		Metrics: MetricsNone,
		Tracing: TracingNone,
	}
}

// Load builds a Config. path names a YAML file and may be empty. dotenv names
// a .env file; an empty value tries ".env" and ignores its absence.
func Load(path, dotenv string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := loadDotenv(dotenv); err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func loadDotenv(path string) error {
	required := path != ""
	if !required {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// EnvKey returns the namespaced environment key for key.
func EnvKey(key string) string {
	return Namespace + "_" + key
}

// GetEnvOrDefault returns the namespaced variable or fallback when unset.
func GetEnvOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(EnvKey(key)); ok {
		return v
	}
	return fallback
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"PROGRAM_ID":           &c.Program.ID,
		"PROFILE_TAG":          &c.Program.ProfileTag,
		"TASK_TAG":             &c.Program.TaskTag,
		"SQLITE_PATH":          &c.Ledger.SQLitePath,
		"POSTGRES_DSN":         &c.Ledger.PostgresDSN,
		"BLOB_FS_ROOT":         &c.Ledger.Blob.FSRoot,
		"S3_REGION":            &c.Ledger.Blob.S3.Region,
		"S3_BUCKET":            &c.Ledger.Blob.S3.Bucket,
		"S3_ENDPOINT":          &c.Ledger.Blob.S3.Endpoint,
		"S3_ACCESS_KEY_ID":     &c.Ledger.Blob.S3.AccessKeyID,
		"S3_SECRET_ACCESS_KEY": &c.Ledger.Blob.S3.SecretAccessKey,
		"S3_SESSION_TOKEN":     &c.Ledger.Blob.S3.SessionToken,
		"EXPORT_FS_ROOT":       &c.Export.FSRoot,
		"LOG_LEVEL":            &c.Log.Level,
		"LOG_FORMAT":           &c.Log.Format,
		"LOG_TIME_FORMAT":      &c.Log.TimeFormat,
		"LOG_FILE":             &c.Log.File,
		"KEYPAIR":              &c.Keypair,
		"METRICS":              &c.Metrics,
		"TRACING":              &c.Tracing,
	}
	for key, dst := range strs {
		*dst = GetEnvOrDefault(key, *dst)
	}
	c.Ledger.Driver = ledger.Driver(GetEnvOrDefault("LEDGER_DRIVER", string(c.Ledger.Driver)))
	c.Ledger.Blob.Driver = blob.Driver(GetEnvOrDefault("BLOB_DRIVER", string(c.Ledger.Blob.Driver)))
	c.Export.Driver = blob.Driver(GetEnvOrDefault("EXPORT_BLOB_DRIVER", string(c.Export.Driver)))

	bools := map[string]*bool{
		"S3_PATH_STYLE": &c.Ledger.Blob.S3.PathStyle,
		"LOG_JOURNAL":   &c.Log.Journal,
	}
	for key, dst := range bools {
		raw, ok := os.LookupEnv(EnvKey(key))
		if !ok {
			continue
		}
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvKey(key), err)
		}
		*dst = v
	}
	return nil
}

// Validate rejects unknown exporter names and malformed program settings.
func (c Config) Validate() error {
	var errs []error
	switch c.Metrics {
	case "", MetricsNone, MetricsExpvar, MetricsPrometheus:
	default:
		errs = append(errs, fmt.Errorf("unknown metrics exporter %q", c.Metrics))
	}
	switch c.Tracing {
	case "", TracingNone, TracingJSON, TracingOTel:
	default:
		errs = append(errs, fmt.Errorf("unknown tracing exporter %q", c.Tracing))
	}
	if _, err := c.DomainProgram(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// DomainProgram parses the program section.
func (c Config) DomainProgram() (domain.Program, error) {
	id, err := domain.ParseAddress(c.Program.ID)
	if err != nil {
		return domain.Program{}, fmt.Errorf("program id: %w", err)
	}
	p := domain.NewProgram(id, c.Program.ProfileTag, c.Program.TaskTag)
	if err := p.Validate(); err != nil {
		return domain.Program{}, err
	}
	return p, nil
}
