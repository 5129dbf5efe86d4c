// Package config loads runtime settings from an optional YAML file, applies
// BIBSTAT_* environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BIBSTAT_"

var validate = validator.New()

// Config is the root configuration document.
type Config struct {
	Storage Storage `yaml:"storage"`
	Blob    Blob    `yaml:"blob"`
	Publish Publish `yaml:"publish"`
	API     API     `yaml:"api"`
	Log     Log     `yaml:"log"`
}

// Storage selects the persistent store backend.
type Storage struct {
	Driver      string `yaml:"driver" validate:"oneof=memory sqlite postgres"`
	SQLitePath  string `yaml:"sqlite_path" validate:"required_if=Driver sqlite"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Blob selects the archive used for dataset exports.
type Blob struct {
	Driver string `yaml:"driver" validate:"oneof=fs s3 memory"`
	FSRoot string `yaml:"fs_root" validate:"required_if=Driver fs"`
	S3     S3     `yaml:"s3"`
}

// S3 configures the S3 archive driver.
type S3 struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint" validate:"omitempty,url"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Publish tunes the publication pipeline.
type Publish struct {
	RequiredMetadata []string `yaml:"required_metadata"`
	MaxBatch         int      `yaml:"max_batch" validate:"gte=1"`
	Concurrency      int      `yaml:"concurrency" validate:"gte=1,lte=64"`
}

// API configures the public read model.
type API struct {
	DefaultLimit       int    `yaml:"default_limit" validate:"gte=1"`
	LibraryBaseURL     string `yaml:"library_base_url" validate:"omitempty,url"`
	TermBaseURL        string `yaml:"term_base_url" validate:"omitempty,url"`
	ObservationBaseURL string `yaml:"observation_base_url" validate:"omitempty,url"`
}

// Log configures the zap logger.
type Log struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when nothing else is supplied.
func Default() Config {
	return Config{
		Storage: Storage{Driver: "sqlite", SQLitePath: "bibstat.db"},
		Blob:    Blob{Driver: "fs", FSRoot: "./archive"},
		Publish: Publish{MaxBatch: 500, Concurrency: 4},
		API: API{
			DefaultLimit:       100,
			LibraryBaseURL:     "https://bibstat.kb.se/library",
			TermBaseURL:        "https://bibstat.kb.se/def/terms",
			ObservationBaseURL: "https://bibstat.kb.se/data",
		},
		Log: Log{Level: "info"},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides from lookup and validates the result. A nil lookup uses os.LookupEnv.
func Load(path string, lookup func(string) (string, bool)) (Config, error) {
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
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints and cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Blob.Driver == "s3" && c.Blob.S3.Bucket == "" {
		return errors.New("invalid config: blob.s3.bucket required for s3 driver")
	}
	return nil
}

type envBinding struct {
	name  string
	apply func(string) error
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	integer := func(dst *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return err
			}
			*dst = n
			return nil
		}
	}
	boolean := func(dst *bool) func(string) error {
		return func(v string) error {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return err
			}
			*dst = b
			return nil
		}
	}
	list := func(dst *[]string) func(string) error {
		return func(v string) error {
			var out []string
			for _, part := range strings.Split(v, ",") {
				if p := strings.TrimSpace(part); p != "" {
					out = append(out, p)
				}
			}
			*dst = out
			return nil
		}
	}
	bindings := []envBinding{
		{"STORAGE_DRIVER", str(&cfg.Storage.Driver)},
		{"SQLITE_PATH", str(&cfg.Storage.SQLitePath)},
		{"POSTGRES_DSN", str(&cfg.Storage.PostgresDSN)},
		{"BLOB_DRIVER", str(&cfg.Blob.Driver)},
		{"BLOB_FS_ROOT", str(&cfg.Blob.FSRoot)},
		{"BLOB_S3_BUCKET", str(&cfg.Blob.S3.Bucket)},
		{"BLOB_S3_REGION", str(&cfg.Blob.S3.Region)},
		{"BLOB_S3_PREFIX", str(&cfg.Blob.S3.Prefix)},
		{"BLOB_S3_ENDPOINT", str(&cfg.Blob.S3.Endpoint)},
		{"BLOB_S3_PATH_STYLE", boolean(&cfg.Blob.S3.PathStyle)},
		{"PUBLISH_REQUIRED_METADATA", list(&cfg.Publish.RequiredMetadata)},
		{"PUBLISH_MAX_BATCH", integer(&cfg.Publish.MaxBatch)},
		{"PUBLISH_CONCURRENCY", integer(&cfg.Publish.Concurrency)},
		{"API_DEFAULT_LIMIT", integer(&cfg.API.DefaultLimit)},
		{"API_LIBRARY_BASE_URL", str(&cfg.API.LibraryBaseURL)},
		{"API_TERM_BASE_URL", str(&cfg.API.TermBaseURL)},
		{"API_OBSERVATION_BASE_URL", str(&cfg.API.ObservationBaseURL)},
		{"LOG_LEVEL", str(&cfg.Log.Level)},
		{"LOG_DEVELOPMENT", boolean(&cfg.Log.Development)},
	}
	for _, b := range bindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.apply(v); err != nil {
			return fmt.Errorf("env %s%s: %w", EnvPrefix, b.name, err)
		}
	}
	// Standard AWS variables feed static credentials when present.
	if v, ok := lookup("AWS_ACCESS_KEY_ID"); ok && cfg.Blob.S3.AccessKeyID == "" {
		cfg.Blob.S3.AccessKeyID = v
	}
	if v, ok := lookup("AWS_SECRET_ACCESS_KEY"); ok && cfg.Blob.S3.SecretAccessKey == "" {
		cfg.Blob.S3.SecretAccessKey = v
	}
	return nil
}
