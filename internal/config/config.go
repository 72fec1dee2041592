package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// EnvAPIURL overrides api.url when set.
const EnvAPIURL = "COVER_API_URL"

// Config represents the top-level CLI configuration.
type Config struct {
	API      APIConfig      `toml:"api"`
	Analysis AnalysisConfig `toml:"analysis"`
	Output   OutputConfig   `toml:"output"`
	History  HistoryConfig  `toml:"history"`
	Log      LogConfig      `toml:"log"`
}

// APIConfig holds settings for reaching the analysis service.
type APIConfig struct {
	URL                    string        `toml:"url" validate:"required,url"`
	Timeout                time.Duration `toml:"timeout" validate:"gte=0"`
	AllowUnauthorizedHTTPS bool          `toml:"allow_unauthorized_https"`
	RequestsPerSecond      float64       `toml:"requests_per_second" validate:"gte=0"`
	// VersionConstraint is a semver constraint the service's API version
	// must satisfy before an analysis is started. Empty skips the check.
	VersionConstraint string `toml:"version_constraint"`
}

// AnalysisConfig holds settings for running an analysis.
type AnalysisConfig struct {
	PollingInterval time.Duration `toml:"polling_interval" validate:"gt=0"`
	// SettingsFile is a JSON or YAML file with the analysis settings. Empty
	// uses the service defaults.
	SettingsFile string `toml:"settings_file"`
}

// OutputConfig holds settings for writing generated tests.
type OutputConfig struct {
	TestsDir           string   `toml:"tests_dir"`
	WritingConcurrency int      `toml:"writing_concurrency" validate:"min=1"`
	IncludeTags        []string `toml:"include_tags"`
	ExcludeTags        []string `toml:"exclude_tags"`
	Filter             string   `toml:"filter"`
}

// HistoryConfig holds settings for the local analysis history.
type HistoryConfig struct {
	Path     string `toml:"path"`
	Disabled bool   `toml:"disabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

// DefaultConfig returns a Config populated with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			URL:     "http://localhost:8080",
			Timeout: 5 * time.Minute,
		},
		Analysis: AnalysisConfig{
			PollingInterval: 10 * time.Second,
		},
		Output: OutputConfig{
			WritingConcurrency: 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath is the config file used when none is given:
// <user config dir>/cover/config.toml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".cover", "config.toml")
	}
	return filepath.Join(dir, "cover", "config.toml")
}

// DefaultHistoryPath is the history database used when history.path is
// empty.
func DefaultHistoryPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".cover", "history.db")
	}
	return filepath.Join(dir, "cover", "history.db")
}

// Load reads the config file at path over the defaults. A missing file
// yields the defaults. Environment overrides are applied before the
// result is validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.API.URL = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as TOML, creating the parent directory.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return fmt.Errorf("encoding config: %w", err)
	}
	return f.Close()
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
