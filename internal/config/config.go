// Package config loads application settings from, in rising precedence,
// defaults, a YAML config file, RECALLSHEET_* environment variables
// (a .env file is honored) and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// envPrefix namespaces the process environment. Nested keys use a double
// underscore: RECALLSHEET_SCHEDULER__SECOND_INTERVAL.
const envPrefix = "RECALLSHEET_"

// ErrMissing indicates required settings are absent. No operation can
// proceed without them; callers typically prompt for configuration.
var ErrMissing = errors.New("missing configuration")

// Config holds all application settings.
type Config struct {
	ClientID     string `koanf:"client_id" validate:"required"`
	ClientSecret string `koanf:"client_secret" validate:"required"`
	SheetID      string `koanf:"sheet_id" validate:"required"`

	// Worksheet selects a deck in multi-sheet spreadsheets. Empty targets
	// the spreadsheet's default sheet.
	Worksheet string `koanf:"worksheet"`

	// DataDir holds the credential file and the picture cache. Defaults
	// to the recallsheet directory under the user config dir.
	DataDir string `koanf:"data_dir"`

	// HTTPTimeout is the per-request timeout for all remote calls.
	HTTPTimeout time.Duration `koanf:"http_timeout"`

	Scheduler SchedulerConfig `koanf:"scheduler"`
}

// SchedulerConfig tunes the review algorithm.
type SchedulerConfig struct {
	// SecondInterval is the interval in days granted on the second
	// consecutive pass. Zero means the scheduler default.
	SecondInterval float64 `koanf:"second_interval"`
}

// CredentialsPath is the fixed per-installation credential file location.
func (c *Config) CredentialsPath() string {
	return filepath.Join(c.DataDir, "creds.json")
}

// CacheDir is the picture cache directory.
func (c *Config) CacheDir() string {
	return filepath.Join(c.DataDir, "img")
}

// Load assembles the configuration. An explicitly given file must exist;
// the default file location is optional. flags may be nil. When required
// settings are absent, the partially-assembled Config is returned along
// with an error wrapping ErrMissing, so callers that only need derived
// paths can still proceed.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	path := configFile
	optional := false
	if path == "" {
		path = defaultConfigPath()
		optional = true
	}
	if path != "" {
		_, statErr := os.Stat(path)
		if statErr == nil || !optional {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			name := strings.ReplaceAll(f.Name, "-", "_")
			// The CLI exposes http_timeout under the shorter name.
			if name == "timeout" {
				name = "http_timeout"
			}
			return name, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		if base, err := os.UserConfigDir(); err == nil {
			c.DataDir = filepath.Join(base, "recallsheet")
		} else {
			c.DataDir = ".recallsheet"
		}
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
}

func (c *Config) validate() error {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("koanf"), ",", 2)[0]
	})

	err := v.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
}

// defaultConfigPath is <user config dir>/recallsheet/config.yaml.
func defaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "recallsheet", "config.yaml")
}

// envKey maps RECALLSHEET_CLIENT_ID to client_id and
// RECALLSHEET_SCHEDULER__SECOND_INTERVAL to scheduler.second_interval.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}
