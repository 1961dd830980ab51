// Package config loads the project-level CLI configuration from
// clouddq.yaml, environment variables, and command-line flags.
// Precedence (highest to lowest): flags > env vars > config file >
// defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Defaults.
const (
	DefaultConfigsDir = "configs"
	DefaultStatePath  = ".clouddq/results.db"
	DefaultOutput     = "text"

	// ConfigFileName is the project config file looked up in the
	// working directory.
	ConfigFileName    = "clouddq.yaml"
	ConfigFileNameAlt = "clouddq.yml"

	// EnvPrefix is the prefix for environment variable overrides,
	// e.g. CLOUDDQ_CONFIGS_DIR.
	EnvPrefix = "CLOUDDQ_"
)

// Config is the resolved project configuration.
type Config struct {
	// ConfigsDir is the directory tree holding the declarative YAML
	// definitions.
	ConfigsDir string `koanf:"configs_dir"`

	// Environment selects entity environment overrides; empty uses the
	// base definitions.
	Environment string `koanf:"environment"`

	// StatePath is the SQLite validation-results database used for
	// incremental watermarks and hashsum audit.
	StatePath string `koanf:"state_path"`

	Verbose bool   `koanf:"verbose"`
	Output  string `koanf:"output"`
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	switch c.Output {
	case "text", "json":
	default:
		return fmt.Errorf("invalid output format %q (expected text or json)", c.Output)
	}
	if c.ConfigsDir == "" {
		return fmt.Errorf("configs_dir must not be empty")
	}
	return nil
}

var configFileUsed string

// findConfigFile returns the config file to use, preferring an explicit
// path.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load resolves the configuration from defaults, the config file,
// CLOUDDQ_* environment variables, and explicitly-set CLI flags.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]interface{}{
		"configs_dir": DefaultConfigsDir,
		"environment": "",
		"state_path":  DefaultStatePath,
		"verbose":     false,
		"output":      DefaultOutput,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configFileUsed = findConfigFile(cfgFile)
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if key == "state" {
				return "state_path", posflag.FlagVal(flags, f)
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Resolve paths relative to the config file's directory when one
	// was used.
	if configFileUsed != "" {
		base := filepath.Dir(configFileUsed)
		cfg.ConfigsDir = resolveRelative(cfg.ConfigsDir, base)
		cfg.StatePath = resolveRelative(cfg.StatePath, base)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetConfigFileUsed returns the config file path in effect, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

func resolveRelative(path, base string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
