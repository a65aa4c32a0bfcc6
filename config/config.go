package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/routesync/auth"
	"github.com/kilianp07/routesync/core/factory"
	"github.com/kilianp07/routesync/core/metrics"
	"github.com/kilianp07/routesync/infra/mqtt"
)

// EnvPrefix prefixes environment overrides, e.g. K_HTTP__ADDRESS.
const EnvPrefix = "K_"

type Config struct {
	HTTP     HTTPConfig           `json:"http"`
	Realtime RealtimeConfig       `json:"realtime"`
	Store    factory.ModuleConfig `json:"store"`
	Auth     auth.Conf            `json:"auth"`
	Safety   SafetyConfig         `json:"safety"`
	Reactors ReactorsConfig       `json:"reactors"`
	MQTT     mqtt.Config          `json:"mqtt"`
	Metrics  metrics.Config       `json:"metrics"`
	Logging  LoggingConfig        `json:"logging"`
	Sentry   SentryConfig         `json:"sentry"`
	Client   ClientConfig         `json:"client"`
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.HTTP.SetDefaults()
	c.Realtime.SetDefaults()
	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
	c.Safety.SetDefaults()
	c.Reactors.SetDefaults()
	c.MQTT.SetDefaults()
	c.Metrics.SetDefaults()
	c.Logging.SetDefaults()
	c.Sentry.SetDefaults()
	c.Client.SetDefaults()
}

// Validate checks the sections shared by every command. Token settings are
// checked by the command that needs them.
func (c Config) Validate() error {
	validators := []struct {
		name string
		fn   func() error
	}{
		{"http", c.HTTP.Validate},
		{"realtime", c.Realtime.Validate},
		{"safety", c.Safety.Validate},
		{"reactors", c.Reactors.Validate},
		{"mqtt", c.MQTT.Validate},
		{"metrics", c.Metrics.Validate},
		{"logging", c.Logging.Validate},
		{"sentry", c.Sentry.Validate},
	}
	for _, v := range validators {
		if err := v.fn(); err != nil {
			return fmt.Errorf("config %s: %w", v.name, err)
		}
	}
	return nil
}

// LoadDotEnv loads variables from path into the environment. A missing file
// is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads the YAML or JSON file at path, applies K_ environment
// overrides, then defaults and validation. An empty path loads defaults and
// the environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	// Optional environment overrides
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
