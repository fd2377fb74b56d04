// ABOUTME: Configuration loading and parsing for whatsapp-bridge
// ABOUTME: YAML with environment variable expansion, env overrides, and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file or individual fields are absent.
const (
	DefaultHTTPAddr     = ":8080"
	DefaultBackendURL   = "http://localhost:8081"
	DefaultEngineURL    = "http://localhost:8082"
	DefaultInitDelay    = 5 * time.Second
	DefaultRestartDelay = 2 * time.Second
)

// Config represents the complete whatsapp-bridge configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Backend   BackendConfig   `yaml:"backend"`
	Engine    EngineConfig    `yaml:"engine"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the control API listen address.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig exposes the control API over a tailnet instead of a
// plain TCP listener.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// BackendConfig points at the association backend.
type BackendConfig struct {
	URL string `yaml:"url"`
}

// EngineConfig points at the chat engine.
type EngineConfig struct {
	URL string `yaml:"url"`
}

// WhatsAppConfig holds transport-related settings.
type WhatsAppConfig struct {
	// StorePath is the SQLite file for whatsmeow's device/session store.
	// Empty means the default XDG data location, resolved by the caller.
	StorePath string `yaml:"store_path"`

	InitDelay    time.Duration `yaml:"-"`
	RestartDelay time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	InitDelayRaw    string `yaml:"init_delay"`
	RestartDelayRaw string `yaml:"restart_delay"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded. A
// missing file is not an error: the original service ran on environment
// defaults alone, and so does this one.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Fall through to defaults and env overrides.
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides honors the flat environment variables the original
// service was configured with.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.HTTPAddr = ":" + port
	}
	if u := os.Getenv("BACKEND_URL"); u != "" {
		c.Backend.URL = u
	}
	if u := os.Getenv("CHAT_ENGINE_URL"); u != "" {
		c.Engine.URL = u
	}
}

// applyDefaults fills in any fields still unset.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Backend.URL == "" {
		c.Backend.URL = DefaultBackendURL
	}
	if c.Engine.URL == "" {
		c.Engine.URL = DefaultEngineURL
	}
	if c.WhatsApp.InitDelay == 0 {
		c.WhatsApp.InitDelay = DefaultInitDelay
	}
	if c.WhatsApp.RestartDelay == 0 {
		c.WhatsApp.RestartDelay = DefaultRestartDelay
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first failure encountered.
func (c *Config) Validate() error {
	if err := validateHTTPURL("backend.url", c.Backend.URL); err != nil {
		return err
	}
	if err := validateHTTPURL("engine.url", c.Engine.URL); err != nil {
		return err
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	return nil
}

// validateHTTPURL checks that a value is an http(s) URL.
func validateHTTPURL(field, value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", field)
	}
	if u.Host == "" {
		return fmt.Errorf("%s is missing a host", field)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.WhatsApp.InitDelayRaw != "" {
		cfg.WhatsApp.InitDelay, err = time.ParseDuration(cfg.WhatsApp.InitDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing init_delay %q: %w", cfg.WhatsApp.InitDelayRaw, err)
		}
	}

	if cfg.WhatsApp.RestartDelayRaw != "" {
		cfg.WhatsApp.RestartDelay, err = time.ParseDuration(cfg.WhatsApp.RestartDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing restart_delay %q: %w", cfg.WhatsApp.RestartDelayRaw, err)
		}
	}

	return nil
}
