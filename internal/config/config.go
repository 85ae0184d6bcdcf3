// Package config loads the relay configuration from an optional YAML file
// and applies environment variable overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither the config file nor the environment sets a
// value.
const (
	DefaultPort            = 8011
	DefaultUpstreamBaseURL = "https://chatgpt.com/backend-api/codex"
	DefaultModel           = "gpt-5-codex"
	DefaultRefreshAgeDays  = 28
)

// Config holds the runtime configuration for the relay server.
type Config struct {
	// Port is the HTTP listening port for the relay server.
	Port int `yaml:"port"`

	// AuthFile overrides the credential file location.
	AuthFile string `yaml:"auth-file"`

	// UpstreamBaseURL is the base URL of the backend chat service.
	UpstreamBaseURL string `yaml:"upstream-base-url"`

	// Model is the upstream model identifier, also reported by /v1/models.
	Model string `yaml:"model"`

	// FallbackModels are alternate model names retried in order when the
	// upstream rejects the configured model as unsupported.
	FallbackModels []string `yaml:"fallback-models"`

	// StreamUpstream selects the streaming SSE upstream call instead of the
	// blocking JSON call.
	StreamUpstream bool `yaml:"stream-upstream"`

	// ForceJSON runs every upstream reply through the JSON recovery
	// strategies even when it does not look like JSON.
	ForceJSON bool `yaml:"force-json"`

	// StrictJSON disables the recovery strategies: only replies that parse
	// as JSON directly are treated as structured.
	StrictJSON bool `yaml:"strict-json"`

	// MockUpstream serves scripted demo replies instead of calling the
	// backend. Useful for local development without credentials.
	MockUpstream bool `yaml:"mock-upstream"`

	// RefreshAgeDays is the credential age after which a proactive token
	// refresh is attempted.
	RefreshAgeDays int `yaml:"refresh-age-days"`

	// LogDir enables rotating file logs when set.
	LogDir string `yaml:"log-dir"`

	// Debug raises the log level to debug.
	Debug bool `yaml:"debug"`
}

// Load reads the YAML file at path when it exists and applies env overrides.
// A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Port:            DefaultPort,
		UpstreamBaseURL: DefaultUpstreamBaseURL,
		Model:           DefaultModel,
		RefreshAgeDays:  DefaultRefreshAgeDays,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if strings.TrimSpace(cfg.UpstreamBaseURL) == "" {
		cfg.UpstreamBaseURL = DefaultUpstreamBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if cfg.RefreshAgeDays <= 0 {
		cfg.RefreshAgeDays = DefaultRefreshAgeDays
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CHATBRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("CHATBRIDGE_AUTH_FILE"); v != "" {
		c.AuthFile = v
	}
	if v := os.Getenv("CHATBRIDGE_UPSTREAM_BASE_URL"); v != "" {
		c.UpstreamBaseURL = v
	}
	if v := os.Getenv("CHATBRIDGE_MODEL"); v != "" {
		c.Model = v
	}
	if v, ok := envBool("CHATBRIDGE_STREAM_UPSTREAM"); ok {
		c.StreamUpstream = v
	}
	if v, ok := envBool("CHATBRIDGE_FORCE_JSON"); ok {
		c.ForceJSON = v
	}
	if v, ok := envBool("CHATBRIDGE_STRICT_JSON"); ok {
		c.StrictJSON = v
	}
	if v, ok := envBool("CHATBRIDGE_MOCK_UPSTREAM"); ok {
		c.MockUpstream = v
	}
	if v, ok := envBool("CHATBRIDGE_DEBUG"); ok {
		c.Debug = v
	}
}

func envBool(name string) (bool, bool) {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch v {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}
