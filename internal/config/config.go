package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds everything the kiosk daemon needs at startup. Values come
// from an optional YAML file, then environment variables on top.
type Config struct {
	App struct {
		// dev | prod
		Env     string `yaml:"env"`
		DataDir string `yaml:"data_dir"`
	} `yaml:"app"`

	Server struct {
		// Loopback only; the kiosk UI is the sole client.
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Backend struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"backend"`

	Tenant struct {
		OrgID       string `yaml:"org_id"`
		MultiDevice bool   `yaml:"multi_device"`
	} `yaml:"tenant"`

	OAuth struct {
		PollInterval   string `yaml:"poll_interval"`
		PollTimeout    string `yaml:"poll_timeout"`
		RefreshWindow  string `yaml:"refresh_window"`
		StatusCacheTTL string `yaml:"status_cache_ttl"`
	} `yaml:"oauth"`

	SDK struct {
		AgentAddr string `yaml:"agent_addr"`
	} `yaml:"sdk"`

	Ledger struct {
		RetainFor string `yaml:"retain_for"`
	} `yaml:"ledger"`

	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// Load reads path (skipped when empty), applies defaults and env
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "[config.Load] read file")
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, errors.Wrap(err, "[config.Load] parse yaml")
		}
	}

	// sane defaults
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.DataDir == "" {
		c.App.DataDir = "./data"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8321"
	}
	if c.Backend.Timeout == "" {
		c.Backend.Timeout = "15s"
	}
	if c.OAuth.PollInterval == "" {
		c.OAuth.PollInterval = "3s"
	}
	if c.OAuth.PollTimeout == "" {
		c.OAuth.PollTimeout = "5m"
	}
	if c.OAuth.RefreshWindow == "" {
		c.OAuth.RefreshWindow = "168h" // 7d
	}
	if c.OAuth.StatusCacheTTL == "" {
		c.OAuth.StatusCacheTTL = "30s"
	}
	if c.SDK.AgentAddr == "" {
		c.SDK.AgentAddr = "127.0.0.1:8322"
	}
	if c.Ledger.RetainFor == "" {
		c.Ledger.RetainFor = "720h" // 30d
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("DATA_DIR"); ok {
		c.App.DataDir = v
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}

	// BACKEND
	if v, ok := getEnvStr("BACKEND_BASE_URL"); ok {
		c.Backend.BaseURL = v
	}
	if v, ok := getEnvStr("BACKEND_TIMEOUT"); ok {
		c.Backend.Timeout = v
	}

	// TENANT
	if v, ok := getEnvStr("ORG_ID"); ok {
		c.Tenant.OrgID = v
	}
	if v, ok := getEnvBool("MULTI_DEVICE"); ok {
		c.Tenant.MultiDevice = v
	}

	// OAUTH
	if v, ok := getEnvStr("OAUTH_POLL_INTERVAL"); ok {
		c.OAuth.PollInterval = v
	}
	if v, ok := getEnvStr("OAUTH_POLL_TIMEOUT"); ok {
		c.OAuth.PollTimeout = v
	}
	if v, ok := getEnvStr("OAUTH_REFRESH_WINDOW"); ok {
		c.OAuth.RefreshWindow = v
	}
	if v, ok := getEnvStr("OAUTH_STATUS_CACHE_TTL"); ok {
		c.OAuth.StatusCacheTTL = v
	}

	// SDK
	if v, ok := getEnvStr("SDK_AGENT_ADDR"); ok {
		c.SDK.AgentAddr = v
	}

	// LEDGER
	if v, ok := getEnvStr("LEDGER_RETAIN_FOR"); ok {
		c.Ledger.RetainFor = v
	}

	// LOG
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := getEnvBool("LOG_PRETTY"); ok {
		c.Log.Pretty = v
	}
}

// Validate rejects configs the daemon cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Tenant.OrgID) == "" {
		return errors.New("[config.Validate] tenant org_id is required (ORG_ID)")
	}
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return errors.New("[config.Validate] backend base_url is required (BACKEND_BASE_URL)")
	}
	for name, s := range map[string]string{
		"backend.timeout":        c.Backend.Timeout,
		"oauth.poll_interval":    c.OAuth.PollInterval,
		"oauth.poll_timeout":     c.OAuth.PollTimeout,
		"oauth.refresh_window":   c.OAuth.RefreshWindow,
		"oauth.status_cache_ttl": c.OAuth.StatusCacheTTL,
		"ledger.retain_for":      c.Ledger.RetainFor,
	} {
		if _, err := time.ParseDuration(s); err != nil {
			return errors.Wrapf(err, "[config.Validate] %s", name)
		}
	}
	return nil
}

// Duration accessors. Validate has already checked the strings parse, so
// failures here fall back to the zero value rather than panicking.

func (c *Config) BackendTimeout() time.Duration  { return mustDuration(c.Backend.Timeout) }
func (c *Config) PollInterval() time.Duration    { return mustDuration(c.OAuth.PollInterval) }
func (c *Config) PollTimeout() time.Duration     { return mustDuration(c.OAuth.PollTimeout) }
func (c *Config) RefreshWindow() time.Duration   { return mustDuration(c.OAuth.RefreshWindow) }
func (c *Config) StatusCacheTTL() time.Duration  { return mustDuration(c.OAuth.StatusCacheTTL) }
func (c *Config) LedgerRetention() time.Duration { return mustDuration(c.Ledger.RetainFor) }

func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

// GetEnv returns the environment variable value or a default.
func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
