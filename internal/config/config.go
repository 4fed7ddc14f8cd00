// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/datajud-gateway/config.toml",
	"configs/config.toml",
}

// envFiles are loaded in order before flags are parsed. Variables already present
// in the process environment are never overridden.
var envFiles = []string{".env", ".env.local"}

// localRoutes are served by the gateway process itself and must stay reachable.
var localRoutes = []string{"/healthz", "/proxy/status"}

// Default rule: the public DataJud API family.
const (
	DefaultRulePrefix   = "/api_publica_"
	DefaultRuleUpstream = "https://api-publica.datajud.cnj.jus.br"
	DefaultAIModel      = "gemini-2.0-flash"
)

// CLI holds global command-line arguments parsed by Kong.
type CLI struct {
	Config     string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host       string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port       int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	AIKey      string `kong:"name='ai-key',help='Generative AI API key (overrides config).',env='GEMINI_API_KEY'"`
	DatajudKey string `kong:"name='datajud-key',help='DataJud API key (overrides config).',env='DATAJUD_API_KEY'"`
	LogLevel   string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Upstream UpstreamConfig `toml:"upstream"`
	AI       AIConfig       `toml:"ai"`
	Datajud  DatajudConfig  `toml:"datajud"`
	Facade   FacadeConfig   `toml:"facade"`
	Store    StoreConfig    `toml:"store"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (5173)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting of the inbound server.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// GatewayConfig lists the forwarding rules, evaluated in order.
type GatewayConfig struct {
	Rules []RuleConfig `toml:"rules"`
}

// RuleConfig is the file form of a forwarding rule.
type RuleConfig struct {
	Prefix   string `toml:"prefix"`
	Upstream string `toml:"upstream"`
}

// UpstreamConfig holds outbound connection settings shared by all rules.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections"`
}

// AIConfig holds generative AI settings.
type AIConfig struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// DatajudConfig holds credentials sent by the facade to the judicial API.
type DatajudConfig struct {
	APIKey string `toml:"api_key"`
}

// FacadeConfig holds settings for the client side of the gateway.
type FacadeConfig struct {
	GatewayURL string `toml:"gateway_url"` // empty means the local listener
}

// StoreConfig holds the key/value store location.
type StoreConfig struct {
	Path string `toml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// LoadEnvFiles loads .env and .env.local from the working directory into the
// process environment. Missing files are skipped. It returns the files loaded.
func LoadEnvFiles() ([]string, error) {
	return loadEnvFiles(envFiles)
}

func loadEnvFiles(paths []string) ([]string, error) {
	var loaded []string
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, fmt.Errorf("config: load %s: %w", p, err)
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/datajud-gateway/config.toml then configs/config.toml. Running without a
// config file is allowed; defaults then apply.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.AIKey != "" {
		c.AI.APIKey = cli.AIKey
	}
	if cli.DatajudKey != "" {
		c.Datajud.APIKey = cli.DatajudKey
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if err := c.validateRules(); err != nil {
		return err
	}

	if c.Facade.GatewayURL != "" {
		u, err := url.Parse(c.Facade.GatewayURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("facade.gateway_url must be an absolute URL; got %q", c.Facade.GatewayURL)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range localRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
		for _, prefix := range c.rulePrefixes() {
			if strings.HasPrefix(p, prefix) {
				return fmt.Errorf("metrics.path %q conflicts with gateway prefix %q", p, prefix)
			}
		}
	}

	return nil
}

func (c *Config) validateRules() error {
	seen := make(map[string]bool, len(c.Gateway.Rules))
	for i, r := range c.Gateway.Rules {
		if r.Prefix == "" {
			return fmt.Errorf("gateway.rules[%d].prefix is required", i)
		}
		if r.Prefix[0] != '/' {
			return fmt.Errorf("gateway.rules[%d].prefix must start with '/'; got %q", i, r.Prefix)
		}
		if r.Prefix == "/" {
			return fmt.Errorf("gateway.rules[%d].prefix %q would capture every route", i, r.Prefix)
		}
		if seen[r.Prefix] {
			return fmt.Errorf("gateway.rules[%d].prefix %q is a duplicate", i, r.Prefix)
		}
		seen[r.Prefix] = true

		for _, reserved := range localRoutes {
			if strings.HasPrefix(reserved, r.Prefix) {
				return fmt.Errorf("gateway.rules[%d].prefix %q conflicts with reserved route %q", i, r.Prefix, reserved)
			}
		}

		if err := validateOrigin(r.Upstream); err != nil {
			return fmt.Errorf("gateway.rules[%d].upstream: %w", i, err)
		}
	}
	return nil
}

// validateOrigin checks that raw is an HTTPS origin with no path, query or fragment.
func validateOrigin(raw string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("must use HTTPS; got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("has no host; got %q", raw)
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("must be an origin without path, query or fragment; got %q", raw)
	}
	return nil
}

func (c *Config) rulePrefixes() []string {
	prefixes := make([]string, 0, len(c.Gateway.Rules))
	for _, r := range c.Gateway.Rules {
		prefixes = append(prefixes, r.Prefix)
	}
	return prefixes
}

// RulePrefixes returns the configured rule prefixes in evaluation order.
func (c *Config) RulePrefixes() []string {
	return c.rulePrefixes()
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish between
// an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5173
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if len(c.Gateway.Rules) == 0 {
		c.Gateway.Rules = []RuleConfig{{Prefix: DefaultRulePrefix, Upstream: DefaultRuleUpstream}}
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.AI.Model == "" {
		c.AI.Model = DefaultAIModel
	}
	if c.Facade.GatewayURL == "" {
		c.Facade.GatewayURL = "http://" + c.Server.LocalAddr()
	}
	if c.Store.Path == "" {
		c.Store.Path = "datajud-gateway.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LocalAddr returns an address a process on the same machine can dial.
// Wildcard listen hosts are mapped to loopback.
func (c *ServerConfig) LocalAddr() string {
	host := c.Host
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// The file may carry API keys.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
