package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[[gateway.rules]]
prefix = "/api_publica_"
upstream = "https://api-publica.datajud.cnj.jus.br"

[[gateway.rules]]
prefix = "/other_api/"
upstream = "https://other.example:8443"

[upstream]
timeout_seconds = 60
idle_connections = 50

[ai]
api_key = "test-key-12345"
model = "gemini-test"

[datajud]
api_key = "datajud-key"

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if len(cfg.Gateway.Rules) != 2 {
		t.Fatalf("len(Gateway.Rules) = %d, want 2", len(cfg.Gateway.Rules))
	}
	if cfg.Gateway.Rules[1].Upstream != "https://other.example:8443" {
		t.Errorf("Rules[1].Upstream = %q, want %q", cfg.Gateway.Rules[1].Upstream, "https://other.example:8443")
	}
	if cfg.AI.APIKey != "test-key-12345" {
		t.Errorf("AI.APIKey = %q, want %q", cfg.AI.APIKey, "test-key-12345")
	}
	if cfg.AI.Model != "gemini-test" {
		t.Errorf("AI.Model = %q, want %q", cfg.AI.Model, "gemini-test")
	}
	if cfg.Datajud.APIKey != "datajud-key" {
		t.Errorf("Datajud.APIKey = %q, want %q", cfg.Datajud.APIKey, "datajud-key")
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 60)
	}
	if cfg.Facade.GatewayURL != "http://127.0.0.1:9000" {
		t.Errorf("Facade.GatewayURL = %q, want %q", cfg.Facade.GatewayURL, "http://127.0.0.1:9000")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_EmptyAIKeyAllowed(t *testing.T) {
	path := writeConfig(t, `
[ai]
api_key = ""
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v; empty ai.api_key must not fail loading", err)
	}
	if cfg.AI.APIKey != "" {
		t.Errorf("AI.APIKey = %q, want empty", cfg.AI.APIKey)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
[log]
level = "verbose"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for invalid log level, got nil")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "# empty\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 5173 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 5173)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if len(cfg.Gateway.Rules) != 1 {
		t.Fatalf("default len(Gateway.Rules) = %d, want 1", len(cfg.Gateway.Rules))
	}
	if r := cfg.Gateway.Rules[0]; r.Prefix != DefaultRulePrefix || r.Upstream != DefaultRuleUpstream {
		t.Errorf("default rule = %+v, want {%s %s}", r, DefaultRulePrefix, DefaultRuleUpstream)
	}
	if cfg.Upstream.TimeoutSeconds != 120 {
		t.Errorf("default Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 120)
	}
	if cfg.AI.Model != DefaultAIModel {
		t.Errorf("default AI.Model = %q, want %q", cfg.AI.Model, DefaultAIModel)
	}
	if cfg.Facade.GatewayURL != "http://127.0.0.1:5173" {
		t.Errorf("default Facade.GatewayURL = %q, want %q", cfg.Facade.GatewayURL, "http://127.0.0.1:5173")
	}
	if cfg.Store.Path != "datajud-gateway.db" {
		t.Errorf("default Store.Path = %q, want %q", cfg.Store.Path, "datajud-gateway.db")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
}

func TestLoad_NoConfigFileUsesDefaults(t *testing.T) {
	cfg, err := Load(&CLI{Port: 7000})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 7000)
	}
	if len(cfg.Gateway.Rules) != 1 {
		t.Errorf("len(Gateway.Rules) = %d, want 1", len(cfg.Gateway.Rules))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[ai]
api_key = "toml-key"

[datajud]
api_key = "toml-datajud"

[log]
level = "info"
`)

	cli := &CLI{
		Config:     path,
		Host:       "127.0.0.1",
		Port:       3000,
		AIKey:      "cli-key",
		DatajudKey: "cli-datajud",
		LogLevel:   "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.AI.APIKey != "cli-key" {
		t.Errorf("AI.APIKey = %q, want %q (CLI override)", cfg.AI.APIKey, "cli-key")
	}
	if cfg.Datajud.APIKey != "cli-datajud" {
		t.Errorf("Datajud.APIKey = %q, want %q (CLI override)", cfg.Datajud.APIKey, "cli-datajud")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_RuleValidation(t *testing.T) {
	tests := []struct {
		name    string
		rules   string
		wantErr string
	}{
		{
			name:    "empty prefix",
			rules:   "[[gateway.rules]]\nprefix = \"\"\nupstream = \"https://a.example\"\n",
			wantErr: "prefix is required",
		},
		{
			name:    "prefix without slash",
			rules:   "[[gateway.rules]]\nprefix = \"api_publica_\"\nupstream = \"https://a.example\"\n",
			wantErr: "must start with '/'",
		},
		{
			name:    "root prefix",
			rules:   "[[gateway.rules]]\nprefix = \"/\"\nupstream = \"https://a.example\"\n",
			wantErr: "every route",
		},
		{
			name:    "http upstream",
			rules:   "[[gateway.rules]]\nprefix = \"/api/\"\nupstream = \"http://a.example\"\n",
			wantErr: "HTTPS",
		},
		{
			name:    "upstream with path",
			rules:   "[[gateway.rules]]\nprefix = \"/api/\"\nupstream = \"https://a.example/base\"\n",
			wantErr: "origin",
		},
		{
			name:    "upstream with query",
			rules:   "[[gateway.rules]]\nprefix = \"/api/\"\nupstream = \"https://a.example?x=1\"\n",
			wantErr: "origin",
		},
		{
			name:    "missing upstream",
			rules:   "[[gateway.rules]]\nprefix = \"/api/\"\n",
			wantErr: "is required",
		},
		{
			name: "duplicate prefix",
			rules: "[[gateway.rules]]\nprefix = \"/api/\"\nupstream = \"https://a.example\"\n" +
				"[[gateway.rules]]\nprefix = \"/api/\"\nupstream = \"https://b.example\"\n",
			wantErr: "duplicate",
		},
		{
			name:    "prefix shadows healthz",
			rules:   "[[gateway.rules]]\nprefix = \"/health\"\nupstream = \"https://a.example\"\n",
			wantErr: "reserved route",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.rules)
			_, err := Load(cliWithPath(path))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_OverlappingPrefixesAllowed(t *testing.T) {
	path := writeConfig(t, `
[[gateway.rules]]
prefix = "/api_publica_"
upstream = "https://a.example"

[[gateway.rules]]
prefix = "/api_publica_tjsp"
upstream = "https://b.example"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := cfg.RulePrefixes()
	if len(got) != 2 || got[0] != "/api_publica_" || got[1] != "/api_publica_tjsp" {
		t.Errorf("RulePrefixes() = %v, want configured order", got)
	}
}

func TestLoad_InvalidGatewayURL(t *testing.T) {
	path := writeConfig(t, `
[facade]
gateway_url = "localhost:5173"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for relative gateway_url, got nil")
	}
}

func TestLoad_NegativePort(t *testing.T) {
	path := writeConfig(t, `
[server]
port = -1
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for negative port, got nil")
	}
}

func TestLoad_NegativeBodyMaxBytes(t *testing.T) {
	path := writeConfig(t, `
[server]
body_max_bytes = -1
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for negative body_max_bytes, got nil")
	}
}

func TestLoad_NegativeTimeout(t *testing.T) {
	path := writeConfig(t, `
[upstream]
timeout_seconds = -5
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for negative timeout, got nil")
	}
}

func TestLoad_RateLimitConfig(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestLoad_RateLimitEnabledZeroRPS(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 0
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for zero rps with rate limiting enabled, got nil")
	}
}

func TestLoad_MetricsPathDefault(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = true
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MetricsPathConflicts(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"healthz", "/healthz"},
		{"proxy/status", "/proxy/status"},
		{"gateway prefix", "/api_publica_metrics"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, `
[[gateway.rules]]
prefix = "/api_publica_"
upstream = "https://api-publica.datajud.cnj.jus.br"

[metrics]
enabled = true
path = "`+tt.path+`"
`)

			_, err := Load(cliWithPath(cfgPath))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = true
path = "metrics"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = false
path = "bad-no-slash"
`)

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, ".env")
	second := filepath.Join(dir, ".env.local")
	missing := filepath.Join(dir, ".env.missing")

	if err := os.WriteFile(first, []byte("DJG_TEST_FROM_FILE=one\nDJG_TEST_EXISTING=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, []byte("DJG_TEST_LOCAL=two\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DJG_TEST_EXISTING", "from-env")
	t.Cleanup(func() {
		_ = os.Unsetenv("DJG_TEST_FROM_FILE")
		_ = os.Unsetenv("DJG_TEST_LOCAL")
	})

	loaded, err := loadEnvFiles([]string{first, missing, second})
	if err != nil {
		t.Fatalf("loadEnvFiles() error = %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("loaded = %v, want 2 files", loaded)
	}
	if v := os.Getenv("DJG_TEST_FROM_FILE"); v != "one" {
		t.Errorf("DJG_TEST_FROM_FILE = %q, want %q", v, "one")
	}
	if v := os.Getenv("DJG_TEST_LOCAL"); v != "two" {
		t.Errorf("DJG_TEST_LOCAL = %q, want %q", v, "two")
	}
	if v := os.Getenv("DJG_TEST_EXISTING"); v != "from-env" {
		t.Errorf("DJG_TEST_EXISTING = %q, want %q (existing env wins)", v, "from-env")
	}
}

func TestWarnPermissions_WorldReadable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")
	if err := os.Chmod(path, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths(t *testing.T) {
	path1 := writeConfig(t, "# one")
	path2 := writeConfig(t, "# two")

	if got := findConfigInPaths([]string{path1, path2}); got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
	if got := findConfigInPaths([]string{"/nonexistent/a.toml", path2}); got != path2 {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path2)
	}
	if got := findConfigInPaths([]string{"/nonexistent/a.toml"}); got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "0.0.0.0", Port: 3000}
	if got := sc.Addr(); got != "0.0.0.0:3000" {
		t.Errorf("Addr() = %q, want %q", got, "0.0.0.0:3000")
	}
	if got := sc.LocalAddr(); got != "127.0.0.1:3000" {
		t.Errorf("LocalAddr() = %q, want %q", got, "127.0.0.1:3000")
	}
}
