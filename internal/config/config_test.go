package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

const sampleYAML = `
flowPath: testdata/transfer.yaml
store:
  driver: sqlite3
  dsn: "file:test.db"
  maxOpenConns: 5
http:
  address: ":9090"
tracing:
  exporter: stdout
`

func TestLoad_YAML(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg := Defaults()
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "sqlite3" {
		t.Fatalf("expected sqlite3 driver, got %q", cfg.Store.Driver)
	}
	if cfg.HTTP.Address != ":9090" {
		t.Fatalf("expected overridden HTTP address, got %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.RateLimitRPS != 50 {
		t.Fatalf("expected default RateLimitRPS to survive merge, got %v", cfg.HTTP.RateLimitRPS)
	}
}

func TestLoadWithEnv_OverridesAndValidates(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	t.Setenv("ENGINE_HTTP_ADDRESS", ":7070")

	cfg := Defaults()
	if err := LoadWithEnv(path, "ENGINE", &cfg, Validators()...); err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.HTTP.Address != ":7070" {
		t.Fatalf("expected env override to win, got %q", cfg.HTTP.Address)
	}
}

func TestLoadWithEnv_ValidationFailsOnBadExporter(t *testing.T) {
	path := writeTempConfig(t, `
flowPath: testdata/transfer.yaml
store:
  driver: sqlite3
  dsn: "file:test.db"
http:
  address: ":9090"
tracing:
  exporter: carrier-pigeon
`)
	cfg := Defaults()
	if err := LoadWithEnv(path, "ENGINE", &cfg, Validators()...); err == nil {
		t.Fatal("expected validation error for unknown tracing exporter")
	}
}

func TestRequiredFields_MissingDSN(t *testing.T) {
	cfg := Defaults()
	cfg.FlowPath = "flow.yaml"
	cfg.Store.Driver = "sqlite3"
	cfg.HTTP.Address = ":8080"
	v := RequiredFields("FlowPath", "Store.Driver", "Store.DSN", "HTTP.Address")
	if err := v.Validate(&cfg); err == nil {
		t.Fatal("expected missing Store.DSN to fail validation")
	}
}

func TestRangeValidator(t *testing.T) {
	cfg := Defaults()
	cfg.HTTP.RateLimitRPS = 200000
	if err := RangeValidator("HTTP.RateLimitRPS", 0, 100000).Validate(&cfg); err == nil {
		t.Fatal("expected out-of-range RateLimitRPS to fail")
	}
}

func TestOneOfValidator(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Driver = "oracle"
	if err := OneOfValidator("Store.Driver", "pgx", "sqlite3").Validate(&cfg); err == nil {
		t.Fatal("expected unsupported driver to fail OneOfValidator")
	}
}
