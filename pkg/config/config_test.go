package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/odvcencio/bowline/pkg/driver"
	bowlineerrors "github.com/odvcencio/bowline/pkg/errors"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Driver != "static" {
		t.Errorf("driver = %q, want static", cfg.Driver)
	}
	if !reflect.DeepEqual(cfg.Browsers, []string{"local"}) {
		t.Errorf("browsers = %v, want [local]", cfg.Browsers)
	}
	if !reflect.DeepEqual(cfg.Reporters, []string{"console"}) {
		t.Errorf("reporters = %v, want [console]", cfg.Reporters)
	}
	if cfg.Timeouts.Test != 10000 || cfg.Timeouts.Wait != 5000 {
		t.Errorf("timeouts = %+v, want 10000/5000", cfg.Timeouts)
	}
	if cfg.Tunnel.Port != 9020 {
		t.Errorf("tunnel port = %d, want 9020", cfg.Tunnel.Port)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level = %q, want info", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadFromPathMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bowline.yml")
	raw := `
driver: fake
timeouts:
  test: 2500
tunnel:
  secret: hunter2
reporters: [console, json]
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Driver != "fake" {
		t.Errorf("driver = %q, file value should win", cfg.Driver)
	}
	if cfg.Timeouts.Test != 2500 {
		t.Errorf("timeouts.test = %d, want 2500", cfg.Timeouts.Test)
	}
	if cfg.Timeouts.Wait != 5000 {
		t.Errorf("timeouts.wait = %d, absent key should keep default", cfg.Timeouts.Wait)
	}
	if cfg.Tunnel.Port != 9020 {
		t.Errorf("tunnel.port = %d, absent key should keep default", cfg.Tunnel.Port)
	}
	if cfg.Tunnel.Secret != "hunter2" {
		t.Errorf("tunnel.secret = %q, want hunter2", cfg.Tunnel.Secret)
	}
	if !reflect.DeepEqual(cfg.Reporters, []string{"console", "json"}) {
		t.Errorf("reporters = %v, want [console json]", cfg.Reporters)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yml"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !bowlineerrors.IsCode(err, bowlineerrors.ErrCodeConfigLoad) {
		t.Fatalf("expected CONFIG_LOAD, got %v", err)
	}
}

func TestLoadFromPathBadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bowline.yml")
	if err := os.WriteFile(path, []byte("driver: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := LoadFromPath(path)
	if err == nil {
		t.Fatal("expected error")
	}
	if !bowlineerrors.IsCode(err, bowlineerrors.ErrCodeConfigParse) {
		t.Fatalf("expected CONFIG_PARSE, got %v", err)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldWD) })
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Driver != DefaultDriver {
		t.Errorf("driver = %q, want default", cfg.Driver)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bowline.yml")
	raw := `
tunnel:
  secret: from-file
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("BOWLINE_TUNNEL_SECRET", "from-env")
	t.Setenv("BOWLINE_DRIVER", "static")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tunnel.Secret != "from-env" {
		t.Errorf("tunnel.secret = %q, env should win", cfg.Tunnel.Secret)
	}
	if cfg.Driver != "static" {
		t.Errorf("driver = %q, env should win", cfg.Driver)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"negative timeout", func(c *Config) { c.Timeouts.Test = -1 }},
		{"port out of range", func(c *Config) { c.Tunnel.Port = 70000 }},
		{"negative debounce", func(c *Config) { c.Watch.Debounce = -5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !bowlineerrors.IsCode(err, bowlineerrors.ErrCodeConfigInvalid) {
				t.Fatalf("expected CONFIG_INVALID, got %v", err)
			}
		})
	}
}

func TestGetDottedLookup(t *testing.T) {
	cfg := DefaultConfig()

	if got := cfg.Get("driver"); got != "static" {
		t.Errorf("Get(driver) = %v", got)
	}
	if got := cfg.Get("timeouts.test"); got != 10000 {
		t.Errorf("Get(timeouts.test) = %v (%T)", got, got)
	}
	if got := cfg.Get("tunnel.port"); got != 9020 {
		t.Errorf("Get(tunnel.port) = %v", got)
	}
	if got := cfg.Get("logging.level"); got != "info" {
		t.Errorf("Get(logging.level) = %v", got)
	}
	if got := cfg.Get("no.such.key"); got != nil {
		t.Errorf("Get(no.such.key) = %v, want nil", got)
	}
	if got := cfg.Get("timeouts.test.deeper"); got != nil {
		t.Errorf("Get through a scalar = %v, want nil", got)
	}
}

func TestVerifyFiltersAgainstRegistries(t *testing.T) {
	cfg := DefaultConfig()

	driver.Register("verify-probe", func(driver.Options) (driver.Driver, error) {
		return nil, nil
	})

	got := cfg.VerifyDrivers([]string{"verify-probe", "bogus", ""})
	if !reflect.DeepEqual(got, []string{"verify-probe"}) {
		t.Errorf("VerifyDrivers = %v", got)
	}

	gotR := cfg.VerifyReporters([]string{"console", "json", "carrier-pigeon"})
	if !reflect.DeepEqual(gotR, []string{"console", "json"}) {
		t.Errorf("VerifyReporters = %v", gotR)
	}

	gotB := cfg.VerifyBrowsers([]string{"local", "netscape", "chrome"})
	if !reflect.DeepEqual(gotB, []string{"local", "chrome"}) {
		t.Errorf("VerifyBrowsers = %v", gotB)
	}
}
