package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/cmmgraph/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should pass: %v", err)
	}
}

func TestModulesConfig_Signatures(t *testing.T) {
	cfg := ModulesConfig{Preferred: "lcms", Disabled: []string{"oyrb"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid signatures should pass: %v", err)
	}

	cfg = ModulesConfig{Preferred: "littlecms"}
	if err := cfg.Validate(); err == nil {
		t.Error("long preferred signature should fail")
	}

	cfg = ModulesConfig{Disabled: []string{"ok12", "b@d!"}}
	if err := cfg.Validate(); err == nil {
		t.Error("invalid disabled signature should fail")
	}
}

func TestCacheConfig_NegativeDuration(t *testing.T) {
	cfg := CacheConfig{DefaultExpiration: -time.Second}
	if err := cfg.Validate(); err == nil {
		t.Error("negative expiration should fail")
	}
}

func TestFullConfig_PathsRequired(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Graphs.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty graphs path should fail")
	}

	cfg = NewDefaultConfig()
	cfg.Index.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty index path should fail")
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("CMMGRAPH_TEST_TOKEN", "s3cret")
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `app:
  log_level: debug
  http:
    port: 9090
modules:
  preferred: lcms
  disabled: [oyrb]
cache:
  default_expiration: 5m
graphs:
  path: /tmp/graphs
  watch: false
index:
  path: /tmp/cmmgraph.db
auth:
  mode: token
  token: ${CMMGRAPH_TEST_TOKEN}
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTP.Address() != ":9090" || cfg.App.LogLevel != slog.LevelDebug {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Modules.Preferred != "lcms" || len(cfg.Modules.Disabled) != 1 {
		t.Errorf("modules = %+v", cfg.Modules)
	}
	if cfg.Cache.DefaultExpiration != 5*time.Minute || cfg.Cache.CleanupInterval != 10*time.Minute {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Graphs.Watch {
		t.Error("graphs.watch should be false")
	}
	if !cfg.Auth.AuthEnabled() || cfg.Auth.Token != "s3cret" {
		t.Errorf("auth = %+v", cfg.Auth)
	}
}
