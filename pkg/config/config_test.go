package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/deployforge/deployforge/pkg/telemetry"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "deployforge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
service:
  name: deployforge
  environment: staging
store:
  path: /var/lib/deployforge/state.db
tool_servers:
  - name: analyzer
    url: https://tools.internal/analyzer
    eager: true
environments:
  - name: production
    approval_required: true
    min_approvals: 2
    approver_roles: [platform-lead]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Store.Path != "/var/lib/deployforge/state.db" {
		t.Errorf("store path not applied: %s", cfg.Store.Path)
	}
	if cfg.Engine.HopCap != 25 {
		t.Errorf("expected default hop cap, got %d", cfg.Engine.HopCap)
	}
	if len(cfg.ToolServers) != 1 || cfg.ToolServers[0].Name != "analyzer" {
		t.Errorf("tool servers not parsed: %+v", cfg.ToolServers)
	}
	if len(cfg.Environments) != 1 || cfg.Environments[0].MinApprovals != 2 {
		t.Errorf("environments not parsed: %+v", cfg.Environments)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"missing service name": `
service:
  environment: staging
store:
  path: state.db
`,
		"duplicate tool server": `
service:
  name: deployforge
  environment: staging
store:
  path: state.db
tool_servers:
  - name: analyzer
  - name: analyzer
`,
		"approval without count": `
service:
  name: deployforge
  environment: staging
store:
  path: state.db
environments:
  - name: production
    approval_required: true
    min_approvals: 0
`,
		"bad log level": `
service:
  name: deployforge
  environment: staging
store:
  path: state.db
logging:
  level: verbose
`,
		"duplicate user": `
service:
  name: deployforge
  environment: staging
store:
  path: state.db
users:
  - id: alice
  - id: alice
`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, dir, content)
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestRolesFor(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
service:
  name: deployforge
  environment: staging
store:
  path: state.db
users:
  - id: alice
    roles: [deployer, platform-lead]
  - id: bob
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	roles := cfg.RolesFor("alice")
	if len(roles) != 2 || roles[0] != "deployer" {
		t.Errorf("unexpected roles for alice: %v", roles)
	}
	if got := cfg.RolesFor("bob"); len(got) != 0 {
		t.Errorf("expected no roles for bob, got %v", got)
	}
	if got := cfg.RolesFor("mallory"); got != nil {
		t.Errorf("expected nil roles for unknown user, got %v", got)
	}
}

func TestPassphraseSources(t *testing.T) {
	t.Setenv("DF_TEST_PASSPHRASE", "hunter2")
	c := CredentialsConfig{PassphraseEnv: "DF_TEST_PASSPHRASE"}
	p, err := c.Passphrase()
	if err != nil || p != "hunter2" {
		t.Errorf("env passphrase: got %q, %v", p, err)
	}

	dir := t.TempDir()
	file := filepath.Join(dir, "passphrase")
	if err := os.WriteFile(file, []byte("  secret \n"), 0o600); err != nil {
		t.Fatalf("failed to write passphrase file: %v", err)
	}
	c = CredentialsConfig{PassphraseFile: file}
	p, err = c.Passphrase()
	if err != nil || p != "secret" {
		t.Errorf("file passphrase: got %q, %v", p, err)
	}

	c = CredentialsConfig{PassphraseEnv: "DF_TEST_UNSET_VAR"}
	if _, err := c.Passphrase(); err == nil {
		t.Error("expected error for unset env var")
	}
}

func TestPassphraseSourcesAreExclusive(t *testing.T) {
	cfg := Default()
	cfg.Credentials = CredentialsConfig{PassphraseEnv: "A", PassphraseFile: "b"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for both passphrase sources set")
	}

	cfg.Credentials = CredentialsConfig{}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for no passphrase source")
	}
}

func TestTelemetryConfigMapping(t *testing.T) {
	cfg := Default()
	cfg.Service.Environment = "production"
	cfg.Logging.Level = "warn"
	cfg.Logging.Format = "json"
	cfg.Metrics.Enabled = false

	tc := cfg.TelemetryConfig()
	if tc.Environment != "production" || tc.Logging.Level != "warn" || tc.Logging.Format != "json" {
		t.Errorf("telemetry mapping wrong: %+v", tc.Logging)
	}
	if tc.Metrics.Enabled {
		t.Error("metrics should be disabled")
	}
	if err := tc.Validate(); err != nil {
		t.Errorf("mapped telemetry config invalid: %v", err)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	base := `
service:
  name: deployforge
  environment: staging
store:
  path: state.db
tool_servers:
  - name: analyzer
    url: https://tools.internal/analyzer
`
	path := writeConfig(t, dir, base)

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	var mu sync.Mutex
	var reloaded *Config
	w := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		reloaded = cfg
		mu.Unlock()
	}, logger)
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, dir, base+`  - name: planner
    url: https://tools.internal/planner
`)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := reloaded
		mu.Unlock()
		if got != nil {
			if len(got.ToolServers) != 2 {
				t.Fatalf("expected 2 tool servers after reload, got %d", len(got.ToolServers))
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("reload callback was not invoked")
}

func TestWatcherKeepsPreviousConfigOnBadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
service:
  name: deployforge
  environment: staging
store:
  path: state.db
`)

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	var mu sync.Mutex
	calls := 0
	w := NewWatcher(path, func(*Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, logger)
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, dir, `service: [not, a, mapping`)

	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 0 {
		t.Errorf("invalid file must not trigger the reload callback, got %d calls", got)
	}
}
