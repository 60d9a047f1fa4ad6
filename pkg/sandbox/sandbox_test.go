package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/deployforge/deployforge/pkg/credentials"
	"github.com/deployforge/deployforge/pkg/stores"
	"github.com/deployforge/deployforge/pkg/telemetry"
)

func fakeDialer(reachable bool) Dialer {
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		if !reachable {
			return nil, fmt.Errorf("connection refused")
		}
		client, server := net.Pipe()
		go func() { _ = server.Close() }()
		return client, nil
	}
}

func TestBuiltinTesterSuccess(t *testing.T) {
	tester, err := NewBuiltinTester("postgres", fakeDialer(true))
	if err != nil {
		t.Fatalf("failed to create tester: %v", err)
	}

	result, err := tester.Test(context.Background(), credentials.Payload{
		"host":     "db.internal",
		"username": "app",
		"password": "secret",
	})
	if err != nil {
		t.Fatalf("test failed: %v", err)
	}
	if !result.Success {
		t.Errorf("expected success, got: %s", result.Message)
	}
	if result.Details["address"] != "db.internal:5432" {
		t.Errorf("expected default port in address, got %v", result.Details["address"])
	}
}

func TestBuiltinTesterMissingField(t *testing.T) {
	tester, err := NewBuiltinTester("postgres", fakeDialer(true))
	if err != nil {
		t.Fatalf("failed to create tester: %v", err)
	}

	result, err := tester.Test(context.Background(), credentials.Payload{
		"host": "db.internal",
	})
	if err != nil {
		t.Fatalf("test errored: %v", err)
	}
	if result.Success {
		t.Error("expected failure for missing username")
	}
}

func TestBuiltinTesterUnreachable(t *testing.T) {
	tester, err := NewBuiltinTester("redis", fakeDialer(false))
	if err != nil {
		t.Fatalf("failed to create tester: %v", err)
	}

	result, err := tester.Test(context.Background(), credentials.Payload{"host": "cache"})
	if err != nil {
		t.Fatalf("test errored: %v", err)
	}
	if result.Success {
		t.Error("expected failure for unreachable host")
	}
}

func TestBuiltinTesterUnknownType(t *testing.T) {
	if _, err := NewBuiltinTester("quantumdb", nil); !errors.Is(err, ErrUnknownServiceType) {
		t.Errorf("expected ErrUnknownServiceType, got %v", err)
	}
}

func TestStarlarkTester(t *testing.T) {
	script := `
host = creds.get("host", "")
success = host != ""
message = "host ok" if success else "host missing"
details = {"host": host}
`
	tester := NewStarlarkTester(script, 5*time.Second)

	result, err := tester.Test(context.Background(), credentials.Payload{"host": "db.internal"})
	if err != nil {
		t.Fatalf("test failed: %v", err)
	}
	if !result.Success || result.Message != "host ok" {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.Details["host"] != "db.internal" {
		t.Errorf("expected details host, got %v", result.Details)
	}

	result, err = tester.Test(context.Background(), credentials.Payload{})
	if err != nil {
		t.Fatalf("test failed: %v", err)
	}
	if result.Success {
		t.Error("expected failure for empty creds")
	}
}

func TestStarlarkTesterTimeout(t *testing.T) {
	script := `
x = 0
for i in range(1000000000):
    x = x + 1
success = True
message = "done"
`
	tester := NewStarlarkTester(script, 100*time.Millisecond)

	start := time.Now()
	_, err := tester.Test(context.Background(), credentials.Payload{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("runaway script was not cancelled promptly, took %v", elapsed)
	}
}

func TestStarlarkTesterMissingGlobals(t *testing.T) {
	tester := NewStarlarkTester(`x = 1`, time.Second)
	if _, err := tester.Test(context.Background(), credentials.Payload{}); err == nil {
		t.Error("expected error for script without success global")
	}
}

func TestWASMTesterRejectsInvalidModule(t *testing.T) {
	tester := NewWASMTester([]byte("not a wasm module"), WASMTesterConfig{Timeout: time.Second})
	if _, err := tester.Test(context.Background(), credentials.Payload{}); err == nil {
		t.Error("expected error for invalid module bytes")
	}
}

type stubGenerator struct {
	calls int
}

func (g *stubGenerator) GenerateTest(_ context.Context, serviceType, _ string) (string, string, error) {
	g.calls++
	return fmt.Sprintf(`
success = creds.get("host", "") != ""
message = "generated test for %s"
`, serviceType), LanguageStarlark, nil
}

func setupTestRegistry(t *testing.T, gen Generator) (*Registry, stores.Store) {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	return NewRegistry(store, gen, fakeDialer(true), RegistryConfig{TestTimeout: 5 * time.Second}, logger, metrics), store
}

func TestRegistryGeneratesOnce(t *testing.T) {
	gen := &stubGenerator{}
	reg, store := setupTestRegistry(t, gen)
	ctx := context.Background()

	result, err := reg.Run(ctx, "customdb", credentials.Payload{"host": "db"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !result.Success {
		t.Errorf("expected success, got: %s", result.Message)
	}

	// Second run hits the cache
	if _, err := reg.Run(ctx, "customdb", credentials.Payload{"host": "db"}); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if gen.calls != 1 {
		t.Errorf("expected exactly 1 generation, got %d", gen.calls)
	}

	// Definition was persisted for future processes
	def, err := store.GetServiceDefinition(ctx, "customdb")
	if err != nil {
		t.Fatalf("failed to get definition: %v", err)
	}
	if def.TestLanguage != LanguageStarlark {
		t.Errorf("expected starlark definition, got %s", def.TestLanguage)
	}
}

func TestRegistryUsesBuiltin(t *testing.T) {
	gen := &stubGenerator{}
	reg, _ := setupTestRegistry(t, gen)
	ctx := context.Background()

	result, err := reg.Run(ctx, "redis", credentials.Payload{"host": "cache"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !result.Success {
		t.Errorf("expected success, got: %s", result.Message)
	}
	if gen.calls != 0 {
		t.Errorf("builtin type should not trigger generation, got %d calls", gen.calls)
	}
}

func TestRegistryUnknownWithoutGenerator(t *testing.T) {
	reg, _ := setupTestRegistry(t, nil)
	if _, err := reg.Run(context.Background(), "customdb", credentials.Payload{}); !errors.Is(err, ErrUnknownServiceType) {
		t.Errorf("expected ErrUnknownServiceType, got %v", err)
	}
}

func TestRunConvertsScriptExceptionToFailureResult(t *testing.T) {
	reg, store := setupTestRegistry(t, nil)
	ctx := context.Background()

	err := store.UpsertServiceDefinition(ctx, &stores.ServiceDefinitionRecord{
		ServiceType:  "customdb",
		TestSource:   "fail(\"boom\")\n",
		TestLanguage: LanguageStarlark,
		GeneratedAt:  time.Now().UTC(),
		Active:       true,
	})
	if err != nil {
		t.Fatalf("failed to persist definition: %v", err)
	}

	result, err := reg.Run(ctx, "customdb", credentials.Payload{})
	if err != nil {
		t.Fatalf("script exception must surface as a failed result, got error: %v", err)
	}
	if result.Success {
		t.Error("expected failure result for a raising script")
	}
	if result.Message == "" {
		t.Error("expected the exception text in the result message")
	}
}

func TestRunConvertsTimeoutToFailureResult(t *testing.T) {
	reg, store := setupTestRegistry(t, nil)
	reg.cfg.TestTimeout = 100 * time.Millisecond
	ctx := context.Background()

	err := store.UpsertServiceDefinition(ctx, &stores.ServiceDefinitionRecord{
		ServiceType:  "customdb",
		TestSource:   "x = 0\nfor i in range(1000000000):\n    x = x + 1\nsuccess = True\nmessage = \"done\"\n",
		TestLanguage: LanguageStarlark,
		GeneratedAt:  time.Now().UTC(),
		Active:       true,
	})
	if err != nil {
		t.Fatalf("failed to persist definition: %v", err)
	}

	result, err := reg.Run(ctx, "customdb", credentials.Payload{})
	if err != nil {
		t.Fatalf("timeout must surface as a failed result, got error: %v", err)
	}
	if result.Success {
		t.Error("expected failure result for a timed-out script")
	}
}

func TestRegistryLoadsPersistedDefinition(t *testing.T) {
	reg, store := setupTestRegistry(t, nil)
	ctx := context.Background()

	err := store.UpsertServiceDefinition(ctx, &stores.ServiceDefinitionRecord{
		ServiceType:  "customdb",
		TestSource:   "success = True\nmessage = \"persisted\"\n",
		TestLanguage: LanguageStarlark,
		GeneratedAt:  time.Now().UTC(),
		Active:       true,
	})
	if err != nil {
		t.Fatalf("failed to persist definition: %v", err)
	}

	result, err := reg.Run(ctx, "customdb", credentials.Payload{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !result.Success || result.Message != "persisted" {
		t.Errorf("unexpected result: %+v", result)
	}
}
