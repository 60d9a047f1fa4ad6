package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}

	cfg = DefaultConfig()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected invalid log level to fail validation")
	}

	cfg = DefaultConfig()
	cfg.Tracing.SamplingRate = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected out-of-range sampling rate to fail validation")
	}
}

func TestNewTelemetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tracing.Exporter = "none"
	cfg.Metrics.Enabled = false
	cfg.Events.EnableAsync = false

	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("failed to create telemetry: %v", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	ctx := tel.WithContext(context.Background())
	if FromTelemetryContext(ctx) != tel {
		t.Error("expected telemetry instance on context")
	}
	if FromContext(ctx) == nil {
		t.Error("expected logger on context")
	}
}

func TestEventPublisherSynchronous(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:      true,
		BufferSize:   10,
		MaxBatchSize: 10,
		EnableAsync:  false,
	})
	if err != nil {
		t.Fatalf("failed to create event publisher: %v", err)
	}

	var mu sync.Mutex
	received := []Event{}
	done := make(chan struct{}, 1)
	ep.Subscribe(func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		done <- struct{}{}
	}, FilterByType(EventTypeDeploymentTransitioned))

	if err := ep.PublishDeploymentCreated("dep-1", "checkout", "staging"); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}
	if err := ep.PublishDeploymentTransitioned("dep-1", "created", "analyzing"); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 filtered event, got %d", len(received))
	}
	if received[0].DeploymentID != "dep-1" || received[0].Status != "analyzing" {
		t.Errorf("unexpected event: %+v", received[0])
	}
	if received[0].ID == "" || received[0].Timestamp.IsZero() {
		t.Error("expected ID and timestamp to be filled in")
	}
}

func TestMetricsDisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	// None of these should panic on the no-op instance
	m.RecordTransition("created", "analyzing")
	m.RecordHandler("analyzing", "advanced", time.Second)
	m.RecordToolCall("analyzer", "analyze_repository", "ok", time.Second)
	m.RecordSandboxRun("postgres", "starlark", "ok", time.Second)
	m.RecordApprovalRequested("production")
	m.RecordApprovalResolved("approved")
	m.RecordCredentialRead("postgres")
	m.RecordError("transient", "TIMEOUT")
	m.MonitorStarted()
	m.MonitorStopped()
}

func TestLoggerFields(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{
		Level:  "debug",
		Format: "json",
		Output: "stdout",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	child := logger.NewComponentLogger("engine").
		WithDeploymentID("dep-1").
		WithStatus("analyzing")
	if child == nil {
		t.Fatal("expected child logger")
	}
	child.Debug("handler started")
}
