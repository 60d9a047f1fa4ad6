package gate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/deployforge/deployforge/pkg/stores"
	"github.com/deployforge/deployforge/pkg/telemetry"
)

func setupTestGate(t *testing.T) (*Gate, stores.Store) {
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
	return New(store, logger), store
}

func seedDeployment(t *testing.T, store stores.Store, id string, req map[string]interface{}) {
	t.Helper()

	blob, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("failed to marshal requirements: %v", err)
	}
	now := time.Now().UTC()
	err = store.CreateDeployment(context.Background(), &stores.DeploymentRecord{
		ID: id, Name: "svc", Repository: "repo", Environment: "staging",
		Status: "created", Requirements: string(blob), Resources: "[]",
		CreatedAt: now, UpdatedAt: now, Version: 1,
	})
	if err != nil {
		t.Fatalf("failed to create deployment: %v", err)
	}
}

func TestCheckCompletionAnalysis(t *testing.T) {
	g, store := setupTestGate(t)
	ctx := context.Background()

	seedDeployment(t, store, "dep-1", map[string]interface{}{})
	c, err := g.CheckCompletion(ctx, "dep-1", StepAnalysis)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if c.Complete {
		t.Error("analysis should be incomplete without an analysis result")
	}

	seedDeployment(t, store, "dep-2", map[string]interface{}{
		"analysis":          map[string]interface{}{"framework": "rails"},
		"detected_services": []string{"postgres"},
	})
	c, err = g.CheckCompletion(ctx, "dep-2", StepAnalysis)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !c.Complete {
		t.Errorf("analysis should be complete, reason: %s", c.Reason)
	}
}

func TestCheckCompletionVariables(t *testing.T) {
	g, store := setupTestGate(t)
	ctx := context.Background()

	seedDeployment(t, store, "dep-1", map[string]interface{}{
		"required_variables": []string{"DATABASE_URL", "API_KEY"},
		"variables":          map[string]string{"DATABASE_URL": "postgres://db", "API_KEY": "  "},
	})
	c, err := g.CheckCompletion(ctx, "dep-1", StepVariables)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if c.Complete {
		t.Error("blank variable values should not count as collected")
	}
	missing, _ := c.Detail["missing"].([]string)
	if len(missing) != 1 || missing[0] != "API_KEY" {
		t.Errorf("expected API_KEY reported missing, got %v", c.Detail["missing"])
	}

	seedDeployment(t, store, "dep-2", map[string]interface{}{
		"required_variables": []string{"DATABASE_URL"},
		"variables":          map[string]string{"DATABASE_URL": "postgres://db"},
	})
	c, err = g.CheckCompletion(ctx, "dep-2", StepVariables)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !c.Complete {
		t.Errorf("all variables supplied, reason: %s", c.Reason)
	}
}

func TestCheckCompletionCredentials(t *testing.T) {
	g, store := setupTestGate(t)
	ctx := context.Background()

	seedDeployment(t, store, "dep-1", map[string]interface{}{
		"detected_services": []string{"postgres", "redis"},
	})

	c, err := g.CheckCompletion(ctx, "dep-1", StepCredentials)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if c.Complete {
		t.Error("no service configs, credentials step should be incomplete")
	}

	now := time.Now().UTC()
	// Validated but not sandbox tested does not count
	err = store.UpsertServiceConfig(ctx, &stores.ServiceConfigRecord{
		ID: "sc-1", DeploymentID: "dep-1", ServiceType: "postgres",
		Validated: true, ValidatedAt: &now, Environment: "staging",
		CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("failed to upsert config: %v", err)
	}
	err = store.UpsertServiceConfig(ctx, &stores.ServiceConfigRecord{
		ID: "sc-2", DeploymentID: "dep-1", ServiceType: "redis",
		Validated: true, ValidatedAt: &now, SandboxTested: true, SandboxTestedAt: &now,
		Environment: "staging", CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("failed to upsert config: %v", err)
	}

	c, err = g.CheckCompletion(ctx, "dep-1", StepCredentials)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if c.Complete {
		t.Error("postgres is not sandbox tested, step should be incomplete")
	}
	pending, _ := c.Detail["pending"].([]string)
	if len(pending) != 1 || pending[0] != "postgres" {
		t.Errorf("expected postgres pending, got %v", c.Detail["pending"])
	}

	if err := store.MarkServiceConfigTested(ctx, "dep-1", "postgres", true, now); err != nil {
		t.Fatalf("failed to mark tested: %v", err)
	}
	c, err = g.CheckCompletion(ctx, "dep-1", StepCredentials)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !c.Complete {
		t.Errorf("all services ready, reason: %s", c.Reason)
	}
}

func TestCheckCompletionGeneration(t *testing.T) {
	g, store := setupTestGate(t)
	ctx := context.Background()

	seedDeployment(t, store, "dep-1", map[string]interface{}{
		"generated_files": map[string]string{
			"Dockerfile": "FROM alpine",
			"main.tf":    "resource {}",
		},
	})
	c, err := g.CheckCompletion(ctx, "dep-1", StepGeneration)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if c.Complete {
		t.Error("missing terraform files, step should be incomplete")
	}

	seedDeployment(t, store, "dep-2", map[string]interface{}{
		"generated_files": map[string]string{
			"Dockerfile":   "FROM alpine",
			"main.tf":      "resource {}",
			"variables.tf": "variable {}",
			"outputs.tf":   "output {}",
		},
	})
	c, err = g.CheckCompletion(ctx, "dep-2", StepGeneration)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !c.Complete {
		t.Errorf("all files generated, reason: %s", c.Reason)
	}
}

func TestCheckCompletionReachedStatus(t *testing.T) {
	g, store := setupTestGate(t)
	ctx := context.Background()

	seedDeployment(t, store, "dep-1", map[string]interface{}{})

	c, err := g.CheckCompletion(ctx, "dep-1", StepValidation)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if c.Complete {
		t.Error("validation step should be incomplete without history")
	}

	// Walk the deployment through to validated
	statuses := []string{"analyzing", "analyzed", "collecting_env", "collecting_credentials",
		"credentials_ready", "planning", "planned", "generating", "validating", "validated"}
	from := "created"
	version := int64(1)
	for _, to := range statuses {
		if _, err := store.TransitionDeployment(ctx, "dep-1", from, to, "{}", version); err != nil {
			t.Fatalf("transition to %s failed: %v", to, err)
		}
		from = to
		version++
	}

	c, err = g.CheckCompletion(ctx, "dep-1", StepValidation)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !c.Complete {
		t.Errorf("history contains validated, reason: %s", c.Reason)
	}
}

func TestCanProceedNamesBlockingStep(t *testing.T) {
	g, store := setupTestGate(t)
	ctx := context.Background()

	seedDeployment(t, store, "dep-1", map[string]interface{}{
		"analysis":           map[string]interface{}{"framework": "rails"},
		"required_variables": []string{"DATABASE_URL"},
	})

	// Plan depends on credentials, which depends on variables
	d, err := g.CanProceed(ctx, "dep-1", StepPlan)
	if err != nil {
		t.Fatalf("can-proceed failed: %v", err)
	}
	if d.CanProceed {
		t.Error("expected plan blocked")
	}
	if d.BlockingStep != StepCredentials {
		t.Errorf("expected credentials named as blocking, got %s", d.BlockingStep)
	}

	// Variables itself is blocked too, with analysis complete
	d, err = g.CanProceed(ctx, "dep-1", StepCredentials)
	if err != nil {
		t.Fatalf("can-proceed failed: %v", err)
	}
	if d.CanProceed {
		t.Error("expected credentials blocked on variables")
	}
	if d.BlockingStep != StepVariables {
		t.Errorf("expected variables named as blocking, got %s", d.BlockingStep)
	}

	// Analysis has no dependencies
	d, err = g.CanProceed(ctx, "dep-1", StepAnalysis)
	if err != nil {
		t.Fatalf("can-proceed failed: %v", err)
	}
	if !d.CanProceed {
		t.Errorf("analysis has no dependencies, got blocked on %s", d.BlockingStep)
	}
}

func TestCanProceedUnknownStep(t *testing.T) {
	g, store := setupTestGate(t)
	seedDeployment(t, store, "dep-1", map[string]interface{}{})

	if _, err := g.CanProceed(context.Background(), "dep-1", Step("compile")); err == nil {
		t.Error("expected error for unknown step")
	}
	if _, err := g.CheckCompletion(context.Background(), "dep-1", Step("compile")); err == nil {
		t.Error("expected error for unknown step")
	}
}

func TestStepStatusCoversAllSteps(t *testing.T) {
	g, store := setupTestGate(t)
	seedDeployment(t, store, "dep-1", map[string]interface{}{})

	status, err := g.StepStatus(context.Background(), "dep-1")
	if err != nil {
		t.Fatalf("step status failed: %v", err)
	}
	if len(status) != len(AllSteps()) {
		t.Errorf("expected %d steps, got %d", len(AllSteps()), len(status))
	}
	for step, c := range status {
		if c.Step != step {
			t.Errorf("mismatched step in completion: %s vs %s", step, c.Step)
		}
	}
}
