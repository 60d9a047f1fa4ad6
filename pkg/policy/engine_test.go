package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/deployforge/deployforge/pkg/telemetry"
)

func setupTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	engine, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func productionDeployInput(approval *ApprovalState) *Input {
	return &Input{
		Deployment: &DeploymentInfo{
			ID:          "dep-1",
			Name:        "svc",
			Environment: "production",
			Status:      "approved",
		},
		Transition: &Transition{From: "approved", To: "deploying"},
		Approval:   approval,
	}
}

func TestProductionDeployRequiresApproval(t *testing.T) {
	engine := setupTestEngine(t)
	ctx := context.Background()

	result, err := engine.EvaluateTransition(ctx, productionDeployInput(&ApprovalState{
		Required: true, Resolved: false, Approvals: 1, RequiredCount: 2,
	}))
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("unapproved production rollout should be denied")
	}
	if len(result.Violations) == 0 {
		t.Fatal("expected at least one violation")
	}
	if result.Violations[0].Policy != "production-approval" {
		t.Errorf("unexpected policy: %s", result.Violations[0].Policy)
	}
}

func TestProductionDeployWithApprovalAllowed(t *testing.T) {
	engine := setupTestEngine(t)

	result, err := engine.EvaluateTransition(context.Background(), productionDeployInput(&ApprovalState{
		Required: true, Resolved: true, Approvals: 2, RequiredCount: 2,
	}))
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("approved production rollout should pass, got violations %+v", result.Violations)
	}
}

func TestProductionDeployWithoutApprovalRoundDenied(t *testing.T) {
	engine := setupTestEngine(t)

	result, err := engine.EvaluateTransition(context.Background(), productionDeployInput(nil))
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("production rollout without an approval round should be denied")
	}
}

func TestSandboxDeployRequiresValidatedCredentials(t *testing.T) {
	engine := setupTestEngine(t)
	ctx := context.Background()

	input := &Input{
		Deployment: &DeploymentInfo{ID: "dep-1", Environment: "staging", Status: "estimated"},
		Transition: &Transition{From: "estimated", To: "sandbox_deploying"},
		Credentials: &CredentialState{
			ServiceTypes: []string{"postgres", "redis"},
			Validated:    false,
		},
	}
	result, err := engine.EvaluateTransition(ctx, input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("sandbox rollout with unvalidated credentials should be denied")
	}

	// Validated but never sandbox-tested is still denied
	input.Credentials.Validated = true
	input.Credentials.SandboxTested = false
	result, err = engine.EvaluateTransition(ctx, input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("sandbox rollout with untested credentials should be denied")
	}

	input.Credentials.SandboxTested = true
	result, err = engine.EvaluateTransition(ctx, input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("validated and tested credentials should pass, got %+v", result.Violations)
	}
}

func TestPlaceholderToolServerBlocksProduction(t *testing.T) {
	engine := setupTestEngine(t)

	input := productionDeployInput(&ApprovalState{Required: true, Resolved: true, Approvals: 2, RequiredCount: 2})
	input.ToolServers = []ToolServer{
		{Name: "analyzer", URL: "https://example.com", FallbackOnly: true},
	}
	result, err := engine.EvaluateTransition(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("production rollout with a placeholder tool server should be denied")
	}
}

func TestPlaceholderToolServerWarnsOutsideProduction(t *testing.T) {
	engine := setupTestEngine(t)

	input := &Input{
		Deployment: &DeploymentInfo{ID: "dep-1", Environment: "staging", Status: "created"},
		Transition: &Transition{From: "created", To: "analyzing"},
		ToolServers: []ToolServer{
			{Name: "analyzer", URL: "https://example.com", FallbackOnly: true},
		},
	}
	result, err := engine.EvaluateTransition(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("placeholder tool server should only warn outside production, got %+v", result.Violations)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning about the placeholder tool server")
	}
}

func TestTerminalStatusDenied(t *testing.T) {
	engine := setupTestEngine(t)

	input := &Input{
		Deployment: &DeploymentInfo{ID: "dep-1", Environment: "staging", Status: "cancelled"},
		Transition: &Transition{From: "cancelled", To: "analyzing"},
	}
	result, err := engine.EvaluateTransition(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("transition out of a terminal status should be denied")
	}
}

func TestDisabledPolicySkipped(t *testing.T) {
	engine := setupTestEngine(t)

	if err := engine.SetEnabled("production-approval", false); err != nil {
		t.Fatalf("failed to disable policy: %v", err)
	}
	result, err := engine.EvaluateTransition(context.Background(), productionDeployInput(nil))
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("disabled policy should not deny, got %+v", result.Violations)
	}
}

func TestLoadPoliciesFromDirectory(t *testing.T) {
	engine := setupTestEngine(t)
	dir := t.TempDir()

	// A custom policy denying deployments of a specific repository
	rego := `package deployforge.policies.banned

import rego.v1

deny contains violation if {
	input.deployment.repository == "github.com/acme/forbidden"
	violation := {
		"message": "repository is on the deny list",
		"severity": "error",
	}
}`
	if err := os.WriteFile(filepath.Join(dir, "banned-repo.rego"), []byte(rego), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}

	ctx := context.Background()
	if err := engine.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("failed to load policies: %v", err)
	}
	if _, err := engine.GetPolicy("banned-repo"); err != nil {
		t.Fatalf("loaded policy not found: %v", err)
	}

	input := &Input{
		Deployment: &DeploymentInfo{ID: "dep-1", Repository: "github.com/acme/forbidden", Environment: "staging"},
		Transition: &Transition{From: "created", To: "analyzing"},
	}
	result, err := engine.EvaluateTransition(ctx, input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("custom policy should deny the banned repository")
	}
}
