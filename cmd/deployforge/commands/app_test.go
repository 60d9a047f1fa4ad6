package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/deployforge/deployforge/pkg/approval"
	"github.com/deployforge/deployforge/pkg/engine"
)

func writeAppConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`
store:
  path: %s
logging:
  level: error
metrics:
  enabled: false
environments:
  - name: production
    approval_required: true
    min_approvals: 1
    approver_roles: [deployer]
users:
  - id: alice
    roles: [deployer]
  - id: bob
    roles: [viewer]
`, filepath.Join(dir, "test.db"))
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestApproverRolesWiredFromConfig(t *testing.T) {
	t.Setenv("DEPLOYFORGE_PASSPHRASE", "test-passphrase")
	configPath = writeAppConfig(t)
	t.Cleanup(func() { configPath = "" })

	ctx := context.Background()
	app, err := newApp(ctx)
	if err != nil {
		t.Fatalf("failed to build app: %v", err)
	}
	defer app.Close()

	dep, err := app.orch.CreateDeployment(ctx, engine.CreateSpec{
		Name:        "web",
		Repository:  "github.com/acme/web",
		Environment: "production",
	})
	if err != nil {
		t.Fatalf("failed to create deployment: %v", err)
	}

	// Local fallbacks carry the pipeline to the approval gate
	result, err := app.orch.Process(ctx, dep.ID)
	if err != nil {
		t.Fatalf("process errored: %v", err)
	}
	if result.Status != engine.StatusPendingApproval {
		t.Fatalf("expected pending_approval, got %s (%s)", result.Status, result.Reason)
	}

	// Roles come from the config's users section
	if _, err := app.approvals.ApproveDeployment(ctx, dep.ID, "mallory", ""); !errors.Is(err, approval.ErrRoleNotAllowed) {
		t.Fatalf("expected role rejection for unknown user, got %v", err)
	}
	if _, err := app.approvals.ApproveDeployment(ctx, dep.ID, "bob", ""); !errors.Is(err, approval.ErrRoleNotAllowed) {
		t.Fatalf("expected role rejection for user without approver role, got %v", err)
	}

	rec, err := app.approvals.ApproveDeployment(ctx, dep.ID, "alice", "lgtm")
	if err != nil {
		t.Fatalf("configured approver was rejected: %v", err)
	}
	if rec.DeploymentID != dep.ID {
		t.Errorf("decision landed on the wrong round: %+v", rec)
	}
}
