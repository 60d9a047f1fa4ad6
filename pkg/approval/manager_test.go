package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/deployforge/deployforge/pkg/stores"
	"github.com/deployforge/deployforge/pkg/telemetry"
)

type fakeResumer struct {
	mu       sync.Mutex
	approved []string // "deploymentID->target"
	rejected []string
}

func (r *fakeResumer) ResumeApproved(_ context.Context, deploymentID, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approved = append(r.approved, deploymentID+"->"+target)
	return nil
}

func (r *fakeResumer) ResumeRejected(_ context.Context, deploymentID, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, deploymentID)
	return nil
}

type flakyNotifier struct {
	failures int
	calls    int
}

func (n *flakyNotifier) NotifyApprovalRequested(context.Context, string, string, int) error {
	n.calls++
	if n.calls <= n.failures {
		return fmt.Errorf("notification channel down")
	}
	return nil
}

func setupTestManager(t *testing.T, rules []Rule, resumer Resumer, notifier Notifier, roles RoleLookup) (*Manager, stores.Store) {
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

	ruleSet := NewRuleSet(rules, Rule{Required: false})
	mgr := NewManager(store, ruleSet, resumer, notifier, roles,
		ManagerConfig{NotifyRetries: 2, NotifyBackoff: time.Millisecond}, logger, nil, nil)
	return mgr, store
}

func createDeployment(t *testing.T, store stores.Store, id string) {
	t.Helper()
	now := time.Now().UTC()
	err := store.CreateDeployment(context.Background(), &stores.DeploymentRecord{
		ID: id, Name: "svc", Repository: "repo", Environment: "production",
		Status: "pending_approval", Requirements: "{}", Resources: "[]",
		CreatedAt: now, UpdatedAt: now, Version: 1,
	})
	if err != nil {
		t.Fatalf("failed to create deployment: %v", err)
	}
}

func TestRequestNotRequired(t *testing.T) {
	resumer := &fakeResumer{}
	mgr, _ := setupTestManager(t, nil, resumer, nil, nil)

	rec, required, err := mgr.Request(context.Background(), "dep-1", "dev", "approved")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if required || rec != nil {
		t.Errorf("dev should not require approval, got required=%t rec=%+v", required, rec)
	}
}

func TestApprovalRound(t *testing.T) {
	resumer := &fakeResumer{}
	rules := []Rule{{Environment: "production", Required: true, MinApprovals: 2}}
	mgr, store := setupTestManager(t, rules, resumer, nil, nil)
	ctx := context.Background()
	createDeployment(t, store, "dep-1")

	rec, required, err := mgr.Request(ctx, "dep-1", "production", "sandbox_deploying")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if !required {
		t.Fatal("production should require approval")
	}
	if rec.ResumeTarget != "sandbox_deploying" {
		t.Errorf("expected resume target captured, got %s", rec.ResumeTarget)
	}

	// First approval does not resolve the round
	got, err := mgr.Approve(ctx, rec.ID, "alice", "lgtm")
	if err != nil {
		t.Fatalf("first approve failed: %v", err)
	}
	if got.Status != stores.ApprovalRequestPending {
		t.Errorf("round should still be pending, got %s", got.Status)
	}
	if len(resumer.approved) != 0 {
		t.Error("resume should not fire before required count")
	}

	// Second distinct approver resolves it
	got, err = mgr.Approve(ctx, rec.ID, "bob", "ship it")
	if err != nil {
		t.Fatalf("second approve failed: %v", err)
	}
	if got.Status != stores.ApprovalRequestApproved {
		t.Errorf("expected approved, got %s", got.Status)
	}
	if len(resumer.approved) != 1 || resumer.approved[0] != "dep-1->sandbox_deploying" {
		t.Errorf("expected resume to captured target, got %v", resumer.approved)
	}
}

func TestDecideByDeploymentID(t *testing.T) {
	resumer := &fakeResumer{}
	rules := []Rule{{Environment: "production", Required: true, MinApprovals: 1}}
	mgr, store := setupTestManager(t, rules, resumer, nil, nil)
	ctx := context.Background()
	createDeployment(t, store, "dep-1")
	createDeployment(t, store, "dep-2")

	if _, _, err := mgr.Request(ctx, "dep-1", "production", "approved"); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if _, _, err := mgr.Request(ctx, "dep-2", "production", "approved"); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	// Approvers address the deployment, not the round id
	got, err := mgr.ApproveDeployment(ctx, "dep-1", "alice", "lgtm")
	if err != nil {
		t.Fatalf("approve by deployment failed: %v", err)
	}
	if got.DeploymentID != "dep-1" || got.Status != stores.ApprovalRequestApproved {
		t.Errorf("unexpected round resolved: %+v", got)
	}

	if _, err := mgr.RejectDeployment(ctx, "dep-2", "bob", "not yet"); err != nil {
		t.Fatalf("reject by deployment failed: %v", err)
	}
	if len(resumer.rejected) != 1 || resumer.rejected[0] != "dep-2" {
		t.Errorf("expected dep-2 rejected, got %v", resumer.rejected)
	}

	// No pending round left on dep-1
	if _, err := mgr.ApproveDeployment(ctx, "dep-1", "carol", ""); err == nil {
		t.Error("expected error approving a deployment without a pending round")
	}
}

func TestDuplicateApproverRejected(t *testing.T) {
	resumer := &fakeResumer{}
	rules := []Rule{{Environment: "production", Required: true, MinApprovals: 2}}
	mgr, store := setupTestManager(t, rules, resumer, nil, nil)
	ctx := context.Background()
	createDeployment(t, store, "dep-1")

	rec, _, err := mgr.Request(ctx, "dep-1", "production", "approved")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if _, err := mgr.Approve(ctx, rec.ID, "alice", ""); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if _, err := mgr.Approve(ctx, rec.ID, "alice", "again"); !errors.Is(err, ErrDuplicateDecision) {
		t.Errorf("expected ErrDuplicateDecision, got %v", err)
	}
}

func TestRejectResolvesImmediately(t *testing.T) {
	resumer := &fakeResumer{}
	rules := []Rule{{Environment: "production", Required: true, MinApprovals: 3}}
	mgr, store := setupTestManager(t, rules, resumer, nil, nil)
	ctx := context.Background()
	createDeployment(t, store, "dep-1")

	rec, _, err := mgr.Request(ctx, "dep-1", "production", "approved")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	got, err := mgr.Reject(ctx, rec.ID, "alice", "wrong version")
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if got.Status != stores.ApprovalRequestRejected {
		t.Errorf("expected rejected, got %s", got.Status)
	}
	if len(resumer.rejected) != 1 || resumer.rejected[0] != "dep-1" {
		t.Errorf("expected rejection resume, got %v", resumer.rejected)
	}

	// Resolved round takes no further decisions
	if _, err := mgr.Approve(ctx, rec.ID, "bob", ""); !errors.Is(err, ErrRoundNotPending) {
		t.Errorf("expected ErrRoundNotPending, got %v", err)
	}
}

func TestRoleCheck(t *testing.T) {
	resumer := &fakeResumer{}
	rules := []Rule{{Environment: "production", Required: true, MinApprovals: 1, AllowedRoles: []string{"release-manager"}}}
	roles := func(userID string) []string {
		if userID == "alice" {
			return []string{"release-manager"}
		}
		return []string{"developer"}
	}
	mgr, store := setupTestManager(t, rules, resumer, nil, roles)
	ctx := context.Background()
	createDeployment(t, store, "dep-1")

	rec, _, err := mgr.Request(ctx, "dep-1", "production", "approved")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if _, err := mgr.Approve(ctx, rec.ID, "bob", ""); !errors.Is(err, ErrRoleNotAllowed) {
		t.Errorf("expected ErrRoleNotAllowed, got %v", err)
	}
	if _, err := mgr.Approve(ctx, rec.ID, "alice", ""); err != nil {
		t.Errorf("release manager should approve: %v", err)
	}
}

func TestRequestIdempotent(t *testing.T) {
	resumer := &fakeResumer{}
	rules := []Rule{{Environment: "production", Required: true, MinApprovals: 1}}
	mgr, store := setupTestManager(t, rules, resumer, nil, nil)
	ctx := context.Background()
	createDeployment(t, store, "dep-1")

	first, _, err := mgr.Request(ctx, "dep-1", "production", "approved")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	second, _, err := mgr.Request(ctx, "dep-1", "production", "approved")
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected existing round reused, got %s and %s", first.ID, second.ID)
	}
}

func TestNotifyRetries(t *testing.T) {
	resumer := &fakeResumer{}
	notifier := &flakyNotifier{failures: 2}
	rules := []Rule{{Environment: "production", Required: true, MinApprovals: 1}}
	mgr, store := setupTestManager(t, rules, resumer, notifier, nil)
	ctx := context.Background()
	createDeployment(t, store, "dep-1")

	if _, _, err := mgr.Request(ctx, "dep-1", "production", "approved"); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if notifier.calls != 3 {
		t.Errorf("expected 3 notification attempts, got %d", notifier.calls)
	}
}

func TestExpireDue(t *testing.T) {
	resumer := &fakeResumer{}
	rules := []Rule{{Environment: "production", Required: true, MinApprovals: 1, Timeout: -time.Hour}}
	mgr, store := setupTestManager(t, rules, resumer, nil, nil)
	ctx := context.Background()
	createDeployment(t, store, "dep-1")

	// Negative timeout puts the deadline in the past immediately
	if _, _, err := mgr.Request(ctx, "dep-1", "production", "approved"); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	expired, err := mgr.ExpireDue(ctx)
	if err != nil {
		t.Fatalf("expire failed: %v", err)
	}
	if expired != 1 {
		t.Errorf("expected 1 expired round, got %d", expired)
	}
	if len(resumer.rejected) != 1 {
		t.Errorf("expected expiry to reject the deployment, got %v", resumer.rejected)
	}
}
