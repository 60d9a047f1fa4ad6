package stores

import (
	"context"
	"errors"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
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
	return store
}

func testDeployment(id string) *DeploymentRecord {
	now := time.Now().UTC()
	return &DeploymentRecord{
		ID:           id,
		Name:         "checkout-service",
		Repository:   "https://example.com/acme/checkout.git",
		Environment:  "staging",
		Status:       "created",
		Requirements: "{}",
		Resources:    "[]",
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}
}

func TestDeploymentCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := testDeployment("dep-1")
	if err := store.CreateDeployment(ctx, rec); err != nil {
		t.Fatalf("failed to create deployment: %v", err)
	}

	got, err := store.GetDeployment(ctx, "dep-1")
	if err != nil {
		t.Fatalf("failed to get deployment: %v", err)
	}
	if got.Name != "checkout-service" {
		t.Errorf("expected name checkout-service, got %s", got.Name)
	}
	if got.Status != "created" {
		t.Errorf("expected status created, got %s", got.Status)
	}
	if got.Version != 1 {
		t.Errorf("expected version 1, got %d", got.Version)
	}

	_, err = store.GetDeployment(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListDeploymentsByStatus(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"dep-1", "dep-2"} {
		if err := store.CreateDeployment(ctx, testDeployment(id)); err != nil {
			t.Fatalf("failed to create deployment: %v", err)
		}
	}
	if _, err := store.TransitionDeployment(ctx, "dep-2", "created", "analyzing", "{}", 1); err != nil {
		t.Fatalf("failed to transition deployment: %v", err)
	}

	all, err := store.ListDeployments(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list deployments: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 deployments, got %d", len(all))
	}

	status := "analyzing"
	filtered, err := store.ListDeployments(ctx, &status, 10, 0)
	if err != nil {
		t.Fatalf("failed to list filtered deployments: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "dep-2" {
		t.Errorf("expected only dep-2 analyzing, got %+v", filtered)
	}
}

func TestTransitionDeployment(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateDeployment(ctx, testDeployment("dep-1")); err != nil {
		t.Fatalf("failed to create deployment: %v", err)
	}

	tr, err := store.TransitionDeployment(ctx, "dep-1", "created", "analyzing", `{"trigger":"process"}`, 1)
	if err != nil {
		t.Fatalf("failed to transition deployment: %v", err)
	}
	if tr.FromStatus != "created" || tr.Status != "analyzing" {
		t.Errorf("unexpected transition record: %+v", tr)
	}

	got, err := store.GetDeployment(ctx, "dep-1")
	if err != nil {
		t.Fatalf("failed to get deployment: %v", err)
	}
	if got.Status != "analyzing" {
		t.Errorf("expected status analyzing, got %s", got.Status)
	}
	if got.PreviousStatus != "created" {
		t.Errorf("expected previous status created, got %s", got.PreviousStatus)
	}
	if got.Version != 2 {
		t.Errorf("expected version 2, got %d", got.Version)
	}

	history, err := store.ListTransitions(ctx, "dep-1")
	if err != nil {
		t.Fatalf("failed to list transitions: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected exactly 1 history record, got %d", len(history))
	}
}

func TestTransitionDeploymentVersionConflict(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateDeployment(ctx, testDeployment("dep-1")); err != nil {
		t.Fatalf("failed to create deployment: %v", err)
	}

	// Stale version loses and leaves no history row behind
	_, err := store.TransitionDeployment(ctx, "dep-1", "created", "analyzing", "{}", 99)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	history, err := store.ListTransitions(ctx, "dep-1")
	if err != nil {
		t.Fatalf("failed to list transitions: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected no history records after conflict, got %d", len(history))
	}

	_, err = store.TransitionDeployment(ctx, "missing", "created", "analyzing", "{}", 1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing deployment, got %v", err)
	}
}

func TestUpdateDeploymentRequirements(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateDeployment(ctx, testDeployment("dep-1")); err != nil {
		t.Fatalf("failed to create deployment: %v", err)
	}

	if err := store.UpdateDeploymentRequirements(ctx, "dep-1", `{"plan":"steps"}`, 1); err != nil {
		t.Fatalf("failed to update requirements: %v", err)
	}

	got, err := store.GetDeployment(ctx, "dep-1")
	if err != nil {
		t.Fatalf("failed to get deployment: %v", err)
	}
	if got.Requirements != `{"plan":"steps"}` {
		t.Errorf("unexpected requirements: %s", got.Requirements)
	}
	if got.Version != 2 {
		t.Errorf("expected version 2, got %d", got.Version)
	}

	err = store.UpdateDeploymentRequirements(ctx, "dep-1", "{}", 1)
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict on stale version, got %v", err)
	}
}

func TestServiceConfigLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateDeployment(ctx, testDeployment("dep-1")); err != nil {
		t.Fatalf("failed to create deployment: %v", err)
	}

	now := time.Now().UTC()
	cfg := &ServiceConfigRecord{
		ID:             "sc-1",
		DeploymentID:   "dep-1",
		ServiceType:    "postgres",
		EncryptedCreds: []byte("ciphertext"),
		Environment:    "staging",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := store.UpsertServiceConfig(ctx, cfg); err != nil {
		t.Fatalf("failed to upsert service config: %v", err)
	}

	got, err := store.GetServiceConfig(ctx, "dep-1", "postgres")
	if err != nil {
		t.Fatalf("failed to get service config: %v", err)
	}
	if got.Validated || got.SandboxTested {
		t.Errorf("new config should not be validated or tested: %+v", got)
	}

	if err := store.MarkServiceConfigTested(ctx, "dep-1", "postgres", true, now); err != nil {
		t.Fatalf("failed to mark service config tested: %v", err)
	}

	got, err = store.GetServiceConfig(ctx, "dep-1", "postgres")
	if err != nil {
		t.Fatalf("failed to get service config: %v", err)
	}
	if !got.Validated || !got.SandboxTested {
		t.Errorf("expected validated and sandbox tested, got %+v", got)
	}

	// Upsert with the same (deployment, service) replaces, not duplicates
	cfg.EncryptedCreds = []byte("rotated")
	if err := store.UpsertServiceConfig(ctx, cfg); err != nil {
		t.Fatalf("failed to re-upsert service config: %v", err)
	}
	configs, err := store.ListServiceConfigs(ctx, "dep-1")
	if err != nil {
		t.Fatalf("failed to list service configs: %v", err)
	}
	if len(configs) != 1 {
		t.Errorf("expected 1 service config, got %d", len(configs))
	}
}

func TestCredentialCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	rec := &CredentialRecord{
		ID:               "cred-1",
		Owner:            "alice",
		ServiceType:      "postgres",
		Name:             "staging-db",
		EncryptedPayload: []byte("ciphertext"),
		Tags:             `["db"]`,
		Reusable:         true,
		SharedWith:       "[]",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := store.CreateCredential(ctx, rec); err != nil {
		t.Fatalf("failed to create credential: %v", err)
	}

	got, err := store.GetCredentialByName(ctx, "alice", "postgres", "staging-db")
	if err != nil {
		t.Fatalf("failed to get credential by name: %v", err)
	}
	if got.ID != "cred-1" {
		t.Errorf("expected cred-1, got %s", got.ID)
	}

	if err := store.TouchCredential(ctx, "cred-1", now); err != nil {
		t.Fatalf("failed to touch credential: %v", err)
	}
	got, err = store.GetCredential(ctx, "cred-1")
	if err != nil {
		t.Fatalf("failed to get credential: %v", err)
	}
	if got.UsageCount != 1 {
		t.Errorf("expected usage count 1, got %d", got.UsageCount)
	}
	if got.LastUsedAt == nil {
		t.Error("expected last_used_at to be set")
	}

	if err := store.DeleteCredential(ctx, "cred-1"); err != nil {
		t.Fatalf("failed to delete credential: %v", err)
	}
	if _, err := store.GetCredential(ctx, "cred-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestApprovalRequestLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateDeployment(ctx, testDeployment("dep-1")); err != nil {
		t.Fatalf("failed to create deployment: %v", err)
	}

	now := time.Now().UTC()
	req := &ApprovalRequestRecord{
		ID:            "req-1",
		DeploymentID:  "dep-1",
		Environment:   "production",
		Status:        ApprovalRequestPending,
		RequiredCount: 2,
		ResumeTarget:  "sandbox_deploying",
		RequestedAt:   now,
	}
	if err := store.CreateApprovalRequest(ctx, req); err != nil {
		t.Fatalf("failed to create approval request: %v", err)
	}

	pending, err := store.GetPendingApprovalForDeployment(ctx, "dep-1")
	if err != nil {
		t.Fatalf("failed to get pending approval: %v", err)
	}
	if pending.ResumeTarget != "sandbox_deploying" {
		t.Errorf("expected resume target sandbox_deploying, got %s", pending.ResumeTarget)
	}

	dec := &ApprovalDecisionRecord{
		RequestID:    "req-1",
		DeploymentID: "dep-1",
		ApproverID:   "bob",
		Decision:     "approved",
		CreatedAt:    now,
	}
	if err := store.AppendApprovalDecision(ctx, dec); err != nil {
		t.Fatalf("failed to append decision: %v", err)
	}

	// Same approver cannot decide twice in one round
	dup := &ApprovalDecisionRecord{
		RequestID:    "req-1",
		DeploymentID: "dep-1",
		ApproverID:   "bob",
		Decision:     "approved",
		CreatedAt:    now,
	}
	if err := store.AppendApprovalDecision(ctx, dup); err == nil {
		t.Error("expected duplicate approver decision to fail")
	}

	if err := store.ResolveApprovalRequest(ctx, "req-1", ApprovalRequestApproved, now); err != nil {
		t.Fatalf("failed to resolve approval request: %v", err)
	}
	if err := store.ResolveApprovalRequest(ctx, "req-1", ApprovalRequestRejected, now); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound resolving non-pending request, got %v", err)
	}

	if _, err := store.GetPendingApprovalForDeployment(ctx, "dep-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected no pending approval after resolution, got %v", err)
	}
}

func TestExpireApprovalRequests(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateDeployment(ctx, testDeployment("dep-1")); err != nil {
		t.Fatalf("failed to create deployment: %v", err)
	}

	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	req := &ApprovalRequestRecord{
		ID:            "req-1",
		DeploymentID:  "dep-1",
		Environment:   "production",
		Status:        ApprovalRequestPending,
		RequiredCount: 1,
		ResumeTarget:  "approved",
		RequestedAt:   past,
		ExpiresAt:     &past,
	}
	if err := store.CreateApprovalRequest(ctx, req); err != nil {
		t.Fatalf("failed to create approval request: %v", err)
	}

	expired, err := store.ExpireApprovalRequests(ctx, now)
	if err != nil {
		t.Fatalf("failed to expire approval requests: %v", err)
	}
	if expired != 1 {
		t.Errorf("expected 1 expired request, got %d", expired)
	}

	got, err := store.GetApprovalRequest(ctx, "req-1")
	if err != nil {
		t.Fatalf("failed to get approval request: %v", err)
	}
	if got.Status != ApprovalRequestExpired {
		t.Errorf("expected status expired, got %s", got.Status)
	}
}

func TestAuditEntries(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	depID := "dep-1"
	for i, action := range []string{"deployment.transition", "credential.read"} {
		entry := &AuditEntry{
			Action:       action,
			Actor:        "alice",
			DeploymentID: &depID,
			Timestamp:    time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := store.CreateAuditEntry(ctx, entry); err != nil {
			t.Fatalf("failed to create audit entry: %v", err)
		}
		if entry.ID == 0 {
			t.Error("expected audit entry ID to be set")
		}
	}

	action := "credential.read"
	entries, err := store.ListAuditEntries(ctx, &action, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 filtered entry, got %d", len(entries))
	}
}

func TestServiceDefinitionUpsert(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	def := &ServiceDefinitionRecord{
		ServiceType:      "redis",
		CredentialSchema: `{"required":["host","password"]}`,
		TestSource:       "def test(creds): return ping(creds)",
		TestLanguage:     "starlark",
		GeneratedAt:      time.Now().UTC(),
		Active:           true,
	}
	if err := store.UpsertServiceDefinition(ctx, def); err != nil {
		t.Fatalf("failed to upsert service definition: %v", err)
	}

	def.TestLanguage = "builtin"
	if err := store.UpsertServiceDefinition(ctx, def); err != nil {
		t.Fatalf("failed to re-upsert service definition: %v", err)
	}

	got, err := store.GetServiceDefinition(ctx, "redis")
	if err != nil {
		t.Fatalf("failed to get service definition: %v", err)
	}
	if got.TestLanguage != "builtin" {
		t.Errorf("expected updated test language builtin, got %s", got.TestLanguage)
	}
}

func TestHealthCheck(t *testing.T) {
	store := setupTestStore(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("health check failed: %v", err)
	}
}
