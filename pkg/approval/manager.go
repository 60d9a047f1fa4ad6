package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deployforge/deployforge/pkg/stores"
	"github.com/deployforge/deployforge/pkg/telemetry"
)

// Errors returned by the manager.
var (
	// ErrRoleNotAllowed indicates the approver's roles do not satisfy the
	// environment's rule.
	ErrRoleNotAllowed = errors.New("role not allowed to approve")

	// ErrDuplicateDecision indicates the approver already decided this round.
	ErrDuplicateDecision = errors.New("approver already decided this round")

	// ErrRoundNotPending indicates the round has already resolved.
	ErrRoundNotPending = errors.New("approval round is not pending")
)

// Resumer continues a deployment once its approval round resolves. The
// orchestrator implements this.
type Resumer interface {
	// ResumeApproved transitions the deployment to the round's resume
	// target.
	ResumeApproved(ctx context.Context, deploymentID, target string) error

	// ResumeRejected transitions the deployment to rejected.
	ResumeRejected(ctx context.Context, deploymentID, reason string) error
}

// Notifier delivers approval requests to approvers.
type Notifier interface {
	NotifyApprovalRequested(ctx context.Context, deploymentID, environment string, requiredCount int) error
}

// RoleLookup resolves a user's roles.
type RoleLookup func(userID string) []string

// ManagerConfig configures an approval manager.
type ManagerConfig struct {
	// NotifyRetries is how many times to retry a failed notification.
	NotifyRetries int

	// NotifyBackoff is the base backoff between notification retries,
	// doubled each attempt.
	NotifyBackoff time.Duration
}

// Manager runs approval rounds.
type Manager struct {
	store    stores.Store
	rules    *RuleSet
	resumer  Resumer
	notifier Notifier
	roles    RoleLookup
	cfg      ManagerConfig
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	events   *telemetry.EventPublisher
}

// NewManager creates an approval manager. notifier may be nil.
func NewManager(store stores.Store, rules *RuleSet, resumer Resumer, notifier Notifier, roles RoleLookup, cfg ManagerConfig, logger *telemetry.Logger, metrics *telemetry.Metrics, events *telemetry.EventPublisher) *Manager {
	if cfg.NotifyRetries <= 0 {
		cfg.NotifyRetries = 3
	}
	if cfg.NotifyBackoff <= 0 {
		cfg.NotifyBackoff = time.Second
	}
	if roles == nil {
		roles = func(string) []string { return nil }
	}
	return &Manager{
		store:    store,
		rules:    rules,
		resumer:  resumer,
		notifier: notifier,
		roles:    roles,
		cfg:      cfg,
		logger:   logger.NewComponentLogger("approval"),
		metrics:  metrics,
		events:   events,
	}
}

// Request opens an approval round for a deployment. The resume target is
// captured now so a later rule change cannot redirect an in-flight round.
// If the environment does not require approval, no round is opened and
// required is false, letting the caller proceed directly.
func (m *Manager) Request(ctx context.Context, deploymentID, environment, resumeTarget string) (rec *stores.ApprovalRequestRecord, required bool, err error) {
	rule := m.rules.For(environment)
	if !rule.Required {
		m.logger.WithDeploymentID(deploymentID).
			WithField("environment", environment).
			Debug("approval not required")
		return nil, false, nil
	}

	if existing, err := m.store.GetPendingApprovalForDeployment(ctx, deploymentID); err == nil {
		return existing, true, nil
	} else if !errors.Is(err, stores.ErrNotFound) {
		return nil, false, err
	}

	now := time.Now().UTC()
	rec = &stores.ApprovalRequestRecord{
		ID:            uuid.New().String(),
		DeploymentID:  deploymentID,
		Environment:   environment,
		Status:        stores.ApprovalRequestPending,
		RequiredCount: rule.MinApprovals,
		ResumeTarget:  resumeTarget,
		RequestedAt:   now,
	}
	if rule.Timeout > 0 {
		expires := now.Add(rule.Timeout)
		rec.ExpiresAt = &expires
	}

	if err := m.store.CreateApprovalRequest(ctx, rec); err != nil {
		return nil, false, fmt.Errorf("failed to create approval request: %w", err)
	}

	if m.metrics != nil {
		m.metrics.RecordApprovalRequested(environment)
	}
	if m.events != nil {
		_ = m.events.PublishApprovalRequested(deploymentID, environment, rule.MinApprovals)
	}

	m.notify(ctx, deploymentID, environment, rule.MinApprovals)

	m.logger.WithDeploymentID(deploymentID).
		WithField("request_id", rec.ID).
		WithField("required_count", rule.MinApprovals).
		Info("approval round opened")

	return rec, true, nil
}

// notify delivers the request with bounded retries. Notification failure
// never fails the round; approvers can still find it via listing.
func (m *Manager) notify(ctx context.Context, deploymentID, environment string, requiredCount int) {
	if m.notifier == nil {
		return
	}

	backoff := m.cfg.NotifyBackoff
	for attempt := 0; attempt <= m.cfg.NotifyRetries; attempt++ {
		err := m.notifier.NotifyApprovalRequested(ctx, deploymentID, environment, requiredCount)
		if err == nil {
			return
		}
		m.logger.WithDeploymentID(deploymentID).
			WithError(err).
			WithField("attempt", attempt+1).
			Warn("approval notification failed")

		if attempt == m.cfg.NotifyRetries {
			return
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
	}
}

// Approve records one approver's approval. When the required count of
// distinct approvers is reached, the round resolves and the deployment
// resumes to the captured target.
func (m *Manager) Approve(ctx context.Context, requestID, approverID, comment string) (*stores.ApprovalRequestRecord, error) {
	rec, rule, err := m.pendingRound(ctx, requestID, approverID)
	if err != nil {
		return nil, err
	}

	if err := m.appendDecision(ctx, rec, approverID, "approved", comment); err != nil {
		return nil, err
	}

	decisions, err := m.store.ListApprovalDecisions(ctx, requestID)
	if err != nil {
		return nil, err
	}
	approvals := 0
	for _, d := range decisions {
		if d.Decision == "approved" {
			approvals++
		}
	}

	m.logger.WithDeploymentID(rec.DeploymentID).
		WithApprover(approverID).
		WithField("approvals", approvals).
		WithField("required", rule.MinApprovals).
		Info("approval recorded")

	if approvals < rec.RequiredCount {
		return rec, nil
	}

	now := time.Now().UTC()
	if err := m.store.ResolveApprovalRequest(ctx, requestID, stores.ApprovalRequestApproved, now); err != nil {
		return nil, err
	}
	rec.Status = stores.ApprovalRequestApproved
	rec.ResolvedAt = &now

	if m.metrics != nil {
		m.metrics.RecordApprovalResolved("approved")
	}
	if m.events != nil {
		_ = m.events.PublishApprovalResolved(rec.DeploymentID, "approved")
	}

	if err := m.resumer.ResumeApproved(ctx, rec.DeploymentID, rec.ResumeTarget); err != nil {
		return nil, fmt.Errorf("round approved but resume failed: %w", err)
	}
	return rec, nil
}

// Reject records a rejection. A single rejection resolves the round.
func (m *Manager) Reject(ctx context.Context, requestID, approverID, comment string) (*stores.ApprovalRequestRecord, error) {
	rec, _, err := m.pendingRound(ctx, requestID, approverID)
	if err != nil {
		return nil, err
	}

	if err := m.appendDecision(ctx, rec, approverID, "rejected", comment); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := m.store.ResolveApprovalRequest(ctx, requestID, stores.ApprovalRequestRejected, now); err != nil {
		return nil, err
	}
	rec.Status = stores.ApprovalRequestRejected
	rec.ResolvedAt = &now

	if m.metrics != nil {
		m.metrics.RecordApprovalResolved("rejected")
	}
	if m.events != nil {
		_ = m.events.PublishApprovalResolved(rec.DeploymentID, "rejected")
	}

	reason := comment
	if reason == "" {
		reason = fmt.Sprintf("rejected by %s", approverID)
	}
	if err := m.resumer.ResumeRejected(ctx, rec.DeploymentID, reason); err != nil {
		return nil, fmt.Errorf("round rejected but resume failed: %w", err)
	}

	m.logger.WithDeploymentID(rec.DeploymentID).
		WithApprover(approverID).
		Info("approval round rejected")

	return rec, nil
}

// ApproveDeployment records an approval on the deployment's single
// pending round, resolving the round id internally.
func (m *Manager) ApproveDeployment(ctx context.Context, deploymentID, approverID, comment string) (*stores.ApprovalRequestRecord, error) {
	rec, err := m.store.GetPendingApprovalForDeployment(ctx, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("no pending approval round for deployment %s: %w", deploymentID, err)
	}
	return m.Approve(ctx, rec.ID, approverID, comment)
}

// RejectDeployment rejects the deployment's single pending round.
func (m *Manager) RejectDeployment(ctx context.Context, deploymentID, approverID, comment string) (*stores.ApprovalRequestRecord, error) {
	rec, err := m.store.GetPendingApprovalForDeployment(ctx, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("no pending approval round for deployment %s: %w", deploymentID, err)
	}
	return m.Reject(ctx, rec.ID, approverID, comment)
}

// pendingRound loads a pending round and checks the approver's role and
// prior decisions.
func (m *Manager) pendingRound(ctx context.Context, requestID, approverID string) (*stores.ApprovalRequestRecord, Rule, error) {
	rec, err := m.store.GetApprovalRequest(ctx, requestID)
	if err != nil {
		return nil, Rule{}, err
	}
	if rec.Status != stores.ApprovalRequestPending {
		return nil, Rule{}, fmt.Errorf("request %s is %s: %w", requestID, rec.Status, ErrRoundNotPending)
	}

	rule := m.rules.For(rec.Environment)
	if !rule.roleAllowed(m.roles(approverID)) {
		return nil, Rule{}, fmt.Errorf("approver %s in %s: %w", approverID, rec.Environment, ErrRoleNotAllowed)
	}

	decisions, err := m.store.ListApprovalDecisions(ctx, requestID)
	if err != nil {
		return nil, Rule{}, err
	}
	for _, d := range decisions {
		if d.ApproverID == approverID {
			return nil, Rule{}, fmt.Errorf("approver %s on request %s: %w", approverID, requestID, ErrDuplicateDecision)
		}
	}

	return rec, rule, nil
}

func (m *Manager) appendDecision(ctx context.Context, rec *stores.ApprovalRequestRecord, approverID, decision, comment string) error {
	return m.store.AppendApprovalDecision(ctx, &stores.ApprovalDecisionRecord{
		RequestID:    rec.ID,
		DeploymentID: rec.DeploymentID,
		ApproverID:   approverID,
		Decision:     decision,
		Comment:      comment,
		CreatedAt:    time.Now().UTC(),
	})
}

// ListPending returns all open approval rounds.
func (m *Manager) ListPending(ctx context.Context) ([]*stores.ApprovalRequestRecord, error) {
	return m.store.ListPendingApprovalRequests(ctx)
}

// Decisions returns the decisions recorded for one round.
func (m *Manager) Decisions(ctx context.Context, requestID string) ([]*stores.ApprovalDecisionRecord, error) {
	return m.store.ListApprovalDecisions(ctx, requestID)
}

// ExpireDue resolves rounds past their deadline and rejects their
// deployments. Intended to run periodically.
func (m *Manager) ExpireDue(ctx context.Context) (int, error) {
	pending, err := m.store.ListPendingApprovalRequests(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	expired := 0
	for _, rec := range pending {
		if rec.ExpiresAt == nil || rec.ExpiresAt.After(now) {
			continue
		}
		if err := m.store.ResolveApprovalRequest(ctx, rec.ID, stores.ApprovalRequestExpired, now); err != nil {
			if errors.Is(err, stores.ErrNotFound) {
				continue // lost a race with a concurrent decision
			}
			return expired, err
		}
		expired++

		if m.metrics != nil {
			m.metrics.RecordApprovalResolved("expired")
		}
		if m.events != nil {
			_ = m.events.PublishApprovalResolved(rec.DeploymentID, "expired")
		}
		if err := m.resumer.ResumeRejected(ctx, rec.DeploymentID, "approval round expired"); err != nil {
			m.logger.WithDeploymentID(rec.DeploymentID).
				WithError(err).
				Error("failed to reject deployment after expiry")
		}
	}
	return expired, nil
}
