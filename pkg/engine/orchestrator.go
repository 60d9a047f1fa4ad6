package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deployforge/deployforge/pkg/approval"
	"github.com/deployforge/deployforge/pkg/credentials"
	"github.com/deployforge/deployforge/pkg/gate"
	"github.com/deployforge/deployforge/pkg/policy"
	"github.com/deployforge/deployforge/pkg/sandbox"
	"github.com/deployforge/deployforge/pkg/stores"
	"github.com/deployforge/deployforge/pkg/telemetry"
	"github.com/deployforge/deployforge/pkg/toolproto"
)

// Config tunes the orchestrator's work loop and monitoring.
type Config struct {
	// HopCap bounds the transitions committed per Process call.
	HopCap int

	// MonitorInterval is the health poll period for deployed resources.
	MonitorInterval time.Duration
}

// Deps bundles the orchestrator's collaborators. Store, Gate, Generator,
// Cloud, Cipher and Logger are required; the rest degrade to no-ops.
type Deps struct {
	Store         stores.Store
	Gate          *gate.Gate
	Policies      *policy.Engine
	Sandbox       *sandbox.Registry
	Tools         *toolproto.Registry
	Cipher        *credentials.Cipher
	Generator     CodeGenerator
	SourceControl SourceControl
	Cloud         CloudProvider
	Notifier      Notifier
	Logger        *telemetry.Logger
	Metrics       *telemetry.Metrics
	Events        *telemetry.EventPublisher
	Tracer        *telemetry.Tracer
}

// Orchestrator drives deployments through the lifecycle state machine.
type Orchestrator struct {
	store    stores.Store
	gate     *gate.Gate
	policies *policy.Engine
	sandbox  *sandbox.Registry
	tools    *toolproto.Registry
	cipher   *credentials.Cipher
	gen      CodeGenerator
	scm      SourceControl
	cloud    CloudProvider
	notifier Notifier

	approvalsMu sync.RWMutex
	approvals   *approval.Manager

	cfg     Config
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
	tracer  *telemetry.Tracer

	handlers map[DeploymentStatus]handler

	monitorMu sync.Mutex
	monitors  map[string]*monitorHandle
}

// NewOrchestrator wires an orchestrator. The approval manager is attached
// afterwards with SetApprovals because it needs the orchestrator as its
// resumer.
func NewOrchestrator(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Gate == nil {
		return nil, fmt.Errorf("gate is required")
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("code generator is required")
	}
	if deps.Cloud == nil {
		return nil, fmt.Errorf("cloud provider is required")
	}
	if deps.Cipher == nil {
		return nil, fmt.Errorf("cipher is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if cfg.HopCap <= 0 {
		cfg.HopCap = 25
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 30 * time.Second
	}

	o := &Orchestrator{
		store:    deps.Store,
		gate:     deps.Gate,
		policies: deps.Policies,
		sandbox:  deps.Sandbox,
		tools:    deps.Tools,
		cipher:   deps.Cipher,
		gen:      deps.Generator,
		scm:      deps.SourceControl,
		cloud:    deps.Cloud,
		notifier: deps.Notifier,
		cfg:      cfg,
		logger:   deps.Logger.NewComponentLogger("orchestrator"),
		metrics:  deps.Metrics,
		events:   deps.Events,
		tracer:   deps.Tracer,
		monitors: make(map[string]*monitorHandle),
	}
	o.handlers = o.buildHandlers()
	return o, nil
}

// SetApprovals attaches the approval manager once it has been constructed
// with this orchestrator as its resumer.
func (o *Orchestrator) SetApprovals(mgr *approval.Manager) {
	o.approvalsMu.Lock()
	o.approvals = mgr
	o.approvalsMu.Unlock()
}

func (o *Orchestrator) approvalManager() *approval.Manager {
	o.approvalsMu.RLock()
	defer o.approvalsMu.RUnlock()
	return o.approvals
}

// CreateSpec describes a new deployment.
type CreateSpec struct {
	Name        string
	Repository  string
	Environment string
}

// CreateDeployment persists a new deployment in the created status.
func (o *Orchestrator) CreateDeployment(ctx context.Context, spec CreateSpec) (*Deployment, error) {
	if spec.Name == "" || spec.Repository == "" || spec.Environment == "" {
		return nil, NewPermanentError("name, repository and environment are required", nil).
			WithCode(ErrCodeValidation)
	}

	now := time.Now().UTC()
	rec := &stores.DeploymentRecord{
		ID:           uuid.New().String(),
		Name:         spec.Name,
		Repository:   spec.Repository,
		Environment:  spec.Environment,
		Status:       string(StatusCreated),
		Requirements: "{}",
		Resources:    "[]",
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}
	if err := o.store.CreateDeployment(ctx, rec); err != nil {
		return nil, NewPermanentError("failed to create deployment", err).WithOperation("create")
	}

	o.audit(ctx, "deployment.created", "system", rec.ID, map[string]string{
		"name": spec.Name, "environment": spec.Environment,
	})
	if o.events != nil {
		_ = o.events.PublishDeploymentCreated(rec.ID, spec.Name, spec.Environment)
	}

	o.logger.WithDeploymentID(rec.ID).
		WithField("environment", spec.Environment).
		Info("deployment created")
	return o.loadDeployment(ctx, rec.ID)
}

// GetDeployment returns the deployment aggregate.
func (o *Orchestrator) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	return o.loadDeployment(ctx, id)
}

// GetHistory returns the append-only transition history.
func (o *Orchestrator) GetHistory(ctx context.Context, id string) ([]*TransitionRecord, error) {
	recs, err := o.store.ListTransitions(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]*TransitionRecord, 0, len(recs))
	for _, rec := range recs {
		t := &TransitionRecord{
			ID:           rec.ID,
			DeploymentID: rec.DeploymentID,
			FromStatus:   DeploymentStatus(rec.FromStatus),
			Status:       DeploymentStatus(rec.Status),
			Timestamp:    rec.Timestamp,
		}
		if rec.Metadata != "" {
			_ = json.Unmarshal([]byte(rec.Metadata), &t.Metadata)
		}
		out = append(out, t)
	}
	return out, nil
}

// ListDeployments lists deployments, optionally filtered by status.
func (o *Orchestrator) ListDeployments(ctx context.Context, status *DeploymentStatus, limit, offset int) ([]*Deployment, error) {
	var filter *string
	if status != nil {
		s := string(*status)
		filter = &s
	}
	recs, err := o.store.ListDeployments(ctx, filter, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]*Deployment, 0, len(recs))
	for _, rec := range recs {
		dep, err := recordToDeployment(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, dep)
	}
	return out, nil
}

// StepStatus returns the per-step completion snapshot.
func (o *Orchestrator) StepStatus(ctx context.Context, id string) (map[gate.Step]*gate.Completion, error) {
	return o.gate.StepStatus(ctx, id)
}

// Transition validates and commits a status change. A request for the
// current status is a no-op: nothing is written and no history is appended.
func (o *Orchestrator) Transition(ctx context.Context, id string, target DeploymentStatus, metadata map[string]string) error {
	if !IsKnownStatus(target) {
		return NewPermanentError(fmt.Sprintf("unknown status %q", target), nil).
			WithCode(ErrCodeValidation).WithDeployment(id)
	}

	rec, err := o.store.GetDeployment(ctx, id)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return NewPermanentError("deployment not found", err).
				WithCode(ErrCodeNotFound).WithDeployment(id)
		}
		return err
	}
	current := DeploymentStatus(rec.Status)

	if current == target {
		o.logger.WithDeploymentID(id).WithStatus(string(current)).
			Debug("transition to current status is a no-op")
		return nil
	}
	if !CanTransition(current, target) {
		return NewPermanentError(
			fmt.Sprintf("no edge from %s to %s", current, target), nil).
			WithCode(ErrCodeInvalidTransition).WithDeployment(id).
			WithDetail("from", string(current)).WithDetail("to", string(target))
	}

	if err := o.guardTransition(ctx, rec, current, target); err != nil {
		return err
	}

	metaJSON := "{}"
	if len(metadata) > 0 {
		blob, err := json.Marshal(metadata)
		if err != nil {
			return NewPermanentError("failed to encode transition metadata", err).WithDeployment(id)
		}
		metaJSON = string(blob)
	}

	if _, err := o.store.TransitionDeployment(ctx, id, string(current), string(target), metaJSON, rec.Version); err != nil {
		if errors.Is(err, stores.ErrVersionConflict) {
			return NewConflictError("deployment modified concurrently", err).
				WithCode(ErrCodeConflict).WithDeployment(id)
		}
		if errors.Is(err, stores.ErrNotFound) {
			return NewPermanentError("deployment not found", err).
				WithCode(ErrCodeNotFound).WithDeployment(id)
		}
		return err
	}

	if o.metrics != nil {
		o.metrics.RecordTransition(string(current), string(target))
	}
	if o.events != nil {
		_ = o.events.PublishDeploymentTransitioned(id, string(current), string(target))
	}
	o.audit(ctx, "deployment.transition", "system", id, map[string]string{
		"from": string(current), "to": string(target),
	})

	o.logger.WithDeploymentID(id).
		WithField("from", string(current)).
		WithField("to", string(target)).
		Info("deployment transitioned")
	return nil
}

// guardTransition evaluates the policy engine on irreversible edges.
func (o *Orchestrator) guardTransition(ctx context.Context, rec *stores.DeploymentRecord, from, to DeploymentStatus) error {
	if o.policies == nil {
		return nil
	}
	if to != StatusDeploying && to != StatusSandboxDeploying {
		return nil
	}

	input, err := o.policyInput(ctx, rec, from, to)
	if err != nil {
		return err
	}
	result, err := o.policies.EvaluateTransition(ctx, input)
	if err != nil {
		return NewTransientError("policy evaluation failed", err).WithDeployment(rec.ID)
	}
	if result.Allowed {
		return nil
	}

	reasons := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		reasons = append(reasons, v.Message)
		if o.events != nil {
			_ = o.events.PublishPolicyDenied(rec.ID, v.Policy, v.Message)
		}
	}
	return NewPermanentError(
		fmt.Sprintf("transition denied by policy: %s", strings.Join(reasons, "; ")), nil).
		WithCode(ErrCodePolicyDenied).WithDeployment(rec.ID).
		WithDetail("violations", len(result.Violations))
}

// policyInput assembles the policy document for a transition.
func (o *Orchestrator) policyInput(ctx context.Context, rec *stores.DeploymentRecord, from, to DeploymentStatus) (*policy.Input, error) {
	input := &policy.Input{
		Deployment: &policy.DeploymentInfo{
			ID:          rec.ID,
			Name:        rec.Name,
			Repository:  rec.Repository,
			Environment: rec.Environment,
			Status:      rec.Status,
		},
		Transition: &policy.Transition{From: string(from), To: string(to)},
		Context: &policy.Context{
			Environment: rec.Environment,
			Timestamp:   time.Now().UTC(),
			Operation:   "transition",
		},
	}

	var req Requirements
	if rec.Requirements != "" {
		if err := json.Unmarshal([]byte(rec.Requirements), &req); err != nil {
			return nil, NewPermanentError("failed to decode requirements", err).WithDeployment(rec.ID)
		}
	}

	configs, err := o.store.ListServiceConfigs(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	ready := make(map[string]*stores.ServiceConfigRecord, len(configs))
	for _, cfg := range configs {
		ready[cfg.ServiceType] = cfg
	}
	credState := &policy.CredentialState{
		ServiceTypes:  req.DetectedServices,
		Validated:     true,
		SandboxTested: true,
	}
	for _, svc := range req.DetectedServices {
		cfg := ready[svc]
		if cfg == nil || !cfg.Validated {
			credState.Validated = false
		}
		if cfg == nil || !cfg.SandboxTested {
			credState.SandboxTested = false
		}
	}
	input.Credentials = credState

	approved, err := o.historyContains(ctx, rec.ID, StatusApproved)
	if err != nil {
		return nil, err
	}
	input.Approval = &policy.ApprovalState{
		Required:      rec.Environment == "production",
		Resolved:      approved,
		RequiredCount: rec.RequiredApprovals,
	}

	if o.tools != nil {
		for _, s := range o.tools.Statuses() {
			input.ToolServers = append(input.ToolServers, policy.ToolServer{
				Name:         s.Name,
				URL:          s.URL,
				FallbackOnly: s.FallbackOnly,
			})
		}
	}
	return input, nil
}

// Process advances a deployment through automatic transitions until it
// parks at a gated, failure or terminal status, or the hop cap is reached.
// The loop is explicit; handlers never recurse into Process.
func (o *Orchestrator) Process(ctx context.Context, id string) (*ProcessResult, error) {
	result := &ProcessResult{DeploymentID: id}

	if o.tracer != nil {
		sctx, span := o.tracer.StartProcessSpan(ctx, id)
		ctx = sctx
		defer span.End()
	}

	for {
		dep, err := o.loadDeployment(ctx, id)
		if err != nil {
			return result, err
		}
		if result.StartStatus == "" {
			result.StartStatus = dep.Status
		}
		result.Status = dep.Status

		if dep.Status.IsTerminal() {
			result.Outcome = OutcomeTerminal
			break
		}

		h := o.handlers[dep.Status]
		if h == nil {
			result.Outcome = OutcomeHeld
			result.Reason = fmt.Sprintf("status %s awaits operator intervention", dep.Status)
			if result.Hops > 0 {
				result.Outcome = OutcomeAdvanced
			}
			break
		}

		if result.Hops >= o.cfg.HopCap {
			result.Outcome = OutcomeStillRunning
			result.Reason = fmt.Sprintf("hop cap %d reached", o.cfg.HopCap)
			break
		}

		hres, err := o.runHandler(ctx, dep)
		if err != nil {
			o.failDeployment(ctx, result, dep, err)
			break
		}

		if hres.hold {
			result.Reason = hres.reason
			switch {
			case hres.blockingStep != "":
				result.Outcome = OutcomeBlocked
				result.BlockingStep = hres.blockingStep
			case result.Hops > 0:
				result.Outcome = OutcomeAdvanced
			default:
				result.Outcome = OutcomeHeld
			}
			break
		}

		if err := o.Transition(ctx, id, hres.next, hres.metadata); err != nil {
			return result, err
		}
		result.Hops++
		result.Status = hres.next
	}

	if o.metrics != nil {
		o.metrics.RecordProcessOutcome(string(result.Outcome))
	}
	o.logger.WithDeploymentID(id).
		WithField("outcome", string(result.Outcome)).
		WithField("hops", result.Hops).
		WithStatus(string(result.Status)).
		Debug("process finished")
	return result, nil
}

// failDeployment converts a handler error into the phase's failure
// transition. A status without a failure target surfaces the error in the
// result instead.
func (o *Orchestrator) failDeployment(ctx context.Context, result *ProcessResult, dep *Deployment, handlerErr error) {
	correlationID := uuid.New().String()
	result.Outcome = OutcomeFailed
	result.Reason = handlerErr.Error()
	result.CorrelationID = correlationID

	var ee *EngineError
	if o.metrics != nil && errors.As(handlerErr, &ee) {
		o.metrics.RecordError(string(ee.Class), ee.Code)
	}

	failTo, ok := FailureTargetFor(dep.Status)
	if !ok {
		o.logger.WithDeploymentID(dep.ID).
			WithStatus(string(dep.Status)).
			WithError(handlerErr).
			WithField("correlation_id", correlationID).
			Error("handler failed with no failure target")
		return
	}

	meta := map[string]string{
		"error":          handlerErr.Error(),
		"correlation_id": correlationID,
	}
	if err := o.Transition(ctx, dep.ID, failTo, meta); err != nil {
		o.logger.WithDeploymentID(dep.ID).
			WithError(err).
			Error("failed to commit failure transition")
		return
	}
	result.Status = failTo
	result.Hops++

	if o.events != nil {
		_ = o.events.PublishDeploymentFailed(dep.ID, string(failTo), handlerErr.Error())
	}
	o.logger.WithDeploymentID(dep.ID).
		WithStatus(string(failTo)).
		WithError(handlerErr).
		WithField("correlation_id", correlationID).
		Warn("handler failed, deployment moved to failure status")
}

// runHandler dispatches the handler for the deployment's status with panic
// recovery and duration metrics.
func (o *Orchestrator) runHandler(ctx context.Context, dep *Deployment) (res *handlerResult, err error) {
	start := time.Now()
	status := dep.Status

	if o.tracer != nil {
		sctx, span := o.tracer.StartHandlerSpan(ctx, dep.ID, string(status))
		ctx = sctx
		defer span.End()
	}

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = NewPermanentError(fmt.Sprintf("handler panic: %v", r), nil).
				WithCode(ErrCodeInternal).
				WithDeployment(dep.ID).
				WithOperation(string(status))
		}
		if o.metrics != nil {
			outcome := "advance"
			switch {
			case err != nil:
				outcome = "error"
			case res != nil && res.hold:
				outcome = "hold"
			}
			o.metrics.RecordHandler(string(status), outcome, time.Since(start))
		}
	}()

	return o.handlers[status](ctx, dep)
}

// Cancel moves a deployment to cancelled if an edge exists from its
// current status.
func (o *Orchestrator) Cancel(ctx context.Context, id, reason string) error {
	if err := o.Transition(ctx, id, StatusCancelled, map[string]string{"reason": reason}); err != nil {
		return err
	}
	o.StopMonitor(id)
	return nil
}

// SupplyVariables merges collected environment variables into the
// deployment's requirements.
func (o *Orchestrator) SupplyVariables(ctx context.Context, id string, vars map[string]string) error {
	dep, err := o.loadDeployment(ctx, id)
	if err != nil {
		return err
	}

	if dep.Requirements.Variables == nil {
		dep.Requirements.Variables = make(map[string]string, len(vars))
	}
	names := make([]string, 0, len(vars))
	for k, v := range vars {
		dep.Requirements.Variables[k] = v
		names = append(names, k)
	}
	if err := o.saveRequirements(ctx, dep); err != nil {
		return err
	}

	o.audit(ctx, "deployment.variables_supplied", "system", id, map[string]string{
		"count": fmt.Sprintf("%d", len(vars)),
	})
	o.logger.WithDeploymentID(id).
		WithField("variables", names).
		Info("variables supplied")
	return nil
}

// SupplyCredentials runs the sandbox connection test for a service type
// and, on success, persists the encrypted credentials as a validated,
// sandbox-tested service config. A failed test leaves the config
// unvalidated.
func (o *Orchestrator) SupplyCredentials(ctx context.Context, id, serviceType string, payload credentials.Payload) (*sandbox.Result, error) {
	dep, err := o.loadDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.sandbox == nil {
		return nil, NewPermanentError("no sandbox registry configured", nil).WithDeployment(id)
	}

	result, err := o.sandbox.Run(ctx, serviceType, payload)
	if err != nil {
		return nil, NewPermanentError("sandbox test could not run", err).
			WithCode(ErrCodeSandboxFailed).WithDeployment(id).
			WithDetail("service_type", serviceType)
	}

	if o.events != nil {
		_ = o.events.PublishSandboxTestCompleted(id, serviceType, result.Success)
	}
	if !result.Success {
		o.logger.WithDeploymentID(id).
			WithServiceType(serviceType).
			WithField("message", result.Message).
			Warn("credential sandbox test failed")
		return result, nil
	}

	blob, err := json.Marshal(payload)
	if err != nil {
		return nil, NewPermanentError("failed to encode credentials", err).WithDeployment(id)
	}
	sealed, err := o.cipher.Seal(blob)
	if err != nil {
		return nil, NewPermanentError("failed to encrypt credentials", err).WithDeployment(id)
	}

	now := time.Now().UTC()
	cfg := &stores.ServiceConfigRecord{
		ID:              uuid.New().String(),
		DeploymentID:    id,
		ServiceType:     serviceType,
		EncryptedCreds:  sealed,
		Validated:       true,
		ValidatedAt:     &now,
		SandboxTested:   true,
		SandboxTestedAt: &now,
		Environment:     dep.Environment,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.store.UpsertServiceConfig(ctx, cfg); err != nil {
		return nil, err
	}

	o.audit(ctx, "credential.validated", "system", id, map[string]string{
		"service_type": serviceType,
	})
	o.logger.WithDeploymentID(id).
		WithServiceType(serviceType).
		Info("service credentials validated")
	return result, nil
}

// ResumeApproved continues a deployment at the approval round's stored
// resume target. Implements the approval package's Resumer.
func (o *Orchestrator) ResumeApproved(ctx context.Context, deploymentID, target string) error {
	status := DeploymentStatus(target)
	if !IsKnownStatus(status) {
		return NewPermanentError(fmt.Sprintf("unknown resume target %q", target), nil).
			WithCode(ErrCodeValidation).WithDeployment(deploymentID)
	}
	if err := o.Transition(ctx, deploymentID, status, map[string]string{"approval": "approved"}); err != nil {
		return err
	}
	_, err := o.Process(ctx, deploymentID)
	return err
}

// ResumeRejected moves a rejected deployment toward remediation.
func (o *Orchestrator) ResumeRejected(ctx context.Context, deploymentID, reason string) error {
	if err := o.Transition(ctx, deploymentID, StatusRejected, map[string]string{"reason": reason}); err != nil {
		return err
	}
	_, err := o.Process(ctx, deploymentID)
	return err
}

// Shutdown stops all monitor loops.
func (o *Orchestrator) Shutdown() {
	o.monitorMu.Lock()
	defer o.monitorMu.Unlock()
	for id, h := range o.monitors {
		h.cancel()
		delete(o.monitors, id)
		if o.metrics != nil {
			o.metrics.MonitorStopped()
		}
	}
}

func (o *Orchestrator) loadDeployment(ctx context.Context, id string) (*Deployment, error) {
	rec, err := o.store.GetDeployment(ctx, id)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, NewPermanentError("deployment not found", err).
				WithCode(ErrCodeNotFound).WithDeployment(id)
		}
		return nil, err
	}
	return recordToDeployment(rec)
}

func recordToDeployment(rec *stores.DeploymentRecord) (*Deployment, error) {
	dep := &Deployment{
		ID:                rec.ID,
		Name:              rec.Name,
		Repository:        rec.Repository,
		Environment:       rec.Environment,
		Status:            DeploymentStatus(rec.Status),
		PreviousStatus:    DeploymentStatus(rec.PreviousStatus),
		RequiredApprovals: rec.RequiredApprovals,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
		Version:           rec.Version,
	}
	if rec.Requirements != "" {
		if err := json.Unmarshal([]byte(rec.Requirements), &dep.Requirements); err != nil {
			return nil, fmt.Errorf("failed to decode requirements for %s: %w", rec.ID, err)
		}
	}
	if rec.Resources != "" {
		if err := json.Unmarshal([]byte(rec.Resources), &dep.Resources); err != nil {
			return nil, fmt.Errorf("failed to decode resources for %s: %w", rec.ID, err)
		}
	}
	return dep, nil
}

// saveRequirements persists the requirements blob and keeps the in-memory
// version in step with the store's bump.
func (o *Orchestrator) saveRequirements(ctx context.Context, dep *Deployment) error {
	blob, err := json.Marshal(dep.Requirements)
	if err != nil {
		return NewPermanentError("failed to encode requirements", err).WithDeployment(dep.ID)
	}
	if err := o.store.UpdateDeploymentRequirements(ctx, dep.ID, string(blob), dep.Version); err != nil {
		if errors.Is(err, stores.ErrVersionConflict) {
			return NewConflictError("deployment modified concurrently", err).
				WithCode(ErrCodeConflict).WithDeployment(dep.ID)
		}
		return err
	}
	dep.Version++
	return nil
}

// saveResources persists the provisioned resources blob.
func (o *Orchestrator) saveResources(ctx context.Context, dep *Deployment) error {
	blob, err := json.Marshal(dep.Resources)
	if err != nil {
		return NewPermanentError("failed to encode resources", err).WithDeployment(dep.ID)
	}
	if err := o.store.UpdateDeploymentResources(ctx, dep.ID, string(blob), dep.Version); err != nil {
		if errors.Is(err, stores.ErrVersionConflict) {
			return NewConflictError("deployment modified concurrently", err).
				WithCode(ErrCodeConflict).WithDeployment(dep.ID)
		}
		return err
	}
	dep.Version++
	return nil
}

func (o *Orchestrator) historyContains(ctx context.Context, id string, status DeploymentStatus) (bool, error) {
	transitions, err := o.store.ListTransitions(ctx, id)
	if err != nil {
		return false, err
	}
	for _, t := range transitions {
		if t.Status == string(status) {
			return true, nil
		}
	}
	return false, nil
}

func (o *Orchestrator) audit(ctx context.Context, action, actor, deploymentID string, details map[string]string) {
	entry := &stores.AuditEntry{
		Action:       action,
		Actor:        actor,
		DeploymentID: &deploymentID,
		Timestamp:    time.Now().UTC(),
	}
	if len(details) > 0 {
		if blob, err := json.Marshal(details); err == nil {
			s := string(blob)
			entry.Details = &s
		}
	}
	if err := o.store.CreateAuditEntry(ctx, entry); err != nil {
		o.logger.WithError(err).WithField("action", action).Warn("failed to write audit entry")
	}
}
