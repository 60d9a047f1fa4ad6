package engine

import (
	"encoding/json"
	"time"
)

// DeploymentStatus represents the current lifecycle status of a deployment.
type DeploymentStatus string

const (
	// StatusCreated is the initial status of a freshly created deployment.
	StatusCreated DeploymentStatus = "created"

	// StatusAnalyzing indicates repository analysis is in progress.
	StatusAnalyzing DeploymentStatus = "analyzing"

	// StatusAnalysisFailed indicates repository analysis failed.
	StatusAnalysisFailed DeploymentStatus = "analysis_failed"

	// StatusAnalyzed indicates analysis completed and requirements were detected.
	StatusAnalyzed DeploymentStatus = "analyzed"

	// StatusCollectingEnv waits for required environment variables to be supplied.
	StatusCollectingEnv DeploymentStatus = "collecting_env"

	// StatusCollectingCredentials waits for validated, sandbox-tested credentials
	// for every detected service type.
	StatusCollectingCredentials DeploymentStatus = "collecting_credentials"

	// StatusCredentialsReady indicates all service credentials passed validation.
	StatusCredentialsReady DeploymentStatus = "credentials_ready"

	// StatusPlanning indicates the deployment plan is being generated.
	StatusPlanning DeploymentStatus = "planning"

	// StatusPlanFailed indicates plan generation failed.
	StatusPlanFailed DeploymentStatus = "plan_failed"

	// StatusPlanned indicates a deployment plan exists.
	StatusPlanned DeploymentStatus = "planned"

	// StatusGenerating indicates infrastructure files are being generated.
	StatusGenerating DeploymentStatus = "generating"

	// StatusGenerationFailed indicates file generation failed.
	StatusGenerationFailed DeploymentStatus = "generation_failed"

	// StatusValidating indicates generated files are being validated.
	StatusValidating DeploymentStatus = "validating"

	// StatusValidationFailed indicates generated file validation failed.
	StatusValidationFailed DeploymentStatus = "validation_failed"

	// StatusValidated indicates generated files passed validation.
	StatusValidated DeploymentStatus = "validated"

	// StatusEstimating indicates cost estimation is in progress.
	StatusEstimating DeploymentStatus = "estimating"

	// StatusEstimated indicates a cost estimate is available.
	StatusEstimated DeploymentStatus = "estimated"

	// StatusPendingApproval waits for the configured number of approvals.
	StatusPendingApproval DeploymentStatus = "pending_approval"

	// StatusApproved indicates the deployment is cleared for production rollout.
	StatusApproved DeploymentStatus = "approved"

	// StatusRejected indicates an approver rejected the deployment.
	StatusRejected DeploymentStatus = "rejected"

	// StatusRemediation indicates the deployment needs operator remediation
	// before it can re-enter the pipeline.
	StatusRemediation DeploymentStatus = "remediation"

	// StatusSandboxDeploying indicates rollout to the sandbox environment.
	StatusSandboxDeploying DeploymentStatus = "sandbox_deploying"

	// StatusSandboxFailed indicates the sandbox rollout failed.
	StatusSandboxFailed DeploymentStatus = "sandbox_failed"

	// StatusTesting indicates sandbox tests are running.
	StatusTesting DeploymentStatus = "testing"

	// StatusTestsFailed indicates sandbox tests failed.
	StatusTestsFailed DeploymentStatus = "tests_failed"

	// StatusSandboxValidated indicates the sandbox deployment passed its tests.
	StatusSandboxValidated DeploymentStatus = "sandbox_validated"

	// StatusDeploying indicates rollout to the production environment.
	StatusDeploying DeploymentStatus = "deploying"

	// StatusDeployFailed indicates the production rollout failed.
	StatusDeployFailed DeploymentStatus = "deploy_failed"

	// StatusDeployed indicates infrastructure is provisioned.
	StatusDeployed DeploymentStatus = "deployed"

	// StatusMonitoring indicates the deployment is healthy and under
	// periodic resource monitoring.
	StatusMonitoring DeploymentStatus = "monitoring"

	// StatusDegraded indicates monitoring detected unhealthy resources.
	StatusDegraded DeploymentStatus = "degraded"

	// StatusRollingBack indicates provisioned resources are being torn down
	// after a failed rollout.
	StatusRollingBack DeploymentStatus = "rolling_back"

	// StatusRolledBack indicates the rollback completed.
	StatusRolledBack DeploymentStatus = "rolled_back"

	// StatusCancelled indicates the deployment was cancelled by a user.
	StatusCancelled DeploymentStatus = "cancelled"
)

// IsTerminal returns true if no further transitions leave this status.
func (s DeploymentStatus) IsTerminal() bool {
	switch s {
	case StatusRolledBack, StatusCancelled:
		return true
	}
	return false
}

// Deployment is the aggregate root: one end-to-end request to take a
// project from source to provisioned infrastructure.
type Deployment struct {
	// ID is the unique identifier for this deployment.
	ID string `json:"id"`

	// Name is the human-readable deployment name.
	Name string `json:"name"`

	// Repository is the source repository this deployment provisions.
	Repository string `json:"repository"`

	// Environment is the target environment (e.g. "staging", "production").
	Environment string `json:"environment"`

	// Status is the current lifecycle status.
	Status DeploymentStatus `json:"status"`

	// PreviousStatus is the status before the most recent transition.
	PreviousStatus DeploymentStatus `json:"previous_status,omitempty"`

	// Requirements is the structured requirements bag populated by analysis
	// and generation. Its contents are opaque to the transition logic.
	Requirements Requirements `json:"requirements"`

	// RequiredApprovals is the number of distinct approvals needed before
	// an approval-gated transition may proceed.
	RequiredApprovals int `json:"required_approvals"`

	// Approvals is the ordered list of recorded approval decisions.
	Approvals []ApprovalDecision `json:"approvals,omitempty"`

	// Resources lists provisioned infrastructure after rollout.
	Resources []ProvisionedResource `json:"resources,omitempty"`

	// CreatedAt is when the deployment was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the deployment was last updated.
	UpdatedAt time.Time `json:"updated_at"`

	// Version is the aggregate version for optimistic locking.
	Version int64 `json:"version"`
}

// Requirements is the analysis and generation output attached to a
// deployment. The engine threads it through handlers without interpreting
// the analysis payload itself.
type Requirements struct {
	// Analysis is the raw analysis result from the code generator.
	Analysis json.RawMessage `json:"analysis,omitempty"`

	// DetectedServices lists service types the project depends on
	// (e.g. "postgres", "redis", "s3").
	DetectedServices []string `json:"detected_services,omitempty"`

	// RequiredVariables lists environment variable names that must be
	// supplied before planning.
	RequiredVariables []string `json:"required_variables,omitempty"`

	// Variables holds the collected environment variable values.
	Variables map[string]string `json:"variables,omitempty"`

	// Plan is the generated deployment plan text.
	Plan string `json:"plan,omitempty"`

	// GeneratedFiles maps generated infrastructure filenames to content.
	GeneratedFiles map[string]string `json:"generated_files,omitempty"`

	// Estimate is the generated cost estimate text.
	Estimate string `json:"estimate,omitempty"`
}

// ApprovalDecision records one approver's decision on a deployment.
type ApprovalDecision struct {
	// ApproverID identifies the user who decided.
	ApproverID string `json:"approver_id"`

	// Decision is "approved" or "rejected".
	Decision string `json:"decision"`

	// Comment is the approver's optional comment.
	Comment string `json:"comment,omitempty"`

	// Timestamp is when the decision was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// ProvisionedResource describes one infrastructure resource created by a rollout.
type ProvisionedResource struct {
	// ID is the provider-assigned resource identifier.
	ID string `json:"id"`

	// Type is the resource type (e.g. "aws.ecs.service", "aws.rds.instance").
	Type string `json:"type"`

	// Name is the human-readable resource name.
	Name string `json:"name"`

	// Status is the last observed resource health ("healthy", "unhealthy", "unknown").
	Status string `json:"status"`
}

// TransitionRecord is one entry in a deployment's append-only history.
type TransitionRecord struct {
	// ID is the record's monotonically increasing identifier.
	ID int64 `json:"id"`

	// DeploymentID is the deployment this record belongs to.
	DeploymentID string `json:"deployment_id"`

	// FromStatus is the status before the transition.
	FromStatus DeploymentStatus `json:"from_status"`

	// Status is the status after the transition.
	Status DeploymentStatus `json:"status"`

	// Metadata carries transition context (error messages, correlation ids).
	Metadata map[string]string `json:"metadata,omitempty"`

	// Timestamp is the commit time of the transition.
	Timestamp time.Time `json:"timestamp"`
}

// ProcessOutcome describes how a Process call left the deployment.
type ProcessOutcome string

const (
	// OutcomeAdvanced means at least one transition was committed and the
	// deployment is now parked at an input-gated, approval-gated, failure
	// or terminal status.
	OutcomeAdvanced ProcessOutcome = "advanced"

	// OutcomeBlocked means a gated step's dependencies are unmet; the
	// status is unchanged and BlockingStep names the unmet dependency.
	OutcomeBlocked ProcessOutcome = "blocked"

	// OutcomeHeld means the current handler is waiting for external input
	// (variables, credentials or an approval decision).
	OutcomeHeld ProcessOutcome = "held"

	// OutcomeFailed means a handler failed and the deployment moved to the
	// phase's failure status.
	OutcomeFailed ProcessOutcome = "failed"

	// OutcomeStillRunning means the per-call hop cap was reached before a
	// parking status; call Process again to continue.
	OutcomeStillRunning ProcessOutcome = "still_running"

	// OutcomeTerminal means the deployment is in a terminal status.
	OutcomeTerminal ProcessOutcome = "terminal"
)

// ProcessResult is returned by Orchestrator.Process.
type ProcessResult struct {
	// DeploymentID is the processed deployment.
	DeploymentID string `json:"deployment_id"`

	// Outcome classifies how processing ended.
	Outcome ProcessOutcome `json:"outcome"`

	// StartStatus is the status when processing began.
	StartStatus DeploymentStatus `json:"start_status"`

	// Status is the status when processing ended.
	Status DeploymentStatus `json:"status"`

	// Hops is the number of transitions committed during this call.
	Hops int `json:"hops"`

	// BlockingStep names the unmet gate dependency for OutcomeBlocked.
	BlockingStep string `json:"blocking_step,omitempty"`

	// Reason is a human-readable explanation for blocked/held/failed outcomes.
	Reason string `json:"reason,omitempty"`

	// CorrelationID ties a failure to its history record for operator lookup.
	CorrelationID string `json:"correlation_id,omitempty"`
}
