package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block the transition.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Policy is a named rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Remediation provides a suggested fix.
	Remediation string `json:"remediation,omitempty"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"detected_at"`
}

// Result is the outcome of evaluating all enabled policies against one
// transition.
type Result struct {
	// Allowed is false when any violation has error or critical severity.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document policies evaluate. Field names are stable: Rego
// policies address them through the json tags.
type Input struct {
	// Deployment describes the deployment being transitioned.
	Deployment *DeploymentInfo `json:"deployment,omitempty"`

	// Transition is the requested status change.
	Transition *Transition `json:"transition,omitempty"`

	// Credentials summarizes the credential state for the deployment's
	// detected service types.
	Credentials *CredentialState `json:"credentials,omitempty"`

	// Approval summarizes the approval round state.
	Approval *ApprovalState `json:"approval,omitempty"`

	// ToolServers lists the configured tool protocol servers.
	ToolServers []ToolServer `json:"tool_servers,omitempty"`

	// Context provides additional evaluation context.
	Context *Context `json:"context,omitempty"`
}

// DeploymentInfo is the deployment summary visible to policies.
type DeploymentInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Repository  string `json:"repository"`
	Environment string `json:"environment"`
	Status      string `json:"status"`
}

// Transition is a requested status change.
type Transition struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// CredentialState summarizes credential readiness for a deployment.
type CredentialState struct {
	// ServiceTypes lists the detected service types needing credentials.
	ServiceTypes []string `json:"service_types,omitempty"`

	// Validated is true when every service type has a validated credential.
	Validated bool `json:"validated"`

	// SandboxTested is true when every credential passed a sandbox
	// connection test.
	SandboxTested bool `json:"sandbox_tested"`
}

// ApprovalState summarizes the approval round for a deployment.
type ApprovalState struct {
	// Required is true when the target environment needs approval.
	Required bool `json:"required"`

	// Resolved is true when the round resolved as approved.
	Resolved bool `json:"resolved"`

	// Approvals is the number of approvals recorded so far.
	Approvals int `json:"approvals"`

	// RequiredCount is the number of distinct approvers needed.
	RequiredCount int `json:"required_count"`
}

// ToolServer describes one configured tool protocol server.
type ToolServer struct {
	Name string `json:"name"`
	URL  string `json:"url"`

	// FallbackOnly is true when the server's URL is a placeholder and
	// calls always use the local fallback.
	FallbackOnly bool `json:"fallback_only"`
}

// Context provides evaluation context for policies.
type Context struct {
	// User is the user performing the operation.
	User string `json:"user,omitempty"`

	// Environment is the target environment.
	Environment string `json:"environment,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is the operation being performed.
	Operation string `json:"operation,omitempty"`

	// DryRun indicates if this is a dry-run evaluation.
	DryRun bool `json:"dry_run"`
}
