package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Sentinel errors returned by Store implementations. Callers detect them
// with errors.Is after unwrapping.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict indicates an optimistic update lost the race:
	// the stored version no longer matches the expected version.
	ErrVersionConflict = errors.New("version conflict")
)

// DeploymentRecord is the persisted deployment aggregate row.
type DeploymentRecord struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Repository        string     `json:"repository"`
	Environment       string     `json:"environment"`
	Status            string     `json:"status"`
	PreviousStatus    string     `json:"previous_status"`
	Requirements      string     `json:"requirements"` // JSON blob
	RequiredApprovals int        `json:"required_approvals"`
	Resources         string     `json:"resources"` // JSON array blob
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	Version           int64      `json:"version"`
}

// TransitionRecord is one append-only history row for a deployment.
type TransitionRecord struct {
	ID           int64     `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	FromStatus   string    `json:"from_status"`
	Status       string    `json:"status"`
	Metadata     string    `json:"metadata"` // JSON blob
	Timestamp    time.Time `json:"timestamp"`
}

// ServiceConfigRecord holds per-(deployment, service type) credential state.
// Invariant enforced by callers: sandbox_tested implies validated.
type ServiceConfigRecord struct {
	ID              string     `json:"id"`
	DeploymentID    string     `json:"deployment_id"`
	ServiceType     string     `json:"service_type"`
	EncryptedCreds  []byte     `json:"-"`
	Validated       bool       `json:"validated"`
	ValidatedAt     *time.Time `json:"validated_at,omitempty"`
	SandboxTested   bool       `json:"sandbox_tested"`
	SandboxTestedAt *time.Time `json:"sandbox_tested_at,omitempty"`
	ProviderConfig  *string    `json:"provider_config,omitempty"` // JSON blob
	Environment     string     `json:"environment"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ServiceDefinitionRecord is the process-wide definition of one service type,
// including its generated connection-test routine.
type ServiceDefinitionRecord struct {
	ServiceType      string    `json:"service_type"`
	CredentialSchema string    `json:"credential_schema"` // JSON blob
	TestSource       string    `json:"test_source"`
	TestLanguage     string    `json:"test_language"` // "starlark", "wasm" or "builtin"
	GeneratedAt      time.Time `json:"generated_at"`
	Active           bool      `json:"active"`
}

// CredentialRecord is a reusable, user-owned encrypted secret bundle.
type CredentialRecord struct {
	ID               string     `json:"id"`
	Owner            string     `json:"owner"`
	ServiceType      string     `json:"service_type"`
	Name             string     `json:"name"`
	EncryptedPayload []byte     `json:"-"`
	Tags             string     `json:"tags"`        // JSON array blob
	Reusable         bool       `json:"reusable"`
	SharedWith       string     `json:"shared_with"` // JSON array blob
	UsageCount       int64      `json:"usage_count"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ApprovalRequestStatus enumerates approval round outcomes.
type ApprovalRequestStatus string

const (
	ApprovalRequestPending  ApprovalRequestStatus = "pending"
	ApprovalRequestApproved ApprovalRequestStatus = "approved"
	ApprovalRequestRejected ApprovalRequestStatus = "rejected"
	ApprovalRequestExpired  ApprovalRequestStatus = "expired"
)

// ApprovalRequestRecord is one approval round for a deployment. ResumeTarget
// is the status the orchestrator resumes to once the round is approved,
// captured at request time.
type ApprovalRequestRecord struct {
	ID            string                `json:"id"`
	DeploymentID  string                `json:"deployment_id"`
	Environment   string                `json:"environment"`
	Status        ApprovalRequestStatus `json:"status"`
	RequiredCount int                   `json:"required_count"`
	ResumeTarget  string                `json:"resume_target"`
	RequestedAt   time.Time             `json:"requested_at"`
	ExpiresAt     *time.Time            `json:"expires_at,omitempty"`
	ResolvedAt    *time.Time            `json:"resolved_at,omitempty"`
}

// ApprovalDecisionRecord is one approver's recorded decision.
type ApprovalDecisionRecord struct {
	ID           int64     `json:"id"`
	RequestID    string    `json:"request_id"`
	DeploymentID string    `json:"deployment_id"`
	ApproverID   string    `json:"approver_id"`
	Decision     string    `json:"decision"` // approved, rejected
	Comment      string    `json:"comment"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuditEntry represents an audit trail entry.
type AuditEntry struct {
	ID           int64     `json:"id"`
	Action       string    `json:"action"` // e.g. "deployment.transition", "credential.read"
	Actor        string    `json:"actor"`  // user or system identifier
	DeploymentID *string   `json:"deployment_id,omitempty"`
	Details      *string   `json:"details,omitempty"` // JSON blob
	Timestamp    time.Time `json:"timestamp"`
}

// Store defines the interface for the persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Deployment operations
	CreateDeployment(ctx context.Context, rec *DeploymentRecord) error
	GetDeployment(ctx context.Context, id string) (*DeploymentRecord, error)
	ListDeployments(ctx context.Context, status *string, limit, offset int) ([]*DeploymentRecord, error)
	// TransitionDeployment atomically updates the deployment status and
	// appends exactly one history record, guarded by expectedVersion.
	TransitionDeployment(ctx context.Context, id, fromStatus, toStatus, metadata string, expectedVersion int64) (*TransitionRecord, error)
	UpdateDeploymentRequirements(ctx context.Context, id, requirements string, expectedVersion int64) error
	UpdateDeploymentResources(ctx context.Context, id, resources string, expectedVersion int64) error
	SetRequiredApprovals(ctx context.Context, id string, count int) error

	// History operations
	ListTransitions(ctx context.Context, deploymentID string) ([]*TransitionRecord, error)

	// ServiceConfig operations
	UpsertServiceConfig(ctx context.Context, rec *ServiceConfigRecord) error
	GetServiceConfig(ctx context.Context, deploymentID, serviceType string) (*ServiceConfigRecord, error)
	ListServiceConfigs(ctx context.Context, deploymentID string) ([]*ServiceConfigRecord, error)
	MarkServiceConfigTested(ctx context.Context, deploymentID, serviceType string, sandboxTested bool, at time.Time) error

	// ServiceDefinition operations
	UpsertServiceDefinition(ctx context.Context, rec *ServiceDefinitionRecord) error
	GetServiceDefinition(ctx context.Context, serviceType string) (*ServiceDefinitionRecord, error)

	// Credential operations
	CreateCredential(ctx context.Context, rec *CredentialRecord) error
	GetCredential(ctx context.Context, id string) (*CredentialRecord, error)
	GetCredentialByName(ctx context.Context, owner, serviceType, name string) (*CredentialRecord, error)
	ListCredentials(ctx context.Context, owner string) ([]*CredentialRecord, error)
	UpdateCredential(ctx context.Context, rec *CredentialRecord) error
	DeleteCredential(ctx context.Context, id string) error
	TouchCredential(ctx context.Context, id string, usedAt time.Time) error

	// Approval operations
	CreateApprovalRequest(ctx context.Context, rec *ApprovalRequestRecord) error
	GetApprovalRequest(ctx context.Context, id string) (*ApprovalRequestRecord, error)
	GetPendingApprovalForDeployment(ctx context.Context, deploymentID string) (*ApprovalRequestRecord, error)
	ResolveApprovalRequest(ctx context.Context, id string, status ApprovalRequestStatus, resolvedAt time.Time) error
	ListPendingApprovalRequests(ctx context.Context) ([]*ApprovalRequestRecord, error)
	ExpireApprovalRequests(ctx context.Context, now time.Time) (int64, error)
	AppendApprovalDecision(ctx context.Context, rec *ApprovalDecisionRecord) error
	ListApprovalDecisions(ctx context.Context, requestID string) ([]*ApprovalDecisionRecord, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
