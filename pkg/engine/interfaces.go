package engine

import (
	"context"
	"encoding/json"
)

// AnalysisResult is what repository analysis produces: the raw analysis
// payload plus the requirements the engine gates on.
type AnalysisResult struct {
	// Analysis is the opaque analysis payload.
	Analysis json.RawMessage `json:"analysis"`

	// DetectedServices lists service types the project depends on.
	DetectedServices []string `json:"detected_services"`

	// RequiredVariables lists environment variable names the deployment
	// needs before planning.
	RequiredVariables []string `json:"required_variables"`
}

// CodeGenerator produces analysis, plans, infrastructure files and cost
// estimates. Implementations typically front remote tool servers; the
// engine treats the content as opaque text.
type CodeGenerator interface {
	// AnalyzeRepository inspects a repository and reports requirements.
	AnalyzeRepository(ctx context.Context, repository string) (*AnalysisResult, error)

	// GeneratePlan produces the deployment plan text.
	GeneratePlan(ctx context.Context, dep *Deployment) (string, error)

	// GenerateFiles produces the infrastructure files by name.
	GenerateFiles(ctx context.Context, dep *Deployment) (map[string]string, error)

	// EstimateCost produces the cost estimate text.
	EstimateCost(ctx context.Context, dep *Deployment) (string, error)
}

// SourceControl pushes generated files back to the deployment's repository.
type SourceControl interface {
	// PushFiles commits the files to the repository on a deployment branch.
	PushFiles(ctx context.Context, repository string, files map[string]string, message string) error
}

// CloudProvider applies and tears down infrastructure.
type CloudProvider interface {
	// Apply provisions the deployment's infrastructure in the given
	// environment and returns the created resources.
	Apply(ctx context.Context, dep *Deployment, environment string) ([]ProvisionedResource, error)

	// Destroy tears down the deployment's provisioned resources.
	Destroy(ctx context.Context, dep *Deployment) error

	// Health reports the current health of provisioned resources.
	Health(ctx context.Context, dep *Deployment) ([]ProvisionedResource, error)
}

// Notifier delivers deployment lifecycle notifications. Delivery is
// best-effort; failures never block a transition.
type Notifier interface {
	NotifyDeploymentEvent(ctx context.Context, deploymentID, status, message string) error
}
