package engine

// StatusCategory classifies how a status makes progress.
type StatusCategory string

const (
	// CategoryAutomatic statuses always produce a transition when processed.
	CategoryAutomatic StatusCategory = "automatic"

	// CategoryInputGated statuses hold until an external actor supplies data.
	CategoryInputGated StatusCategory = "input_gated"

	// CategoryApprovalGated statuses hold until the approval workflow resolves.
	CategoryApprovalGated StatusCategory = "approval_gated"

	// CategoryManual statuses hold for operator intervention (failure states).
	CategoryManual StatusCategory = "manual"

	// CategoryTerminal statuses never transition again.
	CategoryTerminal StatusCategory = "terminal"
)

// transitionGraph is the static adjacency map of legal status transitions.
// It is the single source of truth: Transition rejects any edge not listed
// here. The analyzing self-edge models bounded analysis retries.
var transitionGraph = map[DeploymentStatus][]DeploymentStatus{
	StatusCreated:   {StatusAnalyzing, StatusCancelled},
	StatusAnalyzing: {StatusAnalyzing, StatusAnalyzed, StatusAnalysisFailed, StatusCancelled},
	StatusAnalysisFailed: {StatusAnalyzing, StatusRemediation, StatusCancelled},
	StatusAnalyzed:       {StatusCollectingEnv, StatusCancelled},
	StatusCollectingEnv:  {StatusCollectingCredentials, StatusCancelled},
	StatusCollectingCredentials: {StatusCredentialsReady, StatusCancelled},
	StatusCredentialsReady:      {StatusPlanning, StatusCancelled},
	StatusPlanning:              {StatusPlanned, StatusPlanFailed, StatusCancelled},
	StatusPlanFailed:            {StatusPlanning, StatusRemediation, StatusCancelled},
	StatusPlanned:               {StatusGenerating, StatusCancelled},
	StatusGenerating:            {StatusValidating, StatusGenerationFailed, StatusCancelled},
	StatusGenerationFailed:      {StatusGenerating, StatusRemediation, StatusCancelled},
	StatusValidating:            {StatusValidated, StatusValidationFailed, StatusCancelled},
	StatusValidationFailed:      {StatusGenerating, StatusRemediation, StatusCancelled},
	StatusValidated:             {StatusEstimating, StatusCancelled},
	StatusEstimating:            {StatusEstimated, StatusPlanFailed, StatusCancelled},
	StatusEstimated:             {StatusPendingApproval, StatusSandboxDeploying, StatusCancelled},
	StatusPendingApproval:       {StatusApproved, StatusSandboxDeploying, StatusRejected, StatusRemediation, StatusCancelled},
	StatusApproved:              {StatusDeploying, StatusCancelled},
	StatusRejected:              {StatusRemediation, StatusCancelled},
	StatusRemediation:           {StatusAnalyzing, StatusPlanning, StatusGenerating, StatusCancelled},
	StatusSandboxDeploying:      {StatusTesting, StatusSandboxFailed, StatusCancelled},
	StatusSandboxFailed:         {StatusSandboxDeploying, StatusRemediation, StatusCancelled},
	StatusTesting:               {StatusSandboxValidated, StatusTestsFailed, StatusCancelled},
	StatusTestsFailed:           {StatusTesting, StatusRemediation, StatusCancelled},
	StatusSandboxValidated:      {StatusApproved, StatusPendingApproval, StatusCancelled},
	StatusDeploying:             {StatusDeployed, StatusDeployFailed},
	StatusDeployFailed:          {StatusDeploying, StatusRollingBack, StatusRemediation},
	StatusDeployed:              {StatusMonitoring},
	StatusMonitoring:            {StatusDegraded, StatusRollingBack},
	StatusDegraded:              {StatusMonitoring, StatusRollingBack, StatusRemediation},
	StatusRollingBack:           {StatusRolledBack, StatusRemediation},
	StatusRolledBack:            {},
	StatusCancelled:             {},
}

// statusCategories classifies every node in the transition graph.
var statusCategories = map[DeploymentStatus]StatusCategory{
	StatusCreated:               CategoryAutomatic,
	StatusAnalyzing:             CategoryAutomatic,
	StatusAnalysisFailed:        CategoryManual,
	StatusAnalyzed:              CategoryAutomatic,
	StatusCollectingEnv:         CategoryInputGated,
	StatusCollectingCredentials: CategoryInputGated,
	StatusCredentialsReady:      CategoryAutomatic,
	StatusPlanning:              CategoryAutomatic,
	StatusPlanFailed:            CategoryManual,
	StatusPlanned:               CategoryAutomatic,
	StatusGenerating:            CategoryAutomatic,
	StatusGenerationFailed:      CategoryManual,
	StatusValidating:            CategoryAutomatic,
	StatusValidationFailed:      CategoryManual,
	StatusValidated:             CategoryAutomatic,
	StatusEstimating:            CategoryAutomatic,
	StatusEstimated:             CategoryAutomatic,
	StatusPendingApproval:       CategoryApprovalGated,
	StatusApproved:              CategoryAutomatic,
	StatusRejected:              CategoryAutomatic,
	StatusRemediation:           CategoryManual,
	StatusSandboxDeploying:      CategoryAutomatic,
	StatusSandboxFailed:         CategoryManual,
	StatusTesting:               CategoryAutomatic,
	StatusTestsFailed:           CategoryManual,
	StatusSandboxValidated:      CategoryAutomatic,
	StatusDeploying:             CategoryAutomatic,
	StatusDeployFailed:          CategoryManual,
	StatusDeployed:              CategoryAutomatic,
	StatusMonitoring:            CategoryInputGated,
	StatusDegraded:              CategoryManual,
	StatusRollingBack:           CategoryAutomatic,
	StatusRolledBack:            CategoryTerminal,
	StatusCancelled:             CategoryTerminal,
}

// failureTargets maps a working status to the failure status its handler
// errors are converted into. Statuses without an entry surface errors to the
// caller instead of transitioning.
var failureTargets = map[DeploymentStatus]DeploymentStatus{
	StatusAnalyzing:        StatusAnalysisFailed,
	StatusPlanning:         StatusPlanFailed,
	StatusEstimating:       StatusPlanFailed,
	StatusGenerating:       StatusGenerationFailed,
	StatusValidating:       StatusValidationFailed,
	StatusSandboxDeploying: StatusSandboxFailed,
	StatusTesting:          StatusTestsFailed,
	StatusDeploying:        StatusDeployFailed,
	StatusMonitoring:       StatusDegraded,
	StatusRollingBack:      StatusRemediation,
}

// IsKnownStatus returns true if the status is a node of the transition graph.
func IsKnownStatus(s DeploymentStatus) bool {
	_, ok := transitionGraph[s]
	return ok
}

// CanTransition returns true if the edge from -> to exists in the graph.
// A same-status request is always allowed (it is treated as a no-op by
// Transition, never as an edge).
func CanTransition(from, to DeploymentStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitionGraph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the legal successor statuses for a status. The
// returned slice is a copy.
func NextStatuses(from DeploymentStatus) []DeploymentStatus {
	edges := transitionGraph[from]
	out := make([]DeploymentStatus, len(edges))
	copy(out, edges)
	return out
}

// CategoryOf returns the processing category for a status.
func CategoryOf(s DeploymentStatus) StatusCategory {
	if c, ok := statusCategories[s]; ok {
		return c
	}
	return CategoryManual
}

// FailureTargetFor returns the failure status handler errors in the given
// status transition to, and whether one is defined.
func FailureTargetFor(s DeploymentStatus) (DeploymentStatus, bool) {
	t, ok := failureTargets[s]
	return t, ok
}

// AllStatuses returns every node of the transition graph.
func AllStatuses() []DeploymentStatus {
	out := make([]DeploymentStatus, 0, len(transitionGraph))
	for s := range transitionGraph {
		out = append(out, s)
	}
	return out
}
