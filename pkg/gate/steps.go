package gate

// Step names one logical unit of deployment progress.
type Step string

const (
	// StepAnalysis is repository analysis producing detected requirements.
	StepAnalysis Step = "analysis"

	// StepVariables is collection of all required environment variables.
	StepVariables Step = "variables"

	// StepCredentials is validated, sandbox-tested credentials for every
	// detected service type.
	StepCredentials Step = "credentials"

	// StepPlan is deployment plan generation.
	StepPlan Step = "plan"

	// StepGeneration is infrastructure file generation.
	StepGeneration Step = "generation"

	// StepValidation is validation of the generated files.
	StepValidation Step = "validation"

	// StepEstimate is cost estimation.
	StepEstimate Step = "estimate"

	// StepApproval is a resolved approval round.
	StepApproval Step = "approval"

	// StepSandboxValidation is a sandbox rollout that passed its tests.
	StepSandboxValidation Step = "sandbox_validation"

	// StepProductionRollout is the production deployment itself.
	StepProductionRollout Step = "production_rollout"
)

// stepDependencies is the static dependency graph between steps. It is
// deliberately distinct from the status transition graph: transitions say
// which statuses are adjacent, dependencies say which work must be done.
// Slices are ordered so blocking-step reporting is deterministic.
var stepDependencies = map[Step][]Step{
	StepAnalysis:          {},
	StepVariables:         {StepAnalysis},
	StepCredentials:       {StepVariables},
	StepPlan:              {StepCredentials},
	StepGeneration:        {StepPlan},
	StepValidation:        {StepGeneration},
	StepEstimate:          {StepValidation},
	StepApproval:          {StepEstimate},
	StepSandboxValidation: {StepEstimate, StepCredentials},
	StepProductionRollout: {StepApproval, StepSandboxValidation},
}

// requiredGeneratedFiles is the fixed set of filenames the generation step
// must produce before validation can run.
var requiredGeneratedFiles = []string{
	"Dockerfile",
	"main.tf",
	"variables.tf",
	"outputs.tf",
}

// AllSteps returns every step in dependency-respecting order.
func AllSteps() []Step {
	return []Step{
		StepAnalysis,
		StepVariables,
		StepCredentials,
		StepPlan,
		StepGeneration,
		StepValidation,
		StepEstimate,
		StepApproval,
		StepSandboxValidation,
		StepProductionRollout,
	}
}

// Dependencies returns the declared dependencies of a step as a copy.
func Dependencies(step Step) []Step {
	deps := stepDependencies[step]
	out := make([]Step, len(deps))
	copy(out, deps)
	return out
}

// IsKnownStep reports whether the step is part of the dependency graph.
func IsKnownStep(step Step) bool {
	_, ok := stepDependencies[step]
	return ok
}
