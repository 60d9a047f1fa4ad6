package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deployforge/deployforge/pkg/stores"
	"github.com/deployforge/deployforge/pkg/telemetry"
)

// Completion is the result of checking one step.
type Completion struct {
	// Step is the step that was checked.
	Step Step `json:"step"`

	// Complete is true when every criterion of the step is satisfied.
	Complete bool `json:"complete"`

	// Reason explains an incomplete result.
	Reason string `json:"reason,omitempty"`

	// Detail carries machine-readable specifics (missing names, counts).
	Detail map[string]interface{} `json:"detail,omitempty"`
}

// Decision is the result of asking whether a step's dependencies are met.
type Decision struct {
	// CanProceed is true when every dependency of the step is complete.
	CanProceed bool `json:"can_proceed"`

	// BlockingStep names the first incomplete dependency.
	BlockingStep Step `json:"blocking_step,omitempty"`

	// Reason is the blocking dependency's incomplete reason.
	Reason string `json:"reason,omitempty"`
}

// requirements mirrors the deployment requirements JSON blob. The gate
// reads it directly from the store row.
type requirements struct {
	Analysis          json.RawMessage   `json:"analysis,omitempty"`
	DetectedServices  []string          `json:"detected_services,omitempty"`
	RequiredVariables []string          `json:"required_variables,omitempty"`
	Variables         map[string]string `json:"variables,omitempty"`
	Plan              string            `json:"plan,omitempty"`
	GeneratedFiles    map[string]string `json:"generated_files,omitempty"`
	Estimate          string            `json:"estimate,omitempty"`
}

// Gate evaluates step completion against the persisted deployment state.
type Gate struct {
	store  stores.Store
	logger *telemetry.Logger
}

// New creates a gate.
func New(store stores.Store, logger *telemetry.Logger) *Gate {
	return &Gate{
		store:  store,
		logger: logger.NewComponentLogger("gate"),
	}
}

// CheckCompletion evaluates one step's completion criteria. The state is
// recomputed from the store on every call, never cached.
func (g *Gate) CheckCompletion(ctx context.Context, deploymentID string, step Step) (*Completion, error) {
	if !IsKnownStep(step) {
		return nil, fmt.Errorf("unknown step: %s", step)
	}

	dep, err := g.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}

	var req requirements
	if dep.Requirements != "" {
		if err := json.Unmarshal([]byte(dep.Requirements), &req); err != nil {
			return nil, fmt.Errorf("failed to decode requirements: %w", err)
		}
	}

	switch step {
	case StepAnalysis:
		return g.checkAnalysis(&req), nil
	case StepVariables:
		return g.checkVariables(&req), nil
	case StepCredentials:
		return g.checkCredentials(ctx, deploymentID, &req)
	case StepPlan:
		return g.checkPlan(&req), nil
	case StepGeneration:
		return g.checkGeneration(&req), nil
	case StepValidation:
		return g.checkReached(ctx, deploymentID, StepValidation, "validated")
	case StepEstimate:
		return g.checkEstimate(&req), nil
	case StepApproval:
		return g.checkReached(ctx, deploymentID, StepApproval, "approved")
	case StepSandboxValidation:
		return g.checkReached(ctx, deploymentID, StepSandboxValidation, "sandbox_validated")
	case StepProductionRollout:
		return g.checkReached(ctx, deploymentID, StepProductionRollout, "deployed")
	}
	return nil, fmt.Errorf("unknown step: %s", step)
}

// CanProceed reports whether every dependency of the next step is complete.
// It fails closed: the first incomplete dependency blocks, and a dependency
// that cannot be evaluated blocks too.
func (g *Gate) CanProceed(ctx context.Context, deploymentID string, next Step) (*Decision, error) {
	if !IsKnownStep(next) {
		return nil, fmt.Errorf("unknown step: %s", next)
	}

	for _, dep := range stepDependencies[next] {
		completion, err := g.CheckCompletion(ctx, deploymentID, dep)
		if err != nil {
			return nil, fmt.Errorf("failed to check dependency %s: %w", dep, err)
		}
		if !completion.Complete {
			g.logger.WithDeploymentID(deploymentID).
				WithField("step", string(next)).
				WithField("blocking_step", string(dep)).
				Debug("step blocked by dependency")
			return &Decision{
				CanProceed:   false,
				BlockingStep: dep,
				Reason:       completion.Reason,
			}, nil
		}
	}
	return &Decision{CanProceed: true}, nil
}

// StepStatus returns the completion snapshot for every step.
func (g *Gate) StepStatus(ctx context.Context, deploymentID string) (map[Step]*Completion, error) {
	out := make(map[Step]*Completion, len(stepDependencies))
	for _, step := range AllSteps() {
		completion, err := g.CheckCompletion(ctx, deploymentID, step)
		if err != nil {
			return nil, err
		}
		out[step] = completion
	}
	return out, nil
}

func (g *Gate) checkAnalysis(req *requirements) *Completion {
	c := &Completion{Step: StepAnalysis}
	if len(req.Analysis) == 0 {
		c.Reason = "repository analysis has not run"
		return c
	}
	c.Complete = true
	c.Detail = map[string]interface{}{"detected_services": len(req.DetectedServices)}
	return c
}

func (g *Gate) checkVariables(req *requirements) *Completion {
	c := &Completion{Step: StepVariables}

	var missing []string
	for _, name := range req.RequiredVariables {
		if strings.TrimSpace(req.Variables[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		c.Reason = fmt.Sprintf("%d required variables missing", len(missing))
		c.Detail = map[string]interface{}{"missing": missing}
		return c
	}
	c.Complete = true
	return c
}

// checkCredentials requires a validated, sandbox-tested service config for
// every detected service type.
func (g *Gate) checkCredentials(ctx context.Context, deploymentID string, req *requirements) (*Completion, error) {
	c := &Completion{Step: StepCredentials}
	if len(req.DetectedServices) == 0 {
		c.Complete = true
		return c, nil
	}

	configs, err := g.store.ListServiceConfigs(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	ready := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		ready[cfg.ServiceType] = cfg.Validated && cfg.SandboxTested
	}

	var pending []string
	for _, svc := range req.DetectedServices {
		if !ready[svc] {
			pending = append(pending, svc)
		}
	}
	if len(pending) > 0 {
		c.Reason = fmt.Sprintf("%d service types lack validated, sandbox-tested credentials", len(pending))
		c.Detail = map[string]interface{}{"pending": pending}
		return c, nil
	}
	c.Complete = true
	return c, nil
}

func (g *Gate) checkPlan(req *requirements) *Completion {
	c := &Completion{Step: StepPlan}
	if strings.TrimSpace(req.Plan) == "" {
		c.Reason = "no deployment plan has been generated"
		return c
	}
	c.Complete = true
	return c
}

func (g *Gate) checkGeneration(req *requirements) *Completion {
	c := &Completion{Step: StepGeneration}

	var missing []string
	for _, name := range requiredGeneratedFiles {
		if strings.TrimSpace(req.GeneratedFiles[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		c.Reason = fmt.Sprintf("%d required files not generated", len(missing))
		c.Detail = map[string]interface{}{"missing": missing}
		return c
	}
	c.Complete = true
	return c
}

func (g *Gate) checkEstimate(req *requirements) *Completion {
	c := &Completion{Step: StepEstimate}
	if strings.TrimSpace(req.Estimate) == "" {
		c.Reason = "no cost estimate is available"
		return c
	}
	c.Complete = true
	return c
}

// checkReached completes when the deployment's transition history contains
// an entry into the given status. History is append-only, so a step once
// reached stays complete even after later failures.
func (g *Gate) checkReached(ctx context.Context, deploymentID string, step Step, status string) (*Completion, error) {
	c := &Completion{Step: step}

	transitions, err := g.store.ListTransitions(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	for _, t := range transitions {
		if t.Status == status {
			c.Complete = true
			return c, nil
		}
	}
	c.Reason = fmt.Sprintf("deployment has not reached %s", status)
	return c, nil
}
