package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/deployforge/deployforge/pkg/gate"
)

// handlerResult is what a status handler asks the work loop to do next:
// either commit a transition or park the deployment with a reason.
type handlerResult struct {
	next         DeploymentStatus
	metadata     map[string]string
	hold         bool
	reason       string
	blockingStep string
}

type handler func(ctx context.Context, dep *Deployment) (*handlerResult, error)

func advanceTo(next DeploymentStatus) *handlerResult {
	return &handlerResult{next: next}
}

func holdFor(reason string) *handlerResult {
	return &handlerResult{hold: true, reason: reason}
}

func blockedOn(step gate.Step, reason string) *handlerResult {
	return &handlerResult{hold: true, reason: reason, blockingStep: string(step)}
}

// buildHandlers maps each automatic or gated status to its handler.
// Failure statuses and remediation have no handler: they park for operator
// intervention and only move again through explicit Transition calls.
func (o *Orchestrator) buildHandlers() map[DeploymentStatus]handler {
	return map[DeploymentStatus]handler{
		StatusCreated:               o.handleCreated,
		StatusAnalyzing:             o.handleAnalyzing,
		StatusAnalyzed:              o.handleAnalyzed,
		StatusCollectingEnv:         o.handleCollectingEnv,
		StatusCollectingCredentials: o.handleCollectingCredentials,
		StatusCredentialsReady:      o.handleCredentialsReady,
		StatusPlanning:              o.handlePlanning,
		StatusPlanned:               o.handlePlanned,
		StatusGenerating:            o.handleGenerating,
		StatusValidating:            o.handleValidating,
		StatusValidated:             o.handleValidated,
		StatusEstimating:            o.handleEstimating,
		StatusEstimated:             o.handleEstimated,
		StatusPendingApproval:       o.handlePendingApproval,
		StatusApproved:              o.handleApproved,
		StatusRejected:              o.handleRejected,
		StatusSandboxDeploying:      o.handleSandboxDeploying,
		StatusTesting:               o.handleTesting,
		StatusSandboxValidated:      o.handleSandboxValidated,
		StatusDeploying:             o.handleDeploying,
		StatusDeployed:              o.handleDeployed,
		StatusMonitoring:            o.handleMonitoring,
		StatusRollingBack:           o.handleRollingBack,
	}
}

func (o *Orchestrator) handleCreated(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	return advanceTo(StatusAnalyzing), nil
}

func (o *Orchestrator) handleAnalyzing(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	analysis, err := o.gen.AnalyzeRepository(ctx, dep.Repository)
	if err != nil {
		return nil, NewTransientError("repository analysis failed", err).
			WithCode(ErrCodeGeneratorFailed).WithDeployment(dep.ID)
	}

	dep.Requirements.Analysis = analysis.Analysis
	dep.Requirements.DetectedServices = analysis.DetectedServices
	dep.Requirements.RequiredVariables = analysis.RequiredVariables
	if err := o.saveRequirements(ctx, dep); err != nil {
		return nil, err
	}

	o.logger.WithDeploymentID(dep.ID).
		WithField("services", analysis.DetectedServices).
		WithField("variables", analysis.RequiredVariables).
		Info("repository analyzed")
	return advanceTo(StatusAnalyzed), nil
}

func (o *Orchestrator) handleAnalyzed(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	return advanceTo(StatusCollectingEnv), nil
}

func (o *Orchestrator) handleCollectingEnv(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	c, err := o.gate.CheckCompletion(ctx, dep.ID, gate.StepVariables)
	if err != nil {
		return nil, err
	}
	if !c.Complete {
		return holdFor(c.Reason), nil
	}
	return advanceTo(StatusCollectingCredentials), nil
}

func (o *Orchestrator) handleCollectingCredentials(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	c, err := o.gate.CheckCompletion(ctx, dep.ID, gate.StepCredentials)
	if err != nil {
		return nil, err
	}
	if !c.Complete {
		return holdFor(c.Reason), nil
	}
	return advanceTo(StatusCredentialsReady), nil
}

func (o *Orchestrator) handleCredentialsReady(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	d, err := o.gate.CanProceed(ctx, dep.ID, gate.StepPlan)
	if err != nil {
		return nil, err
	}
	if !d.CanProceed {
		return blockedOn(d.BlockingStep, d.Reason), nil
	}
	return advanceTo(StatusPlanning), nil
}

func (o *Orchestrator) handlePlanning(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	plan, err := o.gen.GeneratePlan(ctx, dep)
	if err != nil {
		return nil, NewTransientError("plan generation failed", err).
			WithCode(ErrCodeGeneratorFailed).WithDeployment(dep.ID)
	}
	if strings.TrimSpace(plan) == "" {
		return nil, NewPermanentError("generator returned an empty plan", nil).
			WithCode(ErrCodeGeneratorFailed).WithDeployment(dep.ID)
	}

	dep.Requirements.Plan = plan
	if err := o.saveRequirements(ctx, dep); err != nil {
		return nil, err
	}
	return advanceTo(StatusPlanned), nil
}

func (o *Orchestrator) handlePlanned(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	d, err := o.gate.CanProceed(ctx, dep.ID, gate.StepGeneration)
	if err != nil {
		return nil, err
	}
	if !d.CanProceed {
		return blockedOn(d.BlockingStep, d.Reason), nil
	}
	return advanceTo(StatusGenerating), nil
}

func (o *Orchestrator) handleGenerating(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	files, err := o.gen.GenerateFiles(ctx, dep)
	if err != nil {
		return nil, NewTransientError("file generation failed", err).
			WithCode(ErrCodeGeneratorFailed).WithDeployment(dep.ID)
	}

	dep.Requirements.GeneratedFiles = files
	if err := o.saveRequirements(ctx, dep); err != nil {
		return nil, err
	}

	// Pushing to source control is best-effort; validation still runs on
	// the stored copies.
	if o.scm != nil {
		msg := fmt.Sprintf("Add deployment configuration for %s", dep.Name)
		if err := o.scm.PushFiles(ctx, dep.Repository, files, msg); err != nil {
			o.logger.WithDeploymentID(dep.ID).
				WithError(err).
				Warn("failed to push generated files to source control")
		}
	}
	return advanceTo(StatusValidating), nil
}

func (o *Orchestrator) handleValidating(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	c, err := o.gate.CheckCompletion(ctx, dep.ID, gate.StepGeneration)
	if err != nil {
		return nil, err
	}
	if !c.Complete {
		return nil, NewPermanentError(
			fmt.Sprintf("generated files failed validation: %s", c.Reason), nil).
			WithCode(ErrCodeValidation).WithDeployment(dep.ID)
	}
	return advanceTo(StatusValidated), nil
}

func (o *Orchestrator) handleValidated(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	return advanceTo(StatusEstimating), nil
}

func (o *Orchestrator) handleEstimating(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	estimate, err := o.gen.EstimateCost(ctx, dep)
	if err != nil {
		return nil, NewTransientError("cost estimation failed", err).
			WithCode(ErrCodeGeneratorFailed).WithDeployment(dep.ID)
	}

	dep.Requirements.Estimate = estimate
	if err := o.saveRequirements(ctx, dep); err != nil {
		return nil, err
	}
	return advanceTo(StatusEstimated), nil
}

// handleEstimated requests an approval round when the environment's rules
// demand one. The round carries sandbox_deploying as its resume target so
// the sandbox rollout continues automatically once approvers decide.
func (o *Orchestrator) handleEstimated(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	mgr := o.approvalManager()
	if mgr != nil {
		rec, required, err := mgr.Request(ctx, dep.ID, dep.Environment, string(StatusSandboxDeploying))
		if err != nil {
			return nil, NewTransientError("failed to request approval round", err).
				WithDeployment(dep.ID)
		}
		if required {
			if err := o.store.SetRequiredApprovals(ctx, dep.ID, rec.RequiredCount); err != nil {
				return nil, err
			}
			return advanceTo(StatusPendingApproval), nil
		}
	}

	d, err := o.gate.CanProceed(ctx, dep.ID, gate.StepSandboxValidation)
	if err != nil {
		return nil, err
	}
	if !d.CanProceed {
		return blockedOn(d.BlockingStep, d.Reason), nil
	}
	return advanceTo(StatusSandboxDeploying), nil
}

func (o *Orchestrator) handlePendingApproval(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	return holdFor("awaiting approval decisions"), nil
}

func (o *Orchestrator) handleApproved(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	d, err := o.gate.CanProceed(ctx, dep.ID, gate.StepProductionRollout)
	if err != nil {
		return nil, err
	}
	if !d.CanProceed {
		return blockedOn(d.BlockingStep, d.Reason), nil
	}
	return advanceTo(StatusDeploying), nil
}

func (o *Orchestrator) handleRejected(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	return advanceTo(StatusRemediation), nil
}

func (o *Orchestrator) handleSandboxDeploying(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	resources, err := o.cloud.Apply(ctx, dep, "sandbox")
	if err != nil {
		return nil, NewTransientError("sandbox rollout failed", err).
			WithCode(ErrCodeProviderFailed).WithDeployment(dep.ID)
	}

	dep.Resources = resources
	if err := o.saveResources(ctx, dep); err != nil {
		return nil, err
	}
	return advanceTo(StatusTesting), nil
}

func (o *Orchestrator) handleTesting(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	resources, err := o.cloud.Health(ctx, dep)
	if err != nil {
		return nil, NewTransientError("sandbox health check failed", err).
			WithCode(ErrCodeProviderFailed).WithDeployment(dep.ID)
	}

	var unhealthy []string
	for _, r := range resources {
		if r.Status != "healthy" {
			unhealthy = append(unhealthy, r.Name)
		}
	}
	if len(unhealthy) > 0 {
		return nil, NewPermanentError(
			fmt.Sprintf("sandbox resources unhealthy: %s", strings.Join(unhealthy, ", ")), nil).
			WithDeployment(dep.ID)
	}

	dep.Resources = resources
	if err := o.saveResources(ctx, dep); err != nil {
		return nil, err
	}
	return advanceTo(StatusSandboxValidated), nil
}

// handleSandboxValidated reuses an approval round that already passed
// before the sandbox rollout; otherwise it opens one now with approved as
// the resume target.
func (o *Orchestrator) handleSandboxValidated(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	passed, err := o.historyContains(ctx, dep.ID, StatusPendingApproval)
	if err != nil {
		return nil, err
	}
	if passed {
		return advanceTo(StatusApproved), nil
	}

	mgr := o.approvalManager()
	if mgr != nil {
		rec, required, err := mgr.Request(ctx, dep.ID, dep.Environment, string(StatusApproved))
		if err != nil {
			return nil, NewTransientError("failed to request approval round", err).
				WithDeployment(dep.ID)
		}
		if required {
			if err := o.store.SetRequiredApprovals(ctx, dep.ID, rec.RequiredCount); err != nil {
				return nil, err
			}
			return advanceTo(StatusPendingApproval), nil
		}
	}
	return advanceTo(StatusApproved), nil
}

func (o *Orchestrator) handleDeploying(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	resources, err := o.cloud.Apply(ctx, dep, dep.Environment)
	if err != nil {
		return nil, NewTransientError("production rollout failed", err).
			WithCode(ErrCodeProviderFailed).WithDeployment(dep.ID)
	}

	dep.Resources = resources
	if err := o.saveResources(ctx, dep); err != nil {
		return nil, err
	}
	return advanceTo(StatusDeployed), nil
}

func (o *Orchestrator) handleDeployed(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	if o.notifier != nil {
		msg := fmt.Sprintf("deployment %s is live in %s", dep.Name, dep.Environment)
		if err := o.notifier.NotifyDeploymentEvent(ctx, dep.ID, string(StatusDeployed), msg); err != nil {
			o.logger.WithDeploymentID(dep.ID).
				WithError(err).
				Warn("deployment notification failed")
		}
	}
	return advanceTo(StatusMonitoring), nil
}

func (o *Orchestrator) handleMonitoring(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	o.StartMonitor(dep.ID)
	return holdFor("resource monitoring active"), nil
}

func (o *Orchestrator) handleRollingBack(ctx context.Context, dep *Deployment) (*handlerResult, error) {
	if err := o.cloud.Destroy(ctx, dep); err != nil {
		return nil, NewTransientError("resource teardown failed", err).
			WithCode(ErrCodeProviderFailed).WithDeployment(dep.ID)
	}

	dep.Resources = dep.Resources[:0]
	if err := o.saveResources(ctx, dep); err != nil {
		return nil, err
	}
	return advanceTo(StatusRolledBack), nil
}
