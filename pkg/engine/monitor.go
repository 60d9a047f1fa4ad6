package engine

import (
	"context"
	"strconv"
	"time"
)

// monitorHandle identifies one monitor loop. The loop releases only its
// own map entry, so a stale loop can never cancel its replacement.
type monitorHandle struct {
	cancel context.CancelFunc
}

// StartMonitor begins a background health poll loop for a deployment's
// provisioned resources. An existing loop for the same deployment is
// replaced. The loop stops itself when the deployment leaves monitoring.
func (o *Orchestrator) StartMonitor(id string) {
	o.monitorMu.Lock()
	defer o.monitorMu.Unlock()

	if prev, ok := o.monitors[id]; ok {
		prev.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &monitorHandle{cancel: cancel}
	o.monitors[id] = h
	if o.metrics != nil {
		o.metrics.MonitorStarted()
	}

	go o.monitorLoop(ctx, id, h)

	o.logger.WithDeploymentID(id).
		WithField("interval", o.cfg.MonitorInterval.String()).
		Info("resource monitor started")
}

// StopMonitor cancels the monitor loop for a deployment, if one is running.
func (o *Orchestrator) StopMonitor(id string) {
	o.monitorMu.Lock()
	defer o.monitorMu.Unlock()

	h, ok := o.monitors[id]
	if !ok {
		return
	}
	h.cancel()
	delete(o.monitors, id)
	if o.metrics != nil {
		o.metrics.MonitorStopped()
	}
	o.logger.WithDeploymentID(id).Info("resource monitor stopped")
}

// releaseMonitor removes the loop's own map entry. A handle that has
// already been replaced by StartMonitor is left alone.
func (o *Orchestrator) releaseMonitor(id string, h *monitorHandle) {
	o.monitorMu.Lock()
	defer o.monitorMu.Unlock()

	if o.monitors[id] != h {
		return
	}
	h.cancel()
	delete(o.monitors, id)
	if o.metrics != nil {
		o.metrics.MonitorStopped()
	}
	o.logger.WithDeploymentID(id).Info("resource monitor stopped")
}

func (o *Orchestrator) monitorLoop(ctx context.Context, id string, h *monitorHandle) {
	ticker := time.NewTicker(o.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := o.pollHealth(ctx, id); done {
				o.releaseMonitor(id, h)
				return
			}
		}
	}
}

// pollHealth refreshes the deployment's resource statuses and reports true
// when the loop should stop: the deployment left monitoring, or a resource
// went unhealthy and the deployment was moved to degraded.
func (o *Orchestrator) pollHealth(ctx context.Context, id string) bool {
	dep, err := o.loadDeployment(ctx, id)
	if err != nil {
		o.logger.WithDeploymentID(id).WithError(err).Warn("monitor failed to load deployment")
		return true
	}
	if dep.Status != StatusMonitoring {
		return true
	}

	resources, err := o.cloud.Health(ctx, dep)
	if err != nil {
		// Health check failures are transient; keep polling.
		o.logger.WithDeploymentID(id).WithError(err).Warn("resource health check failed")
		return false
	}

	unhealthy := 0
	for _, r := range resources {
		if r.Status != "healthy" {
			unhealthy++
		}
	}

	dep.Resources = resources
	if err := o.saveResources(ctx, dep); err != nil {
		o.logger.WithDeploymentID(id).WithError(err).Warn("monitor failed to save resource statuses")
		return false
	}

	if unhealthy == 0 {
		return false
	}

	o.logger.WithDeploymentID(id).
		WithField("unhealthy", unhealthy).
		Warn("monitoring detected unhealthy resources")

	err = o.Transition(ctx, id, StatusDegraded, map[string]string{
		"unhealthy_resources": strconv.Itoa(unhealthy),
	})
	if err != nil {
		o.logger.WithDeploymentID(id).WithError(err).Error("failed to mark deployment degraded")
		return false
	}
	if o.events != nil {
		_ = o.events.PublishDeploymentFailed(id, string(StatusDegraded), "unhealthy resources detected")
	}
	return true
}
