package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a lifecycle event in the DeployForge system.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// DeploymentID is the associated deployment ID, if applicable.
	DeploymentID string `json:"deployment_id,omitempty"`

	// Status is the deployment status at event time, if applicable.
	Status string `json:"status,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeDeploymentCreated      = "deployment.created"
	EventTypeDeploymentTransitioned = "deployment.transitioned"
	EventTypeDeploymentFailed       = "deployment.failed"
	EventTypeDeploymentCancelled    = "deployment.cancelled"
	EventTypeApprovalRequested      = "approval.requested"
	EventTypeApprovalResolved       = "approval.resolved"
	EventTypeSandboxTestCompleted   = "sandbox.test_completed"
	EventTypeToolFallback           = "tool.fallback"
	EventTypePolicyDenied           = "policy.denied"
	EventTypeError                  = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishDeploymentCreated publishes a deployment created event.
func (ep *EventPublisher) PublishDeploymentCreated(deploymentID, name, environment string) error {
	return ep.Publish(Event{
		Type:         EventTypeDeploymentCreated,
		Source:       "engine",
		DeploymentID: deploymentID,
		Status:       "created",
		Message:      fmt.Sprintf("Deployment %s (%s) created for %s", deploymentID, name, environment),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"name":        name,
			"environment": environment,
		},
	})
}

// PublishDeploymentTransitioned publishes a status transition event.
func (ep *EventPublisher) PublishDeploymentTransitioned(deploymentID, fromStatus, toStatus string) error {
	return ep.Publish(Event{
		Type:         EventTypeDeploymentTransitioned,
		Source:       "engine",
		DeploymentID: deploymentID,
		Status:       toStatus,
		Message:      fmt.Sprintf("Deployment %s transitioned from %s to %s", deploymentID, fromStatus, toStatus),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"from_status": fromStatus,
			"to_status":   toStatus,
		},
	})
}

// PublishDeploymentFailed publishes a deployment failure event.
func (ep *EventPublisher) PublishDeploymentFailed(deploymentID, status, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypeDeploymentFailed,
		Source:       "engine",
		DeploymentID: deploymentID,
		Status:       status,
		Message:      fmt.Sprintf("Deployment %s failed in %s: %s", deploymentID, status, reason),
		Level:        EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishApprovalRequested publishes an approval requested event.
func (ep *EventPublisher) PublishApprovalRequested(deploymentID, environment string, requiredCount int) error {
	return ep.Publish(Event{
		Type:         EventTypeApprovalRequested,
		Source:       "approval",
		DeploymentID: deploymentID,
		Message:      fmt.Sprintf("Approval requested for deployment %s in %s (%d approvers required)", deploymentID, environment, requiredCount),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"environment":    environment,
			"required_count": requiredCount,
		},
	})
}

// PublishApprovalResolved publishes an approval resolution event.
func (ep *EventPublisher) PublishApprovalResolved(deploymentID, outcome string) error {
	level := EventLevelInfo
	if outcome == "rejected" || outcome == "expired" {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:         EventTypeApprovalResolved,
		Source:       "approval",
		DeploymentID: deploymentID,
		Message:      fmt.Sprintf("Approval round for deployment %s resolved: %s", deploymentID, outcome),
		Level:        level,
		Data: map[string]interface{}{
			"outcome": outcome,
		},
	})
}

// PublishSandboxTestCompleted publishes a sandbox test completion event.
func (ep *EventPublisher) PublishSandboxTestCompleted(deploymentID, serviceType string, success bool) error {
	level := EventLevelInfo
	if !success {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:         EventTypeSandboxTestCompleted,
		Source:       "sandbox",
		DeploymentID: deploymentID,
		Message:      fmt.Sprintf("Sandbox test for %s on deployment %s completed (success=%t)", serviceType, deploymentID, success),
		Level:        level,
		Data: map[string]interface{}{
			"service_type": serviceType,
			"success":      success,
		},
	})
}

// PublishToolFallback publishes a tool fallback event.
func (ep *EventPublisher) PublishToolFallback(server, tool string) error {
	return ep.Publish(Event{
		Type:    EventTypeToolFallback,
		Source:  "toolproto",
		Message: fmt.Sprintf("Tool %s on server %s served by fallback", tool, server),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"server": server,
			"tool":   tool,
		},
	})
}

// PublishPolicyDenied publishes a policy denial event.
func (ep *EventPublisher) PublishPolicyDenied(deploymentID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypePolicyDenied,
		Source:       "policy",
		DeploymentID: deploymentID,
		Message:      fmt.Sprintf("Policy %s denied transition for deployment %s: %s", policyName, deploymentID, reason),
		Level:        EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		// Subscribers run on their own goroutine so a slow one cannot
		// stall delivery.
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByDeploymentID creates a filter that only allows events for a specific deployment.
func FilterByDeploymentID(deploymentID string) EventFilter {
	return func(event Event) bool {
		return event.DeploymentID == deploymentID
	}
}
