package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/deployforge/deployforge/pkg/approval"
	"github.com/deployforge/deployforge/pkg/config"
	"github.com/deployforge/deployforge/pkg/credentials"
	"github.com/deployforge/deployforge/pkg/engine"
	"github.com/deployforge/deployforge/pkg/gate"
	"github.com/deployforge/deployforge/pkg/policy"
	"github.com/deployforge/deployforge/pkg/sandbox"
	"github.com/deployforge/deployforge/pkg/stores"
	"github.com/deployforge/deployforge/pkg/telemetry"
	"github.com/deployforge/deployforge/pkg/toolproto"
)

// app wires the full engine from configuration. Every command builds one,
// runs, and closes it.
type app struct {
	cfg       *config.Config
	logger    *telemetry.Logger
	metrics   *telemetry.Metrics
	events    *telemetry.EventPublisher
	tracer    *telemetry.Tracer
	store     stores.Store
	tools     *toolproto.Registry
	policies  *policy.Engine
	orch      *engine.Orchestrator
	approvals *approval.Manager
	vault     *credentials.Manager
}

// eventNotifier bridges approval notifications onto the event bus.
type eventNotifier struct {
	events *telemetry.EventPublisher
}

func (n *eventNotifier) NotifyApprovalRequested(_ context.Context, deploymentID, environment string, requiredCount int) error {
	return n.events.PublishApprovalRequested(deploymentID, environment, requiredCount)
}

func newApp(ctx context.Context) (*app, error) {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	tc := cfg.TelemetryConfig()
	logger, err := telemetry.NewLogger(tc.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	metrics, err := telemetry.NewMetrics(tc.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	events, err := telemetry.NewEventPublisher(tc.Events)
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}
	tracer, err := telemetry.NewTracer(tc.Tracing, tc.ServiceName, tc.ServiceVersion, tc.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            cfg.Store.Path,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}

	passphrase, err := cfg.Credentials.Passphrase()
	if err != nil {
		return nil, err
	}
	cipher, err := credentials.NewCipher(passphrase)
	if err != nil {
		return nil, err
	}

	serverConfigs := make([]toolproto.ServerConfig, 0, len(cfg.ToolServers))
	for _, ts := range cfg.ToolServers {
		serverConfigs = append(serverConfigs, toolproto.ServerConfig{
			Name:             ts.Name,
			URL:              ts.URL,
			Eager:            ts.Eager,
			HandshakeTimeout: ts.HandshakeTimeout,
			CallTimeout:      ts.CallTimeout,
		})
	}
	tools := toolproto.NewRegistry(logger, metrics, events, 256, serverConfigs)
	// Eager servers handshake now; the rest connect on first call.
	for _, sc := range serverConfigs {
		if !sc.Eager {
			continue
		}
		if err := tools.RegisterServer(ctx, sc); err != nil {
			return nil, fmt.Errorf("failed to register tool server %s: %w", sc.Name, err)
		}
	}
	registerFallbacks(tools)

	policies, err := policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := policies.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return nil, err
		}
	}

	gen := engine.NewToolCodeGenerator(tools)
	sbx := sandbox.NewRegistry(store, gen, sandbox.DefaultDialer, sandbox.RegistryConfig{
		TestTimeout:      cfg.Sandbox.TestTimeout,
		MemoryLimitPages: cfg.Sandbox.MemoryLimitPages,
	}, logger, metrics)

	orch, err := engine.NewOrchestrator(engine.Deps{
		Store:     store,
		Gate:      gate.New(store, logger),
		Policies:  policies,
		Sandbox:   sbx,
		Tools:     tools,
		Cipher:    cipher,
		Generator: gen,
		Cloud:     &logCloudProvider{logger: logger},
		Logger:    logger,
		Metrics:   metrics,
		Events:    events,
		Tracer:    tracer,
	}, engine.Config{
		HopCap:          cfg.Engine.HopCap,
		MonitorInterval: cfg.Engine.MonitorInterval,
	})
	if err != nil {
		return nil, err
	}

	rules := make([]approval.Rule, 0, len(cfg.Environments))
	for _, env := range cfg.Environments {
		rules = append(rules, approval.Rule{
			Environment:  env.Name,
			Required:     env.ApprovalRequired,
			MinApprovals: env.MinApprovals,
			AllowedRoles: env.ApproverRoles,
			Timeout:      env.ApprovalTimeout,
		})
	}
	mgr := approval.NewManager(store, approval.NewRuleSet(rules, approval.Rule{Required: false}),
		orch, &eventNotifier{events: events}, cfg.RolesFor,
		approval.ManagerConfig{}, logger, metrics, events)
	orch.SetApprovals(mgr)

	return &app{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		events:    events,
		tracer:    tracer,
		store:     store,
		tools:     tools,
		policies:  policies,
		orch:      orch,
		approvals: mgr,
		vault:     credentials.NewManager(store, cipher, logger, metrics),
	}, nil
}

func (a *app) Close() {
	a.orch.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.events.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Warn("event publisher shutdown failed")
	}
	if err := a.tracer.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Warn("tracer shutdown failed")
	}
	if err := a.store.Close(); err != nil {
		a.logger.WithError(err).Warn("store close failed")
	}
}

// logCloudProvider is the placeholder infrastructure backend: it records
// what a rollout would provision without touching a real cloud account.
type logCloudProvider struct {
	logger *telemetry.Logger
}

func (p *logCloudProvider) Apply(_ context.Context, dep *engine.Deployment, environment string) ([]engine.ProvisionedResource, error) {
	p.logger.WithDeploymentID(dep.ID).
		WithField("environment", environment).
		Info("applying infrastructure")

	resources := []engine.ProvisionedResource{
		{ID: dep.ID + "-svc", Type: "container.service", Name: dep.Name, Status: "healthy"},
	}
	for _, svc := range dep.Requirements.DetectedServices {
		resources = append(resources, engine.ProvisionedResource{
			ID:     dep.ID + "-" + svc,
			Type:   "managed." + svc,
			Name:   dep.Name + "-" + svc,
			Status: "healthy",
		})
	}
	return resources, nil
}

func (p *logCloudProvider) Destroy(_ context.Context, dep *engine.Deployment) error {
	p.logger.WithDeploymentID(dep.ID).
		WithField("resources", len(dep.Resources)).
		Info("destroying infrastructure")
	return nil
}

func (p *logCloudProvider) Health(_ context.Context, dep *engine.Deployment) ([]engine.ProvisionedResource, error) {
	return dep.Resources, nil
}
