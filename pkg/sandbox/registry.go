package sandbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/deployforge/deployforge/pkg/credentials"
	"github.com/deployforge/deployforge/pkg/stores"
	"github.com/deployforge/deployforge/pkg/telemetry"
)

// Generator produces a connection test for a service type that has no
// builtin tester. Source is Starlark text or base64-encoded WASM.
type Generator interface {
	GenerateTest(ctx context.Context, serviceType, credentialSchema string) (source, language string, err error)
}

// RegistryConfig configures a tester registry.
type RegistryConfig struct {
	// TestTimeout bounds a single connection test.
	TestTimeout time.Duration

	// MemoryLimitPages caps WASM tester memory in 64KB pages.
	MemoryLimitPages uint32
}

// Registry resolves a ConnectionTester per service type. Definitions are
// persisted so generation happens at most once per type across restarts.
type Registry struct {
	store   stores.Store
	gen     Generator
	dial    Dialer
	cfg     RegistryConfig
	logger  *telemetry.Logger
	metrics *telemetry.Metrics

	mu    sync.Mutex
	cache map[string]ConnectionTester
}

// NewRegistry creates a tester registry. gen may be nil, in which case
// only builtin and already-persisted testers resolve.
func NewRegistry(store stores.Store, gen Generator, dial Dialer, cfg RegistryConfig, logger *telemetry.Logger, metrics *telemetry.Metrics) *Registry {
	if cfg.TestTimeout == 0 {
		cfg.TestTimeout = 30 * time.Second
	}
	return &Registry{
		store:   store,
		gen:     gen,
		dial:    dial,
		cfg:     cfg,
		logger:  logger.NewComponentLogger("sandbox"),
		metrics: metrics,
		cache:   make(map[string]ConnectionTester),
	}
}

// TesterFor returns the tester for serviceType, resolving in order:
// in-memory cache, persisted definition, builtin spec, generator.
func (r *Registry) TesterFor(ctx context.Context, serviceType string) (ConnectionTester, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tester, ok := r.cache[serviceType]; ok {
		return tester, nil
	}

	def, err := r.store.GetServiceDefinition(ctx, serviceType)
	switch {
	case err == nil && def.Active:
		var tester ConnectionTester
		if def.TestLanguage == LanguageBuiltin {
			tester, err = NewBuiltinTester(serviceType, r.dial)
		} else {
			tester, err = r.buildTester(def.TestLanguage, def.TestSource)
		}
		if err != nil {
			return nil, err
		}
		r.cache[serviceType] = tester
		return tester, nil
	case err != nil && !errors.Is(err, stores.ErrNotFound):
		return nil, err
	}

	if HasBuiltinTester(serviceType) {
		tester, err := NewBuiltinTester(serviceType, r.dial)
		if err != nil {
			return nil, err
		}
		if err := r.persistDefinition(ctx, serviceType, "", LanguageBuiltin); err != nil {
			return nil, err
		}
		r.cache[serviceType] = tester
		return tester, nil
	}

	if r.gen == nil {
		return nil, fmt.Errorf("service type %s: %w", serviceType, ErrUnknownServiceType)
	}

	source, language, err := r.gen.GenerateTest(ctx, serviceType, "{}")
	if err != nil {
		return nil, fmt.Errorf("failed to generate test for %s: %w", serviceType, err)
	}
	tester, err := r.buildTester(language, source)
	if err != nil {
		return nil, err
	}
	if err := r.persistDefinition(ctx, serviceType, source, language); err != nil {
		return nil, err
	}

	r.logger.WithServiceType(serviceType).
		WithField("language", language).
		Info("generated connection test")

	r.cache[serviceType] = tester
	return tester, nil
}

// Run resolves the tester for serviceType and executes it, recording
// telemetry. The test is always bounded by the configured timeout.
// Script exceptions and timeouts come back as a failed Result, not as an
// error; a non-nil error means the test could not be run at all (unknown
// service type, broken definition, generation failure).
func (r *Registry) Run(ctx context.Context, serviceType string, creds credentials.Payload) (*Result, error) {
	tester, err := r.TesterFor(ctx, serviceType)
	if err != nil {
		return nil, err
	}

	language := r.languageOf(serviceType)

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.TestTimeout)
	defer cancel()

	result, err := tester.Test(runCtx, creds)
	if err != nil {
		if result == nil {
			return nil, err
		}
		// The tester reached a verdict despite the error; the error text
		// is already in the result message.
		r.logger.WithServiceType(serviceType).
			WithError(err).
			Debug("connection test failed with structured result")
	}
	if result == nil {
		result = &Result{Success: false, Message: "test produced no result"}
	}

	status := "failed"
	if result.Success {
		status = "ok"
	}
	if r.metrics != nil {
		r.metrics.RecordSandboxRun(serviceType, language, status, result.Duration)
	}
	r.logger.WithServiceType(serviceType).
		WithField("success", result.Success).
		WithField("duration", result.Duration.String()).
		Debug("connection test finished")

	return result, nil
}

func (r *Registry) buildTester(language, source string) (ConnectionTester, error) {
	switch language {
	case LanguageStarlark:
		return NewStarlarkTester(source, r.cfg.TestTimeout), nil
	case LanguageWASM:
		module, err := base64.StdEncoding.DecodeString(source)
		if err != nil {
			return nil, fmt.Errorf("failed to decode wasm module: %w", err)
		}
		return NewWASMTester(module, WASMTesterConfig{
			Timeout:          r.cfg.TestTimeout,
			MemoryLimitPages: r.cfg.MemoryLimitPages,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported test language %q", language)
	}
}

func (r *Registry) persistDefinition(ctx context.Context, serviceType, source, language string) error {
	return r.store.UpsertServiceDefinition(ctx, &stores.ServiceDefinitionRecord{
		ServiceType:  serviceType,
		TestSource:   source,
		TestLanguage: language,
		GeneratedAt:  time.Now().UTC(),
		Active:       true,
	})
}

func (r *Registry) languageOf(serviceType string) string {
	def, err := r.store.GetServiceDefinition(context.Background(), serviceType)
	if err != nil {
		return LanguageBuiltin
	}
	return def.TestLanguage
}
