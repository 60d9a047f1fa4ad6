package toolproto

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/deployforge/deployforge/pkg/telemetry"
)

// Fallback is a local implementation of one tool, used when its server is
// unreachable or configured with a placeholder URL.
type Fallback func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error)

// ServerConfig configures one tool server in the registry.
type ServerConfig struct {
	// Name identifies the server.
	Name string

	// URL is the server endpoint. Placeholder URLs are detected and the
	// server becomes fallback-only without ever being dialed.
	URL string

	// Eager performs the handshake at registration instead of on first
	// call.
	Eager bool

	// HandshakeTimeout and CallTimeout override the client defaults.
	HandshakeTimeout time.Duration
	CallTimeout      time.Duration
}

// ServerStatus reports one server's health.
type ServerStatus struct {
	Name         string   `json:"name"`
	URL          string   `json:"url,omitempty"`
	FallbackOnly bool     `json:"fallback_only"`
	Initialized  bool     `json:"initialized"`
	Tools        []string `json:"tools,omitempty"`
	Error        string   `json:"error,omitempty"`
}

type server struct {
	client       *Client
	url          string
	fallbackOnly bool
	fallbacks    map[string]Fallback
	tools        []string
}

// Registry fronts a set of tool servers with per-tool fallbacks and a
// shared call history. Servers named in the static configuration do not
// need an explicit RegisterServer call: the first Call to one connects it.
type Registry struct {
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
	history *History

	mu      sync.Mutex
	servers map[string]*server
	configs map[string]ServerConfig
}

// NewRegistry creates a tool server registry. configs is the static
// server configuration used to resolve servers on first call.
func NewRegistry(logger *telemetry.Logger, metrics *telemetry.Metrics, events *telemetry.EventPublisher, historySize int, configs []ServerConfig) *Registry {
	known := make(map[string]ServerConfig, len(configs))
	for _, cfg := range configs {
		if cfg.Name != "" {
			known[cfg.Name] = cfg
		}
	}
	return &Registry{
		logger:  logger.NewComponentLogger("toolproto"),
		metrics: metrics,
		events:  events,
		history: NewHistory(historySize),
		servers: make(map[string]*server),
		configs: known,
	}
}

// placeholderMarkers flag URLs that were clearly never filled in.
var placeholderMarkers = []string{
	"example.com",
	"example.org",
	"your-",
	"changeme",
	"change-me",
	"placeholder",
	"<",
	"todo",
}

// IsPlaceholderURL reports whether a URL looks like unfilled template
// configuration.
func IsPlaceholderURL(url string) bool {
	if url == "" {
		return true
	}
	lower := strings.ToLower(url)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// RegisterServer adds a server to the registry. A placeholder URL makes
// the server fallback-only. An eager server that fails its handshake is
// kept and retried lazily on first call.
func (r *Registry) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("server name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[cfg.Name] = cfg

	srv, exists := r.servers[cfg.Name]
	if !exists {
		srv = &server{fallbacks: make(map[string]Fallback)}
		r.servers[cfg.Name] = srv
	}
	srv.url = cfg.URL

	if IsPlaceholderURL(cfg.URL) {
		srv.fallbackOnly = true
		srv.client = nil
		r.logger.WithToolServer(cfg.Name, cfg.URL).
			Warn("tool server URL is a placeholder, using fallbacks only")
		return nil
	}

	client, err := NewClient(ClientConfig{
		Name:             cfg.Name,
		URL:              cfg.URL,
		HandshakeTimeout: cfg.HandshakeTimeout,
		CallTimeout:      cfg.CallTimeout,
	})
	if err != nil {
		return err
	}
	srv.client = client
	srv.fallbackOnly = false

	if cfg.Eager {
		if _, err := client.Initialize(ctx); err != nil {
			r.logger.WithToolServer(cfg.Name, cfg.URL).
				WithError(err).
				Warn("eager handshake failed, will retry on first call")
		} else {
			srv.tools = r.advertisedTools(ctx, client, cfg.Name)
		}
	}

	return nil
}

// advertisedTools fetches the server's tool listing after a handshake.
// Listing failures are not fatal; the status just shows no tools.
func (r *Registry) advertisedTools(ctx context.Context, client *Client, name string) []string {
	descriptors, err := client.ListTools(ctx)
	if err != nil {
		r.logger.WithToolServer(name, "").
			WithError(err).
			Warn("tools/list failed after handshake")
		return nil
	}
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.Name)
	}
	return names
}

// RegisterFallback installs a local fallback for one tool. An unknown
// server name is auto-registered as fallback-only so fallbacks can be
// wired before (or without) server configuration.
func (r *Registry) RegisterFallback(serverName, tool string, fn Fallback) {
	r.mu.Lock()
	defer r.mu.Unlock()

	srv, exists := r.servers[serverName]
	if !exists {
		srv = &server{
			fallbacks:    make(map[string]Fallback),
			fallbackOnly: true,
		}
		r.servers[serverName] = srv
	}
	srv.fallbacks[tool] = fn
}

// Call invokes a tool on a server, falling back to the local
// implementation when the server is fallback-only or the remote call
// fails. A server named in the static configuration but never registered
// is connected on first call. Every attempt is recorded in the history.
func (r *Registry) Call(ctx context.Context, serverName, tool string, args map[string]interface{}) (json.RawMessage, error) {
	r.mu.Lock()
	srv, exists := r.servers[serverName]
	cfg, configured := r.configs[serverName]
	r.mu.Unlock()
	if !exists {
		if !configured {
			return nil, fmt.Errorf("unknown tool server %q", serverName)
		}
		if err := r.RegisterServer(ctx, cfg); err != nil {
			return nil, err
		}
		r.mu.Lock()
		srv = r.servers[serverName]
		r.mu.Unlock()
	}

	start := time.Now()

	if !srv.fallbackOnly && srv.client != nil {
		if !srv.client.Initialized() {
			if _, err := srv.client.Initialize(ctx); err != nil {
				r.logger.WithToolServer(serverName, "").
					WithError(err).
					Warn("handshake failed, trying fallback")
				return r.callFallback(ctx, srv, serverName, tool, args, start)
			}
			tools := r.advertisedTools(ctx, srv.client, serverName)
			r.mu.Lock()
			srv.tools = tools
			r.mu.Unlock()
		}

		content, err := srv.client.CallTool(ctx, tool, args)
		duration := time.Since(start)
		if err == nil {
			r.record(CallRecord{
				Server:    serverName,
				Tool:      tool,
				Arguments: args,
				Success:   true,
				Duration:  duration,
			})
			if r.metrics != nil {
				r.metrics.RecordToolCall(serverName, tool, "ok", duration)
			}
			return content, nil
		}

		r.logger.WithToolServer(serverName, "").
			WithField("tool", tool).
			WithError(err).
			Warn("tool call failed, trying fallback")
		if r.metrics != nil {
			r.metrics.RecordToolCall(serverName, tool, "error", duration)
		}
		return r.callFallback(ctx, srv, serverName, tool, args, start)
	}

	return r.callFallback(ctx, srv, serverName, tool, args, start)
}

func (r *Registry) callFallback(ctx context.Context, srv *server, serverName, tool string, args map[string]interface{}, start time.Time) (json.RawMessage, error) {
	fn, ok := srv.fallbacks[tool]
	if !ok {
		err := fmt.Errorf("no fallback for tool %s on server %s", tool, serverName)
		r.record(CallRecord{
			Server:    serverName,
			Tool:      tool,
			Arguments: args,
			Success:   false,
			Error:     err.Error(),
			Duration:  time.Since(start),
		})
		return nil, err
	}

	content, err := fn(ctx, args)
	duration := time.Since(start)

	rec := CallRecord{
		Server:    serverName,
		Tool:      tool,
		Arguments: args,
		Success:   err == nil,
		Fallback:  true,
		Duration:  duration,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	r.record(rec)

	if r.metrics != nil {
		r.metrics.RecordToolFallback(serverName, tool)
	}
	if r.events != nil {
		_ = r.events.PublishToolFallback(serverName, tool)
	}

	if err != nil {
		return nil, fmt.Errorf("fallback for %s on %s failed: %w", tool, serverName, err)
	}
	return content, nil
}

func (r *Registry) record(rec CallRecord) {
	r.history.Record(rec)
}

// History returns the shared call history.
func (r *Registry) History() *History {
	return r.history
}

// Statuses reports the current state of every server without dialing.
func (r *Registry) Statuses() []ServerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]ServerStatus, 0, len(r.servers))
	for name, srv := range r.servers {
		status := ServerStatus{
			Name:         name,
			URL:          srv.url,
			FallbackOnly: srv.fallbackOnly,
			Tools:        srv.tools,
		}
		if srv.client != nil {
			status.Initialized = srv.client.Initialized()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// HealthCheck probes every registered server with a handshake.
func (r *Registry) HealthCheck(ctx context.Context) []ServerStatus {
	r.mu.Lock()
	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	r.mu.Unlock()

	statuses := make([]ServerStatus, 0, len(names))
	for _, name := range names {
		r.mu.Lock()
		srv := r.servers[name]
		r.mu.Unlock()

		status := ServerStatus{
			Name:         name,
			URL:          srv.url,
			FallbackOnly: srv.fallbackOnly,
			Tools:        srv.tools,
		}
		if srv.client != nil {
			status.Initialized = srv.client.Initialized()
			if _, err := srv.client.Initialize(ctx); err != nil {
				status.Error = err.Error()
			} else {
				status.Initialized = true
				tools := r.advertisedTools(ctx, srv.client, name)
				r.mu.Lock()
				srv.tools = tools
				r.mu.Unlock()
				status.Tools = tools
			}
		}
		statuses = append(statuses, status)
	}
	return statuses
}
