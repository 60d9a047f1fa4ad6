package sandbox

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/deployforge/deployforge/pkg/credentials"
)

// Result is the outcome of one connection test.
type Result struct {
	Success  bool                   `json:"success"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
	Duration time.Duration          `json:"duration"`
}

// ConnectionTester validates that a credential payload can reach its
// service. Implementations must honor the context deadline.
type ConnectionTester interface {
	Test(ctx context.Context, creds credentials.Payload) (*Result, error)
}

// Dialer opens a network connection. Injected so tests never need a
// live service.
type Dialer func(ctx context.Context, network, address string) (net.Conn, error)

// DefaultDialer dials over the real network.
func DefaultDialer(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, address)
}

// Test languages understood by the registry.
const (
	LanguageBuiltin  = "builtin"
	LanguageStarlark = "starlark"
	LanguageWASM     = "wasm"
)

// ErrUnknownServiceType is returned when no tester strategy exists for a
// service type and no generator is configured.
var ErrUnknownServiceType = errors.New("unknown service type")
