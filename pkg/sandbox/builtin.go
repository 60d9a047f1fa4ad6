package sandbox

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/deployforge/deployforge/pkg/credentials"
)

// builtinSpec describes how to validate one well-known service type.
type builtinSpec struct {
	requiredFields []string
	defaultPort    string
}

// builtinSpecs covers the service types with hand-written validation.
// Everything else goes through generated Starlark or WASM tests.
var builtinSpecs = map[string]builtinSpec{
	"postgres": {
		requiredFields: []string{"host", "username", "password"},
		defaultPort:    "5432",
	},
	"mysql": {
		requiredFields: []string{"host", "username", "password"},
		defaultPort:    "3306",
	},
	"redis": {
		requiredFields: []string{"host"},
		defaultPort:    "6379",
	},
	"mongodb": {
		requiredFields: []string{"host", "username", "password"},
		defaultPort:    "27017",
	},
	"rabbitmq": {
		requiredFields: []string{"host", "username", "password"},
		defaultPort:    "5672",
	},
	"smtp": {
		requiredFields: []string{"host", "username", "password"},
		defaultPort:    "587",
	},
}

// BuiltinTester validates credentials for a well-known service type by
// checking required fields and opening a TCP connection.
type BuiltinTester struct {
	serviceType string
	spec        builtinSpec
	dial        Dialer
}

// NewBuiltinTester returns a tester for serviceType, or ErrUnknownServiceType
// if no builtin spec exists.
func NewBuiltinTester(serviceType string, dial Dialer) (*BuiltinTester, error) {
	spec, ok := builtinSpecs[serviceType]
	if !ok {
		return nil, fmt.Errorf("no builtin tester for %s: %w", serviceType, ErrUnknownServiceType)
	}
	if dial == nil {
		dial = DefaultDialer
	}
	return &BuiltinTester{
		serviceType: serviceType,
		spec:        spec,
		dial:        dial,
	}, nil
}

// HasBuiltinTester reports whether a builtin spec exists for serviceType.
func HasBuiltinTester(serviceType string) bool {
	_, ok := builtinSpecs[serviceType]
	return ok
}

// Test checks required fields and reachability.
func (t *BuiltinTester) Test(ctx context.Context, creds credentials.Payload) (*Result, error) {
	start := time.Now()

	for _, field := range t.spec.requiredFields {
		if creds[field] == "" {
			return &Result{
				Success:  false,
				Message:  fmt.Sprintf("missing required field %q for %s", field, t.serviceType),
				Duration: time.Since(start),
			}, nil
		}
	}

	port := creds["port"]
	if port == "" {
		port = t.spec.defaultPort
	}
	addr := net.JoinHostPort(creds["host"], port)

	conn, err := t.dial(ctx, "tcp", addr)
	if err != nil {
		return &Result{
			Success:  false,
			Message:  fmt.Sprintf("failed to connect to %s: %v", addr, err),
			Duration: time.Since(start),
		}, nil
	}
	_ = conn.Close()

	return &Result{
		Success:  true,
		Message:  fmt.Sprintf("%s reachable at %s", t.serviceType, addr),
		Details:  map[string]interface{}{"address": addr},
		Duration: time.Since(start),
	}, nil
}
