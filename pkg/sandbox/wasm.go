package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/deployforge/deployforge/pkg/credentials"
)

// WASMTester runs a compiled WASI command module as a connection test.
// The module receives the credential payload as JSON on stdin and must
// write a JSON result {"success": bool, "message": string} to stdout.
type WASMTester struct {
	module           []byte
	timeout          time.Duration
	memoryLimitPages uint32
}

// WASMTesterConfig configures a WASM tester.
type WASMTesterConfig struct {
	// Timeout bounds one test run.
	Timeout time.Duration

	// MemoryLimitPages caps module memory in 64KB pages.
	// Default is 256 pages (16MB).
	MemoryLimitPages uint32
}

// NewWASMTester creates a tester from a compiled WASM module.
func NewWASMTester(module []byte, cfg WASMTesterConfig) *WASMTester {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = 256
	}
	return &WASMTester{
		module:           module,
		timeout:          cfg.Timeout,
		memoryLimitPages: cfg.MemoryLimitPages,
	}
}

// Test instantiates the module and runs it to completion. The runtime is
// memory-capped and closes with the context, so a runaway module is
// killed at the deadline.
func (t *WASMTester) Test(ctx context.Context, creds credentials.Payload) (*Result, error) {
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(t.memoryLimitPages).
		WithCloseOnContextDone(true)

	runtime := wazero.NewRuntimeWithConfig(runCtx, runtimeConfig)
	defer runtime.Close(context.Background())

	if _, err := wasi_snapshot_preview1.Instantiate(runCtx, runtime); err != nil {
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	input, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credentials: %w", err)
	}

	var stdout bytes.Buffer
	moduleConfig := wazero.NewModuleConfig().
		WithName("connection-test").
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout)

	// Instantiating a WASI command module runs its _start function.
	_, err = runtime.InstantiateWithConfig(runCtx, t.module, moduleConfig)
	if err != nil {
		if exitErr, ok := err.(*sys.ExitError); ok && exitErr.ExitCode() == 0 {
			// Clean exit, fall through to parse stdout
		} else if runCtx.Err() != nil {
			return &Result{
				Success:  false,
				Message:  fmt.Sprintf("test timed out after %v", t.timeout),
				Duration: time.Since(start),
			}, fmt.Errorf("wasm test timeout: %w", runCtx.Err())
		} else {
			return &Result{
				Success:  false,
				Message:  err.Error(),
				Duration: time.Since(start),
			}, fmt.Errorf("wasm test failed: %w", err)
		}
	}

	var out struct {
		Success bool                   `json:"success"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("failed to parse test output: %w", err)
	}

	return &Result{
		Success:  out.Success,
		Message:  out.Message,
		Details:  out.Details,
		Duration: time.Since(start),
	}, nil
}
