package sandbox

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/deployforge/deployforge/pkg/credentials"
)

// StarlarkTester runs a generated Starlark connection test. The script
// receives the credential payload as a predeclared `creds` dict and must
// assign two globals: `success` (bool) and `message` (string).
type StarlarkTester struct {
	source  string
	timeout time.Duration
}

// NewStarlarkTester creates a tester from Starlark source.
func NewStarlarkTester(source string, timeout time.Duration) *StarlarkTester {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkTester{
		source:  source,
		timeout: timeout,
	}
}

// Test evaluates the script. The interpreter thread is cancelled when the
// context ends, so a runaway script cannot outlive its deadline.
func (t *StarlarkTester) Test(ctx context.Context, creds credentials.Payload) (*Result, error) {
	start := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: "sandbox",
		Print: func(_ *starlark.Thread, _ string) {
			// Scripts cannot write to the host's output
		},
	}

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-evalCtx.Done():
			thread.Cancel("test deadline exceeded")
		case <-watchDone:
		}
	}()

	credsDict := starlark.NewDict(len(creds))
	for k, v := range creds {
		if err := credsDict.SetKey(starlark.String(k), starlark.String(v)); err != nil {
			return nil, fmt.Errorf("failed to build creds dict: %w", err)
		}
	}

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
		"creds":  credsDict,
	}

	globals, err := starlark.ExecFile(thread, "test.star", t.source, predeclared)
	if err != nil {
		if evalCtx.Err() != nil {
			return &Result{
				Success:  false,
				Message:  fmt.Sprintf("test timed out after %v", t.timeout),
				Duration: time.Since(start),
			}, fmt.Errorf("starlark test timeout: %w", evalCtx.Err())
		}
		return &Result{
			Success:  false,
			Message:  err.Error(),
			Duration: time.Since(start),
		}, fmt.Errorf("starlark test failed: %w", err)
	}

	success, err := globalBool(globals, "success")
	if err != nil {
		return nil, err
	}
	message, err := globalString(globals, "message")
	if err != nil {
		return nil, err
	}

	result := &Result{
		Success:  success,
		Message:  message,
		Duration: time.Since(start),
	}

	if detailsVal, ok := globals["details"]; ok {
		if dict, ok := detailsVal.(*starlark.Dict); ok {
			details, err := dictToMap(dict)
			if err != nil {
				return nil, err
			}
			result.Details = details
		}
	}

	return result, nil
}

func globalBool(globals starlark.StringDict, name string) (bool, error) {
	val, ok := globals[name]
	if !ok {
		return false, fmt.Errorf("test script did not set %q", name)
	}
	b, ok := val.(starlark.Bool)
	if !ok {
		return false, fmt.Errorf("global %q must be a bool, got %s", name, val.Type())
	}
	return bool(b), nil
}

func globalString(globals starlark.StringDict, name string) (string, error) {
	val, ok := globals[name]
	if !ok {
		return "", fmt.Errorf("test script did not set %q", name)
	}
	s, ok := val.(starlark.String)
	if !ok {
		return "", fmt.Errorf("global %q must be a string, got %s", name, val.Type())
	}
	return string(s), nil
}

func dictToMap(dict *starlark.Dict) (map[string]interface{}, error) {
	out := make(map[string]interface{}, dict.Len())
	for _, item := range dict.Items() {
		key, ok := item[0].(starlark.String)
		if !ok {
			return nil, fmt.Errorf("details key must be a string, got %s", item[0].Type())
		}
		val, err := fromStarlarkValue(item[1])
		if err != nil {
			return nil, err
		}
		out[string(key)] = val
	}
	return out, nil
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		return dictToMap(val)
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
