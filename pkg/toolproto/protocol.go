package toolproto

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the protocol version this client speaks.
const ProtocolVersion = "1.0"

// Method names defined by the protocol.
const (
	MethodInitialize = "initialize"
	MethodToolsList  = "tools/list"
	MethodToolsCall  = "tools/call"
)

// Request is one protocol request.
type Request struct {
	Version string          `json:"version"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Validate checks the request structure.
func (r *Request) Validate() error {
	if r.Version == "" {
		return fmt.Errorf("request version is required")
	}
	if r.ID <= 0 {
		return fmt.Errorf("request id must be positive")
	}
	switch r.Method {
	case MethodInitialize, MethodToolsList, MethodToolsCall:
		return nil
	default:
		return fmt.Errorf("unknown method: %s", r.Method)
	}
}

// ErrorObject carries a protocol-level error.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *ErrorObject) Error() string {
	return fmt.Sprintf("tool server error %d: %s", e.Code, e.Message)
}

// Response is one protocol response. Exactly one of Result or Error is set.
type Response struct {
	Version string          `json:"version"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// Validate checks the response structure.
func (r *Response) Validate() error {
	if r.Result != nil && r.Error != nil {
		return fmt.Errorf("response carries both result and error")
	}
	if r.Result == nil && r.Error == nil {
		return fmt.Errorf("response carries neither result nor error")
	}
	return nil
}

// InitializeParams is the payload for the initialize method.
type InitializeParams struct {
	ClientName    string `json:"client_name"`
	ClientVersion string `json:"client_version"`
	Protocol      string `json:"protocol"`
}

// InitializeResult is the server's handshake reply.
type InitializeResult struct {
	ServerName    string `json:"server_name"`
	ServerVersion string `json:"server_version"`
	Protocol      string `json:"protocol"`
}

// ToolDescriptor describes one tool a server exposes.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolsListResult is the reply to tools/list.
type ToolsListResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// ToolCallParams is the payload for tools/call.
type ToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// Validate checks the call parameters.
func (p *ToolCallParams) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	return nil
}

// ToolCallResult is the reply to tools/call.
type ToolCallResult struct {
	Content json.RawMessage `json:"content"`
	IsError bool            `json:"is_error,omitempty"`
}
