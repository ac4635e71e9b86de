package rpc

import (
	"encoding/json"

	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
)

// Request is one inbound JSON-RPC 2.0 envelope, one per line.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the reply envelope. Result carries the tool result object
// directly; it is never wrapped a second time.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CallParams is the params shape of a tools/call request.
type CallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// InitializeResult is the reply to the initialize method.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocol_version"`
	ServerName      string         `json:"server_name"`
	ServerVersion   string         `json:"server_version"`
	Capabilities    map[string]any `json:"capabilities"`
}

// ToolDescriptor is one tools/list entry.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

func errorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ErrorObject{Code: code, Message: message},
	}
}

func resultResponse(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

// failureResult turns a domain error into the {success:false, …} tool result
// shape. Protocol-level kinds never reach here; the dispatcher maps those
// onto the envelope error field.
func failureResult(err error) map[string]any {
	out := map[string]any{
		"success": false,
		"error":   string(ltmerr.KindOf(err)),
		"message": err.Error(),
	}
	if code := ltmerr.Code(err); code != 0 {
		out["error_code"] = code
	}
	return out
}
