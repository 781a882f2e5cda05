// Package rpc serves the tool surface over line-delimited JSON-RPC 2.0 on
// stdin/stdout. Protocol misuse (parse failures, unknown methods) maps to
// JSON-RPC errors; tool failures come back as tool results flagged with
// isError and an enumerated kind.
package rpc

import "encoding/json"

const (
	jsonrpcVersion  = "2.0"
	protocolVersion = "2024-11-05"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

type request struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// callParams are the tools/call parameters.
type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// callMeta is the _meta block carried inside tool arguments.
type callMeta struct {
	AuthKey   string `json:"authKey,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

type metaEnvelope struct {
	Meta callMeta `json:"_meta"`
}

// content is one MCP-style content block.
type content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// toolResult is the result of one tools/call.
type toolResult struct {
	Content           []content `json:"content"`
	StructuredContent any       `json:"structuredContent,omitempty"`
	IsError           bool      `json:"isError,omitempty"`
	ErrorKind         string    `json:"errorKind,omitempty"`
}

func textResult(text string, structured any) *toolResult {
	return &toolResult{
		Content:           []content{{Type: "text", Text: text}},
		StructuredContent: structured,
	}
}

func errorResult(kind, message string) *toolResult {
	return &toolResult{
		Content:   []content{{Type: "text", Text: message}},
		IsError:   true,
		ErrorKind: kind,
	}
}

// toolDescriptor is one entry of tools/list.
type toolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      serverInfo     `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
