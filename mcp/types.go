// Package mcp implements the client and server sides of the Model Context Protocol
// tool surface: initialize, tools/list, tools/call and ping.
package mcp

import (
	"encoding/json"

	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge", "mcp")

// ProtocolVersion is the MCP revision announced during initialize
const ProtocolVersion = "2025-03-26"

// Method names
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
	MethodPing        = "ping"
)

// Implementation describes the name and version of an MCP peer
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsCapability is present when the server offers tools
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities describes the features of a server
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// InitializeRequest is sent by the client to start a session
type InitializeRequest struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// InitializeResult is returned by the server
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// Tool describes a callable capability of a tool host.
// InputSchema is kept raw: hosts are not guaranteed to send complete schemas.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsRequest requests one page of tools
type ListToolsRequest struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListToolsResult is one page of tools
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// CallToolRequest invokes a tool by name
type CallToolRequest struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments,omitempty"`
}

// CallToolResult is the outcome of a tool call.
// Content holds typed blocks, such as {"type":"text","text":"..."}, in order.
type CallToolResult struct {
	Content           []json.RawMessage `json:"content"`
	StructuredContent json.RawMessage   `json:"structuredContent,omitempty"`
	IsError           bool              `json:"isError,omitempty"`
}

// TextContent is a text block
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewTextContent returns an encoded text block
func NewTextContent(text string) json.RawMessage {
	js, _ := json.Marshal(TextContent{Type: "text", Text: text})
	return js
}

// NewTextResult returns a successful result with a single text block
func NewTextResult(text string) *CallToolResult {
	return &CallToolResult{
		Content: []json.RawMessage{NewTextContent(text)},
	}
}

// NewErrorResult returns a failed result with a single text block
func NewErrorResult(text string) *CallToolResult {
	return &CallToolResult{
		Content: []json.RawMessage{NewTextContent(text)},
		IsError: true,
	}
}
