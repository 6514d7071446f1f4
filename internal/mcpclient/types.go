package mcpclient

import (
	"encoding/json"
	"time"
)

// SessionState is the MCP Client session lifecycle (spec §4.4).
type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateConnecting   SessionState = "connecting"
	StateInitializing SessionState = "initializing"
	StateReady        SessionState = "ready"
	StateClosing      SessionState = "closing"
	StateClosed       SessionState = "closed"
)

// ToolDescriptor is learned from the server during tools/list (spec §3).
type ToolDescriptor struct {
	ServerID    string          `json:"serverId"`
	ToolName    string          `json:"toolName"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	OutputHint  string          `json:"outputHint,omitempty"`
}

// ClientCapabilities is advertised during initialize.
type ClientCapabilities struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the initialize method's result shape, trimmed to the
// fields the daemon depends on.
type InitializeResult struct {
	ServerName    string          `json:"serverName,omitempty"`
	ServerVersion string          `json:"serverVersion,omitempty"`
	Capabilities  json.RawMessage `json:"capabilities,omitempty"`
}

// ToolsListResult is the tools/list result shape.
type ToolsListResult struct {
	Tools []struct {
		Name        string          `json:"name"`
		InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	} `json:"tools"`
}

// MethodTimeouts allows per-method deadline overrides on top of a default.
type MethodTimeouts struct {
	Default time.Duration
	ByMethod map[string]time.Duration
}

func (m MethodTimeouts) For(method string) time.Duration {
	if d, ok := m.ByMethod[method]; ok {
		return d
	}
	return m.Default
}

// Standard MCP method names consumed from external servers (spec §6).
const (
	MethodInitialize     = "initialize"
	MethodToolsList      = "tools/list"
	MethodResourcesList  = "resources/list"
	MethodPromptsList    = "prompts/list"
	MethodToolsCall      = "tools/call"
	MethodResourcesRead  = "resources/read"
	MethodPromptsGet     = "prompts/get"
	NotificationCancel   = "$/cancelRequest"
)
