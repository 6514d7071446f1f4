// Package mcpclient implements the per-external-server MCP session (spec
// §4.4): the disconnected→connecting→initializing→ready→closing→closed
// state machine, the PendingRequest correlation table, and the standard
// MCP methods (initialize, tools/list, resources/list, prompts/list,
// tools/call, resources/read, prompts/get).
package mcpclient
