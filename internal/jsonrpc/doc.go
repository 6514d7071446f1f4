// Package jsonrpc implements the JSON-RPC 2.0 message codec used for all
// MCP wire traffic (spec §4.2). It is deliberately self-contained: no
// third-party JSON-RPC or MCP client library is used here, since owning
// request/response correlation, batching, and the error taxonomy exactly is
// the point of this subsystem (see SPEC_FULL.md's DOMAIN STACK note on why
// github.com/mark3labs/mcp-go is not used).
package jsonrpc
