// Package transport implements the byte-carrier layer beneath the MCP
// Client (spec §4.3): stdio, TCP, and WebSocket, all behind one Transport
// interface. Transports never interpret JSON-RPC semantics; they only move
// framed byte messages.
//
// Framing: stdio and TCP both use newline-delimited JSON, one message per
// line with no embedded newlines — this resolves the spec's open TCP
// framing question in favor of newline framing (the simpler, stdio-aligned
// choice) rather than length-prefixing. WebSocket carries one JSON text
// frame per message, matching the ws protocol's natural message boundary.
package transport
