package jsonrpc

import "sync/atomic"

// IDGenerator produces unique request IDs within a single session. A
// monotonic counter is sufficient per spec §4.2; this type is safe for
// concurrent use by a single MCP Client's dispatch loop.
type IDGenerator struct {
	counter atomic.Int64
}

// NewIDGenerator returns a generator starting from 1.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// Next returns the next unique ID for this generator.
func (g *IDGenerator) Next() ID {
	return NewIntID(g.counter.Add(1))
}
