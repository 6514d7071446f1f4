// Package discovery fans a capability requirement out to catalog adapters
// in parallel, merges and ranks the resulting candidates, and returns a
// top-K ordered list (spec §4.10).
package discovery
