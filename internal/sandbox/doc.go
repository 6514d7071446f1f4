// Package sandbox runs a freshly installed server through an isolated
// verification pipeline before the Supervisor promotes it to a live
// ServerProcess: protocol compliance, a capability probe, negative tests,
// and a short behavioural scan (spec §4.12).
package sandbox
