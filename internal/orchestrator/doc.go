// Package orchestrator drives the end-to-end acquisition pipeline: given a
// capability trigger, it fans out to Discovery, hands the winning candidate
// to the Installer, verifies the fresh install in the Sandbox, and — only
// on full success — promotes it to the Supervisor and the Capability
// Registry. Each trigger becomes one AcquisitionJob moving through
// queued -> discovering -> ranking -> installing -> verifying ->
// registering -> done, or to failed at any step (spec §4.16).
package orchestrator
