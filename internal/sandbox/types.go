package sandbox

import (
	"time"

	"musterd/internal/mcpclient"
	"musterd/internal/resourcemon"
)

// Stage names the four ordered verification steps (spec §4.12).
type Stage string

const (
	StageProtocolCompliance Stage = "protocol_compliance"
	StageCapabilityProbe    Stage = "capability_probe"
	StageNegativeTests      Stage = "negative_tests"
	StageBehaviouralScan    Stage = "behavioural_scan"
)

// CapabilityCheck declares one canonical tool to probe with benign
// arguments, and the minimal response shape expected back.
type CapabilityCheck struct {
	Capability    string
	ToolName      string
	Arguments     map[string]interface{}
	RequiredField string // a top-level field expected in the response, "" to skip the shape check
}

// Limits configures a verification run. Verify enforces WallClock as the
// deadline for the entire verification and samples resources every
// SampleEvery; MemoryMB and CPUPercent are carried but not enforced.
type Limits struct {
	MemoryMB    int
	CPUPercent  int
	WallClock   time.Duration
	SampleEvery time.Duration
}

// Verdict is the Sandbox's final output (spec: "a pass/fail verdict, a
// capability map, and performance samples").
type Verdict struct {
	Pass            bool
	FailedStage     Stage
	Reason          string
	CapabilityMap   map[string][]mcpclient.ToolDescriptor
	Samples         []resourcemon.Sample
}
