package installer

import "time"

// Method is the install mechanism dispatched on per candidate (spec §4.11).
type Method string

const (
	MethodPackageManager Method = "package_manager"
	MethodVCSClone       Method = "vcs_clone"
	MethodContainerBuild Method = "container_build"
)

// Request describes one install attempt, derived from a ranked candidate.
type Request struct {
	Name          string
	Version       string
	Method        Method
	PackageSpec   string // package manager name/spec, when Method == MethodPackageManager
	RepoURL       string // VCS URL, when Method == MethodVCSClone
	RepoRef       string // branch/tag/commit
	BuildCommand  []string
	ImageRef      string // container image reference, when Method == MethodContainerBuild
}

// Key is the dedup identity (spec: "at most one concurrent install per
// (name, version)").
func (r Request) Key() string {
	return r.Name + "@" + r.Version
}

// LaunchSpec is how the Supervisor starts the installed server: command,
// args, working directory, and environment (deterministic, spec §4.11).
type LaunchSpec struct {
	Command    string
	Args       []string
	WorkingDir string
	Env        map[string]string
}

// Installation is the durable record produced by a successful install.
type Installation struct {
	InstallID  string
	Name       string
	Version    string
	Method     Method
	InstallDir string
	LaunchSpec LaunchSpec
	InstalledAt time.Time
}
