package installer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// PackageManagerStrategy installs req.PackageSpec via an external package
// manager binary (e.g. npm, pipx, go install) into installDir.
type PackageManagerStrategy struct {
	// Command is the package manager executable, e.g. "npm".
	Command string
	// InstallArgsFunc returns the complete argument list for Command, e.g.
	// []string{"install", "--prefix", installDir, packageSpec}; Install adds nothing to it.
	InstallArgsFunc func(installDir, packageSpec string) []string
	// LaunchFunc builds the resulting LaunchSpec's Command/Args once
	// installed, e.g. "node" + [installDir/node_modules/.bin/<name>].
	LaunchFunc func(installDir string, req Request) LaunchSpec
}

func (s PackageManagerStrategy) Install(ctx context.Context, req Request, installDir string) (LaunchSpec, error) {
	args := s.InstallArgsFunc(installDir, req.PackageSpec)
	cmd := exec.CommandContext(ctx, s.Command, args...)
	cmd.Dir = installDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return LaunchSpec{}, fmt.Errorf("package manager install failed: %w (output: %s)", err, string(out))
	}
	return s.LaunchFunc(installDir, req), nil
}

// VCSCloneStrategy clones req.RepoURL at req.RepoRef into installDir and
// optionally runs a post-clone build command.
type VCSCloneStrategy struct {
	// GitCommand is the git executable, defaulting to "git" when empty.
	GitCommand string
	LaunchFunc func(installDir string, req Request) LaunchSpec
}

func (s VCSCloneStrategy) Install(ctx context.Context, req Request, installDir string) (LaunchSpec, error) {
	gitCmd := s.GitCommand
	if gitCmd == "" {
		gitCmd = "git"
	}

	cloneArgs := []string{"clone", "--depth", "1"}
	if req.RepoRef != "" {
		cloneArgs = append(cloneArgs, "--branch", req.RepoRef)
	}
	cloneArgs = append(cloneArgs, req.RepoURL, installDir)

	cmd := exec.CommandContext(ctx, gitCmd, cloneArgs...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return LaunchSpec{}, fmt.Errorf("git clone failed: %w (output: %s)", err, string(out))
	}

	if len(req.BuildCommand) > 0 {
		build := exec.CommandContext(ctx, req.BuildCommand[0], req.BuildCommand[1:]...)
		build.Dir = installDir
		if out, err := build.CombinedOutput(); err != nil {
			return LaunchSpec{}, fmt.Errorf("post-clone build failed: %w (output: %s)", err, string(out))
		}
	}

	return s.LaunchFunc(installDir, req), nil
}

// ContainerBuildStrategy pulls req.ImageRef with "<runtime> pull" and records
// a LaunchSpec that runs it; it does not build images from source. The
// container runtime itself owns process
// isolation, so installDir only holds a manifest pointer.
type ContainerBuildStrategy struct {
	// RuntimeCommand is the container CLI, e.g. "docker" or "podman".
	RuntimeCommand string
	LaunchFunc     func(installDir string, req Request) LaunchSpec
}

func (s ContainerBuildStrategy) Install(ctx context.Context, req Request, installDir string) (LaunchSpec, error) {
	runtime := s.RuntimeCommand
	if runtime == "" {
		runtime = "docker"
	}

	cmd := exec.CommandContext(ctx, runtime, "pull", req.ImageRef)
	if out, err := cmd.CombinedOutput(); err != nil {
		return LaunchSpec{}, fmt.Errorf("container pull failed: %w (output: %s)", err, string(out))
	}

	manifestPath := filepath.Join(installDir, "image.ref")
	if err := os.WriteFile(manifestPath, []byte(req.ImageRef), 0o644); err != nil {
		return LaunchSpec{}, fmt.Errorf("writing image manifest: %w", err)
	}

	return s.LaunchFunc(installDir, req), nil
}
