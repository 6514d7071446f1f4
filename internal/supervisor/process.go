package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"musterd/internal/transport"
)

// processSpawn is a seam so tests can substitute an in-memory transport
// instead of exec'ing a real child process.
var processSpawn = spawn

// spawn starts the installation's launch command as a child in its own
// process group (so stop can reap any grandchildren), wiring its stdin/
// stdout to a Stdio transport. Grounded on the teacher's process-group
// management for externally-managed child processes.
func spawn(ctx context.Context, spec Spec) (tr transport.Transport, cmd *exec.Cmd, err error) {
	ls := spec.Installation.LaunchSpec
	c := exec.CommandContext(ctx, ls.Command, ls.Args...)
	c.Dir = ls.WorkingDir
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	for k, v := range ls.Env {
		c.Env = append(c.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if !spec.AllowNetwork {
		c.Env = append(c.Env, "MUSTERD_NO_NETWORK=1")
	}

	stdin, err := c.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("supervisor: stdin pipe for %s: %w", spec.ServerID, err)
	}
	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("supervisor: stdout pipe for %s: %w", spec.ServerID, err)
	}
	if err := c.Start(); err != nil {
		return nil, nil, fmt.Errorf("supervisor: start %s: %w", spec.ServerID, err)
	}

	return transport.NewStdio(stdin, stdout), c, nil
}

// processAlive reports whether cmd's process is still running, using a
// signal-0 probe rather than ProcessState (which is only populated after
// Wait returns, and nothing here calls Wait on the happy path).
func processAlive(cmd *exec.Cmd) bool {
	if cmd == nil || cmd.Process == nil || cmd.ProcessState != nil {
		return false
	}
	return cmd.Process.Signal(syscall.Signal(0)) == nil
}

// killProcessGroup signals the whole process group so no grandchild is
// left behind, falling back to the leader alone if the group signal fails.
func killProcessGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	if err := syscall.Kill(-pid, sig); err != nil {
		return syscall.Kill(pid, sig)
	}
	return nil
}

// stopProcess sends SIGTERM and waits up to timeout for the process group
// to exit before escalating to SIGKILL (spec §4.13 stop(graceful, timeout)).
func stopProcess(cmd *exec.Cmd, graceful bool, timeout time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid

	if !graceful {
		_ = killProcessGroup(pid, syscall.SIGKILL)
		_ = cmd.Wait()
		return nil
	}

	_ = killProcessGroup(pid, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		_ = killProcessGroup(pid, syscall.SIGKILL)
		return err
	case <-time.After(timeout):
		if err := killProcessGroup(pid, syscall.SIGKILL); err != nil {
			return err
		}
		<-done
		return fmt.Errorf("supervisor: forced kill of pid %d after graceful timeout", pid)
	}
}
