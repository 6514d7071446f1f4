package orchestrator

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"musterd/internal/installer"
	"musterd/internal/sandbox"
	"musterd/internal/transport"
)

// newSandboxLaunch builds a sandbox.Launch closure for one freshly built
// Installation. It mirrors the Supervisor's own process-group spawn
// (grounded on the same teacher pattern) but is self-contained: the
// Sandbox's candidate process is never supervised, only probed and torn
// down.
func newSandboxLaunch(installation installer.Installation, allowNetwork bool) sandbox.Launch {
	return func(ctx context.Context, installDir string, _ bool) (transport.Transport, int, func(), error) {
		ls := installation.LaunchSpec
		c := exec.CommandContext(ctx, ls.Command, ls.Args...)
		c.Dir = ls.WorkingDir
		c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		for k, v := range ls.Env {
			c.Env = append(c.Env, fmt.Sprintf("%s=%s", k, v))
		}
		if !allowNetwork {
			c.Env = append(c.Env, "MUSTERD_NO_NETWORK=1")
		}

		stdin, err := c.StdinPipe()
		if err != nil {
			return nil, 0, nil, fmt.Errorf("orchestrator: sandbox stdin pipe: %w", err)
		}
		stdout, err := c.StdoutPipe()
		if err != nil {
			return nil, 0, nil, fmt.Errorf("orchestrator: sandbox stdout pipe: %w", err)
		}
		if err := c.Start(); err != nil {
			return nil, 0, nil, fmt.Errorf("orchestrator: sandbox start: %w", err)
		}

		pid := c.Process.Pid
		teardown := func() {
			_ = syscall.Kill(-pid, syscall.SIGKILL)
			done := make(chan struct{})
			go func() { _ = c.Wait(); close(done) }()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
			}
		}
		return transport.NewStdio(stdin, stdout), pid, teardown, nil
	}
}
