package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"musterd/internal/errkind"
	"musterd/pkg/logging"
)

// Strategy performs the actual filesystem/process work for one Method. It
// receives a pre-created, empty installDir and must populate it and return
// the resulting LaunchSpec, or an error — the caller handles rollback.
type Strategy interface {
	Install(ctx context.Context, req Request, installDir string) (LaunchSpec, error)
}

// Installer dispatches install requests to a Strategy by Method, serializes
// concurrent installs of the same (name, version) via singleflight, and
// guarantees all-or-nothing artifacts on disk.
type Installer struct {
	root       string
	strategies map[Method]Strategy
	group      singleflight.Group

	mu       sync.Mutex
	inFlight map[string]bool
}

// New builds an Installer rooted at installRoot (spec §6 "Endpoints.InstallRoot").
func New(installRoot string, strategies map[Method]Strategy) *Installer {
	return &Installer{root: installRoot, strategies: strategies, inFlight: make(map[string]bool)}
}

// ErrAlreadyInstalling is returned by TryInstall (the non-blocking variant)
// when another caller is already installing the same (name, version).
var ErrAlreadyInstalling = fmt.Errorf("installer: already installing")

// Install runs (or awaits) the install for req, enforcing the
// (name, version) dedup invariant (spec §8 property 2): concurrent callers
// for the same key share one Strategy execution and its result.
func (in *Installer) Install(ctx context.Context, req Request) (Installation, error) {
	key := req.Key()
	result, err, _ := in.group.Do(key, func() (interface{}, error) {
		in.mu.Lock()
		in.inFlight[key] = true
		in.mu.Unlock()
		defer func() {
			in.mu.Lock()
			delete(in.inFlight, key)
			in.mu.Unlock()
		}()
		return in.run(ctx, req)
	})
	if err != nil {
		return Installation{}, err
	}
	return result.(Installation), nil
}

// TryInstall is the non-blocking variant: if an install for this key is
// already in flight, it returns ErrAlreadyInstalling immediately instead of
// waiting (spec: "second caller either awaits the first's result or
// receives already_installing"). Ownership of the key is tracked
// independently of singleflight.Group, whose Shared flag would otherwise
// mark the original owner "shared" too once a second caller joins.
func (in *Installer) TryInstall(ctx context.Context, req Request) (Installation, error) {
	key := req.Key()

	in.mu.Lock()
	if in.inFlight[key] {
		in.mu.Unlock()
		return Installation{}, ErrAlreadyInstalling
	}
	in.inFlight[key] = true
	in.mu.Unlock()

	defer func() {
		in.mu.Lock()
		delete(in.inFlight, key)
		in.mu.Unlock()
	}()

	result, err, _ := in.group.Do(key, func() (interface{}, error) {
		return in.run(ctx, req)
	})
	if err != nil {
		return Installation{}, err
	}
	return result.(Installation), nil
}

func (in *Installer) run(ctx context.Context, req Request) (Installation, error) {
	strategy, ok := in.strategies[req.Method]
	if !ok {
		return Installation{}, errkind.New(errkind.InstallFailed, "installer", fmt.Errorf("no strategy registered for method %q", req.Method))
	}

	installID := uuid.NewString()
	installDir := filepath.Join(in.root, sanitizeDirName(req.Name), sanitizeDirName(req.Version), installID)

	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return Installation{}, errkind.New(errkind.InstallFailed, "installer", fmt.Errorf("creating install dir: %w", err))
	}

	launchSpec, err := strategy.Install(ctx, req, installDir)
	if err != nil {
		in.rollback(installDir)
		return Installation{}, errkind.New(errkind.InstallFailed, "installer", err)
	}

	return Installation{
		InstallID:   installID,
		Name:        req.Name,
		Version:     req.Version,
		Method:      req.Method,
		InstallDir:  installDir,
		LaunchSpec:  launchSpec,
		InstalledAt: time.Now(),
	}, nil
}

// rollback removes every partial artifact under installDir (spec: "all-or-
// nothing").
func (in *Installer) rollback(installDir string) {
	if err := os.RemoveAll(installDir); err != nil {
		logging.Error("installer", err, "rollback failed to remove %s", installDir)
	}
}

// RollbackDir exposes rollback to callers outside the package — the
// Orchestrator uses it to remove an installation that failed the sandbox's
// launch step (the candidate never ran cleanly enough to verify, so there
// is nothing to keep for diagnosis).
func (in *Installer) RollbackDir(installDir string) {
	in.rollback(installDir)
}

func sanitizeDirName(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}
