// Package discover locates the agent CLI binary via an ordered chain of
// bounded probes: explicit override, cached result, PATH lookup, then a
// fixed list of known install directories.
package discover

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// NotFoundError is returned when no probe resolves the binary.
type NotFoundError struct {
	BinName string
	Tried   []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s binary not found (tried: %s); install it or set agent.bin in the config",
		e.BinName, strings.Join(e.Tried, ", "))
}

// probe attempts one resolution strategy. It returns the resolved path,
// or "" if the strategy came up empty.
type probe struct {
	name string
	run  func(ctx context.Context) (string, error)
}

type Discoverer struct {
	binName      string
	override     string
	installDirs  []string
	probeTimeout time.Duration

	mu     sync.Mutex
	cached string
}

func New(binName, override string, installDirs []string, probeTimeout time.Duration) *Discoverer {
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	return &Discoverer{
		binName:      binName,
		override:     override,
		installDirs:  installDirs,
		probeTimeout: probeTimeout,
	}
}

// Discover resolves the binary path, short-circuiting on the first probe
// that succeeds. The result is cached for subsequent calls.
func (d *Discoverer) Discover(ctx context.Context) (string, error) {
	if d.override != "" {
		return d.override, nil
	}

	d.mu.Lock()
	cached := d.cached
	d.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	probes := []probe{
		{name: "PATH", run: d.lookPath},
	}
	for _, dir := range d.installDirs {
		candidate := filepath.Join(dir, d.binName)
		probes = append(probes, probe{
			name: candidate,
			run: func(ctx context.Context) (string, error) {
				return checkExecutable(ctx, candidate)
			},
		})
	}

	tried := make([]string, 0, len(probes))
	for _, p := range probes {
		tried = append(tried, p.name)
		path, err := d.runBounded(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if path != "" {
			d.mu.Lock()
			d.cached = path
			d.mu.Unlock()
			return path, nil
		}
	}

	return "", &NotFoundError{BinName: d.binName, Tried: tried}
}

// Invalidate drops the cached path. Called after a spawn fails with a
// stale binary location.
func (d *Discoverer) Invalidate() {
	d.mu.Lock()
	d.cached = ""
	d.mu.Unlock()
}

// runBounded executes a probe with its own deadline so a hung filesystem
// or lookup cannot stall session start indefinitely.
func (d *Discoverer) runBounded(ctx context.Context, p probe) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.probeTimeout)
	defer cancel()

	type result struct {
		path string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		path, err := p.run(ctx)
		ch <- result{path, err}
	}()

	select {
	case r := <-ch:
		return r.path, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (d *Discoverer) lookPath(_ context.Context) (string, error) {
	path, err := exec.LookPath(d.binName)
	if err != nil {
		return "", nil
	}
	return path, nil
}

func checkExecutable(_ context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", nil
	}
	if info.Mode()&0111 == 0 {
		return "", nil
	}
	return path, nil
}
