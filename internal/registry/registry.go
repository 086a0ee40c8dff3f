// Package registry owns the map of live agent processes and their
// lifecycle: spawn, reattach, write, resize, kill. All map mutation goes
// through one mutex-guarded registry struct; per-session operations are
// serialized, cross-session operations are independent.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/agent-command/sessiond/internal/activity"
	"github.com/agent-command/sessiond/internal/hooks"
	"github.com/agent-command/sessiond/internal/output"
	"github.com/agent-command/sessiond/internal/owner"
)

type SpawnMode string

const (
	ModeDirect SpawnMode = "direct"
	ModeShell  SpawnMode = "shell"
)

// SpawnOptions describes one spawn request from the UI.
type SpawnOptions struct {
	SessionID string
	Cwd       string
	Cols      uint16
	Rows      uint16
	Tier      hooks.PermissionTier
	Resume    bool
	// TaskID is the originating task, recorded as session metadata.
	TaskID string
	Owner  owner.Channel
}

// SpawnResult is returned to the UI. TaskContext carries the opaque
// task-context file content when one was present at spawn time.
type SpawnResult struct {
	Reattached      bool            `json:"reattached"`
	HasSavedContext bool            `json:"hasSavedContext"`
	TaskContext     json.RawMessage `json:"taskContext,omitempty"`
}

// Resolver locates the agent binary for direct-mode spawns.
// Satisfied by *discover.Discoverer.
type Resolver interface {
	Discover(ctx context.Context) (string, error)
}

// Options configures a Registry.
type Options struct {
	Discoverer Resolver
	Monitor    *activity.Monitor
	// HookPort reports the callback server's port, or 0 if the server
	// has not finished starting (hook writing is then skipped).
	HookPort func() int
	// SafetyHookPath is registered for balanced-tier sessions.
	SafetyHookPath string
	// Shell is the interactive shell binary for shell-mode sessions.
	Shell string
	// ScrollbackBytes bounds each session's output replay buffer.
	ScrollbackBytes int
	// ColorScheme is the hint passed to the spawned process ("dark" or
	// "light").
	ColorScheme string
	// Mirror, when set, receives a copy of all session output.
	Mirror output.Mirror
}

type Registry struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*session
	nextGen  uint64

	attrMu      sync.Mutex
	attribution *hooks.Attribution
}

func New(opts Options) *Registry {
	if opts.ScrollbackBytes <= 0 {
		opts.ScrollbackBytes = 256 * 1024
	}
	if opts.Shell == "" {
		opts.Shell = "/bin/bash"
	}
	return &Registry{
		opts:     opts,
		sessions: make(map[string]*session),
	}
}

// SpawnDirect starts (or reattaches to) a direct-CLI agent session.
func (r *Registry) SpawnDirect(ctx context.Context, opts SpawnOptions) (*SpawnResult, error) {
	return r.spawn(ctx, ModeDirect, opts)
}

// SpawnShell starts (or reattaches to) an interactive shell session.
func (r *Registry) SpawnShell(ctx context.Context, opts SpawnOptions) (*SpawnResult, error) {
	opts.Tier = ""
	return r.spawn(ctx, ModeShell, opts)
}

func (r *Registry) spawn(ctx context.Context, mode SpawnMode, opts SpawnOptions) (*SpawnResult, error) {
	// Reattach path: same id, same mode, process still ours.
	r.mu.Lock()
	if existing, ok := r.sessions[opts.SessionID]; ok {
		if existing.mode == mode && existing.cmd != nil {
			existing.setOwner(opts.Owner)
			replay := existing.scrollbackCopy()
			taskCtx := existing.taskContext
			r.mu.Unlock()

			sendData(opts.Owner, opts.SessionID, replay)
			return &SpawnResult{
				Reattached:      true,
				HasSavedContext: len(taskCtx) > 0,
				TaskContext:     taskCtx,
			}, nil
		}
		// Mode changed: kill the old process before spawning anew,
		// synchronously from the caller's point of view. An old record
		// whose spawn is still in flight only gets flagged; its spawner
		// holds the process handles and tears down on its own.
		delete(r.sessions, opts.SessionID)
		old := existing
		oldInFlight := old.cmd == nil
		if oldInFlight {
			old.superseded = true
		}
		r.mu.Unlock()
		if !oldInFlight {
			old.terminate()
			r.opts.Monitor.Unregister(opts.SessionID)
		}
	} else {
		r.mu.Unlock()
	}

	taskCtx := readTaskContext(opts.Cwd)

	// Placeholder record inserted before binary discovery, so a kill
	// arriving while the binary is still resolving has a record to
	// supersede. Every failure path below removes it again.
	rec := &session{
		id:          opts.SessionID,
		mode:        mode,
		cwd:         opts.Cwd,
		tier:        opts.Tier,
		taskID:      opts.TaskID,
		resumed:     opts.Resume,
		taskContext: taskCtx,
		maxScroll:   r.opts.ScrollbackBytes,
	}
	rec.pipeline = output.NewPipeline(opts.SessionID, output.NewBannerFilter(nil), r.opts.Mirror)
	rec.setOwner(opts.Owner)

	r.mu.Lock()
	r.nextGen++
	rec.generation = r.nextGen
	r.sessions[opts.SessionID] = rec
	r.mu.Unlock()

	abort := func(err error) (*SpawnResult, error) {
		r.mu.Lock()
		if cur, ok := r.sessions[opts.SessionID]; ok && cur == rec {
			delete(r.sessions, opts.SessionID)
		}
		r.mu.Unlock()
		return nil, err
	}

	var bin string
	if mode == ModeDirect {
		var err error
		bin, err = r.opts.Discoverer.Discover(ctx)
		if err != nil {
			return abort(err)
		}
	} else {
		bin = r.opts.Shell
	}

	// Hook configuration is written before every spawn, shell mode
	// included (an agent started by hand inside the shell picks it up).
	// Failures are logged and non-fatal.
	r.writeHookFile(opts, len(taskCtx) > 0)

	cmd, cleanup, err := r.buildCommand(mode, bin, opts)
	var ptmx *os.File
	if err == nil {
		rec.cleanup = cleanup
		ptmx, err = startProcess(cmd, opts.Cols, opts.Rows)
	}
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		return abort(fmt.Errorf("starting session %s: %w", opts.SessionID, err))
	}

	// Publish the process handles and re-check under one lock. A kill
	// (or replacing spawn) that raced us marked the record superseded
	// instead of tearing it down, because until this point only this
	// goroutine holds the handles; the teardown is ours to do.
	r.mu.Lock()
	rec.cmd = cmd
	rec.ptmx = ptmx
	cur, still := r.sessions[opts.SessionID]
	killed := !still || cur != rec || rec.superseded
	r.mu.Unlock()
	if killed {
		rec.terminate()
		// No exit watcher ever ran for this record; reap it here.
		go func() { _ = cmd.Wait() }()
		return nil, fmt.Errorf("session %s killed during spawn", opts.SessionID)
	}

	r.opts.Monitor.Register(opts.SessionID, cmd.Process.Pid)

	go r.forwardOutput(rec)
	go r.watchExit(rec)

	return &SpawnResult{
		HasSavedContext: len(taskCtx) > 0,
		TaskContext:     taskCtx,
	}, nil
}

// Write sends input to a session's terminal. A missing session or an
// already-exited process is a silent no-op.
func (r *Registry) Write(sessionID string, data []byte) {
	r.mu.Lock()
	var ptmx *os.File
	if rec, ok := r.sessions[sessionID]; ok {
		ptmx = rec.ptmx
	}
	r.mu.Unlock()
	if ptmx == nil {
		return
	}
	if _, err := ptmx.Write(data); err != nil {
		// EBADF/EIO after process exit are expected; swallowed.
		log.Printf("session %s: write dropped: %v", sessionID, err)
	}
}

// Resize changes a session's terminal size. No-op for unknown sessions.
func (r *Registry) Resize(sessionID string, cols, rows uint16) {
	r.mu.Lock()
	var ptmx *os.File
	if rec, ok := r.sessions[sessionID]; ok {
		ptmx = rec.ptmx
	}
	r.mu.Unlock()
	if ptmx == nil {
		return
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		log.Printf("session %s: resize dropped: %v", sessionID, err)
	}
}

// Kill terminates a session. The registry entry is removed first so the
// dying process's exit callback becomes a guarded no-op.
func (r *Registry) Kill(sessionID string) {
	r.mu.Lock()
	rec, ok := r.sessions[sessionID]
	inFlight := false
	if ok {
		delete(r.sessions, sessionID)
		if rec.cmd == nil {
			// Spawn still in flight: flag it and leave teardown to the
			// spawner, the only goroutine holding the process handles.
			rec.superseded = true
			inFlight = true
		}
	}
	r.mu.Unlock()
	if !ok || inFlight {
		return
	}

	rec.terminate()
	r.opts.Monitor.Unregister(sessionID)
}

// KillAll terminates every live session. Used at daemon shutdown; does
// not rely on per-session exit callbacks for bookkeeping.
func (r *Registry) KillAll() {
	r.mu.Lock()
	live := make([]*session, 0, len(r.sessions))
	for _, rec := range r.sessions {
		if rec.cmd == nil {
			rec.superseded = true
			continue
		}
		live = append(live, rec)
	}
	r.sessions = make(map[string]*session)
	r.mu.Unlock()

	for _, rec := range live {
		rec.terminate()
		r.opts.Monitor.Unregister(rec.id)
	}
}

// KillByOwner terminates every session owned by the given channel,
// used when a UI surface closes.
func (r *Registry) KillByOwner(ch owner.Channel) {
	r.mu.Lock()
	var ids []string
	for id, rec := range r.sessions {
		if rec.currentOwner() == ch {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Kill(id)
	}
}

// Live reports whether a session id currently has a process.
func (r *Registry) Live(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[sessionID]
	return ok && rec.cmd != nil
}

// Owner returns the current owner channel for a session id, if any.
func (r *Registry) Owner(sessionID string) owner.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.sessions[sessionID]; ok {
		return rec.currentOwner()
	}
	return nil
}

// SetAttribution updates the commit attribution trailer and re-writes
// the hook file for every live session. Best-effort.
func (r *Registry) SetAttribution(attr *hooks.Attribution) {
	r.attrMu.Lock()
	r.attribution = attr
	r.attrMu.Unlock()

	r.mu.Lock()
	live := make([]*session, 0, len(r.sessions))
	for _, rec := range r.sessions {
		if rec.cmd != nil {
			live = append(live, rec)
		}
	}
	r.mu.Unlock()

	for _, rec := range live {
		opts := SpawnOptions{SessionID: rec.id, Cwd: rec.cwd, Tier: rec.tier}
		r.writeHookFile(opts, len(rec.taskContext) > 0)
	}
}

func (r *Registry) currentAttribution() *hooks.Attribution {
	r.attrMu.Lock()
	defer r.attrMu.Unlock()
	return r.attribution
}

// writeHookFile (re)writes the per-session hook configuration. A write
// failure is logged, never propagated; a not-yet-started callback server
// (port 0) skips the write entirely rather than blocking.
func (r *Registry) writeHookFile(opts SpawnOptions, hasTaskContext bool) {
	port := 0
	if r.opts.HookPort != nil {
		port = r.opts.HookPort()
	}
	if port == 0 {
		log.Printf("session %s: callback server not ready, skipping hook write", opts.SessionID)
		return
	}

	spec := hooks.Spec{
		SessionID:      opts.SessionID,
		Port:           port,
		Tier:           opts.Tier,
		SafetyHookPath: r.opts.SafetyHookPath,
		Attribution:    r.currentAttribution(),
	}
	if hasTaskContext {
		spec.TaskContextPath = taskContextPath(opts.Cwd)
	}
	if err := hooks.Write(opts.Cwd, spec); err != nil {
		log.Printf("session %s: hook file write failed: %v", opts.SessionID, err)
	}
}

// forwardOutput pumps PTY output through the session's pipeline to the
// current owner.
func (r *Registry) forwardOutput(rec *session) {
	buf := make([]byte, 4096)
	for {
		n, err := rec.ptmx.Read(buf)
		if n > 0 {
			out := rec.pipeline.Process(buf[:n])
			rec.appendScrollback(out)
			sendData(rec.currentOwner(), rec.id, out)
		}
		if err != nil {
			if tail := rec.pipeline.Flush(); len(tail) > 0 {
				rec.appendScrollback(tail)
				sendData(rec.currentOwner(), rec.id, tail)
			}
			return
		}
	}
}

// watchExit waits for the session's process and evicts the registry
// entry, unless a newer spawn already replaced it (exit-guard: the
// captured generation must match the stored record's).
func (r *Registry) watchExit(rec *session) {
	err := rec.cmd.Wait()

	r.mu.Lock()
	cur, ok := r.sessions[rec.id]
	if !ok || cur.generation != rec.generation {
		// Superseded or already killed; nothing to do.
		r.mu.Unlock()
		return
	}
	delete(r.sessions, rec.id)
	r.mu.Unlock()

	rec.release()
	r.opts.Monitor.Unregister(rec.id)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(interface{ ExitCode() int }); ok {
			exitCode = exitErr.ExitCode()
		}
	}
	ch := rec.currentOwner()
	if ch != nil && ch.Valid() {
		if sendErr := ch.Send(rec.id, owner.EventProcessExit, map[string]any{"exitCode": exitCode}); sendErr != nil {
			log.Printf("session %s: exit notification failed: %v", rec.id, sendErr)
		}
	}
}

func sendData(ch owner.Channel, sessionID string, data []byte) {
	if ch == nil || !ch.Valid() || len(data) == 0 {
		return
	}
	if err := ch.Send(sessionID, owner.EventProcessData, map[string]any{"data": string(data)}); err != nil {
		log.Printf("session %s: data send failed: %v", sessionID, err)
	}
}

// taskContextPath is the well-known per-session task context location.
func taskContextPath(cwd string) string {
	return filepath.Join(cwd, ".claude", "task-context.json")
}

// readTaskContext loads the optional task-context file. Content is
// opaque; only valid JSON is passed through.
func readTaskContext(cwd string) json.RawMessage {
	data, err := os.ReadFile(taskContextPath(cwd))
	if err != nil {
		return nil
	}
	if !json.Valid(data) {
		log.Printf("ignoring invalid task context in %s", cwd)
		return nil
	}
	return data
}

// gracefulTimeout is how long terminate waits between SIGTERM and
// SIGKILL.
const gracefulTimeout = 3 * time.Second
