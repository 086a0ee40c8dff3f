package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/agent-command/sessiond/internal/activity"
	"github.com/agent-command/sessiond/internal/config"
	"github.com/agent-command/sessiond/internal/discover"
	"github.com/agent-command/sessiond/internal/hooks"
	"github.com/agent-command/sessiond/internal/hookserver"
	"github.com/agent-command/sessiond/internal/inject"
	"github.com/agent-command/sessiond/internal/output"
	"github.com/agent-command/sessiond/internal/owner"
	"github.com/agent-command/sessiond/internal/proc"
	"github.com/agent-command/sessiond/internal/registry"
	"github.com/agent-command/sessiond/internal/store"
	"github.com/agent-command/sessiond/internal/watcher"
)

const Version = "0.1.0"

func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".sessiond", "config.yaml")
}

func main() {
	// Check for subcommands first
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "status":
			runStatusCommand(os.Args[2:])
			return
		case "version":
			runVersionCommand()
			return
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}

	// Default: run as daemon
	runDaemon()
}

func printHelp() {
	fmt.Println(`sessiond - local daemon managing interactive agent sessions

Usage:
  sessiond [command] [options]

Commands:
  (none)       Run as daemon (default)
  status       Query a running daemon
  version      Show version information
  help         Show this help

Daemon Options:
  -config string  Path to config file (default "~/.sessiond/config.yaml")

Subcommand Options:
  -json         Output in JSON format
  -config       Path to config file`)
}

func runVersionCommand() {
	fmt.Printf("sessiond version %s\n", Version)
}

func runStatusCommand(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	configPath := fs.String("config", defaultConfigPath(), "Path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + cfg.Owner.Listen + "/healthz")
	if err != nil {
		log.Fatalf("Daemon not reachable at %s: %v", cfg.Owner.Listen, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Failed to read status: %v", err)
	}

	if *jsonOutput {
		fmt.Println(string(body))
		return
	}

	var status struct {
		Status   string `json:"status"`
		Sessions map[string]struct {
			State string `json:"state"`
			PID   int    `json:"pid"`
			Alive bool   `json:"alive"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		log.Fatalf("Bad status response: %v", err)
	}

	fmt.Printf("Daemon Status\n")
	fmt.Printf("=============\n")
	fmt.Printf("Version:  %s\n", Version)
	fmt.Printf("Listen:   %s\n", cfg.Owner.Listen)
	fmt.Printf("Status:   %s\n", status.Status)
	fmt.Printf("Sessions: %d\n", len(status.Sessions))
	for id, s := range status.Sessions {
		fmt.Printf("  %s  %s (pid %d, alive %v)\n", id, s.State, s.PID, s.Alive)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.LoadConfig(path)
}

func runDaemon() {
	configPath := flag.String("config", defaultConfigPath(), "Path to config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	d := &Daemon{cfg: cfg}
	if err := d.Run(); err != nil {
		log.Fatalf("Daemon error: %v", err)
	}
}

type Daemon struct {
	cfg      *config.Config
	monitor  *activity.Monitor
	registry *registry.Registry
	store    *store.FileStore
	injector *inject.Injector
	hooksrv  *hookserver.Server
	ownersrv *owner.Server
	attrW    *watcher.AttributionWatcher
	mirror   *output.FileMirror
}

func (d *Daemon) Run() error {
	d.monitor = activity.NewMonitor()

	// The hook server resolves owners through the registry; the registry
	// reads the hook port back from the server. Both sides go through
	// closures so construction order doesn't matter.
	d.hooksrv = hookserver.New(d.monitor, func(sessionID string) owner.Channel {
		return d.registry.Owner(sessionID)
	})

	if d.cfg.Terminal.MirrorDir != "" {
		var err error
		d.mirror, err = output.NewFileMirror(d.cfg.Terminal.MirrorDir)
		if err != nil {
			return fmt.Errorf("failed to open mirror dir: %w", err)
		}
	}

	disc := discover.New(
		d.cfg.Agent.BinName,
		d.cfg.Agent.Bin,
		d.cfg.Agent.InstallDirs,
		time.Duration(d.cfg.Agent.ProbeTimeoutMs)*time.Millisecond,
	)

	regOpts := registry.Options{
		Discoverer:      disc,
		Monitor:         d.monitor,
		HookPort:        d.hooksrv.Port,
		SafetyHookPath:  d.cfg.Hooks.SafetyHookPath,
		Shell:           d.cfg.Agent.Shell,
		ScrollbackBytes: d.cfg.Terminal.ScrollbackBytes,
		ColorScheme:     d.cfg.Terminal.ColorScheme,
	}
	if d.mirror != nil {
		regOpts.Mirror = d.mirror
	}
	d.registry = registry.New(regOpts)

	// Gauge follows registration, not state changes: a session that
	// registers and exits without a turn still has to count.
	d.monitor.SetCountHandler(hookserver.SetActiveSessions)

	// Forward activity transitions to whichever UI owns the session.
	d.monitor.SetChangeHandler(func(sessionID string, state activity.State) {
		if ch := d.registry.Owner(sessionID); ch != nil && ch.Valid() {
			if err := ch.Send(sessionID, owner.EventActivity, map[string]any{"state": string(state)}); err != nil {
				log.Printf("activity send for session %s: %v", sessionID, err)
			}
		}
	})

	st, err := store.OpenFile(d.cfg.Resources.StorePath)
	if err != nil {
		return fmt.Errorf("failed to open resource store: %w", err)
	}
	d.store = st
	d.injector = inject.New(st, d.cfg.Resources.MaxDepth, d.cfg.Resources.SkipDirs)

	// Attribution: initial load, then live reload on file change.
	if attr, err := hooks.LoadAttribution(d.cfg.Hooks.AttributionPath); err == nil {
		d.registry.SetAttribution(attr)
	} else {
		log.Printf("attribution load error: %v", err)
	}
	d.attrW, err = watcher.Watch(d.cfg.Hooks.AttributionPath, func(attr *hooks.Attribution) {
		d.registry.SetAttribution(attr)
	})
	if err != nil {
		// The daemon runs fine without live reload.
		log.Printf("attribution watch error: %v", err)
	}

	d.ownersrv = owner.NewServer()
	d.ownersrv.SetMessageHandler(d.handleMessage)
	d.ownersrv.SetClosedHandler(func(ch owner.Channel) {
		d.registry.KillByOwner(ch)
	})
	d.ownersrv.SetStatusFunc(func() any {
		snap := d.monitor.Snapshot()
		out := make(map[string]sessionStatus, len(snap))
		for id, state := range snap {
			entry := sessionStatus{State: string(state)}
			if pid, ok := d.monitor.PID(id); ok {
				entry.PID = pid
				entry.Alive = proc.Alive(pid)
			}
			out[id] = entry
		}
		return out
	})

	if err := d.hooksrv.Start(d.cfg.Hooks.Listen); err != nil {
		return fmt.Errorf("failed to start hook server: %w", err)
	}
	if err := d.ownersrv.Start(d.cfg.Owner.Listen); err != nil {
		return fmt.Errorf("failed to start owner server: %w", err)
	}

	log.Printf("sessiond %s running (hooks port %d)", Version, d.hooksrv.Port())

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received %v, shutting down", sig)

	d.registry.KillAll()
	d.ownersrv.Stop()
	d.hooksrv.Stop()
	if d.attrW != nil {
		d.attrW.Close()
	}
	if d.mirror != nil {
		d.mirror.Close()
	}
	return nil
}

// sessionStatus is one entry in the /healthz session map.
type sessionStatus struct {
	State string `json:"state"`
	PID   int    `json:"pid,omitempty"`
	Alive bool   `json:"alive,omitempty"`
}

// spawnRequest is the payload of session.spawn.
type spawnRequest struct {
	SessionID string `json:"sessionId"`
	Cwd       string `json:"cwd"`
	Cols      uint16 `json:"cols"`
	Rows      uint16 `json:"rows"`
	Tier      string `json:"tier"`
	Resume    bool   `json:"resume"`
	TaskID    string `json:"taskId"`
	Mode      string `json:"mode"`
}

func (d *Daemon) handleMessage(ch owner.Channel, msgType string, payload json.RawMessage) {
	switch msgType {
	case "session.spawn":
		d.handleSpawn(ch, payload)

	case "session.write":
		var req struct {
			SessionID string `json:"sessionId"`
			Data      string `json:"data"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			log.Printf("bad session.write payload: %v", err)
			return
		}
		d.registry.Write(req.SessionID, []byte(req.Data))

	case "session.resize":
		var req struct {
			SessionID string `json:"sessionId"`
			Cols      uint16 `json:"cols"`
			Rows      uint16 `json:"rows"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			log.Printf("bad session.resize payload: %v", err)
			return
		}
		d.registry.Resize(req.SessionID, req.Cols, req.Rows)

	case "session.kill":
		var req struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			log.Printf("bad session.kill payload: %v", err)
			return
		}
		d.registry.Kill(req.SessionID)

	case "session.killAll":
		d.registry.KillAll()

	case "session.prepareRestart":
		d.handlePrepareRestart(ch, payload)

	case "session.inspect":
		d.handleInspect(ch, payload)

	case "resources.add":
		var r store.Resource
		if err := json.Unmarshal(payload, &r); err != nil {
			log.Printf("bad resources.add payload: %v", err)
			return
		}
		if err := d.store.AddResource(r); err != nil {
			log.Printf("resources.add: %v", err)
		}

	case "resources.setDefault":
		var req struct {
			Name    string `json:"name"`
			Enabled bool   `json:"enabled"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			log.Printf("bad resources.setDefault payload: %v", err)
			return
		}
		if err := d.store.SetDefaultEnabled(req.Name, req.Enabled); err != nil {
			log.Printf("resources.setDefault: %v", err)
		}

	case "resources.setOverride":
		var req struct {
			TaskID  string `json:"taskId"`
			Name    string `json:"name"`
			Enabled bool   `json:"enabled"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			log.Printf("bad resources.setOverride payload: %v", err)
			return
		}
		if err := d.store.SetTaskOverride(req.TaskID, req.Name, req.Enabled); err != nil {
			log.Printf("resources.setOverride: %v", err)
		}

	default:
		log.Printf("unknown message type: %s", msgType)
	}
}

func (d *Daemon) handleSpawn(ch owner.Channel, payload json.RawMessage) {
	var req spawnRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		log.Printf("bad session.spawn payload: %v", err)
		return
	}

	// Resources land in the working directory before the process sees it.
	// Any copy failure aborts the spawn; a session missing its configured
	// tools is worse than no session, and the UI can retry.
	if req.TaskID != "" {
		if err := d.injector.Inject(req.TaskID, filepath.Join(req.Cwd, ".claude")); err != nil {
			log.Printf("resource injection for session %s: %v", req.SessionID, err)
			sendEvent(ch, req.SessionID, "spawn-error", map[string]any{"error": err.Error()})
			return
		}
	}

	opts := registry.SpawnOptions{
		SessionID: req.SessionID,
		Cwd:       req.Cwd,
		Cols:      req.Cols,
		Rows:      req.Rows,
		Tier:      hooks.PermissionTier(req.Tier),
		Resume:    req.Resume,
		TaskID:    req.TaskID,
		Owner:     ch,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var result *registry.SpawnResult
	var err error
	if req.Mode == string(registry.ModeShell) {
		result, err = d.registry.SpawnShell(ctx, opts)
	} else {
		result, err = d.registry.SpawnDirect(ctx, opts)
	}
	if err != nil {
		sendEvent(ch, req.SessionID, "spawn-error", map[string]any{"error": err.Error()})
		return
	}

	reply := map[string]any{
		"reattached":      result.Reattached,
		"hasSavedContext": result.HasSavedContext,
	}
	if len(result.TaskContext) > 0 {
		reply["taskContext"] = result.TaskContext
	}
	sendEvent(ch, req.SessionID, "spawn-result", reply)
}

func (d *Daemon) handleInspect(ch owner.Channel, payload json.RawMessage) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		log.Printf("bad session.inspect payload: %v", err)
		return
	}

	info := map[string]any{"live": d.registry.Live(req.SessionID)}
	if state, ok := d.monitor.State(req.SessionID); ok {
		info["state"] = string(state)
	}
	if pid, ok := d.monitor.PID(req.SessionID); ok {
		info["pid"] = pid
		info["alive"] = proc.Alive(pid)
		// Shell-mode sessions run the shell as the root process; report
		// whether the agent binary is live somewhere underneath it.
		info["agentRunning"] = proc.Scan().HasDescendant(pid, d.cfg.Agent.BinName)
	}
	sendEvent(ch, req.SessionID, "session-info", info)
}

func (d *Daemon) handlePrepareRestart(ch owner.Channel, payload json.RawMessage) {
	var req struct {
		SessionID string `json:"sessionId"`
		TaskID    string `json:"taskId"`
		Cwd       string `json:"cwd"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		log.Printf("bad session.prepareRestart payload: %v", err)
		return
	}

	if err := d.injector.PrepareRestart(req.TaskID, filepath.Join(req.Cwd, ".claude")); err != nil {
		sendEvent(ch, req.SessionID, "restart-ready", map[string]any{"ok": false, "error": err.Error()})
		return
	}
	sendEvent(ch, req.SessionID, "restart-ready", map[string]any{"ok": true})
}

func sendEvent(ch owner.Channel, sessionID, event string, payload any) {
	if ch == nil || !ch.Valid() {
		return
	}
	if err := ch.Send(sessionID, event, payload); err != nil {
		log.Printf("send %s for session %s: %v", event, sessionID, err)
	}
}
