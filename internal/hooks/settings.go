// Package hooks writes the per-session hook configuration file consumed
// by the spawned agent. The file lives in the session's working directory
// and points each lifecycle event at the local callback server.
package hooks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// PermissionTier governs how much the spawned agent may do without
// interactive confirmation.
type PermissionTier string

const (
	TierRestricted   PermissionTier = "restricted"
	TierBalanced     PermissionTier = "balanced"
	TierUnrestricted PermissionTier = "unrestricted"
)

// Hook event names in the agent's settings schema. These keys are managed:
// every write replaces them wholesale. Everything else in the file is
// preserved untouched.
const (
	eventPromptSubmit = "UserPromptSubmit"
	eventStop         = "Stop"
	eventNotification = "Notification"
	eventPreToolUse   = "PreToolUse"
	eventSessionStart = "SessionStart"
)

var managedEvents = []string{
	eventPromptSubmit, eventStop, eventNotification, eventPreToolUse, eventSessionStart,
}

const settingsDir = ".claude"
const settingsFile = "settings.local.json"

// Spec describes one session's hook configuration.
type Spec struct {
	SessionID string
	// Port is the callback server's ephemeral port.
	Port int
	Tier PermissionTier
	// SafetyHookPath is the pre-action check executable, registered only
	// for the balanced tier. Empty disables it even on that tier.
	SafetyHookPath string
	// TaskContextPath, when non-empty, registers a startup hook that
	// feeds the file's content into the agent's context.
	TaskContextPath string
	Attribution     *Attribution
}

// SettingsPath returns the managed settings file location for a working
// directory.
func SettingsPath(cwd string) string {
	return filepath.Join(cwd, settingsDir, settingsFile)
}

// Write merges the managed hook configuration into the settings file,
// creating it if needed. Non-managed keys already in the file survive the
// merge. A corrupt existing file is treated as empty rather than fatal.
func Write(cwd string, spec Spec) error {
	path := SettingsPath(cwd)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	settings := readExisting(path)

	hooksVal, _ := settings["hooks"].(map[string]any)
	if hooksVal == nil {
		hooksVal = make(map[string]any)
	}
	for _, event := range managedEvents {
		delete(hooksVal, event)
	}

	hooksVal[eventPromptSubmit] = hookEntry("", callbackCommand("busy", spec.Port, spec.SessionID, false))
	hooksVal[eventStop] = hookEntry("", callbackCommand("stop", spec.Port, spec.SessionID, false))
	hooksVal[eventNotification] = hookEntry("", callbackCommand("notification", spec.Port, spec.SessionID, true))

	if spec.Tier == TierBalanced && spec.SafetyHookPath != "" {
		hooksVal[eventPreToolUse] = hookEntry("*", spec.SafetyHookPath)
	}
	if spec.TaskContextPath != "" {
		hooksVal[eventSessionStart] = hookEntry("", fmt.Sprintf("cat %q", spec.TaskContextPath))
	}
	settings["hooks"] = hooksVal

	applyAttribution(settings, spec.Attribution)

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}

// readExisting loads the current settings file for merging. Missing or
// corrupt files yield an empty map.
func readExisting(path string) map[string]any {
	settings := make(map[string]any)
	data, err := os.ReadFile(path)
	if err != nil {
		return settings
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return make(map[string]any)
	}
	return settings
}

// hookEntry builds one hook registration in the agent's schema: a list of
// matcher groups, each carrying a list of commands.
func hookEntry(matcher, command string) []any {
	group := map[string]any{
		"hooks": []any{
			map[string]any{"type": "command", "command": command},
		},
	}
	if matcher != "" {
		group["matcher"] = matcher
	}
	return []any{group}
}

// callbackCommand builds the curl invocation for a lifecycle event. The
// notification route forwards the hook's stdin JSON as the request body.
func callbackCommand(category string, port int, sessionID string, postBody bool) string {
	url := fmt.Sprintf("http://127.0.0.1:%d/hook/%s?ptyId=%s", port, category, sessionID)
	if postBody {
		return fmt.Sprintf("curl -s -X POST -H 'Content-Type: application/json' --data-binary @- %q", url)
	}
	return fmt.Sprintf("curl -s %q", url)
}
