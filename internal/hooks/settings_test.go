package hooks

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readSettings(t *testing.T, cwd string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(SettingsPath(cwd))
	if err != nil {
		t.Fatalf("reading settings: %v", err)
	}
	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		t.Fatalf("settings not valid JSON: %v", err)
	}
	return settings
}

func hookCommand(t *testing.T, settings map[string]any, event string) string {
	t.Helper()
	hooks, ok := settings["hooks"].(map[string]any)
	if !ok {
		t.Fatalf("no hooks key in %v", settings)
	}
	groups, ok := hooks[event].([]any)
	if !ok || len(groups) == 0 {
		t.Fatalf("event %s not registered", event)
	}
	group := groups[0].(map[string]any)
	cmds := group["hooks"].([]any)
	cmd := cmds[0].(map[string]any)
	return cmd["command"].(string)
}

func TestWriteRegistersLifecycleHooks(t *testing.T) {
	cwd := t.TempDir()
	err := Write(cwd, Spec{SessionID: "sess-1", Port: 43210, Tier: TierUnrestricted})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	settings := readSettings(t, cwd)
	tests := []struct {
		event string
		want  string
	}{
		{"UserPromptSubmit", "/hook/busy?ptyId=sess-1"},
		{"Stop", "/hook/stop?ptyId=sess-1"},
		{"Notification", "/hook/notification?ptyId=sess-1"},
	}
	for _, tt := range tests {
		cmd := hookCommand(t, settings, tt.event)
		if !strings.Contains(cmd, "127.0.0.1:43210") || !strings.Contains(cmd, tt.want) {
			t.Errorf("%s command = %q, want port 43210 and %q", tt.event, cmd, tt.want)
		}
	}
	if !strings.Contains(hookCommand(t, settings, "Notification"), "--data-binary @-") {
		t.Error("notification hook should forward its stdin as the request body")
	}
}

func TestWritePreservesForeignKeys(t *testing.T) {
	cwd := t.TempDir()
	path := SettingsPath(cwd)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	existing := `{
		"permissions": {"allow": ["Bash(ls:*)"]},
		"hooks": {"PostToolUse": [{"hooks": [{"type": "command", "command": "echo done"}]}]}
	}`
	if err := os.WriteFile(path, []byte(existing), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Write(cwd, Spec{SessionID: "s", Port: 1024}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	settings := readSettings(t, cwd)
	if _, ok := settings["permissions"]; !ok {
		t.Error("foreign top-level key dropped by merge")
	}
	if cmd := hookCommand(t, settings, "PostToolUse"); cmd != "echo done" {
		t.Errorf("foreign hook event dropped or rewritten: %q", cmd)
	}
}

func TestWriteCorruptExistingTreatedAsEmpty(t *testing.T) {
	cwd := t.TempDir()
	path := SettingsPath(cwd)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Write(cwd, Spec{SessionID: "s", Port: 1024}); err != nil {
		t.Fatalf("Write over corrupt file failed: %v", err)
	}
	readSettings(t, cwd) // must parse now
}

func TestSafetyHookOnlyOnBalancedTier(t *testing.T) {
	tests := []struct {
		tier PermissionTier
		want bool
	}{
		{TierRestricted, false},
		{TierBalanced, true},
		{TierUnrestricted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			cwd := t.TempDir()
			spec := Spec{SessionID: "s", Port: 1, Tier: tt.tier, SafetyHookPath: "/usr/local/bin/safety-check"}
			if err := Write(cwd, spec); err != nil {
				t.Fatal(err)
			}

			settings := readSettings(t, cwd)
			hooks := settings["hooks"].(map[string]any)
			_, got := hooks["PreToolUse"]
			if got != tt.want {
				t.Errorf("PreToolUse registered = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStartupHookWhenTaskContextPresent(t *testing.T) {
	cwd := t.TempDir()
	spec := Spec{SessionID: "s", Port: 1, TaskContextPath: "/tmp/ctx.json"}
	if err := Write(cwd, spec); err != nil {
		t.Fatal(err)
	}
	cmd := hookCommand(t, readSettings(t, cwd), "SessionStart")
	if !strings.Contains(cmd, "/tmp/ctx.json") {
		t.Errorf("SessionStart command = %q, want task context path", cmd)
	}
}

func TestRewriteDropsStaleManagedHooks(t *testing.T) {
	cwd := t.TempDir()
	balanced := Spec{SessionID: "s", Port: 1, Tier: TierBalanced, SafetyHookPath: "/bin/check", TaskContextPath: "/tmp/ctx.json"}
	if err := Write(cwd, balanced); err != nil {
		t.Fatal(err)
	}

	// Re-write without safety hook or task context.
	if err := Write(cwd, Spec{SessionID: "s", Port: 1, Tier: TierUnrestricted}); err != nil {
		t.Fatal(err)
	}

	hooks := readSettings(t, cwd)["hooks"].(map[string]any)
	if _, ok := hooks["PreToolUse"]; ok {
		t.Error("stale PreToolUse hook survived re-write")
	}
	if _, ok := hooks["SessionStart"]; ok {
		t.Error("stale SessionStart hook survived re-write")
	}
}

func TestAttributionMerge(t *testing.T) {
	cwd := t.TempDir()
	attr := &Attribution{Enabled: false, Trailer: "Co-Developed-By: team@example.com"}
	if err := Write(cwd, Spec{SessionID: "s", Port: 1, Attribution: attr}); err != nil {
		t.Fatal(err)
	}

	settings := readSettings(t, cwd)
	if got := settings["includeCoAuthoredBy"]; got != false {
		t.Errorf("includeCoAuthoredBy = %v, want false", got)
	}
	if got := settings["attributionTrailer"]; got != attr.Trailer {
		t.Errorf("attributionTrailer = %v, want %q", got, attr.Trailer)
	}

	// Clearing attribution removes the managed keys.
	if err := Write(cwd, Spec{SessionID: "s", Port: 1}); err != nil {
		t.Fatal(err)
	}
	settings = readSettings(t, cwd)
	if _, ok := settings["includeCoAuthoredBy"]; ok {
		t.Error("includeCoAuthoredBy should be removed when attribution is nil")
	}
}

func TestLoadAttributionMissingFile(t *testing.T) {
	attr, err := LoadAttribution(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadAttribution: %v", err)
	}
	if !attr.Enabled {
		t.Error("default attribution should be enabled")
	}
}

func TestLoadAttributionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attribution.yaml")
	content := "enabled: true\ntrailer: \"Assisted-By: bot\"\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	attr, err := LoadAttribution(path)
	if err != nil {
		t.Fatal(err)
	}
	if !attr.Enabled || attr.Trailer != "Assisted-By: bot" {
		t.Errorf("attr = %+v", attr)
	}
}
