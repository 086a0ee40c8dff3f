package proc

import (
	"os"
	"testing"
)

func TestAliveSelf(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Error("Alive(our own pid) = false")
	}
}

func TestAliveInvalid(t *testing.T) {
	if Alive(0) {
		t.Error("Alive(0) = true")
	}
	if Alive(-1) {
		t.Error("Alive(-1) = true")
	}
}

func TestParseStat(t *testing.T) {
	tests := []struct {
		name     string
		stat     string
		wantComm string
		wantPPID int
		wantOK   bool
	}{
		{"plain", "42 (bash) S 1 42 42 0 -1", "bash", 1, true},
		{"spaces in comm", "42 (tmux: server) S 7 42 42 0 -1", "tmux: server", 7, true},
		{"parens in comm", "42 (a(b)c) S 9 42 42 0 -1", "a(b)c", 9, true},
		{"empty", "", "", 0, false},
		{"truncated", "42 (bash)", "bash", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comm, ppid, ok := parseStat(tt.stat)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if comm != tt.wantComm || ppid != tt.wantPPID {
				t.Errorf("got (%q, %d), want (%q, %d)", comm, ppid, tt.wantComm, tt.wantPPID)
			}
		})
	}
}

func TestHasDescendant(t *testing.T) {
	tree := &Tree{
		commands: map[int]string{
			100: "/bin/zsh -il",
			200: "node /usr/local/bin/claude",
			300: "vim notes.txt",
		},
		children: map[int][]int{
			100: {200, 300},
		},
	}

	if !tree.HasDescendant(100, "claude") {
		t.Error("expected to find claude under the shell")
	}
	if tree.HasDescendant(300, "claude") {
		t.Error("claude is not under vim")
	}
	if tree.HasDescendant(0, "claude") {
		t.Error("root 0 should never match")
	}
}

func TestHasDescendantCycleSafe(t *testing.T) {
	tree := &Tree{
		commands: map[int]string{100: "a", 200: "b"},
		children: map[int][]int{100: {200}, 200: {100}},
	}
	// Must terminate despite the bogus cycle.
	if tree.HasDescendant(100, "claude") {
		t.Error("unexpected match")
	}
}
