package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agent-command/sessiond/internal/hooks"
)

func TestWatchFiresOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "attribution.yaml")
	if err := os.WriteFile(path, []byte("enabled: true\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got := make(chan *hooks.Attribution, 1)
	w, err := Watch(path, func(attr *hooks.Attribution) {
		select {
		case got <- attr:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	content := "enabled: false\ntrailer: \"Reviewed-By: ops\"\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case attr := <-got:
		if attr.Enabled || attr.Trailer != "Reviewed-By: ops" {
			t.Errorf("attr = %+v", attr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback never fired after file change")
	}
}

func TestWatchIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "attribution.yaml")
	if err := os.WriteFile(path, []byte("enabled: true\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got := make(chan struct{}, 1)
	w, err := Watch(path, func(*hooks.Attribution) {
		select {
		case got <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-got:
		t.Error("callback fired for an unrelated file")
	case <-time.After(debounceInterval * 3):
	}
}
