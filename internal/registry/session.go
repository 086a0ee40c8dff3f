package registry

import (
	"encoding/json"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/agent-command/sessiond/internal/hooks"
	"github.com/agent-command/sessiond/internal/output"
	"github.com/agent-command/sessiond/internal/owner"
)

// session is one live registry record. A fresh record (with a fresh
// generation) is created for every spawn; the exit watcher compares
// generations so a delayed exit for an old process never evicts its
// replacement.
type session struct {
	id          string
	mode        SpawnMode
	cwd         string
	tier        hooks.PermissionTier
	taskID      string
	resumed     bool
	taskContext json.RawMessage

	generation uint64
	superseded bool

	cmd      *exec.Cmd
	ptmx     *os.File
	pipeline *output.Pipeline
	cleanup  func()

	ownerMu sync.Mutex
	owner   owner.Channel

	scrollMu  sync.Mutex
	scroll    []byte
	maxScroll int

	termOnce sync.Once
}

func (s *session) setOwner(ch owner.Channel) {
	s.ownerMu.Lock()
	s.owner = ch
	s.ownerMu.Unlock()
}

func (s *session) currentOwner() owner.Channel {
	s.ownerMu.Lock()
	defer s.ownerMu.Unlock()
	return s.owner
}

// startProcess launches the process on a PTY at the requested size.
// The caller publishes the returned handle onto the record under the
// registry lock, so Kill can tell a started record from an in-flight
// one.
func startProcess(cmd *exec.Cmd, cols, rows uint16) (*os.File, error) {
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}
	return pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
}

// terminate tears the process down: SIGTERM, then SIGKILL after a grace
// period. Safe to call on a record whose spawn never completed.
func (s *session) terminate() {
	s.termOnce.Do(func() {
		if s.ptmx != nil {
			_ = s.ptmx.Close()
		}
		if s.cmd != nil && s.cmd.Process != nil {
			proc := s.cmd.Process
			_ = proc.Signal(syscall.SIGTERM)
			go func() {
				time.Sleep(gracefulTimeout)
				_ = proc.Kill()
			}()
		}
		if s.cleanup != nil {
			s.cleanup()
		}
	})
}

// release frees the PTY and temp files after a self-exit (no signal
// needed, the process is already gone).
func (s *session) release() {
	s.termOnce.Do(func() {
		if s.ptmx != nil {
			_ = s.ptmx.Close()
		}
		if s.cleanup != nil {
			s.cleanup()
		}
	})
}

// appendScrollback records output for replay on reattach, keeping only
// the newest maxScroll bytes.
func (s *session) appendScrollback(data []byte) {
	s.scrollMu.Lock()
	s.scroll = append(s.scroll, data...)
	if over := len(s.scroll) - s.maxScroll; over > 0 {
		s.scroll = s.scroll[over:]
	}
	s.scrollMu.Unlock()
}

func (s *session) scrollbackCopy() []byte {
	s.scrollMu.Lock()
	defer s.scrollMu.Unlock()
	out := make([]byte, len(s.scroll))
	copy(out, s.scroll)
	return out
}
