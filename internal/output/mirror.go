package output

import (
	"os"
	"path/filepath"
	"sync"
)

// FileMirror appends each session's raw output to a transcript file
// under dir, one file per session id.
type FileMirror struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File
}

func NewFileMirror(dir string) (*FileMirror, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileMirror{dir: dir, files: make(map[string]*os.File)}, nil
}

func (m *FileMirror) MirrorOutput(sessionID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[sessionID]
	if !ok {
		var err error
		f, err = os.OpenFile(filepath.Join(m.dir, sessionID+".log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		m.files[sessionID] = f
	}
	_, err := f.Write(data)
	return err
}

func (m *FileMirror) Close() {
	m.mu.Lock()
	for _, f := range m.files {
		_ = f.Close()
	}
	m.files = make(map[string]*os.File)
	m.mu.Unlock()
}
