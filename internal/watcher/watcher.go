// Package watcher reloads the attribution settings file when it changes
// on disk, so the commit trailer in every live session's hook file stays
// current without a daemon restart.
package watcher

import (
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agent-command/sessiond/internal/hooks"
)

const debounceInterval = 500 * time.Millisecond

// ChangedCallback receives the freshly loaded attribution settings.
type ChangedCallback func(attr *hooks.Attribution)

type AttributionWatcher struct {
	path      string
	callback  ChangedCallback
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
}

// Watch starts watching the attribution settings file. Watch-setup
// failure is reported to the caller, who treats it as best-effort (the
// daemon runs fine without live reload).
func Watch(path string, callback ChangedCallback) (*AttributionWatcher, error) {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the parent directory: editors replace files by rename, which
	// drops a watch on the file itself.
	if err := fsW.Add(filepath.Dir(path)); err != nil {
		fsW.Close()
		return nil, err
	}

	w := &AttributionWatcher{
		path:      path,
		callback:  callback,
		fsWatcher: fsW,
		cancel:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *AttributionWatcher) Close() {
	close(w.cancel)
	w.fsWatcher.Close()
}

func (w *AttributionWatcher) loop() {
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-w.cancel:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce: editors produce bursts of events per save.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			w.reload()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("attribution watcher error: %v", err)
		}
	}
}

func (w *AttributionWatcher) reload() {
	attr, err := hooks.LoadAttribution(w.path)
	if err != nil {
		log.Printf("reloading attribution settings: %v", err)
		return
	}
	w.callback(attr)
}
