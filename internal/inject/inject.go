// Package inject materializes enabled shared resources into a session's
// working directory before spawn. Injection is convergent: each pass
// removes managed entries that dropped out of the enabled set and copies
// the current set fresh, while user-authored files in the same
// directories are never touched.
package inject

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"

	"github.com/agent-command/sessiond/internal/store"
)

// manifestFile records which entries in each destination subdirectory are
// managed by the injector. Only names listed here are ever deleted.
const manifestFile = ".managed-resources.json"

const lockFile = ".inject.lock"

// ErrTooDeep marks a directory resource nested past the configured depth
// ceiling. Reported per resource, never a crash.
var ErrTooDeep = fmt.Errorf("resource tree exceeds depth ceiling")

// ResourceError is one resource's copy failure inside an aggregate.
type ResourceError struct {
	Name string
	Err  error
}

func (e *ResourceError) Error() string { return fmt.Sprintf("%s: %v", e.Name, e.Err) }
func (e *ResourceError) Unwrap() error { return e.Err }

// InjectError aggregates every individual failure of one injection pass.
// If any resource failed, the whole operation is a failure even though
// other resources were materialized.
type InjectError struct {
	Failures []*ResourceError
}

func (e *InjectError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("injecting %d resource(s) failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

type Injector struct {
	store    store.Store
	maxDepth int
	skipDirs map[string]struct{}
}

func New(st store.Store, maxDepth int, skipDirs []string) *Injector {
	skip := make(map[string]struct{}, len(skipDirs))
	for _, d := range skipDirs {
		skip[d] = struct{}{}
	}
	return &Injector{store: st, maxDepth: maxDepth, skipDirs: skip}
}

// subdir maps a resource kind to its destination subdirectory.
func subdir(kind store.Kind) string {
	switch kind {
	case store.KindCommand:
		return "commands"
	case store.KindSkill:
		return "skills"
	case store.KindMCP:
		return "mcp"
	default:
		return string(kind)
	}
}

// Inject resolves the effective enabled set for the task and materializes
// it under destDir. It must complete (or fail) before the session may be
// spawned; callers treat any returned error as fatal to the spawn.
func (in *Injector) Inject(taskID, destDir string) error {
	resources, err := in.store.EffectiveSet(taskID)
	if err != nil {
		return fmt.Errorf("resolving enabled set for task %s: %w", taskID, err)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}

	previous := readManifest(destDir)
	current := make(map[string][]string)

	var failures []*ResourceError

	for _, r := range resources {
		dir := subdir(r.Kind)
		entry, err := in.copyResource(r, filepath.Join(destDir, dir))
		if err != nil {
			failures = append(failures, &ResourceError{Name: r.Name, Err: err})
			continue
		}
		current[dir] = append(current[dir], entry)
	}

	// Remove managed entries that dropped out of the enabled set. An
	// entry is managed only if the previous manifest listed it.
	for dir, entries := range previous {
		kept := make(map[string]struct{})
		for _, e := range current[dir] {
			kept[e] = struct{}{}
		}
		for _, entry := range entries {
			if _, ok := kept[entry]; ok {
				continue
			}
			if err := os.RemoveAll(filepath.Join(destDir, dir, entry)); err != nil {
				failures = append(failures, &ResourceError{Name: entry, Err: err})
			}
		}
	}

	writeManifest(destDir, current)

	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool { return failures[i].Name < failures[j].Name })
		return &InjectError{Failures: failures}
	}
	return nil
}

// PrepareRestart runs the same injection for an already-running session.
// It is the serialization point the UI calls before a kill+respawn: a
// file lock makes redundant or concurrent calls safe.
func (in *Injector) PrepareRestart(taskID, destDir string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}

	lock := flock.New(filepath.Join(destDir, lockFile))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquiring inject lock: %w", err)
	}
	defer lock.Unlock()

	return in.Inject(taskID, destDir)
}

// copyResource materializes one resource and returns the destination
// entry name it owns within the kind subdirectory.
func (in *Injector) copyResource(r store.Resource, kindDir string) (string, error) {
	info, err := os.Lstat(r.Path)
	if err != nil {
		return "", fmt.Errorf("source: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("source %s is a symlink", r.Path)
	}

	if err := os.MkdirAll(kindDir, 0755); err != nil {
		return "", err
	}

	if info.IsDir() {
		dest := filepath.Join(kindDir, r.Name)
		if err := os.RemoveAll(dest); err != nil {
			return "", err
		}
		if err := in.copyTree(r.Path, dest, 0); err != nil {
			return "", err
		}
		return r.Name, nil
	}

	entry := r.Name + filepath.Ext(r.Path)
	if err := copyFile(r.Path, filepath.Join(kindDir, entry)); err != nil {
		return "", err
	}
	return entry, nil
}

// copyTree copies a directory recursively. Symlinks are skipped
// unconditionally, well-known noise directories are excluded at every
// depth, and nesting past the ceiling is a config error.
func (in *Injector) copyTree(src, dest string, depth int) error {
	if depth > in.maxDepth {
		return fmt.Errorf("%w (%d levels, max %d)", ErrTooDeep, depth, in.maxDepth)
	}

	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.Type()&os.ModeSymlink != 0 {
			continue
		}
		if entry.IsDir() {
			if _, skip := in.skipDirs[name]; skip {
				continue
			}
			if err := in.copyTree(filepath.Join(src, name), filepath.Join(dest, name), depth+1); err != nil {
				return err
			}
			continue
		}
		if !entry.Type().IsRegular() {
			continue
		}
		if err := copyFile(filepath.Join(src, name), filepath.Join(dest, name)); err != nil {
			return err
		}
	}
	return nil
}

// copyFile copies src to dest, carrying the source permissions so
// executable helpers stay executable.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// An earlier injection pass may have left dest with other
	// permissions; OpenFile's mode only applies on create.
	return os.Chmod(dest, info.Mode().Perm())
}

func readManifest(destDir string) map[string][]string {
	data, err := os.ReadFile(filepath.Join(destDir, manifestFile))
	if err != nil {
		return nil
	}
	var m map[string][]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// writeManifest is best-effort: a manifest write failure only means the
// next pass cannot clean up, it never fails the injection.
func writeManifest(destDir string, m map[string][]string) {
	for _, entries := range m {
		sort.Strings(entries)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(destDir, manifestFile), append(data, '\n'), 0644)
}
