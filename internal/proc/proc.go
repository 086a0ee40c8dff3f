// Package proc answers OS-level liveness questions about session
// processes, independent of any state derived from hook callbacks.
package proc

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Alive reports whether a process with the given pid exists. It uses
// signal 0, so it works for processes we did not spawn.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// Tree is a point-in-time view of the process table, used to check
// whether an agent binary is running underneath a session's root process
// (shell-mode sessions run the agent as a child of the shell).
type Tree struct {
	commands map[int]string
	children map[int][]int
}

// Scan reads the process table from /proc. Unreadable entries are
// skipped; an unreadable /proc yields an empty tree, not an error.
func Scan() *Tree {
	t := &Tree{
		commands: make(map[int]string),
		children: make(map[int][]int),
	}

	dirs, err := os.ReadDir("/proc")
	if err != nil {
		return t
	}

	for _, dir := range dirs {
		pid, err := strconv.Atoi(dir.Name())
		if err != nil || pid <= 0 {
			continue
		}

		stat, err := os.ReadFile(filepath.Join("/proc", dir.Name(), "stat"))
		if err != nil {
			continue
		}
		comm, ppid, ok := parseStat(string(stat))
		if !ok {
			continue
		}

		if cmdline := readCmdline(pid); cmdline != "" {
			t.commands[pid] = cmdline
		} else {
			t.commands[pid] = comm
		}
		t.children[ppid] = append(t.children[ppid], pid)
	}

	return t
}

// HasDescendant reports whether any process at or below root has the
// given name in its command line.
func (t *Tree) HasDescendant(root int, name string) bool {
	if t == nil || root <= 0 || name == "" {
		return false
	}

	queue := []int{root}
	visited := make(map[int]struct{})
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		if _, seen := visited[pid]; seen {
			continue
		}
		visited[pid] = struct{}{}

		if cmd, ok := t.commands[pid]; ok && strings.Contains(cmd, name) {
			return true
		}
		queue = append(queue, t.children[pid]...)
	}
	return false
}

// parseStat extracts the comm field and parent pid from a /proc/N/stat
// line. The comm field is parenthesized and may itself contain spaces.
func parseStat(stat string) (string, int, bool) {
	stat = strings.TrimSpace(stat)
	lparen := strings.Index(stat, "(")
	rparen := strings.LastIndex(stat, ")")
	if lparen == -1 || rparen == -1 || rparen <= lparen {
		return "", 0, false
	}

	comm := stat[lparen+1 : rparen]
	rest := strings.Fields(stat[rparen+1:])
	if len(rest) < 2 {
		return comm, 0, false
	}
	ppid, err := strconv.Atoi(rest[1])
	if err != nil {
		return comm, 0, false
	}
	return comm, ppid, true
}

func readCmdline(pid int) string {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil || len(data) == 0 {
		return ""
	}
	return strings.Join(strings.FieldsFunc(string(data), func(r rune) bool {
		return r == 0
	}), " ")
}
