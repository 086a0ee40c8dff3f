package registry

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// managedPrompt is prepended to the user's own prompt so shell-mode
// sessions are visually distinct.
const managedPrompt = "[agent] "

// buildShellCommand starts an interactive shell whose startup files load
// both a managed prompt and the user's own configuration. For zsh this
// means a wrapper ZDOTDIR whose .zshrc restores the original ZDOTDIR
// before sourcing the user's rc, so their customizations are not
// shadowed. For bash it is a wrapper --rcfile that sources ~/.bashrc.
func (r *Registry) buildShellCommand(shell string, opts SpawnOptions) (*exec.Cmd, func(), error) {
	env := r.buildEnv()
	env = append(env, "SHELL="+shell)

	name := filepath.Base(shell)
	switch {
	case strings.Contains(name, "zsh"):
		wrapDir, err := os.MkdirTemp("", "sessiond-zdotdir-")
		if err != nil {
			return nil, nil, fmt.Errorf("creating zsh wrapper dir: %w", err)
		}
		cleanup := func() { _ = os.RemoveAll(wrapDir) }

		userZdot := os.Getenv("ZDOTDIR")
		if userZdot == "" {
			userZdot = os.Getenv("HOME")
		}
		rc := fmt.Sprintf(`# managed shell startup
export ZDOTDIR=%q
[ -f "$ZDOTDIR/.zshrc" ] && source "$ZDOTDIR/.zshrc"
PROMPT=%q"$PROMPT"
`, userZdot, managedPrompt)
		if err := os.WriteFile(filepath.Join(wrapDir, ".zshrc"), []byte(rc), 0644); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("writing zsh wrapper rc: %w", err)
		}

		cmd := exec.Command(shell, "-i")
		cmd.Dir = opts.Cwd
		cmd.Env = append(env, "ZDOTDIR="+wrapDir)
		return cmd, cleanup, nil

	default:
		// bash and anything bash-compatible.
		rcFile, err := os.CreateTemp("", "sessiond-bashrc-")
		if err != nil {
			return nil, nil, fmt.Errorf("creating bash wrapper rc: %w", err)
		}
		cleanup := func() { _ = os.Remove(rcFile.Name()) }

		rc := fmt.Sprintf(`# managed shell startup
[ -f "$HOME/.bashrc" ] && source "$HOME/.bashrc"
PS1=%q"$PS1"
`, managedPrompt)
		if _, err := rcFile.WriteString(rc); err != nil {
			rcFile.Close()
			cleanup()
			return nil, nil, fmt.Errorf("writing bash wrapper rc: %w", err)
		}
		rcFile.Close()

		cmd := exec.Command(shell, "--rcfile", rcFile.Name(), "-i")
		cmd.Dir = opts.Cwd
		cmd.Env = env
		return cmd, cleanup, nil
	}
}
