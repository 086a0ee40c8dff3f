package registry

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/agent-command/sessiond/internal/hooks"
)

// passthroughEnv is the fixed allowlist of host variables copied into
// the spawned process when present. Nothing else leaks through.
var passthroughEnv = []string{
	"ANTHROPIC_API_KEY",
	"ANTHROPIC_BASE_URL",
	"ANTHROPIC_AUTH_TOKEN",
	"HTTP_PROXY",
	"HTTPS_PROXY",
	"NO_PROXY",
	"ALL_PROXY",
}

// buildEnv constructs the minimal environment for a session process:
// terminal capabilities, identity, and the color-scheme hint, plus the
// passthrough allowlist.
func (r *Registry) buildEnv() []string {
	env := []string{
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
		"LANG=en_US.UTF-8",
		"HOME=" + os.Getenv("HOME"),
		"USER=" + os.Getenv("USER"),
		"LOGNAME=" + os.Getenv("LOGNAME"),
		"PATH=" + os.Getenv("PATH"),
	}
	if r.opts.ColorScheme != "" {
		env = append(env, "COLOR_SCHEME="+r.opts.ColorScheme)
	}
	for _, key := range passthroughEnv {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	return env
}

// buildCommand assembles the exec.Cmd for a spawn. The returned cleanup
// removes any temp files the command depends on and may be nil.
func (r *Registry) buildCommand(mode SpawnMode, bin string, opts SpawnOptions) (*exec.Cmd, func(), error) {
	if info, err := os.Stat(opts.Cwd); err != nil || !info.IsDir() {
		return nil, nil, fmt.Errorf("working directory %s: %w", opts.Cwd, errNotADirectory(err))
	}

	switch mode {
	case ModeDirect:
		var args []string
		if opts.Resume {
			args = append(args, "--continue")
		}
		if opts.Tier == hooks.TierUnrestricted {
			args = append(args, "--dangerously-skip-permissions")
		}
		cmd := exec.Command(bin, args...)
		cmd.Dir = opts.Cwd
		cmd.Env = r.buildEnv()
		return cmd, nil, nil

	case ModeShell:
		return r.buildShellCommand(bin, opts)

	default:
		return nil, nil, fmt.Errorf("unknown spawn mode %q", mode)
	}
}

func errNotADirectory(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("not a directory")
}
