package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Hooks     HooksConfig     `yaml:"hooks"`
	Owner     OwnerConfig     `yaml:"owner"`
	Agent     AgentConfig     `yaml:"agent"`
	Resources ResourcesConfig `yaml:"resources"`
	Terminal  TerminalConfig  `yaml:"terminal"`
}

type HooksConfig struct {
	// Listen is the loopback bind address for the callback server.
	// The port is OS-assigned when ":0".
	Listen string `yaml:"listen"`
	// SafetyHookPath is the executable invoked as a pre-action check
	// for sessions spawned with the balanced permission tier.
	SafetyHookPath string `yaml:"safety_hook_path"`
	// AttributionPath is the settings file holding the commit
	// attribution trailer merged into every session's hook file.
	AttributionPath string `yaml:"attribution_path"`
}

type OwnerConfig struct {
	Listen string `yaml:"listen"`
}

type AgentConfig struct {
	// Bin overrides binary discovery entirely when set.
	Bin string `yaml:"bin"`
	// BinName is the binary looked up on PATH and in InstallDirs.
	BinName string `yaml:"bin_name"`
	// InstallDirs are probed, in order, after PATH lookup fails.
	InstallDirs []string `yaml:"install_dirs"`
	// ProbeTimeoutMs bounds each individual discovery probe.
	ProbeTimeoutMs int `yaml:"probe_timeout_ms"`
	// Shell is the interactive shell used for shell-mode sessions.
	Shell string `yaml:"shell"`
}

type ResourcesConfig struct {
	// StorePath is the YAML file backing the resource store.
	StorePath string `yaml:"store_path"`
	// MaxDepth is the ceiling for directory-kind resource trees.
	MaxDepth int `yaml:"max_depth"`
	// SkipDirs are excluded at every depth during resource copies.
	SkipDirs []string `yaml:"skip_dirs"`
}

type TerminalConfig struct {
	// ScrollbackBytes bounds the per-session output replay buffer.
	ScrollbackBytes int `yaml:"scrollback_bytes"`
	// ColorScheme is the hint passed to spawned processes.
	ColorScheme string `yaml:"color_scheme"`
	// MirrorDir, when set, receives an append-only transcript of each
	// session's raw output.
	MirrorDir string `yaml:"mirror_dir"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a config with every default applied, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	home, _ := os.UserHomeDir()

	if cfg.Hooks.Listen == "" {
		cfg.Hooks.Listen = "127.0.0.1:0"
	}
	if cfg.Owner.Listen == "" {
		cfg.Owner.Listen = "127.0.0.1:7391"
	}
	if cfg.Agent.BinName == "" {
		cfg.Agent.BinName = "claude"
	}
	if len(cfg.Agent.InstallDirs) == 0 {
		cfg.Agent.InstallDirs = []string{
			filepath.Join(home, ".claude", "local"),
			filepath.Join(home, ".local", "bin"),
			filepath.Join(home, ".npm-global", "bin"),
			"/usr/local/bin",
			"/opt/homebrew/bin",
		}
	}
	if cfg.Agent.ProbeTimeoutMs == 0 {
		cfg.Agent.ProbeTimeoutMs = 2000
	}
	if cfg.Agent.Shell == "" {
		if sh := os.Getenv("SHELL"); sh != "" {
			cfg.Agent.Shell = sh
		} else {
			cfg.Agent.Shell = "/bin/bash"
		}
	}
	if cfg.Hooks.AttributionPath == "" {
		cfg.Hooks.AttributionPath = filepath.Join(home, ".sessiond", "attribution.yaml")
	}
	if cfg.Resources.StorePath == "" {
		cfg.Resources.StorePath = filepath.Join(home, ".sessiond", "resources.yaml")
	}
	if cfg.Resources.MaxDepth == 0 {
		cfg.Resources.MaxDepth = 10
	}
	if len(cfg.Resources.SkipDirs) == 0 {
		cfg.Resources.SkipDirs = []string{".git", "node_modules", "__pycache__", ".venv"}
	}
	if cfg.Terminal.ScrollbackBytes == 0 {
		cfg.Terminal.ScrollbackBytes = 256 * 1024
	}
	if cfg.Terminal.ColorScheme == "" {
		cfg.Terminal.ColorScheme = "dark"
	}
}
