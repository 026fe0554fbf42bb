// Package config loads the bridge's configuration: a TOML file, overridden
// by environment variables. Before either is read, an optional .env file
// exports into the process environment only the keys not already set there.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Template holds the Template Builder's subtree allow-list.
type Template struct {
	// Subtrees are the directories copied from the vendor installation
	// root into the template, in addition to the executable and its
	// dynamic libraries.
	Subtrees []string `toml:"subtrees"`
}

// Config is the bridge's full runtime configuration, covering session
// lifecycle tunables plus the ambient HTTP surface.
type Config struct {
	SessionsBasePath      string `toml:"sessions_base_path"`
	PortableTerminalPath  string `toml:"portable_terminal_path"`
	WorkerBinPath         string `toml:"worker_bin_path"`
	SessionIdleTimeoutSec int    `toml:"session_idle_timeout_seconds"`
	ReaperIntervalSec     int    `toml:"reaper_interval_seconds"`
	CommandTimeoutSec     int    `toml:"command_timeout_seconds"`
	InitTimeoutSec        int    `toml:"init_timeout_seconds"`
	CloseAllFanOut        int    `toml:"close_all_fan_out"`

	ListenAddr string `toml:"listen_addr"`
	AuthToken  string `toml:"auth_token"`

	LogDir       string `toml:"log_dir"`
	LogLevel     string `toml:"log_level"`
	PprofEnabled bool   `toml:"pprof_enabled"`

	Template Template `toml:"template"`
}

// Default returns a Config with every field set to its documented
// default.
func Default() Config {
	return Config{
		SessionsBasePath:      filepath.Join(os.TempDir(), "mt5-sessions"),
		PortableTerminalPath:  "",
		WorkerBinPath:         "mt5worker",
		SessionIdleTimeoutSec: 3600,
		ReaperIntervalSec:     60,
		CommandTimeoutSec:     30,
		InitTimeoutSec:        60,
		CloseAllFanOut:        8,
		ListenAddr:            "127.0.0.1:8787",
		LogLevel:              "info",
		Template: Template{
			Subtrees: []string{"Config", "MQL5", "Sounds", "Profiles", "Templates"},
		},
	}
}

// Load reads .env (if present) into the process environment, then layers
// a TOML file over the defaults, then layers environment variable
// overrides over that. path may be empty, in which case only defaults and
// environment variables apply.
func Load(path string) (Config, error) {
	loadDotEnv(".env")

	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("stat %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if len(cfg.Template.Subtrees) == 0 {
		cfg.Template.Subtrees = Default().Template.Subtrees
	}

	return cfg, nil
}

// applyEnvOverrides layers MT5BRIDGE_* environment variables over cfg,
// following the original bridge's env-over-default layering in
// app/config.py's check_env_var.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("MT5BRIDGE_SESSIONS_BASE_PATH"); ok {
		cfg.SessionsBasePath = v
	}
	if v, ok := os.LookupEnv("MT5BRIDGE_PORTABLE_TERMINAL_PATH"); ok {
		cfg.PortableTerminalPath = v
	}
	if v, ok := os.LookupEnv("MT5BRIDGE_WORKER_BIN_PATH"); ok {
		cfg.WorkerBinPath = v
	}
	if v, ok := envInt("MT5BRIDGE_SESSION_IDLE_TIMEOUT_SECONDS"); ok {
		cfg.SessionIdleTimeoutSec = v
	}
	if v, ok := envInt("MT5BRIDGE_REAPER_INTERVAL_SECONDS"); ok {
		cfg.ReaperIntervalSec = v
	}
	if v, ok := envInt("MT5BRIDGE_COMMAND_TIMEOUT_SECONDS"); ok {
		cfg.CommandTimeoutSec = v
	}
	if v, ok := envInt("MT5BRIDGE_INIT_TIMEOUT_SECONDS"); ok {
		cfg.InitTimeoutSec = v
	}
	if v, ok := os.LookupEnv("MT5BRIDGE_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("MT5BRIDGE_AUTH_TOKEN"); ok {
		cfg.AuthToken = v
	}
	if v, ok := os.LookupEnv("MT5BRIDGE_LOG_DIR"); ok {
		cfg.LogDir = v
	}
	if v, ok := os.LookupEnv("MT5BRIDGE_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := envBool("MT5BRIDGE_PPROF_ENABLED"); ok {
		cfg.PprofEnabled = v
	}
}

func envInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
