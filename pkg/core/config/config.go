// ============================================================================
// emubench - Mobile Test Environment Orchestrator
// ============================================================================
//
// Package:     config
// Description: TOML configuration for the test-environment orchestrator
// Author:      Mike Stoffels
// Created:     2025-12-06
// License:     MIT
// ============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/sys/unix"
)

// EnvConfigPath names the environment variable holding an explicit config path
const EnvConfigPath = "EMUBENCH_CONFIG"

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config holds the complete application configuration
type Config struct {
	General   GeneralConfig   `toml:"general"`
	Emulator  EmulatorConfig  `toml:"emulator"`
	Server    ServerConfig    `toml:"server"`
	Bridge    BridgeConfig    `toml:"bridge"`
	Cleanup   CleanupConfig   `toml:"cleanup"`
	Test      TestConfig      `toml:"test"`
	Preflight PreflightConfig `toml:"preflight"`
	History   HistoryConfig   `toml:"history"`
}

// GeneralConfig holds general application settings
type GeneralConfig struct {
	DataDir   string `toml:"data_dir"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// EmulatorConfig describes how the emulator is started and stopped
type EmulatorConfig struct {
	Binary                string   `toml:"binary"`
	AVD                   string   `toml:"avd"`
	Args                  []string `toml:"args"`
	Pattern               string   `toml:"pattern"`
	BootMarker            string   `toml:"boot_marker"`
	BootTimeout           Duration `toml:"boot_timeout"`
	Settle                Duration `toml:"settle"`
	GracePeriod           Duration `toml:"grace_period"`
	NativeGrace           Duration `toml:"native_grace"`
	VirtualizationPattern string   `toml:"virtualization_pattern"`
	ReprobeAttempts       int      `toml:"reprobe_attempts"`
	ReprobeInterval       Duration `toml:"reprobe_interval"`
}

// ServerConfig describes the automation server process
type ServerConfig struct {
	Command      []string `toml:"command"`
	Pattern      string   `toml:"pattern"`
	ReadyMarker  string   `toml:"ready_marker"`
	ReadyTimeout Duration `toml:"ready_timeout"`
	Settle       Duration `toml:"settle"`
	GracePeriod  Duration `toml:"grace_period"`
}

// BridgeConfig holds device-bridge (adb) settings
type BridgeConfig struct {
	Binary       string   `toml:"binary"`
	RestartPause Duration `toml:"restart_pause"`
}

// CleanupConfig holds the cleanup sequence bounds and signals
type CleanupConfig struct {
	Timeout          Duration `toml:"timeout"`
	EmergencyTimeout Duration `toml:"emergency_timeout"`
	GracefulSignal   string   `toml:"graceful_signal"`
	ForcefulSignal   string   `toml:"forceful_signal"`
}

// TestConfig holds the default test command
type TestConfig struct {
	Command     []string `toml:"command"`
	GracePeriod Duration `toml:"grace_period"`
}

// PreflightConfig controls the stale-process sweep before a run
type PreflightConfig struct {
	SweepStaleServer bool     `toml:"sweep_stale_server"`
	SweepPause       Duration `toml:"sweep_pause"`
}

// HistoryConfig controls persistence of cleanup runs
type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Duration wraps time.Duration for TOML parsing
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText formats the duration as a string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file is present
func Default() *Config {
	cfg := &Config{
		Preflight: PreflightConfig{SweepStaleServer: true},
		History:   HistoryConfig{Enabled: true},
	}
	cfg.applyDefaults()
	cfg.expandEnvVars()
	return cfg
}

// Load loads configuration from a TOML file on top of the defaults
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	cfg := &Config{
		Preflight: PreflightConfig{SweepStaleServer: true},
		History:   HistoryConfig{Enabled: true},
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.expandEnvVars()

	return cfg, nil
}

// Resolve loads the explicit path if given, otherwise the first file found in
// the search locations. Without any file the defaults are returned and the
// returned path is empty.
func Resolve(explicit string) (*Config, string, error) {
	if explicit != "" {
		cfg, err := Load(explicit)
		return cfg, explicit, err
	}

	for _, p := range SearchPaths() {
		if _, err := os.Stat(p); err == nil {
			cfg, err := Load(p)
			return cfg, p, err
		}
	}

	return Default(), "", nil
}

// SearchPaths returns the config lookup order
func SearchPaths() []string {
	paths := make([]string, 0, 4)
	if p := os.Getenv(EnvConfigPath); p != "" {
		paths = append(paths, p)
	}
	paths = append(paths, "./configs/emubench.toml", "./emubench.toml")
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "emubench", "emubench.toml"))
	}
	return paths
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// General
	if c.General.DataDir == "" {
		c.General.DataDir = "./data"
	}
	if c.General.LogLevel == "" {
		c.General.LogLevel = "info"
	}
	if c.General.LogFormat == "" {
		c.General.LogFormat = "text"
	}

	// Emulator
	if c.Emulator.Binary == "" {
		c.Emulator.Binary = "${ANDROID_HOME}/emulator/emulator"
	}
	if c.Emulator.AVD == "" {
		c.Emulator.AVD = "Pixel_6"
	}
	if c.Emulator.Args == nil {
		c.Emulator.Args = []string{"-no-snapshot"}
	}
	if c.Emulator.Pattern == "" {
		c.Emulator.Pattern = "emulator"
	}
	if c.Emulator.BootMarker == "" {
		c.Emulator.BootMarker = "Boot completed"
	}
	if c.Emulator.BootTimeout.Duration == 0 {
		c.Emulator.BootTimeout.Duration = 120 * time.Second
	}
	if c.Emulator.Settle.Duration == 0 {
		c.Emulator.Settle.Duration = 10 * time.Second
	}
	if c.Emulator.GracePeriod.Duration == 0 {
		c.Emulator.GracePeriod.Duration = 3 * time.Second
	}
	if c.Emulator.NativeGrace.Duration == 0 {
		c.Emulator.NativeGrace.Duration = 5 * time.Second
	}
	if c.Emulator.VirtualizationPattern == "" {
		c.Emulator.VirtualizationPattern = "qemu-system"
	}
	if c.Emulator.ReprobeAttempts == 0 {
		c.Emulator.ReprobeAttempts = 3
	}
	if c.Emulator.ReprobeInterval.Duration == 0 {
		c.Emulator.ReprobeInterval.Duration = 2 * time.Second
	}

	// Server
	if len(c.Server.Command) == 0 {
		c.Server.Command = []string{"npx", "appium", "server"}
	}
	if c.Server.Pattern == "" {
		c.Server.Pattern = "appium"
	}
	if c.Server.ReadyMarker == "" {
		c.Server.ReadyMarker = "Appium REST http interface listener started"
	}
	if c.Server.ReadyTimeout.Duration == 0 {
		c.Server.ReadyTimeout.Duration = 30 * time.Second
	}
	if c.Server.Settle.Duration == 0 {
		c.Server.Settle.Duration = 5 * time.Second
	}
	if c.Server.GracePeriod.Duration == 0 {
		c.Server.GracePeriod.Duration = 3 * time.Second
	}

	// Bridge
	if c.Bridge.Binary == "" {
		c.Bridge.Binary = "adb"
	}
	if c.Bridge.RestartPause.Duration == 0 {
		c.Bridge.RestartPause.Duration = time.Second
	}

	// Cleanup
	if c.Cleanup.Timeout.Duration == 0 {
		c.Cleanup.Timeout.Duration = 30 * time.Second
	}
	if c.Cleanup.EmergencyTimeout.Duration == 0 {
		c.Cleanup.EmergencyTimeout.Duration = 10 * time.Second
	}
	if c.Cleanup.GracefulSignal == "" {
		c.Cleanup.GracefulSignal = "SIGTERM"
	}
	if c.Cleanup.ForcefulSignal == "" {
		c.Cleanup.ForcefulSignal = "SIGKILL"
	}

	// Test
	if len(c.Test.Command) == 0 {
		c.Test.Command = []string{"npm", "run", "demo:login"}
	}
	if c.Test.GracePeriod.Duration == 0 {
		c.Test.GracePeriod.Duration = 5 * time.Second
	}

	// Preflight
	if c.Preflight.SweepPause.Duration == 0 {
		c.Preflight.SweepPause.Duration = 2 * time.Second
	}

	// History
	if c.History.Path == "" {
		c.History.Path = filepath.Join(c.General.DataDir, "cleanup.db")
	}
}

// expandEnvVars expands environment variables in path values
func (c *Config) expandEnvVars() {
	c.General.DataDir = os.ExpandEnv(c.General.DataDir)
	c.Emulator.Binary = os.ExpandEnv(c.Emulator.Binary)
	c.Bridge.Binary = os.ExpandEnv(c.Bridge.Binary)
	c.History.Path = os.ExpandEnv(c.History.Path)
}

// Validate checks the configuration for values the orchestrator cannot work with
func (c *Config) Validate() error {
	if c.Emulator.Pattern == "" || c.Server.Pattern == "" {
		return fmt.Errorf("%w: process patterns must not be empty", ErrInvalid)
	}
	if _, err := parseSignal(c.Cleanup.GracefulSignal); err != nil {
		return err
	}
	if _, err := parseSignal(c.Cleanup.ForcefulSignal); err != nil {
		return err
	}

	durations := map[string]time.Duration{
		"cleanup.timeout":           c.Cleanup.Timeout.Duration,
		"cleanup.emergency_timeout": c.Cleanup.EmergencyTimeout.Duration,
		"emulator.boot_timeout":     c.Emulator.BootTimeout.Duration,
		"emulator.grace_period":     c.Emulator.GracePeriod.Duration,
		"server.ready_timeout":      c.Server.ReadyTimeout.Duration,
		"server.grace_period":       c.Server.GracePeriod.Duration,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalid, name, d)
		}
	}

	if c.Emulator.ReprobeAttempts < 0 {
		return fmt.Errorf("%w: emulator.reprobe_attempts must not be negative", ErrInvalid)
	}
	return nil
}

// Graceful returns the parsed graceful termination signal
func (c *CleanupConfig) Graceful() syscall.Signal {
	sig, err := parseSignal(c.GracefulSignal)
	if err != nil {
		return unix.SIGTERM
	}
	return sig
}

// Forceful returns the parsed forceful termination signal
func (c *CleanupConfig) Forceful() syscall.Signal {
	sig, err := parseSignal(c.ForcefulSignal)
	if err != nil {
		return unix.SIGKILL
	}
	return sig
}

// EmulatorCommand returns the full emulator command line
func (c *EmulatorConfig) EmulatorCommand() []string {
	cmd := []string{c.Binary, "-avd", c.AVD}
	return append(cmd, c.Args...)
}

// parseSignal accepts names with or without the SIG prefix
func parseSignal(name string) (syscall.Signal, error) {
	sig := unix.SignalNum(name)
	if sig == 0 {
		sig = unix.SignalNum("SIG" + name)
	}
	if sig == 0 {
		return 0, fmt.Errorf("%w: unknown signal %q", ErrInvalid, name)
	}
	return sig, nil
}
