package config

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"seconds", "30s", 30 * time.Second, false},
		{"minutes", "5m", 5 * time.Minute, false},
		{"complex", "1m30s", 90 * time.Second, false},
		{"milliseconds", "100ms", 100 * time.Millisecond, false},
		{"invalid", "invalid", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tt.input))

			if (err != nil) != tt.wantErr {
				t.Errorf("UnmarshalText() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && d.Duration != tt.expected {
				t.Errorf("UnmarshalText() = %v, want %v", d.Duration, tt.expected)
			}
		})
	}
}

func TestDuration_MarshalText(t *testing.T) {
	d := Duration{5 * time.Minute}
	result, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error = %v", err)
	}
	if string(result) != "5m0s" {
		t.Errorf("MarshalText() = %v, want 5m0s", string(result))
	}
}

func TestDefault(t *testing.T) {
	t.Setenv("ANDROID_HOME", "/opt/android")
	cfg := Default()

	if cfg.General.LogLevel != "info" {
		t.Errorf("General.LogLevel = %v, want info", cfg.General.LogLevel)
	}
	if cfg.Emulator.Binary != "/opt/android/emulator/emulator" {
		t.Errorf("Emulator.Binary = %v, want /opt/android/emulator/emulator", cfg.Emulator.Binary)
	}
	if cfg.Emulator.AVD != "Pixel_6" {
		t.Errorf("Emulator.AVD = %v, want Pixel_6", cfg.Emulator.AVD)
	}
	if cfg.Emulator.BootTimeout.Duration != 120*time.Second {
		t.Errorf("Emulator.BootTimeout = %v, want 2m", cfg.Emulator.BootTimeout.Duration)
	}
	if cfg.Emulator.VirtualizationPattern != "qemu-system" {
		t.Errorf("Emulator.VirtualizationPattern = %v, want qemu-system", cfg.Emulator.VirtualizationPattern)
	}
	if cfg.Server.Pattern != "appium" {
		t.Errorf("Server.Pattern = %v, want appium", cfg.Server.Pattern)
	}
	if cfg.Server.ReadyTimeout.Duration != 30*time.Second {
		t.Errorf("Server.ReadyTimeout = %v, want 30s", cfg.Server.ReadyTimeout.Duration)
	}
	if cfg.Cleanup.Timeout.Duration != 30*time.Second {
		t.Errorf("Cleanup.Timeout = %v, want 30s", cfg.Cleanup.Timeout.Duration)
	}
	if got := cfg.Test.Command; len(got) != 3 || got[2] != "demo:login" {
		t.Errorf("Test.Command = %v, want [npm run demo:login]", got)
	}
	if !cfg.Preflight.SweepStaleServer {
		t.Error("Preflight.SweepStaleServer should default to true")
	}
	if !cfg.History.Enabled || cfg.History.Path != filepath.Join("data", "cleanup.db") {
		t.Errorf("History = %+v", cfg.History)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestEmulatorCommand(t *testing.T) {
	cfg := EmulatorConfig{Binary: "/sdk/emulator", AVD: "Pixel_6", Args: []string{"-no-snapshot", "-no-window"}}
	got := cfg.EmulatorCommand()
	want := []string{"/sdk/emulator", "-avd", "Pixel_6", "-no-snapshot", "-no-window"}

	if len(got) != len(want) {
		t.Fatalf("EmulatorCommand() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("EmulatorCommand()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCleanupSignals(t *testing.T) {
	tests := []struct {
		name     string
		graceful string
		forceful string
		wantG    syscall.Signal
		wantF    syscall.Signal
	}{
		{"full names", "SIGTERM", "SIGKILL", syscall.SIGTERM, syscall.SIGKILL},
		{"short names", "INT", "KILL", syscall.SIGINT, syscall.SIGKILL},
		{"unknown falls back", "SIGNOPE", "", syscall.SIGTERM, syscall.SIGKILL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := CleanupConfig{GracefulSignal: tt.graceful, ForcefulSignal: tt.forceful}
			if got := c.Graceful(); got != tt.wantG {
				t.Errorf("Graceful() = %v, want %v", got, tt.wantG)
			}
			if got := c.Forceful(); got != tt.wantF {
				t.Errorf("Forceful() = %v, want %v", got, tt.wantF)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty emulator pattern", func(c *Config) { c.Emulator.Pattern = "" }},
		{"empty server pattern", func(c *Config) { c.Server.Pattern = "" }},
		{"unknown signal", func(c *Config) { c.Cleanup.ForcefulSignal = "SIGBOGUS" }},
		{"zero cleanup timeout", func(c *Config) { c.Cleanup.Timeout.Duration = 0 }},
		{"negative grace", func(c *Config) { c.Server.GracePeriod.Duration = -time.Second }},
		{"negative reprobe attempts", func(c *Config) { c.Emulator.ReprobeAttempts = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/emubench.toml")
	if err == nil {
		t.Error("Load() expected error for non-existent file")
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "emubench.toml")

	configContent := `
[general]
log_level = "debug"

[emulator]
avd = "Pixel_8"
boot_timeout = "45s"
virtualization_pattern = "qemu-system.*Pixel_8"

[server]
command = ["appium", "--port", "4724"]

[cleanup]
timeout = "12s"
forceful_signal = "SIGQUIT"

[preflight]
sweep_stale_server = false

[history]
enabled = false
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.General.LogLevel != "debug" {
		t.Errorf("General.LogLevel = %v, want debug", cfg.General.LogLevel)
	}
	if cfg.Emulator.AVD != "Pixel_8" {
		t.Errorf("Emulator.AVD = %v, want Pixel_8", cfg.Emulator.AVD)
	}
	if cfg.Emulator.BootTimeout.Duration != 45*time.Second {
		t.Errorf("Emulator.BootTimeout = %v, want 45s", cfg.Emulator.BootTimeout.Duration)
	}
	if cfg.Server.Command[0] != "appium" {
		t.Errorf("Server.Command = %v", cfg.Server.Command)
	}
	if cfg.Cleanup.Forceful() != syscall.SIGQUIT {
		t.Errorf("Cleanup.Forceful() = %v, want SIGQUIT", cfg.Cleanup.Forceful())
	}
	if cfg.Preflight.SweepStaleServer {
		t.Error("Preflight.SweepStaleServer should be false as configured")
	}
	if cfg.History.Enabled {
		t.Error("History.Enabled should be false as configured")
	}

	// Check defaults were applied for missing values
	if cfg.Server.Pattern != "appium" {
		t.Errorf("Server.Pattern = %v, want appium (default)", cfg.Server.Pattern)
	}
	if cfg.Bridge.Binary != "adb" {
		t.Errorf("Bridge.Binary = %v, want adb (default)", cfg.Bridge.Binary)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "broken.toml")
	if err := os.WriteFile(configPath, []byte("[cleanup\ntimeout = "), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Load() expected parse error")
	}
}

func TestResolve(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "custom.toml")
	if err := os.WriteFile(configPath, []byte("[bridge]\nbinary = \"/usr/local/bin/adb\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Run("explicit path", func(t *testing.T) {
		cfg, used, err := Resolve(configPath)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if used != configPath || cfg.Bridge.Binary != "/usr/local/bin/adb" {
			t.Errorf("Resolve() = %q, %q", used, cfg.Bridge.Binary)
		}
	})

	t.Run("explicit path missing", func(t *testing.T) {
		if _, _, err := Resolve(filepath.Join(tmpDir, "missing.toml")); err == nil {
			t.Error("Resolve() expected error for missing explicit path")
		}
	})

	t.Run("env path", func(t *testing.T) {
		t.Setenv(EnvConfigPath, configPath)
		_, used, err := Resolve("")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if used != configPath {
			t.Errorf("Resolve() used %q, want %q", used, configPath)
		}
	})

	t.Run("no file falls back to defaults", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		t.Setenv("HOME", tmpDir)
		wd, _ := os.Getwd()
		t.Cleanup(func() { _ = os.Chdir(wd) })
		if err := os.Chdir(tmpDir); err != nil {
			t.Fatal(err)
		}

		cfg, used, err := Resolve("")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if used != "" {
			t.Errorf("Resolve() used %q, want empty", used)
		}
		if cfg.Bridge.Binary != "adb" {
			t.Errorf("Bridge.Binary = %v, want adb", cfg.Bridge.Binary)
		}
	})
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Setenv("ANDROID_HOME", "/opt/android")
	t.Setenv("HOME", "/home/ci")

	cfg, err := Load(filepath.Join("..", "..", "..", "configs", "emubench.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	want := Default()
	if cfg.Emulator.Binary != "/opt/android/emulator/emulator" {
		t.Errorf("Emulator.Binary = %v, want /opt/android/emulator/emulator", cfg.Emulator.Binary)
	}
	if cfg.Cleanup.Timeout != want.Cleanup.Timeout {
		t.Errorf("Cleanup.Timeout = %v, want %v", cfg.Cleanup.Timeout, want.Cleanup.Timeout)
	}
	if cfg.History.Path != "/home/ci/.local/share/emubench/cleanup.db" {
		t.Errorf("History.Path = %v, want expanded home path", cfg.History.Path)
	}
	if !cfg.Preflight.SweepStaleServer {
		t.Error("Preflight.SweepStaleServer = false, want true")
	}
}
