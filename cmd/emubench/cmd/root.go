// ============================================================================
// emubench - Mobile Test Environment Orchestrator
// ============================================================================
//
// Package:     cmd
// Description: Root command, configuration and logging setup
// Author:      Mike Stoffels
// Created:     2025-12-09
// License:     MIT
// ============================================================================

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/msto63/emubench/internal/orchestrator"
	"github.com/msto63/emubench/pkg/core/config"
	"github.com/msto63/emubench/pkg/core/logging"
)

var (
	cfgFile string
	verbose bool

	cfg     *config.Config
	cfgUsed string

	// exitCode is set by commands that report more than success or failure
	exitCode int
)

var errConfig = errors.New("configuration error")

var rootCmd = &cobra.Command{
	Use:   "emubench",
	Short: "Mobile test environment orchestrator",
	Long: `emubench brings up an Android emulator and an automation server,
runs a test command against them and always tears the process tree
down again, also when the run is interrupted.

Subsystems:
  emulator           - Android emulator (and its virtualization process)
  automation-server  - Appium-style UI automation server
  device-bridge      - adb daemon`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		if errors.Is(err, errConfig) {
			return orchestrator.ExitConfigError
		}
		return 1
	}
	return exitCode
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: search $EMUBENCH_CONFIG, ./configs, ., ~/.config/emubench)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, used, err := config.Resolve(cfgFile)
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}
	cfg, cfgUsed = loaded, used

	logCfg := logging.DefaultLoggerConfig("emubench")
	logCfg.Level = cfg.General.LogLevel
	logCfg.Format = cfg.General.LogFormat
	logCfg.Output = os.Stderr
	if verbose {
		logCfg.Level = "debug"
	}
	logging.Configure(logCfg)

	if cfgUsed != "" {
		logging.New("config").Debug("Configuration loaded", "path", cfgUsed)
	}
	return nil
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", failStyle.Render("error:"), err)
}
