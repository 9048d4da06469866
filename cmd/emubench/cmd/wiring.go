// ============================================================================
// emubench - Mobile Test Environment Orchestrator
// ============================================================================
//
// Package:     cmd
// Description: Construction of the component graph from configuration
// Author:      Mike Stoffels
// Created:     2025-12-09
// License:     MIT
// ============================================================================

package cmd

import (
	"github.com/msto63/emubench/internal/bridge"
	"github.com/msto63/emubench/internal/cleanup"
	"github.com/msto63/emubench/internal/history"
	"github.com/msto63/emubench/internal/orchestrator"
	"github.com/msto63/emubench/internal/procmgr"
	"github.com/msto63/emubench/pkg/core/config"
	"github.com/msto63/emubench/pkg/core/logging"
)

// environment is the wired component graph shared by all commands
type environment struct {
	cfg        *config.Config
	probe      *procmgr.Probe
	terminator *procmgr.Terminator
	bridge     *bridge.Bridge
	cleanup    *cleanup.Coordinator
	history    *history.Store
	logger     *logging.Logger
}

func serverPolicy(c *config.Config) procmgr.Policy {
	return procmgr.Policy{
		Name:           "automation-server",
		Pattern:        c.Server.Pattern,
		GracefulSignal: c.Cleanup.Graceful(),
		ForcefulSignal: c.Cleanup.Forceful(),
		GracePeriod:    c.Server.GracePeriod.Duration,
	}
}

func emulatorPolicy(c *config.Config) procmgr.Policy {
	return procmgr.Policy{
		Name:           "emulator",
		Pattern:        c.Emulator.Pattern,
		GracefulSignal: c.Cleanup.Graceful(),
		ForcefulSignal: c.Cleanup.Forceful(),
		GracePeriod:    c.Emulator.GracePeriod.Duration,
	}
}

// cleanupOptions maps configuration onto the coordinator
func cleanupOptions(c *config.Config) cleanup.Options {
	return cleanup.Options{
		Server:                serverPolicy(c),
		Emulator:              emulatorPolicy(c),
		EmulatorNativeGrace:   c.Emulator.NativeGrace.Duration,
		VirtualizationPattern: c.Emulator.VirtualizationPattern,
		BridgeRestartPause:    c.Bridge.RestartPause.Duration,
		Timeout:               c.Cleanup.Timeout.Duration,
		EmergencyTimeout:      c.Cleanup.EmergencyTimeout.Duration,
	}
}

// sessionOptions maps configuration onto an orchestrator session
func sessionOptions(c *config.Config, testCommand []string) orchestrator.Options {
	if len(testCommand) == 0 {
		testCommand = c.Test.Command
	}

	opts := orchestrator.Options{
		Emulator: orchestrator.Launch{
			Spec: orchestrator.LaunchSpec{
				Name:    "emulator",
				Command: c.Emulator.EmulatorCommand(),
				Marker:  c.Emulator.BootMarker,
			},
			Timeout: c.Emulator.BootTimeout.Duration,
			Settle:  c.Emulator.Settle.Duration,
		},
		ReprobeAttempts: c.Emulator.ReprobeAttempts,
		ReprobeInterval: c.Emulator.ReprobeInterval.Duration,
		Server: orchestrator.Launch{
			Spec: orchestrator.LaunchSpec{
				Name:    "server",
				Command: c.Server.Command,
				Marker:  c.Server.ReadyMarker,
			},
			Timeout: c.Server.ReadyTimeout.Duration,
			Settle:  c.Server.Settle.Duration,
		},
		TestCommand:    testCommand,
		TestGrace:      c.Test.GracePeriod.Duration,
		SweepPause:     c.Preflight.SweepPause.Duration,
		GracefulSignal: c.Cleanup.Graceful(),
		ForcefulSignal: c.Cleanup.Forceful(),
	}
	if c.Preflight.SweepStaleServer {
		p := serverPolicy(c)
		opts.StaleServer = &p
	}
	return opts
}

// newEnvironment wires the components for c. The history store is optional:
// if it cannot be opened the run proceeds without it.
func newEnvironment(c *config.Config) *environment {
	logger := logging.New("emubench")
	probe := procmgr.NewProbe(procmgr.NewSystemTable(), logging.New("procmgr"))
	terminator := procmgr.NewTerminator(probe, logging.New("terminator"))
	b := bridge.New(procmgr.NewExecRunner(logging.New("runner")), c.Bridge.Binary, logging.New("bridge"))
	coord := cleanup.NewCoordinator(terminator, b, cleanupOptions(c), logging.New("cleanup"))

	env := &environment{
		cfg:        c,
		probe:      probe,
		terminator: terminator,
		bridge:     b,
		cleanup:    coord,
		logger:     logger,
	}

	if c.History.Enabled {
		store, err := history.Open(c.History.Path)
		if err != nil {
			logger.Warn("History store unavailable, runs will not be recorded", "path", c.History.Path, "error", err)
		} else {
			env.history = store
			coord.SetRecorder(store)
		}
	}
	return env
}

func (e *environment) newSession(testCommand []string) *orchestrator.Session {
	return orchestrator.NewSession(sessionOptions(e.cfg, testCommand), orchestrator.Deps{
		Spawner:    orchestrator.NewExecSpawner(logging.New("child")),
		Bridge:     e.bridge,
		Cleaner:    e.cleanup,
		Terminator: e.terminator,
		Logger:     logging.New("orchestrator"),
	})
}

func (e *environment) close() {
	if e.history != nil {
		if err := e.history.Close(); err != nil {
			e.logger.Warn("Failed to close history store", "error", err)
		}
	}
	_ = e.logger.Sync()
}
