// ============================================================================
// emubench - Mobile Test Environment Orchestrator
// ============================================================================
//
// Package:     bridge
// Description: Device-bridge (adb) client
// Author:      Mike Stoffels
// Created:     2025-12-07
// License:     MIT
// ============================================================================

// Package bridge wraps the device-bridge CLI used to talk to emulators.
package bridge

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/msto63/emubench/internal/procmgr"
	"github.com/msto63/emubench/pkg/core/logging"
)

// ErrNoEmulator is returned when no emulator is attached to the bridge
var ErrNoEmulator = errors.New("no emulator attached")

// StateDevice is the state reported for a fully attached device
const StateDevice = "device"

// Device is one line of the device listing
type Device struct {
	Serial string
	State  string
}

// IsEmulator reports whether the device is an attached emulator
func (d Device) IsEmulator() bool {
	return strings.HasPrefix(d.Serial, "emulator-") && d.State == StateDevice
}

// Bridge issues device-bridge commands through a Runner
type Bridge struct {
	runner procmgr.Runner
	binary string
	logger *logging.Logger
}

// New creates a bridge client invoking binary
func New(runner procmgr.Runner, binary string, logger *logging.Logger) *Bridge {
	if binary == "" {
		binary = "adb"
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Bridge{runner: runner, binary: binary, logger: logger}
}

func (b *Bridge) run(ctx context.Context, desc string, ignore bool, args ...string) procmgr.Result {
	return b.runner.Run(ctx, procmgr.Command{
		Description:  desc,
		Name:         b.binary,
		Args:         args,
		IgnoreErrors: ignore,
	})
}

// ListDevices returns the devices the bridge knows about
func (b *Bridge) ListDevices(ctx context.Context) ([]Device, procmgr.Result) {
	res := b.run(ctx, "list devices", true, "devices")
	if !res.Succeeded {
		return nil, res
	}
	return ParseDevices(res.Output), res
}

// EmulatorConnected reports whether at least one emulator is attached
func (b *Bridge) EmulatorConnected(ctx context.Context) bool {
	devices, res := b.ListDevices(ctx)
	if !res.Succeeded {
		return false
	}
	for _, d := range devices {
		if d.IsEmulator() {
			return true
		}
	}
	return false
}

// WaitForEmulator re-probes the device listing until an emulator is attached,
// attempts are exhausted or ctx is done
func (b *Bridge) WaitForEmulator(ctx context.Context, attempts int, interval time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(attempts-1)),
		ctx,
	)

	n := 0
	return backoff.Retry(func() error {
		n++
		if b.EmulatorConnected(ctx) {
			return nil
		}
		b.logger.Debug("Emulator not attached yet", "attempt", n, "of", attempts)
		return ErrNoEmulator
	}, bo)
}

// KillEmulator asks the attached emulator to shut itself down
func (b *Bridge) KillEmulator(ctx context.Context) procmgr.Result {
	return b.run(ctx, "native emulator shutdown", false, "emu", "kill")
}

// StopServer kills the bridge daemon
func (b *Bridge) StopServer(ctx context.Context) procmgr.Result {
	return b.run(ctx, "stop bridge daemon", true, "kill-server")
}

// StartServer starts the bridge daemon
func (b *Bridge) StartServer(ctx context.Context) procmgr.Result {
	return b.run(ctx, "start bridge daemon", false, "start-server")
}

// Reset stops the daemon, waits pause and starts it again so no stale device
// connections survive. The stop result is ignored: a daemon that was not
// running is fine.
func (b *Bridge) Reset(ctx context.Context, pause time.Duration) procmgr.Result {
	b.StopServer(ctx)
	if err := procmgr.Sleep(ctx, pause); err != nil {
		return procmgr.Failed("bridge reset interrupted: %v", err)
	}
	res := b.StartServer(ctx)
	if res.Succeeded {
		b.logger.Info("Bridge daemon restarted")
	}
	return res
}

// ParseDevices parses the output of the devices listing. The header line and
// daemon status lines are skipped.
func ParseDevices(output string) []Device {
	var devices []Device
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "*") || strings.HasPrefix(line, "List of devices") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		devices = append(devices, Device{Serial: fields[0], State: fields[1]})
	}
	return devices
}
