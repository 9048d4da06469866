// ============================================================================
// emubench - Mobile Test Environment Orchestrator
// ============================================================================
//
// Package:     procmgr
// Description: Process table backed by gopsutil
// Author:      Mike Stoffels
// Created:     2025-12-06
// License:     MIT
// ============================================================================

package procmgr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// SystemTable reads the live OS process table. The calling process itself is
// never listed, the same way pgrep never matches itself.
type SystemTable struct {
	self int32
}

// NewSystemTable creates a table over the live process list
func NewSystemTable() *SystemTable {
	return &SystemTable{self: int32(os.Getpid())}
}

// List returns every process with a readable, non-empty command line.
// Kernel threads and zombies have none and are skipped.
func (t *SystemTable) List(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	result := make([]Process, 0, len(procs))
	for _, p := range procs {
		if p.Pid == t.self {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			continue
		}
		result = append(result, Process{PID: p.Pid, Cmdline: cmdline})
	}
	return result, nil
}

// Signal delivers sig to pid
func (t *SystemTable) Signal(ctx context.Context, pid int32, sig syscall.Signal) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return ErrProcessGone
		}
		return fmt.Errorf("failed to open process %d: %w", pid, err)
	}

	if err := p.SendSignalWithContext(ctx, sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) || errors.Is(err, unix.ESRCH) {
			return ErrProcessGone
		}
		return fmt.Errorf("failed to send %s to %d: %w", unix.SignalName(sig), pid, err)
	}
	return nil
}
