// ============================================================================
// emubench - Mobile Test Environment Orchestrator
// ============================================================================
//
// Package:     procmgr
// Description: Process probing, command execution and escalating termination
// Author:      Mike Stoffels
// Created:     2025-12-06
// License:     MIT
// ============================================================================

// Package procmgr provides the process-control primitives the orchestrator is
// built on: a probe over the OS process table, a command runner that reports
// failures as values, and the graceful-then-forceful termination protocol.
package procmgr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"time"
)

// ErrProcessGone is returned by a Table when the target process no longer exists
var ErrProcessGone = errors.New("process already stopped")

// Process is one entry of the OS process table
type Process struct {
	PID     int32
	Cmdline string
}

// Table lists processes and delivers signals to them
type Table interface {
	List(ctx context.Context) ([]Process, error)
	Signal(ctx context.Context, pid int32, sig syscall.Signal) error
}

// Result is the outcome of a best-effort operation. Failures are data.
type Result struct {
	Succeeded bool
	Output    string
}

// Succeeded builds a successful result
func Succeeded(output string) Result {
	return Result{Succeeded: true, Output: output}
}

// Failed builds a failed result from a message
func Failed(format string, args ...interface{}) Result {
	return Result{Succeeded: false, Output: fmt.Sprintf(format, args...)}
}

// Policy describes how one managed subsystem is terminated. It is not an OS
// handle: it applies to whatever processes currently match Pattern.
type Policy struct {
	Name           string
	Pattern        string
	GracefulSignal syscall.Signal
	ForcefulSignal syscall.Signal
	GracePeriod    time.Duration
}

// String returns the subsystem name and pattern
func (p Policy) String() string {
	return fmt.Sprintf("%s(%s)", p.Name, p.Pattern)
}

// Command is a short-lived external command
type Command struct {
	Description  string
	Name         string
	Args         []string
	IgnoreErrors bool
}

// String returns the command line
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Sleep waits for d or until ctx is done, whichever comes first
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
