// ============================================================================
// emubench - Mobile Test Environment Orchestrator
// ============================================================================
//
// Package:     procmgr
// Description: Graceful-then-forceful termination protocol
// Author:      Mike Stoffels
// Created:     2025-12-06
// License:     MIT
// ============================================================================

package procmgr

import (
	"context"
	"time"

	"github.com/msto63/emubench/pkg/core/logging"
	"golang.org/x/sys/unix"
)

// DefaultKillSettle is how long the terminator waits after the forceful
// signal before the final probe
const DefaultKillSettle = 500 * time.Millisecond

// Native is a subsystem-specific shutdown tried before any signal
type Native struct {
	Description string
	Shutdown    func(ctx context.Context) Result
	Grace       time.Duration
}

// Termination reports what the protocol did for one subsystem
type Termination struct {
	Subsystem       string
	Pattern         string
	Skipped         bool
	NativeAttempted bool
	NativeSucceeded bool
	GracefulSent    bool
	ForcefulSent    bool
	Stopped         bool
	Message         string
}

// Terminator applies the escalation protocol to a Policy
type Terminator struct {
	probe  *Probe
	logger *logging.Logger

	// KillSettle is the pause between the forceful signal and the final probe
	KillSettle time.Duration
}

// NewTerminator creates a terminator using probe
func NewTerminator(probe *Probe, logger *logging.Logger) *Terminator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Terminator{
		probe:      probe,
		logger:     logger,
		KillSettle: DefaultKillSettle,
	}
}

// Probe returns the underlying process probe
func (t *Terminator) Probe() *Probe {
	return t.probe
}

// Terminate stops every process matching policy
func (t *Terminator) Terminate(ctx context.Context, policy Policy) Termination {
	return t.TerminateWith(ctx, policy, nil)
}

// TerminateWith stops every process matching policy, trying native first.
// The forceful signal is only sent if processes survive the grace period, and
// nothing at all is sent when no process matches at the start.
func (t *Terminator) TerminateWith(ctx context.Context, policy Policy, native *Native) Termination {
	res := Termination{Subsystem: policy.Name, Pattern: policy.Pattern}
	log := t.logger.With("subsystem", policy.Name, "pattern", policy.Pattern)

	if !t.probe.Exists(ctx, policy.Pattern) {
		log.Debug("No running process")
		res.Skipped = true
		res.Stopped = true
		res.Message = "not running"
		return res
	}

	if native != nil && native.Shutdown != nil {
		res.NativeAttempted = true
		log.Info("Attempting native shutdown", "method", native.Description)
		out := native.Shutdown(ctx)
		res.NativeSucceeded = out.Succeeded
		if out.Succeeded {
			if err := Sleep(ctx, native.Grace); err != nil {
				return t.interrupted(ctx, res, policy)
			}
			if !t.probe.Exists(ctx, policy.Pattern) {
				log.Info("Stopped after native shutdown")
				res.Stopped = true
				res.Message = "stopped by " + native.Description
				return res
			}
			log.Info("Still running after native shutdown, falling back to signals")
		} else {
			log.Warn("Native shutdown failed", "output", out.Output)
		}
	}

	graceful := unix.SignalName(policy.GracefulSignal)
	log.Info("Sending graceful signal", "signal", graceful)
	out := t.probe.SignalAll(ctx, policy.Pattern, policy.GracefulSignal)
	res.GracefulSent = true
	if !out.Succeeded {
		log.Warn("Graceful signal failed", "output", out.Output)
	}

	if err := Sleep(ctx, policy.GracePeriod); err != nil {
		return t.interrupted(ctx, res, policy)
	}

	if !t.probe.Exists(ctx, policy.Pattern) {
		log.Info("Stopped gracefully", "signal", graceful)
		res.Stopped = true
		res.Message = "stopped by " + graceful
		return res
	}

	return t.force(ctx, res, policy)
}

// interrupted escalates immediately when the wait was cut short
func (t *Terminator) interrupted(ctx context.Context, res Termination, policy Policy) Termination {
	t.logger.Warn("Wait interrupted, escalating", "subsystem", policy.Name, "error", ctx.Err())
	return t.force(ctx, res, policy)
}

func (t *Terminator) force(ctx context.Context, res Termination, policy Policy) Termination {
	forceful := unix.SignalName(policy.ForcefulSignal)
	t.logger.Warn("Sending forceful signal", "subsystem", policy.Name, "signal", forceful)

	// Delivery must happen even when the caller's deadline has passed.
	sendCtx := context.WithoutCancel(ctx)
	out := t.probe.SignalAll(sendCtx, policy.Pattern, policy.ForcefulSignal)
	res.ForcefulSent = true

	_ = Sleep(ctx, t.KillSettle)
	if t.probe.Exists(sendCtx, policy.Pattern) {
		res.Stopped = false
		res.Message = "still running after " + forceful
		if !out.Succeeded {
			res.Message += ": " + out.Output
		}
		t.logger.Error("Process survived forceful signal", "subsystem", policy.Name)
		return res
	}

	res.Stopped = true
	res.Message = "stopped by " + forceful
	return res
}
