// ============================================================================
// emubench - Mobile Test Environment Orchestrator
// ============================================================================
//
// Package:     cleanup
// Description: Timeout-bounded cleanup sequence with emergency fallback
// Author:      Mike Stoffels
// Created:     2025-12-07
// License:     MIT
// ============================================================================

// Package cleanup tears down the emulator test environment. The ordered
// sequence (server, emulator, bridge reset, verify) races an overall timeout;
// when the timeout wins an unordered forceful sweep takes over.
package cleanup

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/msto63/emubench/internal/procmgr"
	"github.com/msto63/emubench/pkg/core/logging"
)

const (
	DefaultTimeout          = 30 * time.Second
	DefaultEmergencyTimeout = 10 * time.Second

	// DefaultAbandonWait bounds how long a timed-out sequence may keep
	// running before the run record is sealed without it
	DefaultAbandonWait = time.Second
)

// Bridge is the subset of the device-bridge client the cleanup needs
type Bridge interface {
	KillEmulator(ctx context.Context) procmgr.Result
	Reset(ctx context.Context, pause time.Duration) procmgr.Result
}

// Recorder persists finished runs
type Recorder interface {
	Record(ctx context.Context, run *Run) error
}

// Options configures the coordinator
type Options struct {
	Server                procmgr.Policy
	Emulator              procmgr.Policy
	EmulatorNativeGrace   time.Duration
	VirtualizationPattern string
	BridgeRestartPause    time.Duration
	Timeout               time.Duration
	EmergencyTimeout      time.Duration
}

// Coordinator runs cleanup sequences. At most one runs at a time.
type Coordinator struct {
	terminator *procmgr.Terminator
	bridge     Bridge
	opts       Options
	recorder   Recorder
	logger     *logging.Logger

	// abandonWait is DefaultAbandonWait outside tests
	abandonWait time.Duration

	running atomic.Bool
}

// NewCoordinator creates a coordinator
func NewCoordinator(terminator *procmgr.Terminator, bridge Bridge, opts Options, logger *logging.Logger) *Coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.EmergencyTimeout <= 0 {
		opts.EmergencyTimeout = DefaultEmergencyTimeout
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Coordinator{
		terminator:  terminator,
		bridge:      bridge,
		opts:        opts,
		logger:      logger,
		abandonWait: DefaultAbandonWait,
	}
}

// SetRecorder attaches a store that receives every finished run
func (c *Coordinator) SetRecorder(r Recorder) {
	c.recorder = r
}

// Running reports whether a cleanup run is in flight. It stays true until an
// abandoned sequence has exited, even after Execute returned its run.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Options returns the coordinator configuration
func (c *Coordinator) Options() Options {
	return c.opts
}

// Stale returns the managed subsystems that currently have running processes
func (c *Coordinator) Stale(ctx context.Context) []string {
	probe := c.terminator.Probe()
	var names []string
	for _, p := range []procmgr.Policy{c.opts.Server, c.opts.Emulator} {
		if probe.Exists(ctx, p.Pattern) {
			names = append(names, p.Name)
		}
	}
	return names
}

// Execute runs the cleanup sequence. If a run is already in flight it
// returns immediately with started=false and touches nothing.
func (c *Coordinator) Execute(ctx context.Context, trigger Trigger) (*Run, bool) {
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Info("Cleanup already in progress, ignoring request", "trigger", trigger)
		return nil, false
	}
	// The guard is released only once the sequence goroutine has exited.
	abandoned := false
	defer func() {
		if !abandoned {
			c.running.Store(false)
		}
	}()

	run := &Run{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		StartedAt: time.Now(),
		Timeout:   c.opts.Timeout,
	}
	log := c.logger.With("run", run.ID)
	log.Info("Cleanup started", "trigger", trigger, "timeout", c.opts.Timeout)

	steps := &stepLog{}
	seqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.sequence(seqCtx, log, steps)
	}()

	select {
	case <-done:
		cancel()
		run.Outcome = OutcomeCompleted
	case <-seqCtx.Done():
		cancel()
		run.Outcome = OutcomeTimedOut
		log.Warn("Cleanup timed out, switching to emergency fallback", "outcome", run.Outcome, "timeout", c.opts.Timeout)
		run.EmergencySteps = c.emergency(ctx, log)
		run.Outcome = OutcomeEmergencyFallback

		select {
		case <-done:
		case <-time.After(c.abandonWait):
			abandoned = true
			log.Warn("Abandoned cleanup sequence still running, guard held until it exits")
			go func() {
				<-done
				c.running.Store(false)
				log.Info("Abandoned cleanup sequence exited")
			}()
		}
	}

	run.Steps = steps.seal()
	run.FinishedAt = time.Now()

	log.Info("Cleanup finished",
		"outcome", run.Outcome,
		"steps", len(run.Steps),
		"failed", len(run.Failed()),
		"duration", run.Duration(),
	)

	if c.recorder != nil {
		if err := c.recorder.Record(context.WithoutCancel(ctx), run); err != nil {
			log.Warn("Failed to record cleanup run", "error", err)
		}
	}
	return run, true
}

// sequence executes the ordered steps. No step failure aborts it.
func (c *Coordinator) sequence(ctx context.Context, log *logging.Logger, steps *stepLog) {
	steps.add(log, c.terminateStep(ctx, StepServer, c.opts.Server, nil))

	native := &procmgr.Native{
		Description: "emulator kill command",
		Shutdown:    c.bridge.KillEmulator,
		Grace:       c.opts.EmulatorNativeGrace,
	}
	steps.add(log, c.terminateStep(ctx, StepEmulator, c.opts.Emulator, native))

	start := time.Now()
	res := c.bridge.Reset(ctx, c.opts.BridgeRestartPause)
	bridgeStep := StepResult{Step: StepBridge, Subsystem: "device-bridge", Duration: time.Since(start)}
	if res.Succeeded {
		bridgeStep.Status = StatusSucceeded
		bridgeStep.Message = "daemon restarted"
	} else {
		bridgeStep.Status = StatusFailed
		bridgeStep.Message = res.Output
	}
	steps.add(log, bridgeStep)

	steps.add(log, c.verify(ctx))
}

func (c *Coordinator) terminateStep(ctx context.Context, step Step, policy procmgr.Policy, native *procmgr.Native) StepResult {
	start := time.Now()
	t := c.terminator.TerminateWith(ctx, policy, native)

	res := StepResult{Step: step, Subsystem: policy.Name, Message: t.Message, Duration: time.Since(start)}
	switch {
	case t.Skipped:
		res.Status = StatusSkipped
		res.Message = "nothing to terminate"
	case !t.Stopped:
		res.Status = StatusFailed
	case t.ForcefulSent:
		res.Status = StatusForced
	default:
		res.Status = StatusSucceeded
	}
	return res
}

func (c *Coordinator) verify(ctx context.Context) StepResult {
	start := time.Now()
	remaining := c.Stale(ctx)

	res := StepResult{Step: StepVerify, Subsystem: "all", Duration: time.Since(start)}
	if len(remaining) == 0 {
		res.Status = StatusSucceeded
		res.Message = "no managed process running"
		return res
	}

	for _, name := range remaining {
		c.logger.Warn("Subsystem still running after cleanup", "subsystem", name)
	}
	res.Status = StatusFailed
	res.Message = "still running: " + strings.Join(remaining, ", ")
	return res
}

// emergency forcefully signals every known pattern and restarts the bridge
// daemon. The commands run concurrently and in no particular order.
// Commands still running when the bound expires are reported as one failed
// emergency step.
func (c *Coordinator) emergency(parent context.Context, log *logging.Logger) []StepResult {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.opts.EmergencyTimeout)
	defer cancel()

	probe := c.terminator.Probe()
	steps := &stepLog{}
	g, gctx := errgroup.WithContext(ctx)

	targets := []struct {
		step    Step
		name    string
		pattern string
		signal  syscall.Signal
	}{
		{StepServer, c.opts.Server.Name, c.opts.Server.Pattern, c.opts.Server.ForcefulSignal},
		{StepEmulator, c.opts.Emulator.Name, c.opts.Emulator.Pattern, c.opts.Emulator.ForcefulSignal},
		{StepVirtualization, "virtualization", c.opts.VirtualizationPattern, c.opts.Emulator.ForcefulSignal},
	}
	for _, target := range targets {
		if target.pattern == "" {
			continue
		}
		g.Go(func() error {
			start := time.Now()
			out := probe.SignalAll(gctx, target.pattern, target.signal)
			steps.add(log, emergencyResult(target.step, target.name, out, time.Since(start)))
			return nil
		})
	}
	g.Go(func() error {
		start := time.Now()
		out := c.bridge.Reset(gctx, c.opts.BridgeRestartPause)
		steps.add(log, emergencyResult(StepBridge, "device-bridge", out, time.Since(start)))
		return nil
	})

	finished := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		log.Error("Emergency fallback exceeded its bound", "timeout", c.opts.EmergencyTimeout)
		steps.add(log, StepResult{
			Step:      StepEmergency,
			Subsystem: "all",
			Status:    StatusFailed,
			Message:   fmt.Sprintf("commands still running after %s", c.opts.EmergencyTimeout),
			Duration:  c.opts.EmergencyTimeout,
		})
	}
	return steps.seal()
}

func emergencyResult(step Step, name string, out procmgr.Result, d time.Duration) StepResult {
	res := StepResult{Step: step, Subsystem: name, Message: out.Output, Duration: d}
	if out.Succeeded {
		res.Status = StatusForced
	} else {
		res.Status = StatusFailed
	}
	return res
}

// stepLog collects step results from the sequence goroutine. Once sealed,
// late results from an abandoned sequence are dropped.
type stepLog struct {
	mu     sync.Mutex
	steps  []StepResult
	sealed bool
}

func (l *stepLog) add(log *logging.Logger, res StepResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sealed {
		log.Debug("Dropping late step result", "step", res.Step, "status", res.Status)
		return
	}
	l.steps = append(l.steps, res)

	kv := []interface{}{"step", res.Step, "subsystem", res.Subsystem, "status", res.Status, "duration", res.Duration}
	msg := fmt.Sprintf("Cleanup step %s: %s", res.Step, res.Message)
	if res.Status == StatusFailed {
		log.Warn(msg, kv...)
	} else {
		log.Info(msg, kv...)
	}
}

func (l *stepLog) seal() []StepResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sealed = true
	out := make([]StepResult, len(l.steps))
	copy(out, l.steps)
	return out
}
