// ============================================================================
// emubench - Mobile Test Environment Orchestrator
// ============================================================================
//
// Package:     orchestrator
// Description: Orchestrator session driving one full test run
// Author:      Mike Stoffels
// Created:     2025-12-08
// License:     MIT
// ============================================================================

// Package orchestrator owns one test run: it brings up the emulator and the
// automation server, runs the test command and always tears everything down
// again, also when the operator interrupts the run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/msto63/emubench/internal/cleanup"
	"github.com/msto63/emubench/internal/procmgr"
	"github.com/msto63/emubench/pkg/core/logging"
)

// Exit codes
const (
	ExitSuccess        = 0
	ExitStartupFailure = 70
	ExitConfigError    = 78
	ExitSpawnFailure   = 127
)

const defaultReapTimeout = 2 * time.Second

// ErrEmulatorStartup reports that the emulator never became reachable
var ErrEmulatorStartup = errors.New("emulator did not become reachable")

// Bridge is the device-bridge view the session needs
type Bridge interface {
	EmulatorConnected(ctx context.Context) bool
	WaitForEmulator(ctx context.Context, attempts int, interval time.Duration) error
}

// Cleaner runs the cleanup sequence
type Cleaner interface {
	Execute(ctx context.Context, trigger cleanup.Trigger) (*cleanup.Run, bool)
}

// Launch is a long-running child with its readiness bound
type Launch struct {
	Spec    LaunchSpec
	Timeout time.Duration
	Settle  time.Duration
}

// Options configures a session
type Options struct {
	Emulator        Launch
	ReprobeAttempts int
	ReprobeInterval time.Duration

	Server Launch

	TestCommand []string
	TestGrace   time.Duration

	// StaleServer, if set, is terminated during preflight
	StaleServer *procmgr.Policy
	SweepPause  time.Duration

	GracefulSignal syscall.Signal
	ForcefulSignal syscall.Signal
	ReapTimeout    time.Duration
}

// Deps are the collaborators of a session
type Deps struct {
	Spawner    Spawner
	Bridge     Bridge
	Cleaner    Cleaner
	Terminator *procmgr.Terminator
	Logger     *logging.Logger
}

// Summary is the result of Run
type Summary struct {
	SessionID    string
	ExitCode     int
	TestExitCode int
	Interrupted  bool
	Err          error
	Cleanup      *cleanup.Run
	Transitions  []Transition
}

// Session drives one test run. It is created once per process and holds the
// handles of every child it spawned.
type Session struct {
	id   string
	opts Options
	deps Deps
	log  *logging.Logger

	machine *stateless.StateMachine

	ctx         context.Context
	cancel      context.CancelFunc
	interrupted atomic.Bool

	mu          sync.Mutex
	transitions []Transition

	emulator Child
	server   Child
	test     Child

	testExit  int
	err       error
	cleanupBy cleanup.Trigger
	run       *cleanup.Run
}

// NewSession creates a session in state Idle
func NewSession(opts Options, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if opts.GracefulSignal == 0 {
		opts.GracefulSignal = syscall.SIGTERM
	}
	if opts.ForcefulSignal == 0 {
		opts.ForcefulSignal = syscall.SIGKILL
	}
	if opts.ReapTimeout <= 0 {
		opts.ReapTimeout = defaultReapTimeout
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        id,
		opts:      opts,
		deps:      deps,
		log:       deps.Logger.With("session", id),
		ctx:       ctx,
		cancel:    cancel,
		cleanupBy: cleanup.TriggerCompletion,
	}
	s.machine = newMachine(StateIdle, s.recordTransition)
	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return s.machine.MustState().(State)
}

// Transitions returns the state changes so far
func (s *Session) Transitions() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transition, len(s.transitions))
	copy(out, s.transitions)
	return out
}

// Interrupt requests an orderly shutdown. It only flags the request and wakes
// the current wait; the run loop performs the cleanup. Safe to call from a
// signal-forwarding goroutine any number of times.
func (s *Session) Interrupt() {
	if !s.interrupted.CompareAndSwap(false, true) {
		s.log.Warn("Interrupt already requested, cleanup in progress")
		return
	}
	s.log.Warn("Interrupt requested")
	s.cancel()
}

func (s *Session) isInterrupted() bool {
	return s.interrupted.Load()
}

func (s *Session) recordTransition(t Transition) {
	s.mu.Lock()
	s.transitions = append(s.transitions, t)
	s.mu.Unlock()
	s.log.Info("Lifecycle transition", "from", string(t.From), "to", string(t.To), "trigger", t.Trigger)
}

// Run drives the session to Done and returns the exit code and details.
// Cancelling ctx is treated like an interrupt.
func (s *Session) Run(ctx context.Context) Summary {
	stop := context.AfterFunc(ctx, s.Interrupt)
	defer stop()
	defer s.cancel()

	s.log.Info("Session started", "test_command", strings.Join(s.opts.TestCommand, " "))

	next := triggerStart
	for {
		if s.isInterrupted() && s.canInterrupt() {
			next = triggerInterrupt
		}
		if err := s.machine.Fire(next); err != nil {
			s.log.Error("Invalid lifecycle transition", "state", string(s.State()), "trigger", string(next), "error", err)
			s.err = fmt.Errorf("lifecycle: %w", err)
			s.cleanupOnce(context.Background())
			break
		}

		state := s.State()
		if state.Terminal() {
			break
		}
		next = s.step(state)
	}

	summary := Summary{
		SessionID:    s.id,
		ExitCode:     s.exitCode(),
		TestExitCode: s.testExit,
		Interrupted:  s.isInterrupted(),
		Err:          s.err,
		Cleanup:      s.run,
		Transitions:  s.Transitions(),
	}
	s.log.Info("Session finished", "exit_code", summary.ExitCode, "interrupted", summary.Interrupted)
	return summary
}

func (s *Session) canInterrupt() bool {
	state := s.State()
	for _, st := range interruptible {
		if st == state {
			return true
		}
	}
	return false
}

// step performs the work of state and returns the trigger leaving it
func (s *Session) step(state State) trigger {
	switch state {
	case StatePreflightCheck:
		return s.preflight()
	case StateEmulatorStarting:
		return s.startEmulator()
	case StateEmulatorReady:
		s.settle("emulator", s.opts.Emulator.Settle)
		return triggerStartServer
	case StateServerStarting:
		return s.startServer()
	case StateServerReady:
		s.settle("server", s.opts.Server.Settle)
		return triggerRunTests
	case StateTestRunning:
		return s.runTests()
	case StateInterrupted:
		s.stopTest()
		s.cleanupBy = cleanup.TriggerInterrupt
		return triggerCleanup
	case StateCleaningUp:
		s.cleanupOnce(context.Background())
		return triggerCleanupDone
	default:
		return triggerInterrupt
	}
}

func (s *Session) preflight() trigger {
	if p := s.opts.StaleServer; p != nil && s.deps.Terminator != nil {
		if t := s.deps.Terminator.Terminate(s.ctx, *p); !t.Skipped {
			s.log.Info("Stale automation server swept", "stopped", t.Stopped, "message", t.Message)
			_ = procmgr.Sleep(s.ctx, s.opts.SweepPause)
		}
	}

	if s.deps.Bridge.EmulatorConnected(s.ctx) {
		s.log.Info("Emulator already connected, skipping startup")
		return triggerEmulatorPresent
	}
	return triggerEmulatorMissing
}

func (s *Session) startEmulator() trigger {
	child, err := s.deps.Spawner.Spawn(s.opts.Emulator.Spec)
	if err != nil {
		s.log.Error("Failed to spawn emulator", "error", err)
		s.err = fmt.Errorf("%w: %v", ErrEmulatorStartup, err)
		s.cleanupBy = cleanup.TriggerStartupFailure
		return triggerStartupFailed
	}
	s.emulator = child

	timer := time.NewTimer(s.opts.Emulator.Timeout)
	defer timer.Stop()

	select {
	case <-child.Ready():
		s.log.Info("Emulator boot completed", "pid", child.PID())
		return triggerEmulatorBooted
	case <-s.ctx.Done():
		return triggerInterrupt
	case <-child.Done():
		s.log.Warn("Emulator process exited during boot, probing bridge", "exit_code", child.ExitCode())
	case <-timer.C:
		s.log.Warn("Emulator boot marker not seen in time, probing bridge", "timeout", s.opts.Emulator.Timeout)
	}

	err = s.deps.Bridge.WaitForEmulator(s.ctx, s.opts.ReprobeAttempts, s.opts.ReprobeInterval)
	if err == nil {
		s.log.Info("Emulator reachable after boot timeout")
		return triggerEmulatorBooted
	}
	if s.isInterrupted() {
		return triggerInterrupt
	}

	s.log.Error("Emulator startup failed", "error", err)
	s.err = fmt.Errorf("%w: %v", ErrEmulatorStartup, err)
	s.cleanupBy = cleanup.TriggerStartupFailure
	return triggerStartupFailed
}

func (s *Session) startServer() trigger {
	child, err := s.deps.Spawner.Spawn(s.opts.Server.Spec)
	if err != nil {
		s.log.Warn("Failed to spawn automation server, continuing", "error", err)
		return triggerServerUp
	}
	s.server = child

	timer := time.NewTimer(s.opts.Server.Timeout)
	defer timer.Stop()

	select {
	case <-child.Ready():
		s.log.Info("Automation server ready", "pid", child.PID())
	case <-timer.C:
		s.log.Warn("Automation server ready message not seen, proceeding", "timeout", s.opts.Server.Timeout)
	case <-child.Done():
		s.log.Warn("Automation server exited early, proceeding", "exit_code", child.ExitCode())
	case <-s.ctx.Done():
		return triggerInterrupt
	}
	return triggerServerUp
}

func (s *Session) runTests() trigger {
	child, err := s.deps.Spawner.Spawn(LaunchSpec{
		Name:    "test",
		Command: s.opts.TestCommand,
		Inherit: true,
	})
	if err != nil {
		s.log.Error("Failed to spawn test command", "error", err)
		s.testExit = ExitSpawnFailure
		return triggerTestsFinished
	}
	s.test = child

	select {
	case <-child.Done():
		s.testExit = child.ExitCode()
		if s.testExit == 0 {
			s.log.Info("Test command passed")
		} else {
			s.log.Warn("Test command failed", "exit_code", s.testExit)
		}
		return triggerTestsFinished
	case <-s.ctx.Done():
		return triggerInterrupt
	}
}

// stopTest asks the interrupted test command to exit, then forces it
func (s *Session) stopTest() {
	if s.test == nil {
		return
	}
	select {
	case <-s.test.Done():
		return
	default:
	}

	s.log.Info("Stopping test command", "pid", s.test.PID())
	if err := s.test.Signal(s.opts.GracefulSignal); err != nil {
		s.log.Warn("Failed to signal test command", "error", err)
	}
	if s.waitExit(s.test, s.opts.TestGrace) {
		return
	}
	s.log.Warn("Test command ignored graceful signal, killing", "pid", s.test.PID())
	_ = s.test.Signal(s.opts.ForcefulSignal)
}

func (s *Session) cleanupOnce(ctx context.Context) {
	run, started := s.deps.Cleaner.Execute(ctx, s.cleanupBy)
	if !started {
		s.log.Warn("Cleanup skipped, another run is in flight")
	}
	s.run = run
	s.reap()
}

// reap waits for owned children to exit and forces any that linger
func (s *Session) reap() {
	for _, c := range []Child{s.test, s.server, s.emulator} {
		if c == nil {
			continue
		}
		if s.waitExit(c, s.opts.ReapTimeout) {
			continue
		}
		s.log.Warn("Child still running after cleanup, killing group", "pid", c.PID())
		if err := c.Signal(s.opts.ForcefulSignal); err != nil {
			s.log.Warn("Failed to kill child group", "pid", c.PID(), "error", err)
			continue
		}
		s.waitExit(c, s.opts.ReapTimeout)
	}
}

func (s *Session) waitExit(c Child, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.Done():
		return true
	case <-timer.C:
		return false
	}
}

func (s *Session) settle(what string, d time.Duration) {
	if d <= 0 {
		return
	}
	s.log.Debug("Waiting for stabilisation", "subsystem", what, "duration", d)
	_ = procmgr.Sleep(s.ctx, d)
}

func (s *Session) exitCode() int {
	switch {
	case s.isInterrupted():
		return ExitSuccess
	case s.err != nil:
		return ExitStartupFailure
	default:
		return s.testExit
	}
}
