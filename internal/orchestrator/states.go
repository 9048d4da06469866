// ============================================================================
// emubench - Mobile Test Environment Orchestrator
// ============================================================================
//
// Package:     orchestrator
// Description: Lifecycle state machine
// Author:      Mike Stoffels
// Created:     2025-12-08
// License:     MIT
// ============================================================================

package orchestrator

import (
	"context"

	"github.com/qmuntal/stateless"
)

// State is a lifecycle state of a session
type State string

const (
	StateIdle             State = "Idle"
	StatePreflightCheck   State = "PreflightCheck"
	StateEmulatorStarting State = "EmulatorStarting"
	StateEmulatorReady    State = "EmulatorReady"
	StateServerStarting   State = "ServerStarting"
	StateServerReady      State = "ServerReady"
	StateTestRunning      State = "TestRunning"
	StateCleaningUp       State = "CleaningUp"
	StateDone             State = "Done"
	StateInterrupted      State = "Interrupted"
)

// Terminal reports whether no further transition can leave s
func (s State) Terminal() bool {
	return s == StateDone
}

type trigger string

const (
	triggerStart           trigger = "start"
	triggerEmulatorMissing trigger = "emulator-missing"
	triggerEmulatorPresent trigger = "emulator-present"
	triggerEmulatorBooted  trigger = "emulator-booted"
	triggerStartupFailed   trigger = "startup-failed"
	triggerStartServer     trigger = "start-server"
	triggerServerUp        trigger = "server-up"
	triggerRunTests        trigger = "run-tests"
	triggerTestsFinished   trigger = "tests-finished"
	triggerCleanup         trigger = "cleanup"
	triggerCleanupDone     trigger = "cleanup-done"
	triggerInterrupt       trigger = "interrupt"
)

// interruptible lists the states an interrupt can leave
var interruptible = []State{
	StateIdle,
	StatePreflightCheck,
	StateEmulatorStarting,
	StateEmulatorReady,
	StateServerStarting,
	StateServerReady,
	StateTestRunning,
}

// Transition is one recorded state change
type Transition struct {
	From    State
	To      State
	Trigger string
}

func newMachine(initial State, onTransition func(Transition)) *stateless.StateMachine {
	sm := stateless.NewStateMachine(initial)

	sm.Configure(StateIdle).
		Permit(triggerStart, StatePreflightCheck)

	sm.Configure(StatePreflightCheck).
		Permit(triggerEmulatorMissing, StateEmulatorStarting).
		Permit(triggerEmulatorPresent, StateServerStarting)

	sm.Configure(StateEmulatorStarting).
		Permit(triggerEmulatorBooted, StateEmulatorReady).
		Permit(triggerStartupFailed, StateCleaningUp)

	sm.Configure(StateEmulatorReady).
		Permit(triggerStartServer, StateServerStarting)

	sm.Configure(StateServerStarting).
		Permit(triggerServerUp, StateServerReady)

	sm.Configure(StateServerReady).
		Permit(triggerRunTests, StateTestRunning)

	sm.Configure(StateTestRunning).
		Permit(triggerTestsFinished, StateCleaningUp)

	sm.Configure(StateInterrupted).
		Permit(triggerCleanup, StateCleaningUp).
		Ignore(triggerInterrupt)

	// A second interrupt while cleaning up is dropped.
	sm.Configure(StateCleaningUp).
		Permit(triggerCleanupDone, StateDone).
		Ignore(triggerInterrupt)

	sm.Configure(StateDone).
		Ignore(triggerInterrupt)

	for _, s := range interruptible {
		sm.Configure(s).Permit(triggerInterrupt, StateInterrupted)
	}

	sm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		onTransition(Transition{
			From:    t.Source.(State),
			To:      t.Destination.(State),
			Trigger: string(t.Trigger.(trigger)),
		})
	})
	return sm
}
