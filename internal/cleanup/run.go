// ============================================================================
// emubench - Mobile Test Environment Orchestrator
// ============================================================================
//
// Package:     cleanup
// Description: CleanupRun record and step results
// Author:      Mike Stoffels
// Created:     2025-12-07
// License:     MIT
// ============================================================================

package cleanup

import (
	"time"
)

// Trigger names what caused a cleanup run
type Trigger string

const (
	TriggerCompletion     Trigger = "completion"
	TriggerInterrupt      Trigger = "interrupt"
	TriggerStartupFailure Trigger = "startup-failure"
	TriggerManual         Trigger = "manual"
	TriggerPreflight      Trigger = "preflight"
)

// Outcome is the final state of a cleanup run
type Outcome string

const (
	// OutcomeCompleted means the ordered sequence finished within the timeout
	OutcomeCompleted Outcome = "completed"
	// OutcomeEmergencyFallback means the sequence timed out and the
	// emergency path ran to completion
	OutcomeEmergencyFallback Outcome = "emergencyFallback"
	// OutcomeTimedOut marks a run whose sequence hit the timeout while the
	// emergency path is still running. A returned run never carries it.
	OutcomeTimedOut Outcome = "timedOut"
)

// Step identifies one element of the ordered sequence
type Step string

const (
	StepServer   Step = "server"
	StepEmulator Step = "emulator"
	StepBridge   Step = "bridge"
	StepVerify   Step = "verify"

	// StepVirtualization and StepEmergency only occur on the emergency path
	StepVirtualization Step = "virtualization"
	StepEmergency      Step = "emergency"
)

// Status is the outcome of a single step
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusForced    Status = "forced"
	StatusFailed    Status = "failed"
)

// StepResult is the outcome of one step
type StepResult struct {
	Step      Step          `json:"step" yaml:"step"`
	Subsystem string        `json:"subsystem" yaml:"subsystem"`
	Status    Status        `json:"status" yaml:"status"`
	Message   string        `json:"message" yaml:"message"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// OK reports whether the step left nothing behind
func (s StepResult) OK() bool {
	return s.Status != StatusFailed
}

// Run is one execution of the cleanup sequence. It is not modified after
// the coordinator returns it.
type Run struct {
	ID             string        `json:"id" yaml:"id"`
	Trigger        Trigger       `json:"trigger" yaml:"trigger"`
	StartedAt      time.Time     `json:"started_at" yaml:"started_at"`
	FinishedAt     time.Time     `json:"finished_at" yaml:"finished_at"`
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
	Outcome        Outcome       `json:"outcome" yaml:"outcome"`
	Steps          []StepResult  `json:"steps" yaml:"steps"`
	EmergencySteps []StepResult  `json:"emergency_steps,omitempty" yaml:"emergency_steps,omitempty"`
}

// Duration returns how long the run took
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Step returns the result for step s
func (r *Run) Step(s Step) (StepResult, bool) {
	for _, res := range r.Steps {
		if res.Step == s {
			return res, true
		}
	}
	return StepResult{}, false
}

// Failed returns the steps that did not succeed
func (r *Run) Failed() []StepResult {
	var failed []StepResult
	for _, res := range r.Steps {
		if !res.OK() {
			failed = append(failed, res)
		}
	}
	return failed
}
