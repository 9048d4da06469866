// ============================================================================
// emubench - Mobile Test Environment Orchestrator
// ============================================================================
//
// Package:     proctest
// Description: In-memory process table and command runner for tests
// Author:      Mike Stoffels
// Created:     2025-12-06
// License:     MIT
// ============================================================================

// Package proctest provides fakes for procmgr.Table and procmgr.Runner.
package proctest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"syscall"

	"github.com/msto63/emubench/internal/procmgr"
)

// Behavior controls how a fake process reacts to signals
type Behavior int

const (
	// DiesOnGraceful exits on any signal
	DiesOnGraceful Behavior = iota
	// IgnoresGraceful exits only on SIGKILL
	IgnoresGraceful
	// Unkillable never exits
	Unkillable
)

// SentSignal records one delivered signal
type SentSignal struct {
	PID     int32
	Cmdline string
	Signal  syscall.Signal
}

type fakeProc struct {
	procmgr.Process
	behavior Behavior
}

// FakeTable is a thread-safe in-memory process table
type FakeTable struct {
	mu      sync.Mutex
	nextPID int32
	procs   map[int32]*fakeProc
	signals []SentSignal
	listErr error

	// OnSignal, if set, runs after each delivered signal with the lock released
	OnSignal func(SentSignal)
}

// NewFakeTable creates an empty table
func NewFakeTable() *FakeTable {
	return &FakeTable{nextPID: 1000, procs: make(map[int32]*fakeProc)}
}

// Spawn adds a process and returns its pid
func (f *FakeTable) Spawn(cmdline string, behavior Behavior) int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPID++
	pid := f.nextPID
	f.procs[pid] = &fakeProc{Process: procmgr.Process{PID: pid, Cmdline: cmdline}, behavior: behavior}
	return pid
}

// RemoveMatching removes every process whose command line contains substr
func (f *FakeTable) RemoveMatching(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for pid, p := range f.procs {
		if strings.Contains(p.Cmdline, substr) {
			delete(f.procs, pid)
			n++
		}
	}
	return n
}

// Running returns how many live processes contain substr
func (f *FakeTable) Running(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.procs {
		if strings.Contains(p.Cmdline, substr) {
			n++
		}
	}
	return n
}

// Signals returns every signal delivered so far
func (f *FakeTable) Signals() []SentSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentSignal, len(f.signals))
	copy(out, f.signals)
	return out
}

// SignalsFor counts deliveries of sig to processes containing substr
func (f *FakeTable) SignalsFor(substr string, sig syscall.Signal) int {
	n := 0
	for _, s := range f.Signals() {
		if s.Signal == sig && strings.Contains(s.Cmdline, substr) {
			n++
		}
	}
	return n
}

// SetListError makes List fail with err until cleared with nil
func (f *FakeTable) SetListError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// List implements procmgr.Table
func (f *FakeTable) List(ctx context.Context) ([]procmgr.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]procmgr.Process, 0, len(f.procs))
	for _, p := range f.procs {
		out = append(out, p.Process)
	}
	return out, nil
}

// Signal implements procmgr.Table
func (f *FakeTable) Signal(ctx context.Context, pid int32, sig syscall.Signal) error {
	f.mu.Lock()
	p, ok := f.procs[pid]
	if !ok {
		f.mu.Unlock()
		return procmgr.ErrProcessGone
	}
	sent := SentSignal{PID: pid, Cmdline: p.Cmdline, Signal: sig}
	f.signals = append(f.signals, sent)

	switch p.behavior {
	case DiesOnGraceful:
		delete(f.procs, pid)
	case IgnoresGraceful:
		if sig == syscall.SIGKILL {
			delete(f.procs, pid)
		}
	}
	hook := f.OnSignal
	f.mu.Unlock()

	if hook != nil {
		hook(sent)
	}
	return nil
}

// Handler answers one fake command invocation
type Handler func(ctx context.Context, cmd procmgr.Command) procmgr.Result

// FakeRunner is a procmgr.Runner that dispatches on the command line.
// Unregistered commands succeed with empty output.
type FakeRunner struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []string
}

// NewFakeRunner creates a runner with no handlers
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{handlers: make(map[string]Handler)}
}

// Handle registers h for the exact command line key, e.g. "adb devices"
func (r *FakeRunner) Handle(key string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[key] = h
}

// Respond registers a fixed result for key
func (r *FakeRunner) Respond(key string, succeeded bool, output string) {
	r.Handle(key, func(context.Context, procmgr.Command) procmgr.Result {
		return procmgr.Result{Succeeded: succeeded, Output: output}
	})
}

// Run implements procmgr.Runner
func (r *FakeRunner) Run(ctx context.Context, cmd procmgr.Command) procmgr.Result {
	key := cmd.String()
	r.mu.Lock()
	r.calls = append(r.calls, key)
	h := r.handlers[key]
	r.mu.Unlock()

	if h == nil {
		return procmgr.Succeeded("")
	}
	return h(ctx, cmd)
}

// Calls returns every command line run so far
func (r *FakeRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// Called counts invocations of key
func (r *FakeRunner) Called(key string) int {
	n := 0
	for _, c := range r.Calls() {
		if c == key {
			n++
		}
	}
	return n
}

// String summarises the table for failure messages
func (f *FakeTable) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := make([]string, 0, len(f.procs))
	for _, p := range f.procs {
		parts = append(parts, fmt.Sprintf("%d:%s", p.PID, p.Cmdline))
	}
	return strings.Join(parts, ", ")
}
