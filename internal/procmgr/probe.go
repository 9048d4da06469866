// ============================================================================
// emubench - Mobile Test Environment Orchestrator
// ============================================================================
//
// Package:     procmgr
// Description: Pattern based process probe and signal fan-out
// Author:      Mike Stoffels
// Created:     2025-12-06
// License:     MIT
// ============================================================================

package procmgr

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"syscall"

	"github.com/msto63/emubench/pkg/core/logging"
	"golang.org/x/sys/unix"
)

// Probe answers whether processes matching a pattern are running and signals
// all of them. A pattern is a case-sensitive regular expression matched
// against the full command line; patterns that do not compile are treated as
// plain substrings.
type Probe struct {
	table  Table
	logger *logging.Logger

	mu       sync.Mutex
	matchers map[string]func(string) bool
}

// NewProbe creates a probe over table
func NewProbe(table Table, logger *logging.Logger) *Probe {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Probe{
		table:    table,
		logger:   logger,
		matchers: make(map[string]func(string) bool),
	}
}

// Find returns all processes matching pattern. Listing errors are logged and
// reported as no match.
func (p *Probe) Find(ctx context.Context, pattern string) []Process {
	procs, err := p.table.List(ctx)
	if err != nil {
		p.logger.Warn("Process table unavailable", "pattern", pattern, "error", err)
		return nil
	}

	match := p.matcher(pattern)
	var found []Process
	for _, proc := range procs {
		if match(proc.Cmdline) {
			found = append(found, proc)
		}
	}
	return found
}

// Exists reports whether at least one process matches pattern
func (p *Probe) Exists(ctx context.Context, pattern string) bool {
	return len(p.Find(ctx, pattern)) > 0
}

// SignalAll sends sig to every process matching pattern. A process that is
// already gone counts as success; zero matches is a successful no-op.
func (p *Probe) SignalAll(ctx context.Context, pattern string, sig syscall.Signal) Result {
	procs := p.Find(ctx, pattern)
	name := unix.SignalName(sig)
	if len(procs) == 0 {
		return Succeeded("no matching process")
	}

	var failures []string
	for _, proc := range procs {
		err := p.table.Signal(ctx, proc.PID, sig)
		switch {
		case err == nil:
			p.logger.Debug("Signal sent", "pattern", pattern, "pid", proc.PID, "signal", name)
		case errors.Is(err, ErrProcessGone):
			p.logger.Debug("Process already stopped", "pattern", pattern, "pid", proc.PID)
		default:
			failures = append(failures, fmt.Sprintf("pid %d: %v", proc.PID, err))
		}
	}

	if len(failures) > 0 {
		return Failed("%s to %q failed: %s", name, pattern, strings.Join(failures, "; "))
	}
	return Succeeded(fmt.Sprintf("%s sent to %d process(es)", name, len(procs)))
}

// matcher compiles and caches the match function for pattern
func (p *Probe) matcher(pattern string) func(string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if m, ok := p.matchers[pattern]; ok {
		return m
	}

	var m func(string) bool
	if re, err := regexp.Compile(pattern); err == nil {
		m = re.MatchString
	} else {
		m = func(s string) bool { return strings.Contains(s, pattern) }
	}
	p.matchers[pattern] = m
	return m
}
