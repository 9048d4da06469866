// ============================================================================
// emubench - Mobile Test Environment Orchestrator
// ============================================================================
//
// Package:     health
// Description: Environment checks backing the status command
// Author:      Mike Stoffels
// Created:     2025-12-09
// License:     MIT
// ============================================================================

// Package health runs named environment checks concurrently and folds them
// into one report.
package health

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/msto63/emubench/internal/procmgr"
)

// Status is the state reported by a check
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
	StatusUnknown  Status = "unknown"
)

// CheckResult is the outcome of one check
type CheckResult struct {
	Name     string                 `json:"name" yaml:"name"`
	Status   Status                 `json:"status" yaml:"status"`
	Message  string                 `json:"message" yaml:"message"`
	Duration time.Duration          `json:"duration" yaml:"duration"`
	Details  map[string]interface{} `json:"details,omitempty" yaml:"details,omitempty"`
}

// Checker is a named environment check
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

type namedCheck struct {
	name string
	fn   func(ctx context.Context) CheckResult
}

// NewChecker creates a named checker from a function
func NewChecker(name string, fn func(ctx context.Context) CheckResult) Checker {
	return &namedCheck{name: name, fn: fn}
}

func (c *namedCheck) Name() string {
	return c.name
}

func (c *namedCheck) Check(ctx context.Context) CheckResult {
	return c.fn(ctx)
}

// Registry holds the checks of one environment
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	name     string
	version  string
}

// NewRegistry creates an empty registry
func NewRegistry(name, version string) *Registry {
	return &Registry{
		checkers: make(map[string]Checker),
		name:     name,
		version:  version,
	}
}

// Register adds or replaces a checker
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[checker.Name()] = checker
}

// RegisterFunc adds a check function
func (r *Registry) RegisterFunc(name string, fn func(ctx context.Context) CheckResult) {
	r.Register(NewChecker(name, fn))
}

// Unregister removes a checker
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checkers, name)
}

// Check runs every checker concurrently. Results are sorted by name.
// The report is down if any check is down, degraded if any is degraded or
// unknown, and up otherwise.
func (r *Registry) Check(ctx context.Context) *Report {
	r.mu.RLock()
	checkers := make([]Checker, 0, len(r.checkers))
	for _, c := range r.checkers {
		checkers = append(checkers, c)
	}
	r.mu.RUnlock()

	report := &Report{
		Name:      r.name,
		Version:   r.version,
		Timestamp: time.Now(),
		Checks:    make([]CheckResult, len(checkers)),
	}

	var wg sync.WaitGroup
	for i, checker := range checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			start := time.Now()
			result := c.Check(ctx)
			result.Duration = time.Since(start)
			if result.Name == "" {
				result.Name = c.Name()
			}
			if result.Status == "" {
				result.Status = StatusUnknown
			}
			report.Checks[i] = result
		}(i, checker)
	}
	wg.Wait()

	sort.Slice(report.Checks, func(i, j int) bool {
		return report.Checks[i].Name < report.Checks[j].Name
	})

	report.Status = StatusUp
	for _, result := range report.Checks {
		switch result.Status {
		case StatusDown:
			report.Status = StatusDown
		case StatusDegraded, StatusUnknown:
			if report.Status != StatusDown {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

// CheckWithTimeout runs all checks bounded by timeout
func (r *Registry) CheckWithTimeout(timeout time.Duration) *Report {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return r.Check(ctx)
}

// Report is the folded result of all checks
type Report struct {
	Name      string        `json:"name" yaml:"name"`
	Version   string        `json:"version" yaml:"version"`
	Status    Status        `json:"status" yaml:"status"`
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
	Checks    []CheckResult `json:"checks" yaml:"checks"`
}

// String returns a one-line summary
func (r *Report) String() string {
	return fmt.Sprintf("%s %s: %s (%d checks)", r.Name, r.Version, r.Status, len(r.Checks))
}

// Result returns the check called name
func (r *Report) Result(name string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

// ProcessCheck reports up when at least one process matches pattern, down otherwise
func ProcessCheck(name string, probe *procmgr.Probe, pattern string) Checker {
	return NewChecker(name, func(ctx context.Context) CheckResult {
		procs := probe.Find(ctx, pattern)
		result := CheckResult{
			Name:    name,
			Details: map[string]interface{}{"pattern": pattern},
		}
		if len(procs) == 0 {
			result.Status = StatusDown
			result.Message = "not running"
			return result
		}

		pids := make([]string, 0, len(procs))
		for _, p := range procs {
			pids = append(pids, fmt.Sprint(p.PID))
		}
		result.Status = StatusUp
		result.Message = fmt.Sprintf("%d process(es) running", len(procs))
		result.Details["pids"] = strings.Join(pids, ",")
		return result
	})
}

// DeviceCheck reports up when connected returns true
func DeviceCheck(name string, connected func(ctx context.Context) bool) Checker {
	return NewChecker(name, func(ctx context.Context) CheckResult {
		if connected(ctx) {
			return CheckResult{Name: name, Status: StatusUp, Message: "emulator attached"}
		}
		return CheckResult{Name: name, Status: StatusDown, Message: "no emulator attached"}
	})
}
