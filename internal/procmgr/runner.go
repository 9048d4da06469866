// ============================================================================
// emubench - Mobile Test Environment Orchestrator
// ============================================================================
//
// Package:     procmgr
// Description: Short-lived external command execution
// Author:      Mike Stoffels
// Created:     2025-12-06
// License:     MIT
// ============================================================================

package procmgr

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/msto63/emubench/pkg/core/logging"
)

// DefaultWaitDelay bounds how long Run waits for output pipes after the
// command exited or was cancelled
const DefaultWaitDelay = time.Second

// Runner executes a short-lived command and reports its outcome
type Runner interface {
	Run(ctx context.Context, cmd Command) Result
}

// ExecRunner runs commands with os/exec. Each command gets its own process
// group so cancellation also reaches anything it forked.
type ExecRunner struct {
	logger *logging.Logger

	// WaitDelay is DefaultWaitDelay unless changed
	WaitDelay time.Duration
}

// NewExecRunner creates a runner that logs through logger
func NewExecRunner(logger *logging.Logger) *ExecRunner {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ExecRunner{logger: logger, WaitDelay: DefaultWaitDelay}
}

// Run executes cmd and waits for it to exit. Failure never panics and never
// returns an error; it is logged unless the command ignores errors.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) Result {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		err := unix.Kill(-c.Process.Pid, unix.SIGKILL)
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	c.WaitDelay = r.WaitDelay
	var stderr bytes.Buffer
	c.Stderr = &stderr

	r.logger.Debug("Running command", "command", cmd.String(), "description", cmd.Description)
	out, err := c.Output()
	output := strings.TrimSpace(string(out))
	// A daemon forked by the command may keep the pipes open after a clean exit.
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		return Succeeded(output)
	}

	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		if output != "" {
			output += "\n"
		}
		output += msg
	}
	if output == "" {
		output = err.Error()
	}

	if !cmd.IgnoreErrors {
		r.logger.Warn("Command failed",
			"command", cmd.String(),
			"description", cmd.Description,
			"error", err,
		)
	}
	return Result{Succeeded: false, Output: output}
}
