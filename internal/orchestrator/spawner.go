// ============================================================================
// emubench - Mobile Test Environment Orchestrator
// ============================================================================
//
// Package:     orchestrator
// Description: Child process spawning for emulator, server and test command
// Author:      Mike Stoffels
// Created:     2025-12-08
// License:     MIT
// ============================================================================

package orchestrator

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/msto63/emubench/pkg/core/logging"
)

// LaunchSpec describes a child process to start
type LaunchSpec struct {
	// Name labels the child in logs
	Name string
	// Command is the executable followed by its arguments
	Command []string
	// Marker, if set, is a substring whose appearance in the child's
	// output closes the Ready channel
	Marker string
	// Inherit passes stdout and stderr through to the operator instead of
	// scanning them
	Inherit bool
}

// Child is a spawned process owned by the session
type Child interface {
	PID() int
	// Ready is closed when the output marker has been seen
	Ready() <-chan struct{}
	// Done is closed when the process has exited and been reaped
	Done() <-chan struct{}
	// ExitCode is valid once Done is closed
	ExitCode() int
	// Signal delivers sig to the child's process group
	Signal(sig syscall.Signal) error
}

// Spawner starts child processes
type Spawner interface {
	Spawn(spec LaunchSpec) (Child, error)
}

// ExecSpawner starts real processes, each in its own process group
type ExecSpawner struct {
	logger *logging.Logger
}

// NewExecSpawner creates a spawner that logs child output at debug level
func NewExecSpawner(logger *logging.Logger) *ExecSpawner {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ExecSpawner{logger: logger}
}

// Spawn starts spec and returns its handle
func (s *ExecSpawner) Spawn(spec LaunchSpec) (Child, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("%s: empty command", spec.Name)
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	child := &execChild{
		cmd:   cmd,
		spec:  spec,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}

	var readers []io.Reader
	if spec.Inherit {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("%s: failed to open stdout: %w", spec.Name, err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("%s: failed to open stderr: %w", spec.Name, err)
		}
		readers = append(readers, stdout, stderr)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Name, err)
	}
	child.pid = cmd.Process.Pid

	s.logger.Info("Child process started", "child", spec.Name, "pid", child.pid, "command", strings.Join(spec.Command, " "))

	log := s.logger.With("child", spec.Name)
	var wg sync.WaitGroup
	for _, r := range readers {
		wg.Add(1)
		go func(r io.Reader) {
			defer wg.Done()
			child.scan(r, log)
		}(r)
	}

	go func() {
		// Pipes must be drained before Wait.
		wg.Wait()
		err := cmd.Wait()
		child.exitCode = exitCode(cmd, err)
		log.Debug("Child process exited", "pid", child.pid, "exit_code", child.exitCode)
		close(child.done)
	}()

	return child, nil
}

type execChild struct {
	cmd       *exec.Cmd
	spec      LaunchSpec
	pid       int
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	exitCode  int
}

func (c *execChild) PID() int {
	return c.pid
}

func (c *execChild) Ready() <-chan struct{} {
	return c.ready
}

func (c *execChild) Done() <-chan struct{} {
	return c.done
}

func (c *execChild) ExitCode() int {
	<-c.done
	return c.exitCode
}

func (c *execChild) Signal(sig syscall.Signal) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	if err := unix.Kill(-c.pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("failed to signal %s group %d: %w", c.spec.Name, c.pid, err)
	}
	return nil
}

// scan reads output lines until EOF, closing Ready on the marker line
func (c *execChild) scan(r io.Reader, log *logging.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		log.Debug(line)
		if c.spec.Marker != "" && strings.Contains(line, c.spec.Marker) {
			c.readyOnce.Do(func() { close(c.ready) })
		}
	}
	// Keep draining if the scanner gave up on an oversized line.
	_, _ = io.Copy(io.Discard, r)
}

// exitCode maps a Wait result to a shell-style exit code
func exitCode(cmd *exec.Cmd, err error) int {
	state := cmd.ProcessState
	if state == nil {
		if err != nil {
			return ExitSpawnFailure
		}
		return 0
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
