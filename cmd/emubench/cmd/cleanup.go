package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/msto63/emubench/internal/cleanup"
	"github.com/msto63/emubench/internal/procmgr"
)

var cleanupFormat string

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Terminate the automation server and emulator and reset the bridge",
	Long: `Runs the cleanup sequence once: automation server, emulator (native
kill first), device-bridge reset, verification. If the sequence exceeds
cleanup.timeout every known process pattern is killed forcefully.`,
	RunE: runCleanup,
}

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Clean up leftovers of a previous run before a test suite",
	RunE:  runPrepare,
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupFormat, "format", "text", "output format (text, yaml)")
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(prepareCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	env := newEnvironment(cfg)
	defer env.close()

	run, started := env.cleanup.Execute(context.Background(), cleanup.TriggerManual)
	if !started {
		return fmt.Errorf("cleanup already in progress")
	}

	if err := printRun(run, cleanupFormat); err != nil {
		return err
	}
	exitCode = cleanupExitCode(run)
	return nil
}

// cleanupExitCode is 1 unless the sequence completed with no failed step
func cleanupExitCode(run *cleanup.Run) int {
	if run.Outcome != cleanup.OutcomeCompleted || len(run.Failed()) > 0 {
		return 1
	}
	return 0
}

func runPrepare(cmd *cobra.Command, args []string) error {
	env := newEnvironment(cfg)
	defer env.close()
	ctx := context.Background()

	stale := env.cleanup.Stale(ctx)
	if len(stale) == 0 {
		fmt.Printf("%s environment is clean\n", marker("ok"))
		return nil
	}

	fmt.Printf("%s leftover processes: %s\n", marker("warn"), strings.Join(stale, ", "))
	run, started := env.cleanup.Execute(ctx, cleanup.TriggerPreflight)
	if !started {
		return fmt.Errorf("cleanup already in progress")
	}
	_ = procmgr.Sleep(ctx, cfg.Preflight.SweepPause.Duration)

	if err := printRun(run, "text"); err != nil {
		return err
	}
	if remaining := env.cleanup.Stale(ctx); len(remaining) > 0 {
		fmt.Printf("%s still running: %s\n", marker("fail"), strings.Join(remaining, ", "))
		exitCode = 1
		return nil
	}
	fmt.Printf("%s environment is clean\n", marker("ok"))
	return nil
}

func printRun(run *cleanup.Run, format string) error {
	if format == "yaml" {
		return yaml.NewEncoder(os.Stdout).Encode(run)
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("Cleanup %s (%s)", run.ID, run.Trigger)))
	for _, s := range run.Steps {
		printStep(s)
	}
	if len(run.EmergencySteps) > 0 {
		fmt.Println(warnStyle.Render("Emergency fallback:"))
		for _, s := range run.EmergencySteps {
			printStep(s)
		}
	}
	fmt.Printf("Outcome: %s in %s\n", outcomeText(run.Outcome), run.Duration().Round(time.Millisecond))
	return nil
}

func printStep(s cleanup.StepResult) {
	kind := "ok"
	switch s.Status {
	case cleanup.StatusSkipped:
		kind = "skip"
	case cleanup.StatusForced:
		kind = "warn"
	case cleanup.StatusFailed:
		kind = "fail"
	}
	fmt.Printf("  %s %s %-10s %s\n", marker(kind), nameStyle.Render(s.Subsystem), s.Status, mutedStyle.Render(s.Message))
}

func outcomeText(o cleanup.Outcome) string {
	switch o {
	case cleanup.OutcomeCompleted:
		return okStyle.Render(string(o))
	case cleanup.OutcomeEmergencyFallback:
		return warnStyle.Render(string(o))
	default:
		return failStyle.Render(string(o))
	}
}
