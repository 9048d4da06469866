package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [-- test command...]",
	Short: "Bring up the environment, run the tests and tear everything down",
	Long: `Runs the full lifecycle: preflight check, emulator boot, automation
server start, test command, cleanup.

The test command defaults to test.command from the configuration.
SIGINT and SIGTERM stop the run in an orderly way: the test command is
asked to exit, the environment is cleaned up and emubench exits with 0.

Exit codes:
  0    tests passed, or the run was interrupted
  N    the test command's own non-zero exit code
  70   the emulator never became reachable
  78   configuration error
  127  the test command could not be started`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	env := newEnvironment(cfg)
	defer env.close()

	session := env.newSession(args)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	go func() {
		for {
			select {
			case sig := <-sigCh:
				env.logger.Warn("Signal received", "signal", sig.String())
				session.Interrupt()
			case <-ctx.Done():
				return
			}
		}
	}()

	summary := session.Run(context.Background())
	exitCode = summary.ExitCode
	if summary.Err != nil {
		env.logger.Error("Run failed", "error", summary.Err, "exit_code", summary.ExitCode)
	}
	return nil
}
