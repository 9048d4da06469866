package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/msto63/emubench/pkg/core/health"
	"github.com/msto63/emubench/pkg/core/version"
)

var statusFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which managed subsystems are running",
	Long: `Checks the device bridge for an attached emulator and the process
table for emulator, virtualization and automation-server processes.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "text", "output format (text, yaml)")
	rootCmd.AddCommand(statusCmd)
}

func statusRegistry(env *environment) *health.Registry {
	reg := health.NewRegistry("emubench", version.Platform)
	reg.Register(health.DeviceCheck("emulator-device", env.bridge.EmulatorConnected))
	reg.Register(health.ProcessCheck("emulator-process", env.probe, env.cfg.Emulator.Pattern))
	reg.Register(health.ProcessCheck("virtualization", env.probe, env.cfg.Emulator.VirtualizationPattern))
	reg.Register(health.ProcessCheck("automation-server", env.probe, env.cfg.Server.Pattern))
	return reg
}

func runStatus(cmd *cobra.Command, args []string) error {
	env := newEnvironment(cfg)
	defer env.close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	report := statusRegistry(env).Check(ctx)

	if statusFormat == "yaml" {
		return yaml.NewEncoder(os.Stdout).Encode(report)
	}

	fmt.Println(headerStyle.Render("emubench status"))
	fmt.Println(headerStyle.Render("==============="))
	fmt.Println()
	for _, c := range report.Checks {
		kind := "skip"
		if c.Status == health.StatusUp {
			kind = "ok"
		} else if c.Status != health.StatusDown {
			kind = "warn"
		}
		fmt.Printf("  %s %s %s\n", marker(kind), nameStyle.Render(c.Name), mutedStyle.Render(c.Message))
	}
	fmt.Println()

	if cfgUsed != "" {
		fmt.Println(mutedStyle.Render("config: " + cfgUsed))
	}
	if active := env.cleanup.Stale(ctx); len(active) > 0 {
		fmt.Println("Run 'emubench cleanup' to stop the running subsystems.")
	}
	return nil
}
