package cmd

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/msto63/emubench/internal/cleanup"
	"github.com/msto63/emubench/internal/history"
)

var (
	historyLimit   int
	historyFormat  string
	historyOutcome string
	historyPrune   time.Duration
	historyStats   bool
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recorded cleanup runs",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of runs")
	historyCmd.Flags().StringVar(&historyFormat, "format", "text", "output format (text, yaml)")
	historyCmd.Flags().StringVar(&historyOutcome, "outcome", "", "only runs with this outcome")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "delete runs older than this before listing")
	historyCmd.Flags().BoolVar(&historyStats, "stats", false, "show run counts per outcome instead of the list")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := context.Background()

	if historyPrune > 0 {
		n, err := store.Prune(ctx, historyPrune)
		if err != nil {
			return err
		}
		fmt.Printf("%s pruned %d run(s)\n", marker("ok"), n)
	}

	if historyStats {
		stats, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		if historyFormat == "yaml" {
			return yaml.NewEncoder(os.Stdout).Encode(stats)
		}
		writeStats(os.Stdout, stats)
		return nil
	}

	if len(args) == 1 {
		run, err := store.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return printRun(run, historyFormat)
	}

	runs, err := store.List(ctx, history.Filter{
		Outcome: cleanup.Outcome(historyOutcome),
		Limit:   historyLimit,
	})
	if err != nil {
		return err
	}

	if historyFormat == "yaml" {
		return yaml.NewEncoder(os.Stdout).Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Println(mutedStyle.Render("no cleanup runs recorded"))
		return nil
	}
	for _, r := range runs {
		fmt.Printf("%s  %-16s %-18s %-8s %s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Trigger,
			string(r.Outcome),
			r.Duration().Round(time.Millisecond),
			mutedStyle.Render(r.ID))
	}
	return nil
}

// writeStats prints one line per outcome, sorted by name, and a total
func writeStats(w io.Writer, stats map[cleanup.Outcome]int) {
	total := 0
	for _, o := range slices.Sorted(maps.Keys(stats)) {
		fmt.Fprintf(w, "  %s %d\n", outcomeText(o), stats[o])
		total += stats[o]
	}
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%d run(s) recorded", total)))
}
