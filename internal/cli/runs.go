package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/store"
)

var runsLimit int

// runsCmd lists past runs recorded in the run store
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List past runs from the run store",
	Long: `Runs lists the runs recorded in the SQLite run store (store.path),
newest first.

Example:
  feedclean runs --store runs.db
  feedclean runs --limit 5`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, map[string]string{"store": "store.path"})
		if err != nil {
			return err
		}
		if cfg.Store.Path == "" {
			return fmt.Errorf("no run store configured (set --store or store.path)")
		}

		s, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		runs, err := s.ListRuns(context.Background(), runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintf(os.Stderr, "No runs recorded in %s\n", cfg.Store.Path)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tMODE\tSTARTED\tDURATION\tFEEDS\tFAILED\tROWS IN\tROWS KEPT")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
				r.ID, r.Mode, r.StartedAt.Local().Format("2006-01-02 15:04"),
				r.FinishedAt.Sub(r.StartedAt).Round(time.Second), r.Feeds, r.Failed, r.RowsInput, r.RowsKept)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().String("store", "", "SQLite run history path")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "show at most this many runs (0 = all)")
}
