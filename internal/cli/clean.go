package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/model"
	"github.com/fbarbe00/Finding-Missing-Trains/internal/pipeline"
)

var noCache bool

// runFlagKeys maps flags shared by clean and stats to configuration keys
var runFlagKeys = map[string]string{
	"workers":          "worker_count",
	"routes":           "route_type_allowlist",
	"start":            "service_date_range.start",
	"end":              "service_date_range.end",
	"cross-feed":       "cross_feed_dedup",
	"buffer-threshold": "row_buffer_threshold",
	"timeout":          "timeout",
	"manifest":         "manifest",
	"snapshot":         "fingerprint_snapshot",
	"json":             "report.json",
	"md":               "report.markdown",
	"csv":              "report.csv",
	"store":            "store.path",
	"output-dir":       "output_dir",
	"tables":           "include_tables",
	"compress-level":   "compress_level",
	"salvage":          "salvage",
}

// cleanCmd represents the clean command
var cleanCmd = &cobra.Command{
	Use:   "clean <dir|feed.zip|list.txt>...",
	Short: "Filter and deduplicate feeds into cleaned archives",
	Long: `Clean processes a collection of GTFS feeds in parallel:
- Detect corrupt and byte-identical archives before any work is scheduled
- Spread the remaining feeds over the workers by archive size
- Keep only routes of the allowed types running in the service window,
  together with the trips, stops, calendars and shapes they use
- Drop rows that repeat an identity key within a table
- Write one archive per feed to the output directory and a run report

Example:
  feedclean clean ./feeds
  feedclean clean ./feeds --routes rail --start 20240101 --end 20241231
  feedclean clean feeds.txt --workers 8 --manifest download_log.csv --csv log.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, args, pipeline.ModeClean)
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
	addRunFlags(cleanCmd)

	// Output flags
	cleanCmd.Flags().String("output-dir", "./cleaned", "directory for cleaned archives")
	cleanCmd.Flags().StringSlice("tables", nil, "only write these tables (default: all)")
	cleanCmd.Flags().Int("compress-level", 9, "deflate level for output archives (1-9)")
}

// addRunFlags declares the flags clean and stats have in common
func addRunFlags(cmd *cobra.Command) {
	// Filter flags
	cmd.Flags().StringSlice("routes", nil, `route_type allowlist: codes, ranges ("100-117") or "rail"`)
	cmd.Flags().String("start", "", "service window start (YYYYMMDD)")
	cmd.Flags().String("end", "", "service window end (YYYYMMDD)")

	// Execution flags
	cmd.Flags().Int("workers", 4, "number of parallel workers")
	cmd.Flags().Int64("buffer-threshold", 64<<20, "largest table (bytes) replayed from memory")
	cmd.Flags().Duration("timeout", 0, "stop starting new feeds after this long (0 = no limit)")
	cmd.Flags().Bool("cross-feed", false, "count rows repeated across feeds")
	cmd.Flags().String("snapshot", "", "load and save cross-feed fingerprints here")
	cmd.Flags().String("manifest", "", "download log CSV (url,file_path) giving feed IDs")
	cmd.Flags().Bool("salvage", true, "retry damaged archives without their unreadable entries")

	// Report flags
	cmd.Flags().String("json", "feedclean-report.json", "output JSON report path")
	cmd.Flags().String("md", "", "output Markdown report path (optional)")
	cmd.Flags().String("csv", "", "output per-feed CSV log path (optional)")
	cmd.Flags().String("store", "", "SQLite run history path (optional)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the statistics cache")
}

func runPipeline(cmd *cobra.Command, args []string, mode pipeline.Mode) error {
	cfg, err := loadConfig(cmd, runFlagKeys)
	if err != nil {
		return err
	}
	if noCache {
		cfg.Cache.Enabled = false
	}

	title := "Feed Cleaning"
	if mode == pipeline.ModeStats {
		title = "Feed Statistics"
	}

	p, err := pipeline.NewPipeline(cfg, mode, newLogger())
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  feedclean %s\n", title)
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Inputs:       %s\n", strings.Join(args, ", "))
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", cfg.WorkerCount)
	fmt.Fprintf(os.Stderr, "  Filter:       %s\n", p.Rules().Describe())
	if mode == pipeline.ModeClean {
		fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", cfg.OutputDir)
	}
	if cfg.Timeout > 0 {
		fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", cfg.Timeout)
	}
	fmt.Fprintf(os.Stderr, "\n")

	fmt.Fprintf(os.Stderr, "⚙️  Discovering feeds...\n")
	feeds, err := pipeline.Discover(args, cfg.Manifest)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "✓ Found %d feeds\n", len(feeds))
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "⚙️  Processing feeds with %d workers...\n", cfg.WorkerCount)
	fmt.Fprintf(os.Stderr, "\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := p.Run(ctx, feeds)
	if err != nil {
		return err
	}

	for _, f := range report.Feeds {
		switch f.Outcome {
		case model.OutcomeFailed, model.OutcomeSkipped:
			fmt.Fprintf(os.Stderr, "✗ %s: %s\n", f.FeedID, f.Error)
		case model.OutcomeDuplicateArchive:
			fmt.Fprintf(os.Stderr, "= %s: same archive as %s\n", f.FeedID, f.DuplicateOf)
		default:
			if f.Salvaged {
				fmt.Fprintf(os.Stderr, "~ %s: damaged archive, unreadable entries skipped\n", f.FeedID)
			}
			if verbose {
				t := f.Totals()
				fmt.Fprintf(os.Stderr, "✓ %s (%s, %d/%d rows kept)\n", f.FeedID, f.Outcome, t.Kept, t.Input)
			}
		}
	}

	written, err := p.Publish(ctx, report)
	for _, path := range written {
		fmt.Fprintf(os.Stderr, "✓ Wrote %s\n", path)
	}
	if err != nil {
		return fmt.Errorf("publish report: %w", err)
	}

	pipeline.NewRenderer().RenderSummary(os.Stderr, report)
	return nil
}
