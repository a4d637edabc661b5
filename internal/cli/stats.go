package cli

import (
	"github.com/spf13/cobra"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/pipeline"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats <dir|feed.zip|list.txt>...",
	Short: "Count and describe feeds without writing archives",
	Long: `Stats runs the same filtering and deduplication as clean but writes no
archives. Per feed it reports row counts, the route types present, the
service date span, the bounding box of the kept stops and the size of
every table.

Results are cached by archive content and filter settings, so a second
run over an unchanged corpus only reads new or modified archives.

Example:
  feedclean stats ./feeds --csv feeds.csv
  feedclean stats ./feeds --routes rail --no-cache`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, args, pipeline.ModeStats)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	addRunFlags(statsCmd)
}
