package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/model"
)

const version = "feedclean v0.1.0"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "feedclean",
	Short: "feedclean - clean and deduplicate large GTFS feed collections",
	Long: `feedclean cleans and deduplicates collections of GTFS timetable feeds.

Feeds are spread over a fixed pool of workers by archive size. Each feed is
read table by table, filtered by route type and service dates, stripped of
duplicate rows and written to a new archive. Byte-identical archives are
detected up front and processed once.

Output is deterministic: the same inputs and settings give the same
archives and the same report, whatever the worker count.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number of feedclean.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.feedclean/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Bind flags to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	setDefaults(model.DefaultConfig())

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}

		// Search for config in home directory
		viper.AddConfigPath(filepath.Join(home, ".feedclean"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Read in environment variables that match FEEDCLEAN_*, nested keys joined by "_"
	viper.SetEnvPrefix("FEEDCLEAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// setDefaults registers every configuration key so env variables are seen by Unmarshal
func setDefaults(cfg *model.Config) {
	viper.SetDefault("route_type_allowlist", cfg.RouteTypeAllowlist)
	viper.SetDefault("service_date_range.start", cfg.ServiceDateRange.Start)
	viper.SetDefault("service_date_range.end", cfg.ServiceDateRange.End)
	viper.SetDefault("worker_count", cfg.WorkerCount)
	viper.SetDefault("cross_feed_dedup", cfg.CrossFeedDedup)
	viper.SetDefault("row_buffer_threshold", cfg.RowBufferThreshold)
	viper.SetDefault("output_dir", cfg.OutputDir)
	viper.SetDefault("include_tables", cfg.IncludeTables)
	viper.SetDefault("compress_level", cfg.CompressLevel)
	viper.SetDefault("timeout", cfg.Timeout)
	viper.SetDefault("manifest", cfg.Manifest)
	viper.SetDefault("fingerprint_snapshot", cfg.FingerprintSnapshot)
	viper.SetDefault("progress_interval", cfg.ProgressInterval)
	viper.SetDefault("salvage", cfg.Salvage)
	viper.SetDefault("report.json", cfg.Report.JSON)
	viper.SetDefault("report.markdown", cfg.Report.Markdown)
	viper.SetDefault("report.csv", cfg.Report.CSV)
	viper.SetDefault("cache.enabled", cfg.Cache.Enabled)
	viper.SetDefault("cache.dir", cfg.Cache.Dir)
	viper.SetDefault("cache.ttl", cfg.Cache.TTL)
	viper.SetDefault("store.path", cfg.Store.Path)
}

// bindFlags binds every flag of cmd listed in keys to its configuration key.
// Viper prefers a bound flag over file and environment only once it is set
// on the command line. Binding happens per command run because several
// commands share keys.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := keys[f.Name]
		if !ok || err != nil {
			return
		}
		err = viper.BindPFlag(key, f)
	})
	return err
}

// loadConfig merges defaults, config file, environment and flags
func loadConfig(cmd *cobra.Command, keys map[string]string) (*model.Config, error) {
	if err := bindFlags(cmd, keys); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, &model.ConfigError{Message: fmt.Sprintf("decode configuration: %v", err)}
	}
	return cfg, nil
}

// newLogger returns the stderr logger; verbose enables per-feed debug lines
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
