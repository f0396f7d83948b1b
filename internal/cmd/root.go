package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshdurbin/strava-stats/internal/config"
	"github.com/joshdurbin/strava-stats/internal/logging"
)

var (
	verbosity  int
	logFormat  string
	configPath string
	env        string
	dbPath     string
	units      string
	redisAddr  string

	// cfg is the merged file and flag configuration, set before any command runs
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "strava-stats",
	Short: "Strava statistics - all-time stats, summaries and records from your Strava history",
	Long: `strava-stats reads your complete Strava activity history and computes totals,
averages, personal records and weekly, monthly and yearly summaries.

Results are served over:
- an HTTP JSON API (strava-stats serve)
- the Model Context Protocol for AI assistants (stdio or HTTP/SSE)
- one-shot commands that print JSON (stats, activities, weekly, monthly, athlete)

Nothing but OAuth tokens is stored locally. Activity data is cached in memory,
or in Redis when --redis is set.

Run 'strava-stats auth login' first. Get API credentials from
https://www.strava.com/settings/api
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(env, configPath)
		if err != nil {
			return err
		}
		applyFlagOverrides(cmd, loaded)
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded

		logging.Setup(logLevel(verbosity, cfg.LogLevel), logging.Format(cfg.LogFormat))
		logging.Debug("configuration loaded", "env", env, "config", configPath, "db_path", cfg.DBPath)
		return nil
	},
}

func init() {
	// Logging verbosity
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase verbosity (-v for debug, -vv for trace with HTTP headers)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log output format: console or json")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&env, "env", "development", "config file environment [dev | development | prod | production]")

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", config.DefaultDBPath(), "path to SQLite database file holding OAuth tokens")
	rootCmd.PersistentFlags().StringVar(&units, "units", "metric", "default units for MCP output: metric or imperial")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "Redis address for the shared cache (in-memory cache when empty)")

	rootCmd.AddCommand(serveCmd, authCmd)
	rootCmd.AddCommand(statsCmd, activitiesCmd, weeklyCmd, monthlyCmd, athleteCmd)
}

// applyFlagOverrides copies explicitly set persistent flags over file values
func applyFlagOverrides(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("log-format") {
		c.LogFormat = logFormat
	}
	if flags.Changed("db") {
		c.DBPath = dbPath
	}
	if flags.Changed("units") {
		c.Units = units
	}
	if flags.Changed("redis") {
		c.RedisAddr = redisAddr
	}
	applyServeOverrides(cmd, c)
}

// logLevel picks the higher of the -v count and the configured level
func logLevel(verbosity int, configured string) logging.Level {
	level := logging.Level(verbosity)
	switch strings.ToLower(configured) {
	case "trace":
		if level < logging.LevelTrace {
			level = logging.LevelTrace
		}
	case "debug":
		if level < logging.LevelVerbose {
			level = logging.LevelVerbose
		}
	}
	return level
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
