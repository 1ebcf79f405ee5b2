package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/formguide/racesyncer/pkg/aggregate"
	"github.com/formguide/racesyncer/pkg/config"
	racesync "github.com/formguide/racesyncer/pkg/sync"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information set at build time.
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgFile  string
	logLevel string
	log      *logrus.Logger
)

// exitCodeInterrupted signals a graceful stop after SIGINT with a
// valid checkpoint left behind.
const exitCodeInterrupted = 130

func main() {
	log = logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, racesync.ErrInterrupted) ||
			errors.Is(err, aggregate.ErrInterrupted) {
			log.Info("Interrupted, checkpoint saved")
			os.Exit(exitCodeInterrupted)
		}

		log.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "racesyncer",
	Short: "Racing data sync and statistics engine",
	Long: `Racesyncer incrementally mirrors racecards, results and participant
data from an upstream racing API into a local database, enriches newly
discovered entities, and derives per-entity statistics from the
accumulated history.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}

		log.SetLevel(level)

		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("racesyncer %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level ("+strings.Join(logLevels(), ", ")+")")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads and validates the configuration file.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func logLevels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}

	return levels
}
