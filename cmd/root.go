package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mailprobe/mailprobe/pkg/config"
	"github.com/mailprobe/mailprobe/pkg/logging"
)

var (
	flagDB      string
	flagConfig  string
	flagVerbose bool
	flagPreset  string

	// Config-key overrides (spec.md §6: "any config key as --<key> VALUE").
	// Only two scoring knobs and the store backend are exposed directly;
	// everything else goes through --config.
	flagSpamThreshold float64
	flagMinTokenCount int
	flagStoreBackend  string
)

var rootCmd = &cobra.Command{
	Use:   "mailprobe",
	Short: "mailprobe - a statistical email spam classifier",
	Long: `mailprobe assigns a probability that a message is unsolicited, learns
from corrected judgements, and persists its knowledge in a local
word-frequency store, in the Graham/Robinson lineage of Bayesian spam
filters.`,
}

// Execute runs the CLI; main.go's only job is to call this.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagDB, "db", "d", "", "store location (default ~/.mailprobe, or $MAILPROBE_DB)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "enable debug-level logging")
	rootCmd.PersistentFlags().StringVar(&flagPreset, "preset", "", "config preset: graham, conservative, aggressive")
	rootCmd.PersistentFlags().Float64Var(&flagSpamThreshold, "spam-threshold", 0, "override scoring.spam_threshold")
	rootCmd.PersistentFlags().IntVar(&flagMinTokenCount, "min-token-count", 0, "override scoring.min_token_count")
	rootCmd.PersistentFlags().StringVar(&flagStoreBackend, "backend", "", "override store.backend (bolt|redis)")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &config.ErrInvalid{Key: "flag", Reason: err.Error()}
	})

	rootCmd.AddCommand(createDBCmd)
	rootCmd.AddCommand(goodCmd)
	rootCmd.AddCommand(spamCmd)
	rootCmd.AddCommand(receiveCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(milterCmd)
}

// loadConfig resolves the effective configuration from flags, a config
// file, preset, and environment, applying the precedence the teacher's
// own cmd/config.go documents: defaults < preset < --config file <
// explicit flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Preset(flagPreset)
	if err != nil {
		return nil, err
	}

	if flagConfig != "" {
		fileCfg, err := config.Load(flagConfig, cfg)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	if flagDB != "" {
		cfg.Store.Path = flagDB
	} else if env := os.Getenv("MAILPROBE_DB"); env != "" {
		cfg.Store.Path = env
	}

	if flagSpamThreshold != 0 {
		cfg.Scoring.SpamThreshold = flagSpamThreshold
	}
	if flagMinTokenCount != 0 {
		cfg.Scoring.MinTokenCount = flagMinTokenCount
	}
	if flagStoreBackend != "" {
		cfg.Store.Backend = flagStoreBackend
	}

	if flagVerbose {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	return logging.New(cfg.Logging)
}
