package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print corpus counters and store configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()
		st, err := openStore(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer st.Close()

		counters, err := st.Counters(ctx)
		if err != nil {
			return err
		}
		stats, err := st.Stats(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("store:            %s\n", cfg.Store.Path)
		fmt.Printf("backend:          %s\n", cfg.Store.Backend)
		fmt.Printf("total good:       %d\n", counters.TotalGood)
		fmt.Printf("total spam:       %d\n", counters.TotalSpam)
		fmt.Printf("vocabulary size:  %d\n", stats.VocabSize)
		fmt.Printf("cache hit ratio:  %s\n", hitRatio(stats.CacheHits, stats.CacheMisses))
		fmt.Printf("cache size:       %d\n", cfg.Store.CacheSize)
		fmt.Printf("expiry days:      %d\n", cfg.Store.ExpiryDays)
		fmt.Printf("spam threshold:   %.4f\n", cfg.Scoring.SpamThreshold)
		fmt.Printf("min token count:  %d\n", cfg.Scoring.MinTokenCount)
		return nil
	},
}

func hitRatio(hits, misses int64) string {
	total := hits + misses
	if total == 0 {
		return "n/a (no lookups yet)"
	}
	return fmt.Sprintf("%.1f%% (%d hits / %d misses)", 100*float64(hits)/float64(total), hits, misses)
}
