package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run a maintenance pass (age + low-count deletion)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()
		c, st, err := openClassifier(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer st.Close()

		result, err := c.Maintain(ctx, nowFunc())
		if err != nil {
			return err
		}

		fmt.Printf("removed %d term(s), reclaimed %d byte(s)\n", result.TermsRemoved, result.BytesReclaimed)
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Drop all records below min_token_count, regardless of age",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()
		c, st, err := openClassifier(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer st.Close()

		result, err := c.Purge(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("purged %d term(s)\n", result.TermsRemoved)
		return nil
	},
}
