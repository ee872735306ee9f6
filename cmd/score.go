package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mailprobe/mailprobe/pkg/message"
)

var scoreCmd = &cobra.Command{
	Use:   "score FILE...",
	Short: "Classify messages without training",
	Long: `Classifies each message without mutating the store. Exit code is 0 if no
message scored as spam, 1 if any message scored as spam, 2 on error
(spec.md §6).`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			os.Exit(2)
			return nil
		}

		ctx := context.Background()
		c, st, err := openClassifier(ctx, cfg, true)
		if err != nil {
			os.Exit(2)
			return nil
		}
		defer st.Close()

		anySpam := false
		for _, path := range args {
			raws, err := message.ReadAllRaw(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "mailprobe: %s: %v\n", path, err)
				os.Exit(2)
			}
			for _, raw := range raws {
				result, err := c.Classify(ctx, raw)
				if err != nil {
					fmt.Fprintf(os.Stderr, "mailprobe: %s: %v\n", path, err)
					os.Exit(2)
				}
				label := "good"
				if result.IsSpam {
					label = "spam"
					anySpam = true
				}
				fmt.Printf("%s\tscore=%.4f\tlabel=%s\n", path, result.Score, label)
			}
		}

		if anySpam {
			os.Exit(1)
		}
		os.Exit(0)
		return nil
	},
}
