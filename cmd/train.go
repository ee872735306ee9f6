package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailprobe/mailprobe/pkg/classifier"
	"github.com/mailprobe/mailprobe/pkg/message"
)

var goodCmd = &cobra.Command{
	Use:   "good FILE...",
	Short: "Train one or more messages as good (ham)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  trainCommand(classifier.Good),
}

var spamCmd = &cobra.Command{
	Use:   "spam FILE...",
	Short: "Train one or more messages as spam",
	Args:  cobra.MinimumNArgs(1),
	RunE:  trainCommand(classifier.Spam),
}

// trainCommand builds the RunE for good/spam: both read one or more
// message sources (mbox auto-detected by a leading "From " line, or a
// maildir directory) and train every message found (spec.md §6).
func trainCommand(class classifier.Class) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
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

		now := nowFunc()
		var trained, failed int

		for _, path := range args {
			raws, err := message.ReadAllRaw(path)
			if err != nil {
				fmt.Printf("skip %s: %v\n", path, err)
				failed++
				continue
			}
			for _, raw := range raws {
				if err := c.Train(ctx, raw, class, now); err != nil {
					fmt.Printf("train error in %s: %v\n", path, err)
					failed++
					continue
				}
				trained++
			}
		}

		fmt.Printf("trained %d message(s), %d failure(s)\n", trained, failed)
		if failed > 0 && trained == 0 {
			return fmt.Errorf("no messages trained successfully")
		}
		return nil
	}
}
