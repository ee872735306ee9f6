package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mailprobe/mailprobe/pkg/classifier"
)

var (
	receiveTrain  bool
	receiveActual string
)

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Classify one message read from standard input",
	Long: `Reads one message from standard input and classifies it. With --train,
also trains the store: if --actual is given (good|spam), training only
happens when the prediction disagrees with it (selective / train-on-error
mode, spec.md §4.5); otherwise the message trains under its own
prediction.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("mailprobe: read stdin: %w", err)
		}

		ctx := context.Background()
		c, st, err := openClassifier(ctx, cfg, !receiveTrain)
		if err != nil {
			return err
		}
		defer st.Close()

		result, err := c.Classify(ctx, raw)
		if err != nil {
			return err
		}

		label := "good"
		if result.IsSpam {
			label = "spam"
		}
		fmt.Printf("score=%.4f label=%s\n", result.Score, label)

		if !receiveTrain {
			return nil
		}

		now := nowFunc()
		if receiveActual != "" {
			trueClass, err := parseClassFlag(receiveActual)
			if err != nil {
				return err
			}
			trained, err := c.TrainIfMisclassified(ctx, raw, trueClass, now)
			if err != nil {
				return err
			}
			if trained {
				fmt.Println("trained (misclassified)")
			}
			return nil
		}

		predicted := classifier.Good
		if result.IsSpam {
			predicted = classifier.Spam
		}
		return c.Train(ctx, raw, predicted, now)
	},
}

func parseClassFlag(s string) (classifier.Class, error) {
	switch strings.ToLower(s) {
	case "good", "ham":
		return classifier.Good, nil
	case "spam":
		return classifier.Spam, nil
	default:
		return classifier.Good, fmt.Errorf("mailprobe: --actual must be \"good\" or \"spam\", got %q", s)
	}
}

func init() {
	receiveCmd.Flags().BoolVar(&receiveTrain, "train", false, "also train the store with the classification result")
	receiveCmd.Flags().StringVar(&receiveActual, "actual", "", "true class (good|spam) for selective train-on-error mode")
}
