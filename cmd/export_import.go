package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Write the portable text dump to FILE",
	Args:  cobra.ExactArgs(1),
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

		f, err := os.Create(args[0])
		if err != nil {
			return fmt.Errorf("mailprobe: create %s: %w", args[0], err)
		}
		defer f.Close()

		return st.Export(ctx, f)
	},
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Load a portable text dump from FILE into the store",
	Long: `Loads a portable text dump from FILE. With the bolt backend the store's
previous contents are replaced. With the redis backend the dump's keys are
written over any existing ones; keys under the prefix that are not in the
dump are left in place.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()
		st, err := openStore(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer st.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("mailprobe: open %s: %w", args[0], err)
		}
		defer f.Close()

		return st.Import(ctx, f)
	},
}
