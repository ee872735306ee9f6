package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var createDBCmd = &cobra.Command{
	Use:   "create-db",
	Short: "Initialize an empty store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := openStore(context.Background(), cfg, false)
		if err != nil {
			return err
		}
		return st.Close()
	},
}
