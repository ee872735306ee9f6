package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mailprobe/mailprobe/pkg/milter"
)

var milterCmd = &cobra.Command{
	Use:   "milter",
	Short: "Run mailprobe as a milter (mail filter) daemon",
}

var milterServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept milter connections and classify mail as it is delivered",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.Milter.Enabled {
			return fmt.Errorf("mailprobe: milter.enabled is false in configuration")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, st, err := openClassifier(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer st.Close()

		log, err := newLogger(cfg)
		if err != nil {
			return err
		}

		srv, err := milter.NewServer(cfg, c, log)
		if err != nil {
			return err
		}
		defer srv.Close()

		listener, err := milter.Listen(cfg)
		if err != nil {
			return err
		}

		fmt.Printf("mailprobe: milter listening on %s %s\n", cfg.Milter.Network, cfg.Milter.Address)
		return srv.Serve(ctx, listener)
	},
}

func init() {
	milterCmd.AddCommand(milterServeCmd)
}
