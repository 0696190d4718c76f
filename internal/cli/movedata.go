package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pixperk/solo/pkg/node"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newMoveDataCommand(v *viper.Viper) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "move-data",
		Short: "Shut down every instance and move the project data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if to == "" {
				return fmt.Errorf("--to is required")
			}
			cfg, logger, err := load(v)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			n, err := node.NewNode(ctx, cfg.NodeConfig(logger), newHeadlessShell(logger))
			if err != nil {
				return err
			}
			defer n.Close()

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() { _ = n.Run(runCtx) }()

			from := n.Store().Root()
			if _, err := n.MoveData(ctx, to); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "moved %s to %s\n", from, n.Store().Root())
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "new location of the project data directory")
	return cmd
}
