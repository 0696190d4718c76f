package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/pixperk/solo/pkg/node"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newPeersCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List running instances and the project each has open",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load(v)
			if err != nil {
				return err
			}

			peers, err := node.ListPeers(cmd.Context(), cfg.NodeConfig(logger))
			if err != nil {
				return err
			}
			if len(peers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no running instances")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PORT\tPID\tINSTANCE\tPROJECT")
			for _, p := range peers {
				project := p.Project
				if project == "" {
					project = "-"
				}
				if p.Limited {
					project += " (companion)"
				}
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", p.Port, p.PID, p.InstanceID, project)
			}
			return w.Flush()
		},
	}
}
