// Package cli holds the solo command tree.
package cli

import (
	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/solo/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// set at build time with -ldflags "-X github.com/pixperk/solo/internal/cli.Version=..."
var Version = "dev"

// NewRootCommand builds the command tree around its own viper instance.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:   "solo",
		Short: "Single-owner project coordination across running instances",
		Long: `solo makes sure that at most one running instance opens a given
project. A starting instance asks its peers on the local machine whether
one of them already owns the project and hands the request over if so.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.Init(v, cfgFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.config/solo/config.yaml)")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.Bool("log-json", false, "log as JSON")
	flags.String("data-dir", "", "data directory")
	flags.Int("base-port", 0, "first listener port")
	flags.String("discovery", "", "peer discovery mode (process or registry)")
	flags.String("gateway-addr", "", "HTTP address for /metrics and /status, empty disables")
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log.json", flags.Lookup("log-json"))
	_ = v.BindPFlag("data.dir", flags.Lookup("data-dir"))
	_ = v.BindPFlag("listener.base_port", flags.Lookup("base-port"))
	_ = v.BindPFlag("discovery.mode", flags.Lookup("discovery"))
	_ = v.BindPFlag("gateway.addr", flags.Lookup("gateway-addr"))

	root.AddCommand(
		newOpenCommand(v),
		newPeersCommand(v),
		newMoveDataCommand(v),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}

func load(v *viper.Viper) (*config.Config, hclog.Logger, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cfg.NewLogger(), nil
}
