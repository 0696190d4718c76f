package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pixperk/solo/pkg/node"
	"github.com/pixperk/solo/pkg/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type openOptions struct {
	project    string
	path       string
	backend    string
	locale     string
	restore    string
	linkTool   string
	linkTarget string
	autoOpen   string
}

func newOpenCommand(v *viper.Viper) *cobra.Command {
	opts := &openOptions{}

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Start an instance and open a project unless another instance has it",
		Long: `Starts an instance and runs the startup path:

  - a link (--link-tool) is handed to the instance owning its project
  - a restore (--restore) runs in the owning instance, or here with every
    other instance shut down
  - otherwise the project (or the last one, with auto open on) is opened
    here unless a running instance already owns it

The instance keeps serving its peers until interrupted or asked to close.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOpen(cmd, v, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.project, "project", "p", "", "project name")
	f.StringVar(&opts.path, "path", "", "project directory (default is <data-dir>/projects/<name>)")
	f.StringVar(&opts.backend, "backend", string(types.BackendXML), "storage backend (xml or db)")
	f.StringVar(&opts.locale, "locale", "", "user interface locale")
	f.StringVar(&opts.restore, "restore", "", "restore the project from this backup file")
	f.StringVar(&opts.linkTool, "link-tool", "", "follow a link into this tool of the project")
	f.StringVar(&opts.linkTarget, "link-target", "", "object the link points at")
	f.StringVar(&opts.autoOpen, "auto-open", "", "remember whether a bare start reopens the last project (on or off)")

	return cmd
}

func (o *openOptions) startupArgs() (types.StartupArgs, error) {
	var project types.ProjectIdentity
	if o.project != "" {
		project = types.ProjectIdentity{
			Name:    o.project,
			Backend: types.BackendKind(o.backend),
			Path:    o.path,
		}
		if err := project.Validate(); err != nil {
			return types.StartupArgs{}, fmt.Errorf("--project %q --backend %q: %w", o.project, o.backend, err)
		}
	}

	args := types.StartupArgs{
		Project:     project,
		Locale:      o.locale,
		RestoreFile: o.restore,
	}
	if o.restore != "" && project.IsZero() {
		return args, fmt.Errorf("--restore needs --project")
	}
	if o.linkTool != "" {
		if project.IsZero() {
			return args, fmt.Errorf("--link-tool needs --project")
		}
		args.Link = &types.LinkArgs{Project: project, Tool: o.linkTool, Target: o.linkTarget}
	}
	return args, nil
}

func runOpen(cmd *cobra.Command, v *viper.Viper, opts *openOptions) error {
	cfg, logger, err := load(v)
	if err != nil {
		return err
	}
	args, err := opts.startupArgs()
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

	switch opts.autoOpen {
	case "":
	case "on", "off":
		if err := n.SetAutoOpen(opts.autoOpen == "on"); err != nil {
			logger.Warn("failed to save auto open", "error", err)
		}
	default:
		return fmt.Errorf("--auto-open must be on or off, got %q", opts.autoOpen)
	}

	//peers may call in while this instance is still resolving
	runErr := make(chan error, 1)
	go func() { runErr <- n.Run(ctx) }()

	res, err := n.Start(ctx, args)
	if err != nil {
		_ = n.Close()
		<-runErr
		return err
	}

	out := cmd.OutOrStdout()
	switch res.Outcome {
	case node.OutcomeHandledElsewhere:
		fmt.Fprintf(out, "%s is handled by another instance (%s)\n", res.Project, res.Resolution.Outcome)
		_ = n.Close()
		<-runErr
		return nil
	case node.OutcomeOpened:
		fmt.Fprintf(out, "opened %s on port %d\n", res.Project, n.Port())
	default:
		fmt.Fprintf(out, "running on port %d with no project open\n", n.Port())
	}

	return <-runErr
}

