package cli

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/solo/pkg/types"
)

// headlessShell stands in for a window system and logs what it is asked
// to show
type headlessShell struct {
	logger hclog.Logger
}

func newHeadlessShell(logger hclog.Logger) *headlessShell {
	return &headlessShell{logger: logger.Named("shell")}
}

func (s *headlessShell) OpenProject(ctx context.Context, p types.ProjectIdentity, args types.StartupArgs) error {
	s.logger.Info("project window opened", "project", p, "path", p.Path, "locale", args.Locale)
	return nil
}

func (s *headlessShell) ActivateProject(p types.ProjectIdentity, args types.StartupArgs) {
	s.logger.Info("project window activated", "project", p, "locale", args.Locale)
}

func (s *headlessShell) FollowLink(args types.LinkArgs) bool {
	s.logger.Info("following link", "project", args.Project, "tool", args.Tool, "target", args.Target)
	return true
}

func (s *headlessShell) CloseWindows() {
	s.logger.Info("all windows closed")
}
