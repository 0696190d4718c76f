package node

import (
	"context"
	"fmt"

	"github.com/pixperk/solo/pkg/metrics"
	"github.com/pixperk/solo/pkg/resolver"
	"github.com/pixperk/solo/pkg/storage"
	"github.com/pixperk/solo/pkg/types"
)

// what the startup path ended with
type Outcome int

const (
	// up and serving, no project open
	OutcomeIdle Outcome = iota
	// this instance opened the project
	OutcomeOpened
	// another instance took the request, this one should exit
	OutcomeHandledElsewhere
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIdle:
		return "idle"
	case OutcomeOpened:
		return "opened"
	case OutcomeHandledElsewhere:
		return "handled_elsewhere"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type StartResult struct {
	Outcome    Outcome
	Project    types.ProjectIdentity
	Resolution resolver.Result
}

// Start runs the startup path for the given command line: links and
// restores go to whoever owns their project, then the requested (or last)
// project is resolved and opened here when nobody else has it.
func (n *Node) Start(ctx context.Context, args types.StartupArgs) (StartResult, error) {
	defer n.settle()

	if args.Link != nil {
		return n.startLink(ctx, args)
	}
	if args.RestoreFile != "" {
		return n.startRestore(ctx, args)
	}

	project := n.normalize(args.Project)
	if project.IsZero() {
		last, ok, err := n.autoOpenProject()
		if err != nil {
			n.logger.Warn("failed to read settings", "error", err)
		}
		if !ok {
			n.logger.Info("no project requested")
			return StartResult{Outcome: OutcomeIdle}, nil
		}
		project = last
	}
	args.Project = project

	return n.openProject(ctx, project, args)
}

// an instance that ends startup without a project is done deciding and
// must stop answering unknown
func (n *Node) settle() {
	if _, ok := n.fsm.Current(); ok {
		return
	}
	if _, err := n.fsm.Apply(types.SetResolvingCmd{Resolving: false}); err != nil {
		n.logger.Warn("failed to settle without a project", "error", err)
	}
}

func (n *Node) startLink(ctx context.Context, args types.StartupArgs) (StartResult, error) {
	link := *args.Link
	link.Project = n.normalize(link.Project)

	handled, err := n.resolver.ForwardLink(ctx, link)
	if err != nil {
		return StartResult{}, err
	}
	if handled {
		return StartResult{Outcome: OutcomeHandledElsewhere, Project: link.Project}, nil
	}

	// nobody has the project open yet: open it here and follow the link
	args.Project = link.Project
	res, err := n.openProject(ctx, link.Project, args)
	if err != nil || res.Outcome != OutcomeOpened {
		return res, err
	}
	if n.shell != nil && !n.shell.FollowLink(link) {
		n.logger.Warn("link could not be followed", "project", link.Project, "tool", link.Tool, "target", link.Target)
	}
	return res, nil
}

func (n *Node) startRestore(ctx context.Context, args types.StartupArgs) (StartResult, error) {
	settings := types.RestoreSettings{
		Project:            n.normalize(args.Project),
		BackupFile:         args.RestoreFile,
		CreateSafetyBackup: true,
	}

	handled, err := n.resolver.ForwardRestore(ctx, settings)
	if err != nil {
		return StartResult{}, err
	}
	if handled {
		return StartResult{Outcome: OutcomeHandledElsewhere, Project: settings.Project}, nil
	}

	project, err := n.RunExclusive(ctx, n.restoreAction(settings))
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{
		Outcome:    OutcomeOpened,
		Project:    project,
		Resolution: resolver.Result{Outcome: resolver.OutcomeOwner, Verdict: types.VerdictIsMine},
	}, nil
}

func (n *Node) restoreAction(settings types.RestoreSettings) func(ctx context.Context) (types.ProjectIdentity, error) {
	return func(ctx context.Context) (types.ProjectIdentity, error) {
		if err := n.store.Restore(settings); err != nil {
			return types.ProjectIdentity{}, err
		}
		return settings.Project, nil
	}
}

// resolve ownership, and on becoming the owner lock the data and open it
func (n *Node) openProject(ctx context.Context, project types.ProjectIdentity, args types.StartupArgs) (StartResult, error) {
	res, err := n.resolver.ResolveOwnership(ctx, project, args)
	if err != nil {
		return StartResult{}, err
	}
	if res.Outcome.Handled() {
		n.logger.Info("project handled by another instance", "project", project, "outcome", res.Outcome, "port", res.Port)
		return StartResult{Outcome: OutcomeHandledElsewhere, Project: project, Resolution: res}, nil
	}

	if err := n.acquireLock(project); err != nil {
		n.abandon(project)
		return StartResult{}, err
	}
	if n.shell != nil {
		if err := n.shell.OpenProject(ctx, project, args); err != nil {
			n.abandon(project)
			return StartResult{}, fmt.Errorf("open %s: %w", project, err)
		}
	}
	if err := n.withSettings(func(s *storage.SettingsStore) error { return s.SetLastProject(project) }); err != nil {
		n.logger.Warn("failed to remember last project", "error", err)
	}

	n.logger.Info("project opened", "project", project)
	return StartResult{Outcome: OutcomeOpened, Project: project, Resolution: res}, nil
}

func (n *Node) acquireLock(project types.ProjectIdentity) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.lock != nil {
		return nil
	}
	lock, err := storage.AcquireProjectLock(project.Path)
	if err != nil {
		return fmt.Errorf("lock %s: %w", project, err)
	}
	n.lock = lock
	return nil
}

// back to no project open
func (n *Node) abandon(project types.ProjectIdentity) {
	if _, err := n.fsm.Apply(types.ClearProjectCmd{}); err != nil {
		n.logger.Warn("failed to clear project", "project", project, "error", err)
	}
	if err := n.releaseLock(); err != nil {
		n.logger.Warn("failed to release project lock", "error", err)
	}
	metrics.OwnsProject.Set(0)
}

func (n *Node) autoOpenProject() (types.ProjectIdentity, bool, error) {
	var (
		last types.ProjectIdentity
		ok   bool
	)
	err := n.withSettings(func(s *storage.SettingsStore) error {
		on, err := s.AutoOpen()
		if err != nil || !on {
			return err
		}
		last, ok, err = s.LastProject()
		return err
	})
	return last, ok, err
}

// settings live in a file every instance shares, so it is held only for
// the duration of one access
func (n *Node) withSettings(fn func(*storage.SettingsStore) error) error {
	s, err := storage.OpenSettingsStore(n.cfg.DataDir)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// SetAutoOpen records whether a bare start reopens the last project.
func (n *Node) SetAutoOpen(on bool) error {
	return n.withSettings(func(s *storage.SettingsStore) error { return s.SetAutoOpen(on) })
}

// RunExclusive shuts every other instance down and runs action alone.
func (n *Node) RunExclusive(ctx context.Context, action func(ctx context.Context) (types.ProjectIdentity, error)) (types.ProjectIdentity, error) {
	return n.quiesce.RunExclusive(ctx, action)
}

// MoveData relocates the data directory with no other instance running and
// reopens the current project from its new place.
func (n *Node) MoveData(ctx context.Context, newRoot string) (types.ProjectIdentity, error) {
	current, _ := n.fsm.Current()
	return n.RunExclusive(ctx, func(ctx context.Context) (types.ProjectIdentity, error) {
		oldRoot := n.store.Root()
		if err := n.store.Move(newRoot); err != nil {
			return types.ProjectIdentity{}, err
		}
		if current.IsZero() {
			return current, nil
		}
		return rebase(current, oldRoot, n.store.Root()), nil
	})
}

// closes windows and lets go of the data lock ahead of an exclusive action
func (n *Node) CloseLocal(ctx context.Context) error {
	if n.shell != nil {
		n.shell.CloseWindows()
	}
	return n.releaseLock()
}

// opens the project again after an exclusive action
func (n *Node) Reopen(ctx context.Context, project types.ProjectIdentity) error {
	res, err := n.openProject(ctx, project, types.StartupArgs{Project: project})
	if err != nil {
		return err
	}
	if res.Outcome != OutcomeOpened {
		return fmt.Errorf("reopen %s: %s", project, res.Resolution.Outcome)
	}
	return nil
}

// server.Host

func (n *Node) ActivateProject(project types.ProjectIdentity, args types.StartupArgs) {
	if n.shell != nil {
		n.shell.ActivateProject(project, args)
	}
}

func (n *Node) FollowLink(args types.LinkArgs) bool {
	if n.shell == nil {
		return false
	}
	return n.shell.FollowLink(args)
}

// the restore runs after the reply, under this instance's exclusive mode
func (n *Node) RestoreProject(settings types.RestoreSettings) bool {
	go func() {
		if _, err := n.RunExclusive(context.Background(), n.restoreAction(settings)); err != nil {
			n.logger.Error("restore failed", "project", settings.Project, "error", err)
		}
	}()
	return true
}

func (n *Node) CloseAllWindows() bool {
	if err := n.CloseLocal(context.Background()); err != nil {
		n.logger.Warn("failed to release project on close", "error", err)
	}
	if _, err := n.fsm.Apply(types.ClearProjectCmd{}); err != nil {
		n.logger.Warn("failed to clear project on close", "error", err)
	}
	metrics.OwnsProject.Set(0)
	n.logger.Info("asked to close by another instance, exiting")
	n.requestExit()
	return true
}
