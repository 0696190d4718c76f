// Package quiesce runs actions that must not overlap with any other running
// instance: every peer is shut down first and a working instance is
// restored afterwards.
package quiesce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/solo/pkg/broadcast"
	"github.com/pixperk/solo/pkg/discovery"
	"github.com/pixperk/solo/pkg/fsm"
	"github.com/pixperk/solo/pkg/metrics"
	"github.com/pixperk/solo/pkg/types"
)

const (
	DefaultGracePeriod  = 10 * time.Second
	DefaultCloseWait    = 5 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// Action touches the unshared resource. A non-zero project asks for this
// process to reopen it as sole owner afterwards.
type Action func(ctx context.Context) (types.ProjectIdentity, error)

// Local is this process's side of a shutdown.
type Local interface {
	// close own windows and release the project data lock
	CloseLocal(ctx context.Context) error
	// re-run the startup path for project in this process
	Reopen(ctx context.Context, project types.ProjectIdentity) error
}

type Config struct {
	// how long peers get to exit after the close broadcast
	GracePeriod time.Duration
	// how long a terminated peer gets before it is killed
	CloseWait    time.Duration
	PollInterval time.Duration
	Logger       hclog.Logger
}

type Controller struct {
	cfg        Config
	state      *fsm.FSM
	dir        discovery.Directory
	coord      *broadcast.Coordinator
	terminator Terminator
	local      Local
	logger     hclog.Logger
}

func NewController(state *fsm.FSM, dir discovery.Directory, coord *broadcast.Coordinator, terminator Terminator, local Local, cfg Config) *Controller {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.CloseWait <= 0 {
		cfg.CloseWait = DefaultCloseWait
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if terminator == nil {
		terminator = ProcessTerminator{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Controller{
		cfg:        cfg,
		state:      state,
		dir:        dir,
		coord:      coord,
		terminator: terminator,
		local:      local,
		logger:     logger,
	}
}

// RunExclusive shuts down every peer, closes this process's project, runs
// action and reopens whatever project it returns. The exclusive flag is
// cleared on every return path, including a panicking action, which is
// reported as types.ErrActionPanicked.
func (c *Controller) RunExclusive(ctx context.Context, action Action) (project types.ProjectIdentity, err error) {
	if _, err := c.state.Apply(types.EnterExclusiveCmd{}); err != nil {
		return types.ProjectIdentity{}, err
	}
	metrics.ExclusiveMode.Set(1)
	c.logger.Info("entered exclusive mode")

	left := false
	leave := func() {
		if left {
			return
		}
		left = true
		if _, err := c.state.Apply(types.LeaveExclusiveCmd{}); err != nil {
			c.logger.Error("failed to leave exclusive mode", "error", err)
		}
		metrics.ExclusiveMode.Set(0)
		c.logger.Info("left exclusive mode")
	}
	defer leave()
	defer func() {
		status := "success"
		if err != nil {
			status = "failure"
		}
		metrics.ExclusiveRunTotal.WithLabelValues(status).Inc()
	}()

	c.shutdownPeers(ctx)

	if c.local != nil {
		if err := c.local.CloseLocal(ctx); err != nil {
			c.logger.Warn("failed to close local project", "error", err)
		}
	}
	if res, err := c.state.Apply(types.ClearProjectCmd{}); err == nil {
		if prev := res.(fsm.ClearProjectResponse).Previous; !prev.IsZero() {
			c.logger.Debug("released project", "project", prev)
		}
	}
	metrics.OwnsProject.Set(0)

	project, err = c.run(ctx, action)
	if err != nil {
		c.logger.Error("exclusive action failed", "error", err)
		return types.ProjectIdentity{}, err
	}

	//claims are refused while exclusive, so leave before reopening
	leave()

	if project.IsZero() || c.local == nil {
		return project, nil
	}
	if err := c.local.Reopen(ctx, project); err != nil {
		return types.ProjectIdentity{}, fmt.Errorf("reopen %s: %w", project, err)
	}
	return project, nil
}

func (c *Controller) run(ctx context.Context, action Action) (project types.ProjectIdentity, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", types.ErrActionPanicked, r)
		}
	}()
	return action(ctx)
}

// close broadcast, then terminate and kill whatever is still running
func (c *Controller) shutdownPeers(ctx context.Context) {
	peers, err := c.dir.ListLocalPeers(ctx)
	if err != nil {
		c.logger.Warn("peer discovery failed, skipping shutdown", "error", err)
		return
	}
	if len(peers) == 0 {
		return
	}

	reached := c.coord.BroadcastAll(ctx, "close_all", func(ctx context.Context, peer broadcast.Peer) error {
		handled, err := peer.CloseAllWindows(ctx)
		if err != nil {
			return err
		}
		if !handled {
			return errors.New("peer refused to close")
		}
		return nil
	})
	c.logger.Info("asked peers to close", "peers", len(peers), "reached", reached)

	survivors := c.waitForExit(ctx, peers, c.cfg.GracePeriod)
	if len(survivors) == 0 {
		return
	}

	for _, h := range survivors {
		c.logger.Warn("peer still running after grace period, terminating", "peer_pid", h.PID)
		metrics.ForcedShutdownTotal.WithLabelValues("terminate").Inc()
		if err := c.terminator.Terminate(ctx, h); err != nil {
			c.logger.Warn("terminate failed", "peer_pid", h.PID, "error", err)
		}
	}

	survivors = c.waitForExit(ctx, survivors, c.cfg.CloseWait)
	for _, h := range survivors {
		c.logger.Warn("peer ignored terminate, killing", "peer_pid", h.PID)
		metrics.ForcedShutdownTotal.WithLabelValues("kill").Inc()
		if err := c.terminator.Kill(ctx, h); err != nil {
			c.logger.Warn("kill failed", "peer_pid", h.PID, "error", err)
		}
	}

	//the action proceeds regardless, a survivor is only logged
	for _, h := range c.waitForExit(ctx, survivors, c.cfg.PollInterval*5) {
		metrics.ForcedShutdownTotal.WithLabelValues("survived").Inc()
		c.logger.Error("peer survived kill, continuing", "peer_pid", h.PID)
	}
}

// polls until every process has exited or the wait runs out, returning the
// ones still running
func (c *Controller) waitForExit(ctx context.Context, peers []types.ProcessHandle, wait time.Duration) []types.ProcessHandle {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		running := peers[:0:0]
		for _, h := range peers {
			if c.terminator.Running(ctx, h) {
				running = append(running, h)
			}
		}
		if len(running) == 0 || time.Now().After(deadline) {
			return running
		}
		peers = running

		select {
		case <-ctx.Done():
			return running
		case <-ticker.C:
		}
	}
}
