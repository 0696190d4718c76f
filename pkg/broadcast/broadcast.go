// Package broadcast runs the two iteration patterns every coordination
// operation is built from: ask peers until one says yes, and tell every
// reachable peer to do something.
package broadcast

import (
	"context"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/solo/pkg/client"
	"github.com/pixperk/solo/pkg/discovery"
	"github.com/pixperk/solo/pkg/metrics"
	"github.com/pixperk/solo/pkg/types"
)

// operations a broadcast can perform against one peer
type Peer interface {
	Port() int
	OwnershipStatus(ctx context.Context, project types.ProjectIdentity) (types.Verdict, error)
	OpenProject(ctx context.Context, project types.ProjectIdentity, args types.StartupArgs) (types.Verdict, error)
	HandleLink(ctx context.Context, args types.LinkArgs) (bool, error)
	HandleRestore(ctx context.Context, settings types.RestoreSettings) (bool, error)
	CloseAllWindows(ctx context.Context) (bool, error)
	ProjectName(ctx context.Context) (string, error)
	Close() error
}

// DialFunc returns a live peer on port, or false when nothing answers there.
type DialFunc func(ctx context.Context, port int) (Peer, bool)

// adapts a client.Dialer to DialFunc
func DialWith(d *client.Dialer) DialFunc {
	return func(ctx context.Context, port int) (Peer, bool) {
		p, ok := d.Dial(ctx, port)
		if !ok {
			return nil, false
		}
		return p, true
	}
}

type Coordinator struct {
	dir      discovery.Directory
	dial     DialFunc
	selfPort atomic.Int64
	logger   hclog.Logger
}

func NewCoordinator(dir discovery.Directory, dial DialFunc, logger hclog.Logger) *Coordinator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Coordinator{
		dir:    dir,
		dial:   dial,
		logger: logger,
	}
}

// SetSelfPort excludes this process's own listener from every scan.
func (c *Coordinator) SetSelfPort(port int) {
	c.selfPort.Store(int64(port))
}

// FindFirst probes candidate ports in ascending order and stops at the first
// live peer for which pred returns true. Without peers it returns false
// without touching the network.
func (c *Coordinator) FindFirst(ctx context.Context, op string, pred func(ctx context.Context, peer Peer) bool) bool {
	return c.scan(ctx, op, func(ctx context.Context, peer Peer) bool {
		if pred(ctx, peer) {
			metrics.PeerProbeTotal.WithLabelValues(op, "match").Inc()
			c.logger.Debug("peer matched", "op", op, "port", peer.Port())
			return true
		}
		metrics.PeerProbeTotal.WithLabelValues(op, "miss").Inc()
		return false
	})
}

// BroadcastAll runs action against every reachable peer. Failures are
// logged and skipped. It returns how many peers were reached.
func (c *Coordinator) BroadcastAll(ctx context.Context, op string, action func(ctx context.Context, peer Peer) error) int {
	reached := 0
	c.scan(ctx, op, func(ctx context.Context, peer Peer) bool {
		reached++
		if err := action(ctx, peer); err != nil {
			metrics.PeerProbeTotal.WithLabelValues(op, "error").Inc()
			c.logger.Warn("broadcast to peer failed", "op", op, "port", peer.Port(), "error", err)
			return false
		}
		metrics.PeerProbeTotal.WithLabelValues(op, "ok").Inc()
		return false
	})
	return reached
}

func (c *Coordinator) scan(ctx context.Context, op string, visit func(ctx context.Context, peer Peer) bool) bool {
	peers, err := c.dir.ListLocalPeers(ctx)
	if err != nil {
		c.logger.Warn("peer discovery failed", "op", op, "error", err)
		return false
	}
	if len(peers) == 0 {
		c.logger.Trace("no local peers", "op", op)
		return false
	}

	self := int(c.selfPort.Load())
	for _, port := range c.dir.CandidatePorts(ctx, peers) {
		if port == self {
			continue
		}
		if ctx.Err() != nil {
			return false
		}
		if c.probe(ctx, op, port, visit) {
			return true
		}
	}
	return false
}

// one dial, one visit, channel always torn down
func (c *Coordinator) probe(ctx context.Context, op string, port int, visit func(ctx context.Context, peer Peer) bool) bool {
	peer, ok := c.dial(ctx, port)
	if !ok {
		metrics.PeerProbeTotal.WithLabelValues(op, "unreachable").Inc()
		return false
	}
	defer func() {
		if err := peer.Close(); err != nil {
			c.logger.Trace("failed to close peer channel", "port", port, "error", err)
		}
	}()

	return visit(ctx, peer)
}
