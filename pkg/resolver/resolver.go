// Package resolver decides, on the calling side, whether this process should
// open a project or hand it to the peer that already has it.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/solo/pkg/broadcast"
	"github.com/pixperk/solo/pkg/client"
	"github.com/pixperk/solo/pkg/fsm"
	"github.com/pixperk/solo/pkg/metrics"
	soltime "github.com/pixperk/solo/pkg/time"
	"github.com/pixperk/solo/pkg/types"
)

const (
	DefaultRaceYieldAfter = 10 * time.Second
	DefaultRepollInterval = 100 * time.Millisecond
	DefaultYieldStagger   = 250 * time.Millisecond
)

// Outcome of a resolution
type Outcome int

const (
	// no peer claimed the project, this process now owns it
	OutcomeOwner Outcome = iota
	// a peer owns the project and was asked to activate it
	OutcomeForwarded
	// a peer kept answering unknown past the race limit, this process gave up
	OutcomeYielded
	// a peer is running an exclusive action, nothing may be opened
	OutcomeExclusiveElsewhere
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOwner:
		return "owner"
	case OutcomeForwarded:
		return "forwarded"
	case OutcomeYielded:
		return "yielded"
	case OutcomeExclusiveElsewhere:
		return "exclusive_elsewhere"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Handled reports whether the project is taken care of by another process,
// in which case this one must not open it.
func (o Outcome) Handled() bool {
	return o != OutcomeOwner
}

type Result struct {
	Outcome Outcome
	// port of the deciding peer, 0 when this process became the owner
	Port    int
	Verdict types.Verdict
}

type Config struct {
	// cumulative unknown answers from one peer before yielding
	RaceYieldAfter time.Duration
	// pause between re-polls of a peer that answered unknown
	RepollInterval time.Duration
	// extra patience per listener rank, so two racers do not give up together
	YieldStagger   time.Duration
	Logger         hclog.Logger
}

type Resolver struct {
	cfg    Config
	state  *fsm.FSM
	coord  *broadcast.Coordinator
	rank   atomic.Int64
	logger hclog.Logger
}

func New(state *fsm.FSM, coord *broadcast.Coordinator, cfg Config) *Resolver {
	if cfg.RaceYieldAfter <= 0 {
		cfg.RaceYieldAfter = DefaultRaceYieldAfter
	}
	if cfg.RepollInterval <= 0 {
		cfg.RepollInterval = DefaultRepollInterval
	}
	if cfg.YieldStagger < 0 {
		cfg.YieldStagger = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Resolver{
		cfg:    cfg,
		state:  state,
		coord:  coord,
		logger: logger,
	}
}

// SetRank records this listener's offset from the base port. Higher ranks
// wait longer before yielding a symmetric race.
func (r *Resolver) SetRank(rank int) {
	if rank < 0 {
		rank = 0
	}
	r.rank.Store(int64(rank))
}

func (r *Resolver) yieldAfter() time.Duration {
	return r.cfg.RaceYieldAfter + time.Duration(r.rank.Load())*r.cfg.YieldStagger
}

// ResolveOwnership asks every peer, in port order, to open p. The first peer
// that owns it (or is in exclusive mode) ends the scan. When nobody claims it
// this process becomes the owner.
//
// While resolving, this process answers unknown for p so a peer racing for the
// same project keeps polling instead of opening it too. Every return without
// a claim leaves the process settled, answering not mine.
func (r *Resolver) ResolveOwnership(ctx context.Context, p types.ProjectIdentity, args types.StartupArgs) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if cur, ok := r.state.Current(); ok {
		if cur.Equal(p) {
			return Result{Outcome: OutcomeOwner, Verdict: types.VerdictIsMine}, nil
		}
		return Result{}, fmt.Errorf("resolve %s: %w", p, types.ErrAlreadyOwnsProject)
	}
	if r.state.Exclusive() {
		return Result{}, fmt.Errorf("resolve %s: %w", p, types.ErrExclusiveModeActive)
	}

	r.setResolving(true)

	var res Result
	found := r.coord.FindFirst(ctx, "open_project", func(ctx context.Context, peer broadcast.Peer) bool {
		return r.ask(ctx, peer, p, args, &res)
	})
	if err := ctx.Err(); err != nil && !found {
		r.setResolving(false)
		return Result{}, fmt.Errorf("resolve %s: %w", p, err)
	}

	if found {
		r.setResolving(false)
		if res.Outcome == OutcomeYielded {
			//stop answering unknown so the peer we raced can move on
			if _, err := r.state.Apply(types.SetWaitingCmd{Waiting: true}); err != nil {
				r.logger.Warn("failed to mark waiting after yield", "error", err)
			}
			metrics.RaceYieldTotal.Inc()
		}
		metrics.ResolveTotal.WithLabelValues(res.Outcome.String()).Inc()
		r.logger.Info("project handled elsewhere", "project", p, "outcome", res.Outcome, "port", res.Port, "verdict", res.Verdict)
		return res, nil
	}

	if _, err := r.state.Apply(types.ClaimProjectCmd{Project: p}); err != nil {
		r.setResolving(false)
		return Result{}, fmt.Errorf("claim %s: %w", p, err)
	}
	metrics.ResolveTotal.WithLabelValues(OutcomeOwner.String()).Inc()
	metrics.OwnsProject.Set(1)
	r.logger.Info("became project owner", "project", p)

	return Result{Outcome: OutcomeOwner, Verdict: types.VerdictIsMine}, nil
}

// while resolving, a process without a project answers unknown; once
// settled it answers not mine so later starters do not wait on it
func (r *Resolver) setResolving(on bool) {
	if _, err := r.state.Apply(types.SetResolvingCmd{Resolving: on}); err != nil {
		r.logger.Warn("failed to update resolving state", "resolving", on, "error", err)
	}
}

// ask one peer, re-polling it while it has not decided yet
func (r *Resolver) ask(ctx context.Context, peer broadcast.Peer, p types.ProjectIdentity, args types.StartupArgs, res *Result) bool {
	clock := soltime.NewClock()
	limit := r.yieldAfter()

	for {
		v, err := r.openOnce(ctx, peer, p, args)
		if err != nil {
			if client.IsTimeout(err) && ctx.Err() == nil {
				//a peer too busy to answer is assumed to be running an exclusive action
				r.logger.Warn("open request timed out, assuming handled elsewhere", "port", peer.Port(), "error", err)
				*res = Result{Outcome: OutcomeExclusiveElsewhere, Port: peer.Port(), Verdict: types.VerdictExclusiveModeActive}
				return true
			}
			r.logger.Debug("open request failed, skipping peer", "port", peer.Port(), "error", err)
			return false
		}

		switch v {
		case types.VerdictIsMine:
			*res = Result{Outcome: OutcomeForwarded, Port: peer.Port(), Verdict: v}
			return true
		case types.VerdictExclusiveModeActive:
			*res = Result{Outcome: OutcomeExclusiveElsewhere, Port: peer.Port(), Verdict: v}
			return true
		case types.VerdictUnknown:
			if clock.Exceeded(limit) {
				r.logger.Warn("peer undecided past race limit, yielding", "port", peer.Port(), "waited", clock.Elapsed())
				*res = Result{Outcome: OutcomeYielded, Port: peer.Port(), Verdict: v}
				return true
			}
			r.logger.Trace("peer undecided, polling again", "port", peer.Port(), "waited", clock.Elapsed())
			select {
			case <-ctx.Done():
				return false
			case <-time.After(r.cfg.RepollInterval):
			}
		default:
			//not mine or waiting: next peer
			return false
		}
	}
}

// companion-only peers cannot activate a project, only report on it
func (r *Resolver) openOnce(ctx context.Context, peer broadcast.Peer, p types.ProjectIdentity, args types.StartupArgs) (types.Verdict, error) {
	v, err := peer.OpenProject(ctx, p, args)
	if errors.Is(err, types.ErrPeerUnsupported) {
		return peer.OwnershipStatus(ctx, p)
	}
	return v, err
}

// ForwardLink hands a link to whichever peer owns its project. It reports
// whether a peer followed it.
func (r *Resolver) ForwardLink(ctx context.Context, args types.LinkArgs) (bool, error) {
	if err := args.Project.Validate(); err != nil {
		return false, err
	}
	handled := r.coord.FindFirst(ctx, "link", func(ctx context.Context, peer broadcast.Peer) bool {
		ok, err := peer.HandleLink(ctx, args)
		if err != nil {
			r.logger.Debug("link request failed", "port", peer.Port(), "error", err)
			return false
		}
		return ok
	})
	r.logger.Debug("link forwarded", "project", args.Project, "tool", args.Tool, "handled", handled)
	return handled, nil
}

// ForwardRestore hands a restore to the peer that owns the project. The
// peer runs it under its own exclusive mode.
func (r *Resolver) ForwardRestore(ctx context.Context, settings types.RestoreSettings) (bool, error) {
	if err := settings.Project.Validate(); err != nil {
		return false, err
	}
	handled := r.coord.FindFirst(ctx, "restore", func(ctx context.Context, peer broadcast.Peer) bool {
		ok, err := peer.HandleRestore(ctx, settings)
		if err != nil {
			r.logger.Debug("restore request failed", "port", peer.Port(), "error", err)
			return false
		}
		return ok
	})
	r.logger.Debug("restore forwarded", "project", settings.Project, "handled", handled)
	return handled, nil
}
