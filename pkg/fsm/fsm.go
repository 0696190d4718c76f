package fsm

import (
	"fmt"
	"sync"

	"github.com/pixperk/solo/pkg/types"
)

// process-local ownership state
// critical :
// - at most one current project per process
// - while exclusive is set every query answers ExclusiveModeActive
// - reads never block on long operations, writes are rare
type FSM struct {
	mu sync.RWMutex

	current   types.ProjectIdentity // zero value = no project
	resolving bool                  // no project yet, still deciding which to open
	waiting   bool                  // waiting on the user or another instance
	exclusive bool                  // exclusive maintenance in progress
}

// a fresh process is undecided until it claims a project or settles with none
func NewFSM() *FSM {
	return &FSM{resolving: true}
}

// applies a command to the FSM and returns the result or error
func (f *FSM) Apply(cmd types.Command) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch c := cmd.(type) {
	case types.ClaimProjectCmd:
		return f.applyClaimProject(c)
	case types.ClearProjectCmd:
		return f.applyClearProject()
	case types.SetWaitingCmd:
		f.waiting = c.Waiting
		return nil, nil
	case types.EnterExclusiveCmd:
		return f.applyEnterExclusive()
	case types.LeaveExclusiveCmd:
		f.exclusive = false
		return nil, nil
	case types.SetResolvingCmd:
		f.resolving = c.Resolving
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown command type: %T", cmd)
	}
}

// returned when a project is claimed
type ClaimProjectResponse struct {
	Project types.ProjectIdentity
	// false when the same project was already held
	Changed bool
}

func (f *FSM) applyClaimProject(cmd types.ClaimProjectCmd) (any, error) {
	if err := cmd.Project.Validate(); err != nil {
		return nil, err
	}
	if f.exclusive {
		return nil, types.ErrExclusiveModeActive
	}

	if !f.current.IsZero() {
		//re-claiming the same project is idempotent
		if f.current.Equal(cmd.Project) {
			f.waiting = false
			return ClaimProjectResponse{Project: f.current}, nil
		}
		return nil, types.ErrAlreadyOwnsProject
	}

	f.current = cmd.Project
	f.waiting = false
	f.resolving = false

	return ClaimProjectResponse{
		Project: cmd.Project,
		Changed: true,
	}, nil
}

// returned when the current project is cleared
type ClearProjectResponse struct {
	Previous types.ProjectIdentity
}

func (f *FSM) applyClearProject() (any, error) {
	prev := f.current
	f.current = types.ProjectIdentity{}
	f.resolving = false
	return ClearProjectResponse{Previous: prev}, nil
}

func (f *FSM) applyEnterExclusive() (any, error) {
	if f.exclusive {
		return nil, types.ErrExclusiveModeActive
	}
	f.exclusive = true
	return nil, nil
}

// Status answers an ownership query. It is a pure read of the three
// process-local fields, in precedence order exclusive, waiting, unknown.
// Unknown is only answered while a process without a project is deciding;
// a process settled with no project answers not mine.
func (f *FSM) Status(p types.ProjectIdentity) types.Verdict {
	f.mu.RLock()
	defer f.mu.RUnlock()

	switch {
	case f.exclusive:
		return types.VerdictExclusiveModeActive
	case f.waiting:
		return types.VerdictWaiting
	case f.current.IsZero() && f.resolving:
		return types.VerdictUnknown
	case f.current.IsZero():
		return types.VerdictIsNotMine
	case f.current.Equal(p):
		return types.VerdictIsMine
	default:
		return types.VerdictIsNotMine
	}
}

// returns the current project, or false while it is unknown
func (f *FSM) Current() (types.ProjectIdentity, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.current, !f.current.IsZero()
}

func (f *FSM) Exclusive() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.exclusive
}

// point-in-time copy of the state
type Snapshot struct {
	Project   types.ProjectIdentity `json:"project"`
	Resolving bool                  `json:"resolving"`
	Waiting   bool                  `json:"waiting"`
	Exclusive bool                  `json:"exclusive"`
}

func (f *FSM) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return Snapshot{
		Project:   f.current,
		Resolving: f.resolving,
		Waiting:   f.waiting,
		Exclusive: f.exclusive,
	}
}
