package fsm

import (
	"sync"
	"testing"

	"github.com/pixperk/solo/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alpha = types.ProjectIdentity{Name: "Alpha", Backend: types.BackendXML, Path: "/projects/Alpha"}
	beta  = types.ProjectIdentity{Name: "Beta", Backend: types.BackendXML, Path: "/projects/Beta"}
)

// TestStatusUnknownOnFreshState tests that a fresh process has not decided yet
func TestStatusUnknownOnFreshState(t *testing.T) {
	fsm := NewFSM()

	assert.Equal(t, types.VerdictUnknown, fsm.Status(alpha))
	_, ok := fsm.Current()
	assert.False(t, ok)
}

// TestClaimProject tests claiming and the mine/not-mine answers
func TestClaimProject(t *testing.T) {
	fsm := NewFSM()

	result, err := fsm.Apply(types.ClaimProjectCmd{Project: alpha})
	require.NoError(t, err)

	resp, ok := result.(ClaimProjectResponse)
	require.True(t, ok, "expected ClaimProjectResponse")
	assert.True(t, resp.Changed)

	assert.Equal(t, types.VerdictIsMine, fsm.Status(alpha))
	assert.Equal(t, types.VerdictIsNotMine, fsm.Status(beta))

	// Re-claim is idempotent
	result, err = fsm.Apply(types.ClaimProjectCmd{Project: alpha})
	require.NoError(t, err)
	assert.False(t, result.(ClaimProjectResponse).Changed)

	// A second, different project is refused
	_, err = fsm.Apply(types.ClaimProjectCmd{Project: beta})
	assert.ErrorIs(t, err, types.ErrAlreadyOwnsProject)
}

func TestClaimInvalidProject(t *testing.T) {
	fsm := NewFSM()

	_, err := fsm.Apply(types.ClaimProjectCmd{Project: types.ProjectIdentity{}})
	assert.ErrorIs(t, err, types.ErrInvalidProject)
}

// TestClearProject tests that a cleared process is settled with no project
func TestClearProject(t *testing.T) {
	fsm := NewFSM()

	_, err := fsm.Apply(types.ClaimProjectCmd{Project: alpha})
	require.NoError(t, err)

	result, err := fsm.Apply(types.ClearProjectCmd{})
	require.NoError(t, err)
	assert.True(t, alpha.Equal(result.(ClearProjectResponse).Previous))

	assert.Equal(t, types.VerdictIsNotMine, fsm.Status(alpha))

	// After clearing a different project can be claimed
	_, err = fsm.Apply(types.ClaimProjectCmd{Project: beta})
	require.NoError(t, err)
	assert.Equal(t, types.VerdictIsMine, fsm.Status(beta))
}

// TestStatusPrecedence tests exclusive > waiting > unknown > mine/not-mine
func TestStatusPrecedence(t *testing.T) {
	fsm := NewFSM()

	_, err := fsm.Apply(types.ClaimProjectCmd{Project: alpha})
	require.NoError(t, err)

	_, err = fsm.Apply(types.SetWaitingCmd{Waiting: true})
	require.NoError(t, err)
	assert.Equal(t, types.VerdictWaiting, fsm.Status(alpha))

	_, err = fsm.Apply(types.EnterExclusiveCmd{})
	require.NoError(t, err)
	assert.Equal(t, types.VerdictExclusiveModeActive, fsm.Status(alpha))
	assert.Equal(t, types.VerdictExclusiveModeActive, fsm.Status(beta))

	_, err = fsm.Apply(types.LeaveExclusiveCmd{})
	require.NoError(t, err)
	assert.Equal(t, types.VerdictWaiting, fsm.Status(alpha))

	_, err = fsm.Apply(types.SetWaitingCmd{Waiting: false})
	require.NoError(t, err)
	assert.Equal(t, types.VerdictIsMine, fsm.Status(alpha))
}

// TestSettledWithoutProject tests that only an undecided process answers unknown
func TestSettledWithoutProject(t *testing.T) {
	fsm := NewFSM()
	assert.Equal(t, types.VerdictUnknown, fsm.Status(alpha))

	_, err := fsm.Apply(types.SetResolvingCmd{Resolving: false})
	require.NoError(t, err)
	assert.Equal(t, types.VerdictIsNotMine, fsm.Status(alpha))
	assert.Equal(t, types.VerdictIsNotMine, fsm.Status(types.ProjectIdentity{}))
	assert.False(t, fsm.Snapshot().Resolving)

	// Deciding again answers unknown until a claim
	_, err = fsm.Apply(types.SetResolvingCmd{Resolving: true})
	require.NoError(t, err)
	assert.Equal(t, types.VerdictUnknown, fsm.Status(alpha))

	_, err = fsm.Apply(types.ClaimProjectCmd{Project: alpha})
	require.NoError(t, err)
	assert.False(t, fsm.Snapshot().Resolving)
	assert.Equal(t, types.VerdictIsMine, fsm.Status(alpha))
	assert.Equal(t, types.VerdictIsNotMine, fsm.Status(beta))
}

// TestClaimClearsWaiting tests that committing to a project ends the wait
func TestClaimClearsWaiting(t *testing.T) {
	fsm := NewFSM()

	_, err := fsm.Apply(types.SetWaitingCmd{Waiting: true})
	require.NoError(t, err)

	_, err = fsm.Apply(types.ClaimProjectCmd{Project: alpha})
	require.NoError(t, err)

	snap := fsm.Snapshot()
	assert.False(t, snap.Waiting)
	assert.True(t, alpha.Equal(snap.Project))
}

// TestExclusiveFencesClaims tests that nothing is claimed in exclusive mode
func TestExclusiveFencesClaims(t *testing.T) {
	fsm := NewFSM()

	_, err := fsm.Apply(types.EnterExclusiveCmd{})
	require.NoError(t, err)
	assert.True(t, fsm.Exclusive())

	_, err = fsm.Apply(types.EnterExclusiveCmd{})
	assert.ErrorIs(t, err, types.ErrExclusiveModeActive, "exclusive mode does not nest")

	_, err = fsm.Apply(types.ClaimProjectCmd{Project: alpha})
	assert.ErrorIs(t, err, types.ErrExclusiveModeActive)

	_, err = fsm.Apply(types.LeaveExclusiveCmd{})
	require.NoError(t, err)
	assert.False(t, fsm.Exclusive())
}

// TestConcurrentReads tests that status reads race safely with rare writes
func TestConcurrentReads(t *testing.T) {
	fsm := NewFSM()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				v := fsm.Status(alpha)
				assert.Contains(t, []types.Verdict{
					types.VerdictUnknown,
					types.VerdictIsMine,
					types.VerdictIsNotMine,
					types.VerdictExclusiveModeActive,
				}, v)
			}
		}()
	}

	for j := 0; j < 50; j++ {
		_, _ = fsm.Apply(types.ClaimProjectCmd{Project: alpha})
		_, _ = fsm.Apply(types.EnterExclusiveCmd{})
		_, _ = fsm.Apply(types.LeaveExclusiveCmd{})
		_, _ = fsm.Apply(types.ClearProjectCmd{})
	}

	wg.Wait()
}

func TestUnknownCommand(t *testing.T) {
	fsm := NewFSM()

	_, err := fsm.Apply(nil)
	assert.Error(t, err)
}
