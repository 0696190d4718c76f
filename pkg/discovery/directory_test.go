package discovery

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/pixperk/solo/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "SOLO_DISCOVERY_HELPER"

// TestHelperProcess is not a real test, it is the sibling process spawned by
// TestProcessDirectoryFindsSibling.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	time.Sleep(30 * time.Second)
	os.Exit(0)
}

func startSibling(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command(os.Args[0], "-test.run=TestHelperProcess")
	cmd.Env = append(os.Environ(), helperEnv+"=1")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd
}

func TestCandidatePortRange(t *testing.T) {
	t.Run("no peers, nothing to probe", func(t *testing.T) {
		pr := CandidatePortRange(46139, 0, 4, 64)
		assert.Empty(t, pr.Ports())
	})

	t.Run("four ports per peer", func(t *testing.T) {
		pr := CandidatePortRange(46139, 2, 4, 64)
		assert.Equal(t, types.PortRange{BasePort: 46139, Count: 8}, pr)
	})

	t.Run("capped", func(t *testing.T) {
		pr := CandidatePortRange(46139, 100, 4, 64)
		assert.Equal(t, 64, pr.Count)
	})

	t.Run("defaults for zero multiplier and cap", func(t *testing.T) {
		pr := CandidatePortRange(46139, 3, 0, 0)
		assert.Equal(t, 3*DefaultPortMultiplier, pr.Count)
	})
}

func TestProcessDirectoryExcludesSelf(t *testing.T) {
	ctx := context.Background()
	dir, err := NewProcessDirectory(ctx, ProcessConfig{BasePort: 46139})
	require.NoError(t, err)

	peers, err := dir.ListLocalPeers(ctx)
	require.NoError(t, err)
	for _, p := range peers {
		assert.NotEqual(t, int32(os.Getpid()), p.PID)
	}
}

func TestProcessDirectoryFindsSibling(t *testing.T) {
	ctx := context.Background()
	dir, err := NewProcessDirectory(ctx, ProcessConfig{BasePort: 46139})
	require.NoError(t, err)

	sibling := startSibling(t)
	pid := int32(sibling.Process.Pid)

	var peers []types.ProcessHandle
	require.Eventually(t, func() bool {
		peers, err = dir.ListLocalPeers(ctx)
		if err != nil {
			return false
		}
		for _, p := range peers {
			if p.PID == pid {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond, "sibling process should be listed")

	ports := dir.CandidatePorts(ctx, peers)
	assert.Len(t, ports, len(peers)*DefaultPortMultiplier)
	assert.Equal(t, 46139, ports[0])
}

func TestRegistryDirectory(t *testing.T) {
	ctx := context.Background()
	reg, err := NewRegistryDirectory(RegistryConfig{Dir: t.TempDir()})
	require.NoError(t, err)

	const (
		livePID  int32 = 4242
		deadPID  int32 = 4343
		otherPID int32 = 4444
	)
	reg.username = "alice"
	reg.pidAlive = func(ctx context.Context, pid int32) bool { return pid == livePID || pid == otherPID }

	require.NoError(t, reg.Register(ctx, 46140))
	require.NoError(t, reg.update(ctx, func(state *registryState) {
		state.Instances = append(state.Instances,
			registryEntry{PID: deadPID, Port: 46139, Username: "alice"},
			registryEntry{PID: livePID, Port: 46141, Username: "alice"},
			registryEntry{PID: otherPID, Port: 46142, Username: "bob"},
		)
	}))

	peers, err := reg.ListLocalPeers(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1, "self, other users and dead entries are excluded")
	assert.Equal(t, livePID, peers[0].PID)
	assert.Equal(t, "alice", peers[0].Username)
	assert.Equal(t, []int{46141}, reg.CandidatePorts(ctx, peers))

	// The dead entry is gone from the file, self and the other user are still recorded
	require.NoError(t, reg.update(ctx, func(state *registryState) {
		pids := make([]int32, 0, len(state.Instances))
		for _, e := range state.Instances {
			pids = append(pids, e.PID)
			if e.PID == int32(os.Getpid()) {
				assert.Equal(t, "alice", e.Username)
			}
		}
		assert.ElementsMatch(t, []int32{int32(os.Getpid()), livePID, otherPID}, pids)
	}))

	require.NoError(t, reg.Unregister(ctx))
	require.NoError(t, reg.update(ctx, func(state *registryState) {
		for _, e := range state.Instances {
			assert.NotEqual(t, int32(os.Getpid()), e.PID)
		}
	}))
}

func TestDefaultRegistryDirIsPerUser(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	assert.Equal(t, filepath.Join("/run/user/1000", "solo"), DefaultRegistryDir())

	t.Setenv("XDG_RUNTIME_DIR", "")
	assert.Equal(t, filepath.Join(os.TempDir(), fmt.Sprintf("solo-%d", os.Getuid())), DefaultRegistryDir())
}

func TestRegistryDirectoryEmpty(t *testing.T) {
	ctx := context.Background()
	reg, err := NewRegistryDirectory(RegistryConfig{Dir: t.TempDir()})
	require.NoError(t, err)

	peers, err := reg.ListLocalPeers(ctx)
	require.NoError(t, err)
	assert.Empty(t, peers)
	assert.Empty(t, reg.CandidatePorts(ctx, peers))
}
