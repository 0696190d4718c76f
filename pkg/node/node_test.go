package node

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pixperk/solo/pkg/client"
	"github.com/pixperk/solo/pkg/quiesce"
	"github.com/pixperk/solo/pkg/resolver"
	"github.com/pixperk/solo/pkg/server"
	"github.com/pixperk/solo/pkg/storage"
	"github.com/pixperk/solo/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// every node of a test registers here, as if they ran on one machine
type sharedDirectory struct {
	mu      sync.Mutex
	ports   map[int]int32
	nextPID int32
}

func newSharedDirectory() *sharedDirectory {
	return &sharedDirectory{ports: make(map[int]int32), nextPID: 1000}
}

type dirView struct {
	shared *sharedDirectory
	port   int
}

func (v *dirView) Register(ctx context.Context, port int) error {
	v.shared.mu.Lock()
	defer v.shared.mu.Unlock()
	v.port = port
	v.shared.nextPID++
	v.shared.ports[port] = v.shared.nextPID
	return nil
}

func (v *dirView) Unregister(ctx context.Context) error {
	v.shared.mu.Lock()
	defer v.shared.mu.Unlock()
	delete(v.shared.ports, v.port)
	return nil
}

func (v *dirView) ListLocalPeers(ctx context.Context) ([]types.ProcessHandle, error) {
	v.shared.mu.Lock()
	defer v.shared.mu.Unlock()
	var out []types.ProcessHandle
	for port, pid := range v.shared.ports {
		if port != v.port {
			out = append(out, types.ProcessHandle{PID: pid})
		}
	}
	return out, nil
}

func (v *dirView) CandidatePorts(ctx context.Context, peers []types.ProcessHandle) []int {
	v.shared.mu.Lock()
	defer v.shared.mu.Unlock()
	ports := make([]int, 0, len(v.shared.ports))
	for port := range v.shared.ports {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}

// peers exit as soon as they are asked to
type goneTerminator struct{}

func (goneTerminator) Terminate(context.Context, types.ProcessHandle) error { return nil }
func (goneTerminator) Kill(context.Context, types.ProcessHandle) error      { return nil }
func (goneTerminator) Running(context.Context, types.ProcessHandle) bool    { return false }

type recordingShell struct {
	mu        sync.Mutex
	opened    []types.ProjectIdentity
	activated []types.ProjectIdentity
	links     []types.LinkArgs
	closed    int
}

func (s *recordingShell) OpenProject(ctx context.Context, p types.ProjectIdentity, args types.StartupArgs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, p)
	return nil
}

func (s *recordingShell) ActivateProject(p types.ProjectIdentity, args types.StartupArgs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activated = append(s.activated, p)
}

func (s *recordingShell) FollowLink(args types.LinkArgs) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, args)
	return true
}

func (s *recordingShell) CloseWindows() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
}

func (s *recordingShell) counts() (opened, activated, links, closed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.opened), len(s.activated), len(s.links), s.closed
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

type machine struct {
	dataDir string
	dir     *sharedDirectory
}

func newMachine(t *testing.T) *machine {
	return &machine{dataDir: t.TempDir(), dir: newSharedDirectory()}
}

// starts a serving node; it is closed at test end
func (m *machine) start(t *testing.T) (*Node, *recordingShell) {
	t.Helper()
	shell := &recordingShell{}
	n, err := NewNode(context.Background(), Config{
		DataDir:   m.dataDir,
		Listener:  server.ListenerConfig{BasePort: freePort(t), MaxPorts: 4},
		Directory: &dirView{shared: m.dir},
		Dialer: client.Config{
			LivenessTimeout: 500 * time.Millisecond,
			CallTimeout:     2 * time.Second,
		},
		Resolver: resolver.Config{
			RaceYieldAfter: time.Second,
			RepollInterval: 20 * time.Millisecond,
		},
		Quiesce: quiesce.Config{
			GracePeriod:  200 * time.Millisecond,
			CloseWait:    100 * time.Millisecond,
			PollInterval: 10 * time.Millisecond,
		},
		Terminator: goneTerminator{},
	}, shell)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = n.Close()
	})
	return n, shell
}

var alphaByName = types.ProjectIdentity{Name: "Alpha"}

func TestStartOpensProjectWithoutPeers(t *testing.T) {
	m := newMachine(t)
	a, shell := m.start(t)

	res, err := a.Start(context.Background(), types.StartupArgs{Project: alphaByName})
	require.NoError(t, err)

	require.Equal(t, OutcomeOpened, res.Outcome)
	assert.Equal(t, a.Store().ProjectPath("Alpha"), res.Project.Path)
	assert.Equal(t, types.BackendXML, res.Project.Backend)

	opened, _, _, _ := shell.counts()
	assert.Equal(t, 1, opened)

	pid, err := storage.LockHolder(res.Project.Path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	status := a.Status()
	assert.True(t, status.Project.Equal(res.Project))
	assert.Equal(t, a.Port(), status.Port)
	assert.False(t, status.Exclusive)
}

func TestSecondInstanceIsForwarded(t *testing.T) {
	m := newMachine(t)
	a, shellA := m.start(t)
	b, shellB := m.start(t)

	_, err := a.Start(context.Background(), types.StartupArgs{Project: alphaByName})
	require.NoError(t, err)

	res, err := b.Start(context.Background(), types.StartupArgs{Project: alphaByName})
	require.NoError(t, err)

	assert.Equal(t, OutcomeHandledElsewhere, res.Outcome)
	assert.Equal(t, resolver.OutcomeForwarded, res.Resolution.Outcome)
	assert.Equal(t, a.Port(), res.Resolution.Port)

	_, activated, _, _ := shellA.counts()
	assert.Equal(t, 1, activated)
	opened, _, _, _ := shellB.counts()
	assert.Zero(t, opened)
}

func TestIdleInstanceDoesNotBlockOpen(t *testing.T) {
	m := newMachine(t)
	a, shellA := m.start(t)
	b, shellB := m.start(t)

	res, err := a.Start(context.Background(), types.StartupArgs{})
	require.NoError(t, err)
	require.Equal(t, OutcomeIdle, res.Outcome)
	assert.Equal(t, types.VerdictIsNotMine, a.fsm.Status(a.normalize(alphaByName)))

	started := time.Now()
	res, err = b.Start(context.Background(), types.StartupArgs{Project: alphaByName})
	require.NoError(t, err)

	assert.Equal(t, OutcomeOpened, res.Outcome)
	assert.Less(t, time.Since(started), time.Second, "an idle peer is not raced")
	opened, _, _, _ := shellB.counts()
	assert.Equal(t, 1, opened)
	opened, _, _, _ = shellA.counts()
	assert.Zero(t, opened)

	// The idle instance can still open a project of its own later
	res, err = a.Start(context.Background(), types.StartupArgs{Project: types.ProjectIdentity{Name: "Beta"}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOpened, res.Outcome)
}

func TestFailedExclusiveActionLeavesInstanceSettled(t *testing.T) {
	m := newMachine(t)
	a, _ := m.start(t)

	_, err := a.Start(context.Background(), types.StartupArgs{Project: alphaByName})
	require.NoError(t, err)

	_, err = a.RunExclusive(context.Background(), func(ctx context.Context) (types.ProjectIdentity, error) {
		return types.ProjectIdentity{}, assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	b, shellB := m.start(t)
	res, err := b.Start(context.Background(), types.StartupArgs{Project: alphaByName})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOpened, res.Outcome)
	opened, _, _, _ := shellB.counts()
	assert.Equal(t, 1, opened)
}

func TestAutoOpenReopensLastProject(t *testing.T) {
	m := newMachine(t)
	a, _ := m.start(t)

	_, err := a.Start(context.Background(), types.StartupArgs{Project: alphaByName})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, _ := m.start(t)

	res, err := b.Start(context.Background(), types.StartupArgs{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIdle, res.Outcome, "auto open is off by default")

	require.NoError(t, b.SetAutoOpen(true))
	res, err = b.Start(context.Background(), types.StartupArgs{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOpened, res.Outcome)
	assert.Equal(t, "Alpha", res.Project.Name)
}

func TestLinkGoesToOwner(t *testing.T) {
	m := newMachine(t)
	a, shellA := m.start(t)
	b, _ := m.start(t)

	_, err := a.Start(context.Background(), types.StartupArgs{Project: alphaByName})
	require.NoError(t, err)

	res, err := b.Start(context.Background(), types.StartupArgs{
		Link: &types.LinkArgs{Project: alphaByName, Tool: "lexicon", Target: "entry-7"},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeHandledElsewhere, res.Outcome)

	_, _, links, _ := shellA.counts()
	assert.Equal(t, 1, links)
}

func TestLinkOpensProjectWhenUnowned(t *testing.T) {
	m := newMachine(t)
	a, shell := m.start(t)

	res, err := a.Start(context.Background(), types.StartupArgs{
		Link: &types.LinkArgs{Project: alphaByName, Tool: "lexicon", Target: "entry-7"},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOpened, res.Outcome)

	opened, _, links, _ := shell.counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, links)
}

func TestMoveDataShutsDownPeersAndReopens(t *testing.T) {
	m := newMachine(t)
	a, _ := m.start(t)
	b, shellB := m.start(t)

	_, err := a.Start(context.Background(), types.StartupArgs{Project: alphaByName})
	require.NoError(t, err)
	_, err = b.Start(context.Background(), types.StartupArgs{Project: types.ProjectIdentity{Name: "Beta"}})
	require.NoError(t, err)

	newRoot := filepath.Join(t.TempDir(), "moved")
	p, err := a.MoveData(context.Background(), newRoot)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(newRoot, "Alpha"), p.Path)
	assert.Equal(t, newRoot, a.Store().Root())
	assert.False(t, a.Status().Exclusive)
	assert.True(t, a.Status().Project.Equal(p))

	select {
	case <-b.Done():
	default:
		t.Fatal("peer was not asked to exit")
	}
	_, _, _, closed := shellB.counts()
	assert.Equal(t, 1, closed)
	assert.True(t, b.Status().Project.IsZero())
}

func TestRestoreIsForwardedToOwner(t *testing.T) {
	m := newMachine(t)
	a, _ := m.start(t)
	b, _ := m.start(t)

	res, err := a.Start(context.Background(), types.StartupArgs{Project: alphaByName})
	require.NoError(t, err)
	alpha := res.Project
	require.NoError(t, os.WriteFile(storage.DataFile(alpha), []byte("old"), 0644))

	backup := filepath.Join(t.TempDir(), "alpha-backup.xml")
	require.NoError(t, os.WriteFile(backup, []byte("restored"), 0644))

	res, err = b.Start(context.Background(), types.StartupArgs{Project: alphaByName, RestoreFile: backup})
	require.NoError(t, err)
	assert.Equal(t, OutcomeHandledElsewhere, res.Outcome)

	require.Eventually(t, func() bool {
		raw, err := os.ReadFile(storage.DataFile(alpha))
		status := a.Status()
		return err == nil && string(raw) == "restored" && !status.Exclusive && status.Project.Equal(alpha)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestBindExhaustionIsFatal(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	_, err = NewNode(context.Background(), Config{
		DataDir:   t.TempDir(),
		Listener:  server.ListenerConfig{BasePort: busy.Addr().(*net.TCPAddr).Port, MaxPorts: 1},
		Directory: &dirView{shared: newSharedDirectory()},
	}, nil)
	assert.ErrorIs(t, err, types.ErrBindExhausted)
}

func TestPeersListsOtherInstances(t *testing.T) {
	m := newMachine(t)
	a, _ := m.start(t)
	b, _ := m.start(t)

	_, err := b.Start(context.Background(), types.StartupArgs{Project: alphaByName})
	require.NoError(t, err)

	peers := a.Peers(context.Background())
	require.Len(t, peers, 1)
	assert.Equal(t, b.Port(), peers[0].Port)
	assert.Equal(t, "Alpha", peers[0].Project)
	assert.Equal(t, int32(os.Getpid()), peers[0].PID)
	assert.Equal(t, b.ID().String(), peers[0].InstanceID)
	assert.False(t, peers[0].Limited)
}

func TestListPeersWithoutStartingInstance(t *testing.T) {
	m := newMachine(t)
	a, _ := m.start(t)

	peers, err := ListPeers(context.Background(), Config{
		Directory: &dirView{shared: m.dir},
		Dialer:    client.Config{LivenessTimeout: 500 * time.Millisecond},
	})
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, a.Port(), peers[0].Port)
	assert.Empty(t, peers[0].Project)
}
