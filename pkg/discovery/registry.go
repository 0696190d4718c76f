package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/solo/pkg/types"
	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

const registryVersion = "1"

type RegistryConfig struct {
	// defaults to DefaultRegistryDir
	Dir    string
	Logger hclog.Logger
}

// DefaultRegistryDir is private to the calling user: the runtime dir when
// the session has one, else a uid-suffixed dir under the temp dir.
func DefaultRegistryDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "solo")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("solo-%d", os.Getuid()))
}

// one live instance as recorded in the registry file
type registryEntry struct {
	PID       int32     `json:"pid"`
	Port      int       `json:"port"`
	Username  string    `json:"username,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

type registryState struct {
	Version   string          `json:"version"`
	Instances []registryEntry `json:"instances"`
}

// RegistryDirectory records each instance's bound port in a flock'd JSON
// file, so peers probe exactly the ports in use instead of guessing a range.
type RegistryDirectory struct {
	path     string
	selfPID  int32
	username string
	logger   hclog.Logger

	mu    sync.Mutex
	ports map[int32]int // pid -> port from the last listing

	pidAlive func(ctx context.Context, pid int32) bool
}

func NewRegistryDirectory(cfg RegistryConfig) (*RegistryDirectory, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	dir := cfg.Dir
	if dir == "" {
		dir = DefaultRegistryDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create registry dir: %w", err)
	}

	selfPID := int32(os.Getpid())
	username := ""
	if self, err := process.NewProcess(selfPID); err == nil {
		username, _ = self.Username()
	}

	return &RegistryDirectory{
		path:     filepath.Join(dir, "instances.json"),
		selfPID:  selfPID,
		username: username,
		logger:   logger,
		ports:    make(map[int32]int),
		pidAlive: pidExists,
	}, nil
}

func pidExists(ctx context.Context, pid int32) bool {
	ok, err := process.PidExistsWithContext(ctx, pid)
	return err == nil && ok
}

// records this process and its listener port
func (r *RegistryDirectory) Register(ctx context.Context, port int) error {
	return r.update(ctx, func(state *registryState) {
		state.Instances = removePID(state.Instances, r.selfPID)
		state.Instances = append(state.Instances, registryEntry{
			PID:       r.selfPID,
			Port:      port,
			Username:  r.username,
			StartedAt: time.Now(),
		})
	})
}

func (r *RegistryDirectory) Unregister(ctx context.Context) error {
	return r.update(ctx, func(state *registryState) {
		state.Instances = removePID(state.Instances, r.selfPID)
	})
}

// lists live peers of the same user, pruning entries of processes that are gone
func (r *RegistryDirectory) ListLocalPeers(ctx context.Context) ([]types.ProcessHandle, error) {
	var live []registryEntry
	err := r.update(ctx, func(state *registryState) {
		live = state.Instances[:0:0]
		for _, e := range state.Instances {
			if e.PID == r.selfPID || r.pidAlive(ctx, e.PID) {
				live = append(live, e)
			}
		}
		state.Instances = live
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.ports = make(map[int32]int, len(live))
	peers := make([]types.ProcessHandle, 0, len(live))
	for _, e := range live {
		if e.PID == r.selfPID || !r.sameUser(e) {
			continue
		}
		r.ports[e.PID] = e.Port
		peers = append(peers, types.ProcessHandle{PID: e.PID, Username: e.Username})
	}
	return peers, nil
}

// entries of other users stay in the file but are never peers
func (r *RegistryDirectory) sameUser(e registryEntry) bool {
	return r.username == "" || e.Username == r.username
}

// recorded ports of the given peers, ascending
func (r *RegistryDirectory) CandidatePorts(ctx context.Context, peers []types.ProcessHandle) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ports := make([]int, 0, len(peers))
	for _, p := range peers {
		if port, ok := r.ports[p.PID]; ok {
			ports = append(ports, port)
		}
	}
	sort.Ints(ports)
	return ports
}

// read-modify-write under an exclusive flock
func (r *RegistryDirectory) update(ctx context.Context, mutate func(*registryState)) error {
	f, err := os.OpenFile(r.path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open registry: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to lock registry: %w", err)
	}
	defer func() { _ = unix.Flock(int(f.Fd()), unix.LOCK_UN) }()

	state, err := readRegistry(f)
	if err != nil {
		return err
	}

	mutate(state)

	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate registry: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to seek registry: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(state); err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	return f.Sync()
}

func readRegistry(f *os.File) (*registryState, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat registry: %w", err)
	}
	if stat.Size() == 0 {
		return &registryState{Version: registryVersion}, nil
	}

	var state registryState
	if err := json.NewDecoder(f).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode registry: %w", err)
	}
	state.Version = registryVersion
	return &state, nil
}

func removePID(entries []registryEntry, pid int32) []registryEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.PID != pid {
			out = append(out, e)
		}
	}
	return out
}
