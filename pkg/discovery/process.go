package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/solo/pkg/types"
	"github.com/shirou/gopsutil/v4/process"
)

type ProcessConfig struct {
	BasePort       int
	PortMultiplier int
	MaxCandidates  int
	// executable peers must share, defaults to this binary
	Executable string
	Logger     hclog.Logger
}

// ProcessDirectory treats every process running the same executable under
// the same user as a peer.
type ProcessDirectory struct {
	cfg      ProcessConfig
	selfPID  int32
	exe      string
	username string
	logger   hclog.Logger
}

func NewProcessDirectory(ctx context.Context, cfg ProcessConfig) (*ProcessDirectory, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	exe := cfg.Executable
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve executable: %w", err)
		}
	}
	exe = resolveExe(exe)

	selfPID := int32(os.Getpid())
	self, err := process.NewProcessWithContext(ctx, selfPID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect own process: %w", err)
	}
	username, err := self.UsernameWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve owning user: %w", err)
	}

	return &ProcessDirectory{
		cfg:      cfg,
		selfPID:  selfPID,
		exe:      exe,
		username: username,
		logger:   logger,
	}, nil
}

func (d *ProcessDirectory) ListLocalPeers(ctx context.Context) ([]types.ProcessHandle, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	var peers []types.ProcessHandle
	for _, p := range procs {
		if p.Pid == d.selfPID {
			continue
		}

		//processes of other users usually refuse exe lookups, skip them
		exe, err := p.ExeWithContext(ctx)
		if err != nil || resolveExe(exe) != d.exe {
			continue
		}

		username, err := p.UsernameWithContext(ctx)
		if err != nil || username != d.username {
			continue
		}

		peers = append(peers, types.ProcessHandle{
			PID:      p.Pid,
			Username: username,
			Exe:      exe,
		})
	}

	d.logger.Trace("listed local peers", "count", len(peers))
	return peers, nil
}

func (d *ProcessDirectory) CandidatePorts(ctx context.Context, peers []types.ProcessHandle) []int {
	return CandidatePortRange(d.cfg.BasePort, len(peers), d.cfg.PortMultiplier, d.cfg.MaxCandidates).Ports()
}

func resolveExe(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return filepath.Clean(path)
}
