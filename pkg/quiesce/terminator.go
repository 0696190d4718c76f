package quiesce

import (
	"context"
	"errors"
	"fmt"

	"github.com/pixperk/solo/pkg/types"
	"github.com/shirou/gopsutil/v4/process"
)

// Terminator escalates against peer processes that ignored the close request.
type Terminator interface {
	// asks the process to exit on its own
	Terminate(ctx context.Context, h types.ProcessHandle) error
	// ends the process unconditionally
	Kill(ctx context.Context, h types.ProcessHandle) error
	Running(ctx context.Context, h types.ProcessHandle) bool
}

// ProcessTerminator signals OS processes: SIGTERM first, SIGKILL last.
type ProcessTerminator struct{}

func (ProcessTerminator) Terminate(ctx context.Context, h types.ProcessHandle) error {
	p, err := process.NewProcessWithContext(ctx, h.PID)
	if err != nil {
		return ignoreGone(err)
	}
	if err := p.TerminateWithContext(ctx); err != nil {
		return fmt.Errorf("terminate pid %d: %w", h.PID, ignoreGone(err))
	}
	return nil
}

func (ProcessTerminator) Kill(ctx context.Context, h types.ProcessHandle) error {
	p, err := process.NewProcessWithContext(ctx, h.PID)
	if err != nil {
		return ignoreGone(err)
	}
	if err := p.KillWithContext(ctx); err != nil {
		return fmt.Errorf("kill pid %d: %w", h.PID, ignoreGone(err))
	}
	return nil
}

// zombies count as exited
func (ProcessTerminator) Running(ctx context.Context, h types.ProcessHandle) bool {
	p, err := process.NewProcessWithContext(ctx, h.PID)
	if err != nil {
		return false
	}
	running, err := p.IsRunningWithContext(ctx)
	if err != nil || !running {
		return false
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return true
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

// a process that vanished between listing and signalling is already done
func ignoreGone(err error) error {
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return nil
	}
	return err
}
