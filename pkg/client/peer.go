package client

import (
	"context"
	"time"

	"github.com/pixperk/solo/pkg/rpc"
	"github.com/pixperk/solo/pkg/types"
	"google.golang.org/grpc"
)

// live handle on one peer listener, owned by whoever dialed it
type Peer struct {
	port        int
	conn        *grpc.ClientConn
	coordinator *rpc.CoordinatorClient
	companion   *rpc.CompanionClient
	limited     bool //only the companion endpoint answered
	pid         int32
	instanceID  string
	callTimeout time.Duration
}

func (p *Peer) Port() int {
	return p.port
}

func (p *Peer) PID() int32 {
	return p.pid
}

func (p *Peer) InstanceID() string {
	return p.instanceID
}

func (p *Peer) Limited() bool {
	return p.limited
}

func (p *Peer) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.callTimeout)
}

func (p *Peer) OwnershipStatus(ctx context.Context, project types.ProjectIdentity) (types.Verdict, error) {
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	req := &rpc.OwnershipStatusRequest{Project: project}
	var (
		resp *rpc.VerdictResponse
		err  error
	)
	if p.limited {
		resp, err = p.companion.OwnershipStatus(ctx, req)
	} else {
		resp, err = p.coordinator.OwnershipStatus(ctx, req)
	}
	if err != nil {
		return types.VerdictUnknown, callError("ownership status", p.port, err)
	}
	return resp.Verdict, nil
}

func (p *Peer) OpenProject(ctx context.Context, project types.ProjectIdentity, args types.StartupArgs) (types.Verdict, error) {
	if p.limited {
		return types.VerdictUnknown, types.ErrPeerUnsupported
	}
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	resp, err := p.coordinator.OpenProject(ctx, &rpc.OpenProjectRequest{Project: project, Args: args})
	if err != nil {
		return types.VerdictUnknown, callError("open project", p.port, err)
	}
	return resp.Verdict, nil
}

func (p *Peer) HandleLink(ctx context.Context, args types.LinkArgs) (bool, error) {
	if p.limited {
		return false, types.ErrPeerUnsupported
	}
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	resp, err := p.coordinator.HandleLink(ctx, &rpc.LinkRequest{Args: args})
	if err != nil {
		return false, callError("handle link", p.port, err)
	}
	return resp.Handled, nil
}

func (p *Peer) HandleRestore(ctx context.Context, settings types.RestoreSettings) (bool, error) {
	if p.limited {
		return false, types.ErrPeerUnsupported
	}
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	resp, err := p.coordinator.HandleRestore(ctx, &rpc.RestoreRequest{Settings: settings})
	if err != nil {
		return false, callError("handle restore", p.port, err)
	}
	return resp.Handled, nil
}

func (p *Peer) CloseAllWindows(ctx context.Context) (bool, error) {
	if p.limited {
		return false, types.ErrPeerUnsupported
	}
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	resp, err := p.coordinator.CloseAllWindows(ctx, &rpc.CloseAllWindowsRequest{})
	if err != nil {
		return false, callError("close all windows", p.port, err)
	}
	return resp.Handled, nil
}

func (p *Peer) SingleProcessMode(ctx context.Context) (bool, error) {
	if p.limited {
		return false, types.ErrPeerUnsupported
	}
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	resp, err := p.coordinator.SingleProcessMode(ctx, &rpc.SingleProcessModeRequest{})
	if err != nil {
		return false, callError("single process mode", p.port, err)
	}
	return resp.Active, nil
}

func (p *Peer) ProjectName(ctx context.Context) (string, error) {
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	var (
		resp *rpc.ProjectNameResponse
		err  error
	)
	if p.limited {
		resp, err = p.companion.ProjectName(ctx, &rpc.ProjectNameRequest{})
	} else {
		resp, err = p.coordinator.ProjectName(ctx, &rpc.ProjectNameRequest{})
	}
	if err != nil {
		return "", callError("project name", p.port, err)
	}
	return resp.Name, nil
}

// tears the channel down; the handle is unusable afterwards
func (p *Peer) Close() error {
	return p.conn.Close()
}
