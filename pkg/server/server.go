package server

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/solo/pkg/fsm"
	"github.com/pixperk/solo/pkg/metrics"
	"github.com/pixperk/solo/pkg/rpc"
	"github.com/pixperk/solo/pkg/types"
)

// Host is the in-process side of the protocol: whatever owns the windows.
// Handlers call it after the verdict says the request belongs here.
type Host interface {
	// bring the window of an already open project to the front
	ActivateProject(project types.ProjectIdentity, args types.StartupArgs)
	// jump to the link target, false when it could not be followed
	FollowLink(args types.LinkArgs) bool
	// schedule a restore of the owned project, false when refused
	RestoreProject(settings types.RestoreSettings) bool
	// close every window and let the process wind down
	CloseAllWindows() bool
}

// answers peer calls from the local ownership state
type Server struct {
	fsm        *fsm.FSM
	host       Host
	pid        int32
	instanceID uuid.UUID
	logger     hclog.Logger
}

// wraps the ownership state into the RPC surface
func NewServer(state *fsm.FSM, host Host, instanceID uuid.UUID, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Server{
		fsm:        state,
		host:       host,
		pid:        int32(os.Getpid()),
		instanceID: instanceID,
		logger:     logger,
	}
}

var (
	_ rpc.CoordinatorServer = (*Server)(nil)
	_ rpc.CompanionServer   = (*Server)(nil)
)

func (s *Server) IsAlive(ctx context.Context, req *rpc.IsAliveRequest) (*rpc.IsAliveResponse, error) {
	return &rpc.IsAliveResponse{
		Alive:      true,
		PID:        s.pid,
		InstanceID: s.instanceID.String(),
	}, nil
}

func (s *Server) verdict(p types.ProjectIdentity) types.Verdict {
	v := s.fsm.Status(p)
	metrics.VerdictsServed.WithLabelValues(v.String()).Inc()
	return v
}

func (s *Server) OwnershipStatus(ctx context.Context, req *rpc.OwnershipStatusRequest) (*rpc.VerdictResponse, error) {
	if err := req.Project.Validate(); err != nil {
		return nil, toGRPCError(err)
	}
	return &rpc.VerdictResponse{Verdict: s.verdict(req.Project)}, nil
}

func (s *Server) OpenProject(ctx context.Context, req *rpc.OpenProjectRequest) (*rpc.VerdictResponse, error) {
	if err := req.Project.Validate(); err != nil {
		return nil, toGRPCError(err)
	}

	v := s.verdict(req.Project)
	s.logger.Debug("open project request", "project", req.Project, "verdict", v)

	if v == types.VerdictIsMine && s.host != nil {
		s.host.ActivateProject(req.Project, req.Args)
	}

	return &rpc.VerdictResponse{Verdict: v}, nil
}

func (s *Server) HandleLink(ctx context.Context, req *rpc.LinkRequest) (*rpc.HandledResponse, error) {
	if err := req.Args.Project.Validate(); err != nil {
		return nil, toGRPCError(err)
	}

	if s.verdict(req.Args.Project) != types.VerdictIsMine || s.host == nil {
		return &rpc.HandledResponse{Handled: false}, nil
	}

	handled := s.host.FollowLink(req.Args)
	s.logger.Debug("link request", "project", req.Args.Project, "tool", req.Args.Tool, "handled", handled)

	return &rpc.HandledResponse{Handled: handled}, nil
}

func (s *Server) HandleRestore(ctx context.Context, req *rpc.RestoreRequest) (*rpc.HandledResponse, error) {
	if err := req.Settings.Project.Validate(); err != nil {
		return nil, toGRPCError(err)
	}

	if s.verdict(req.Settings.Project) != types.VerdictIsMine || s.host == nil {
		return &rpc.HandledResponse{Handled: false}, nil
	}

	handled := s.host.RestoreProject(req.Settings)
	s.logger.Info("restore request", "project", req.Settings.Project, "handled", handled)

	return &rpc.HandledResponse{Handled: handled}, nil
}

func (s *Server) CloseAllWindows(ctx context.Context, req *rpc.CloseAllWindowsRequest) (*rpc.HandledResponse, error) {
	//a process running its own exclusive action does not shut down for another
	if s.fsm.Exclusive() {
		s.logger.Warn("close request refused, exclusive action in progress")
		return &rpc.HandledResponse{Handled: false}, nil
	}
	if s.host == nil {
		return &rpc.HandledResponse{Handled: false}, nil
	}

	handled := s.host.CloseAllWindows()
	s.logger.Info("close all windows request", "handled", handled)

	return &rpc.HandledResponse{Handled: handled}, nil
}

func (s *Server) SingleProcessMode(ctx context.Context, req *rpc.SingleProcessModeRequest) (*rpc.SingleProcessModeResponse, error) {
	return &rpc.SingleProcessModeResponse{Active: s.fsm.Exclusive()}, nil
}

func (s *Server) ProjectName(ctx context.Context, req *rpc.ProjectNameRequest) (*rpc.ProjectNameResponse, error) {
	p, _ := s.fsm.Current()
	return &rpc.ProjectNameResponse{Name: p.Name}, nil
}
