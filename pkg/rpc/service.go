package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	// endpoint used by same-product peers
	CoordinatorServiceName = "solo.v1.Coordinator"
	// endpoint used by the companion product sharing project files
	CompanionServiceName = "solo.v1.Companion"
)

// full RPC surface of a listener
type CoordinatorServer interface {
	CompanionServer
	OpenProject(context.Context, *OpenProjectRequest) (*VerdictResponse, error)
	HandleLink(context.Context, *LinkRequest) (*HandledResponse, error)
	HandleRestore(context.Context, *RestoreRequest) (*HandledResponse, error)
	CloseAllWindows(context.Context, *CloseAllWindowsRequest) (*HandledResponse, error)
	SingleProcessMode(context.Context, *SingleProcessModeRequest) (*SingleProcessModeResponse, error)
}

// subset exposed on the companion endpoint
type CompanionServer interface {
	IsAlive(context.Context, *IsAliveRequest) (*IsAliveResponse, error)
	OwnershipStatus(context.Context, *OwnershipStatusRequest) (*VerdictResponse, error)
	ProjectName(context.Context, *ProjectNameRequest) (*ProjectNameResponse, error)
}

func RegisterCoordinatorServer(s grpc.ServiceRegistrar, srv CoordinatorServer) {
	s.RegisterService(&coordinatorServiceDesc, srv)
}

func RegisterCompanionServer(s grpc.ServiceRegistrar, srv CompanionServer) {
	s.RegisterService(&companionServiceDesc, srv)
}

// builds a unary method handler decoding into Req and dispatching to call
func unary[Req any, Resp any](service, method string, call func(srv any, ctx context.Context, req *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv, ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + service + "/" + method,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func companionMethods(service string) []grpc.MethodDesc {
	return []grpc.MethodDesc{
		unary(service, "IsAlive", func(srv any, ctx context.Context, req *IsAliveRequest) (*IsAliveResponse, error) {
			return srv.(CompanionServer).IsAlive(ctx, req)
		}),
		unary(service, "OwnershipStatus", func(srv any, ctx context.Context, req *OwnershipStatusRequest) (*VerdictResponse, error) {
			return srv.(CompanionServer).OwnershipStatus(ctx, req)
		}),
		unary(service, "ProjectName", func(srv any, ctx context.Context, req *ProjectNameRequest) (*ProjectNameResponse, error) {
			return srv.(CompanionServer).ProjectName(ctx, req)
		}),
	}
}

var companionServiceDesc = grpc.ServiceDesc{
	ServiceName: CompanionServiceName,
	HandlerType: (*CompanionServer)(nil),
	Methods:     companionMethods(CompanionServiceName),
	Streams:     []grpc.StreamDesc{},
	Metadata:    "solo/v1/companion",
}

var coordinatorServiceDesc = grpc.ServiceDesc{
	ServiceName: CoordinatorServiceName,
	HandlerType: (*CoordinatorServer)(nil),
	Methods: append(companionMethods(CoordinatorServiceName),
		unary(CoordinatorServiceName, "OpenProject", func(srv any, ctx context.Context, req *OpenProjectRequest) (*VerdictResponse, error) {
			return srv.(CoordinatorServer).OpenProject(ctx, req)
		}),
		unary(CoordinatorServiceName, "HandleLink", func(srv any, ctx context.Context, req *LinkRequest) (*HandledResponse, error) {
			return srv.(CoordinatorServer).HandleLink(ctx, req)
		}),
		unary(CoordinatorServiceName, "HandleRestore", func(srv any, ctx context.Context, req *RestoreRequest) (*HandledResponse, error) {
			return srv.(CoordinatorServer).HandleRestore(ctx, req)
		}),
		unary(CoordinatorServiceName, "CloseAllWindows", func(srv any, ctx context.Context, req *CloseAllWindowsRequest) (*HandledResponse, error) {
			return srv.(CoordinatorServer).CloseAllWindows(ctx, req)
		}),
		unary(CoordinatorServiceName, "SingleProcessMode", func(srv any, ctx context.Context, req *SingleProcessModeRequest) (*SingleProcessModeResponse, error) {
			return srv.(CoordinatorServer).SingleProcessMode(ctx, req)
		}),
	),
	Streams:  []grpc.StreamDesc{},
	Metadata: "solo/v1/coordinator",
}
