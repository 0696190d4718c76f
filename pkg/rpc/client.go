package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// CompanionClient calls the subset shared by both endpoints. The service
// name decides which endpoint answers.
type CompanionClient struct {
	cc      grpc.ClientConnInterface
	service string
}

func NewCompanionClient(cc grpc.ClientConnInterface) *CompanionClient {
	return &CompanionClient{cc: cc, service: CompanionServiceName}
}

func (c *CompanionClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{callCodec()}, opts...)
	return c.cc.Invoke(ctx, "/"+c.service+"/"+method, in, out, opts...)
}

func (c *CompanionClient) IsAlive(ctx context.Context, in *IsAliveRequest, opts ...grpc.CallOption) (*IsAliveResponse, error) {
	out := new(IsAliveResponse)
	if err := c.invoke(ctx, "IsAlive", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CompanionClient) OwnershipStatus(ctx context.Context, in *OwnershipStatusRequest, opts ...grpc.CallOption) (*VerdictResponse, error) {
	out := new(VerdictResponse)
	if err := c.invoke(ctx, "OwnershipStatus", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CompanionClient) ProjectName(ctx context.Context, in *ProjectNameRequest, opts ...grpc.CallOption) (*ProjectNameResponse, error) {
	out := new(ProjectNameResponse)
	if err := c.invoke(ctx, "ProjectName", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// CoordinatorClient calls the primary endpoint.
type CoordinatorClient struct {
	CompanionClient
}

func NewCoordinatorClient(cc grpc.ClientConnInterface) *CoordinatorClient {
	return &CoordinatorClient{CompanionClient{cc: cc, service: CoordinatorServiceName}}
}

func (c *CoordinatorClient) OpenProject(ctx context.Context, in *OpenProjectRequest, opts ...grpc.CallOption) (*VerdictResponse, error) {
	out := new(VerdictResponse)
	if err := c.invoke(ctx, "OpenProject", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CoordinatorClient) HandleLink(ctx context.Context, in *LinkRequest, opts ...grpc.CallOption) (*HandledResponse, error) {
	out := new(HandledResponse)
	if err := c.invoke(ctx, "HandleLink", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CoordinatorClient) HandleRestore(ctx context.Context, in *RestoreRequest, opts ...grpc.CallOption) (*HandledResponse, error) {
	out := new(HandledResponse)
	if err := c.invoke(ctx, "HandleRestore", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CoordinatorClient) CloseAllWindows(ctx context.Context, in *CloseAllWindowsRequest, opts ...grpc.CallOption) (*HandledResponse, error) {
	out := new(HandledResponse)
	if err := c.invoke(ctx, "CloseAllWindows", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CoordinatorClient) SingleProcessMode(ctx context.Context, in *SingleProcessModeRequest, opts ...grpc.CallOption) (*SingleProcessModeResponse, error) {
	out := new(SingleProcessModeResponse)
	if err := c.invoke(ctx, "SingleProcessMode", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
