package server

import (
	"errors"

	"github.com/pixperk/solo/pkg/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// converts domain errors to gRPC status errors
func toGRPCError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, types.ErrInvalidProject):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, types.ErrExclusiveModeActive), errors.Is(err, types.ErrAlreadyOwnsProject):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, types.ErrNoProjectOpen):
		return status.Error(codes.NotFound, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
