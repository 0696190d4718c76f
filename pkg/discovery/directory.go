// Package discovery finds the other running instances on this machine
// without a central registry service.
package discovery

import (
	"context"

	"github.com/pixperk/solo/pkg/types"
)

const (
	DefaultPortMultiplier = 4
	DefaultMaxCandidates  = 64
)

// Directory enumerates candidate peers and the ports worth probing for them.
// The broadcast layer only depends on this interface, so the discovery
// mechanism can change without touching the protocol.
type Directory interface {
	ListLocalPeers(ctx context.Context) ([]types.ProcessHandle, error)
	CandidatePorts(ctx context.Context, peers []types.ProcessHandle) []int
}

// Registrar is implemented by directories that need to be told which port
// this process bound.
type Registrar interface {
	Register(ctx context.Context, port int) error
	Unregister(ctx context.Context) error
}

// CandidatePortRange returns basePort .. basePort+peerCount*multiplier,
// capped at maxCandidates. The multiplier covers peers that had to skip
// busy ports while binding.
func CandidatePortRange(basePort, peerCount, multiplier, maxCandidates int) types.PortRange {
	if peerCount <= 0 {
		return types.PortRange{BasePort: basePort}
	}
	if multiplier <= 0 {
		multiplier = DefaultPortMultiplier
	}
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}

	count := peerCount * multiplier
	if count > maxCandidates {
		count = maxCandidates
	}
	return types.PortRange{BasePort: basePort, Count: count}
}
