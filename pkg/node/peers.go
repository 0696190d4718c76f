package node

import (
	"context"

	"github.com/pixperk/solo/pkg/broadcast"
	"github.com/pixperk/solo/pkg/client"
)

// one live instance as seen from here
type PeerInfo struct {
	Port       int
	PID        int32
	InstanceID string
	Project    string
	Limited    bool
}

type identified interface {
	PID() int32
	InstanceID() string
	Limited() bool
}

// Peers dials every candidate port and reports who answered.
func (n *Node) Peers(ctx context.Context) []PeerInfo {
	return listPeers(ctx, n.coord)
}

// ListPeers reports the running instances without starting one.
func ListPeers(ctx context.Context, cfg Config) ([]PeerInfo, error) {
	cfg.setDefaults()
	dir, err := cfg.directory(ctx)
	if err != nil {
		return nil, err
	}
	cfg.Dialer.Logger = cfg.Logger.Named("dialer")
	coord := broadcast.NewCoordinator(dir, broadcast.DialWith(client.NewDialer(cfg.Dialer)), cfg.Logger.Named("broadcast"))
	return listPeers(ctx, coord), nil
}

func listPeers(ctx context.Context, coord *broadcast.Coordinator) []PeerInfo {
	var peers []PeerInfo
	coord.BroadcastAll(ctx, "project_name", func(ctx context.Context, peer broadcast.Peer) error {
		info := PeerInfo{Port: peer.Port()}
		if id, ok := peer.(identified); ok {
			info.PID = id.PID()
			info.InstanceID = id.InstanceID()
			info.Limited = id.Limited()
		}
		name, err := peer.ProjectName(ctx)
		if err != nil {
			return err
		}
		info.Project = name
		peers = append(peers, info)
		return nil
	})
	return peers
}
