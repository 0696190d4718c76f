package broadcast_test

import (
	"context"
	"errors"
	"testing"

	"github.com/pixperk/solo/pkg/broadcast"
	"github.com/pixperk/solo/pkg/broadcast/broadcasttest"
	"github.com/pixperk/solo/pkg/types"
	"github.com/stretchr/testify/assert"
)

var alpha = types.ProjectIdentity{Name: "Alpha", Backend: types.BackendXML, Path: "/projects/Alpha"}

func isMine(ctx context.Context, peer broadcast.Peer) bool {
	v, err := peer.OwnershipStatus(ctx, alpha)
	return err == nil && v == types.VerdictIsMine
}

func TestFindFirstNoPeers(t *testing.T) {
	net := broadcasttest.NewNetwork()
	c := broadcast.NewCoordinator(net, net.Dial, nil)

	assert.False(t, c.FindFirst(context.Background(), "ownership", isMine))
	assert.Empty(t, net.Dials(), "no peers means no dials")
}

func TestFindFirstStopsAtFirstMatch(t *testing.T) {
	net := broadcasttest.NewNetwork()
	first := broadcasttest.NewPeer(5000, types.VerdictIsNotMine)
	second := broadcasttest.NewPeer(5001, types.VerdictIsMine)
	third := broadcasttest.NewPeer(5002, types.VerdictIsMine)
	net.Add(first, 1)
	net.Add(second, 2)
	net.Add(third, 3)

	c := broadcast.NewCoordinator(net, net.Dial, nil)
	assert.True(t, c.FindFirst(context.Background(), "ownership", isMine))

	assert.Equal(t, []int{5000, 5001}, net.Dials(), "scan stops at the first match")
	assert.Equal(t, 0, third.Calls("OwnershipStatus"))
	assert.Equal(t, 2, net.Closes(), "every probe is torn down")
}

func TestFindFirstSkipsSelfAndDeadPorts(t *testing.T) {
	net := broadcasttest.NewNetwork()
	self := broadcasttest.NewPeer(5000, types.VerdictIsMine)
	other := broadcasttest.NewPeer(5002, types.VerdictIsNotMine)
	net.Add(self, 1)
	net.Add(other, 2)
	net.AddDeadPort(5001)

	c := broadcast.NewCoordinator(net, net.Dial, nil)
	c.SetSelfPort(5000)

	assert.False(t, c.FindFirst(context.Background(), "ownership", isMine))
	assert.Equal(t, []int{5001, 5002}, net.Dials(), "own port is never dialed")
	assert.Equal(t, 0, self.Calls("OwnershipStatus"))
}

func TestBroadcastAllIgnoresFailures(t *testing.T) {
	net := broadcasttest.NewNetwork()
	failing := broadcasttest.NewPeer(5000)
	failing.CloseErr = errors.New("boom")
	ok := broadcasttest.NewPeer(5001)
	net.Add(failing, 1)
	net.Add(ok, 2)
	net.AddDeadPort(5002)

	c := broadcast.NewCoordinator(net, net.Dial, nil)
	reached := c.BroadcastAll(context.Background(), "close_all", func(ctx context.Context, peer broadcast.Peer) error {
		_, err := peer.CloseAllWindows(ctx)
		return err
	})

	assert.Equal(t, 2, reached)
	assert.Equal(t, 1, failing.Calls("CloseAllWindows"))
	assert.Equal(t, 1, ok.Calls("CloseAllWindows"), "a failing peer does not stop the broadcast")
	assert.Equal(t, 2, net.Closes())
}

func TestFindFirstCancelledContext(t *testing.T) {
	net := broadcasttest.NewNetwork()
	net.Add(broadcasttest.NewPeer(5000, types.VerdictIsMine), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := broadcast.NewCoordinator(net, net.Dial, nil)
	assert.False(t, c.FindFirst(ctx, "ownership", isMine))
	assert.Empty(t, net.Dials())
}
