// Package broadcasttest provides an in-memory peer network for exercising
// code built on broadcast.Coordinator without sockets or processes.
package broadcasttest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pixperk/solo/pkg/broadcast"
	"github.com/pixperk/solo/pkg/types"
)

// Network is both the discovery.Directory and the dialer of a fake machine.
type Network struct {
	mu        sync.Mutex
	peers     map[int]*Peer
	handles   map[int]types.ProcessHandle
	deadPorts []int
	dials     []int
	closes    int
}

func NewNetwork() *Network {
	return &Network{
		peers:   make(map[int]*Peer),
		handles: make(map[int]types.ProcessHandle),
	}
}

// Add places peer on its port, owned by process pid.
func (n *Network) Add(peer *Peer, pid int32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	peer.network = n
	n.peers[peer.port] = peer
	n.handles[peer.port] = types.ProcessHandle{PID: pid, Username: "tester"}
}

// AddDeadPort lists a candidate port nothing answers on.
func (n *Network) AddDeadPort(port int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deadPorts = append(n.deadPorts, port)
}

// Remove takes the peer on port off the network, as if its process exited.
func (n *Network) Remove(port int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, port)
	delete(n.handles, port)
}

func (n *Network) ListLocalPeers(ctx context.Context) ([]types.ProcessHandle, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]types.ProcessHandle, 0, len(n.handles))
	for _, port := range n.sortedPortsLocked() {
		if h, ok := n.handles[port]; ok {
			out = append(out, h)
		}
	}
	return out, nil
}

func (n *Network) CandidatePorts(ctx context.Context, peers []types.ProcessHandle) []int {
	n.mu.Lock()
	defer n.mu.Unlock()

	ports := n.sortedPortsLocked()
	ports = append(ports, n.deadPorts...)
	sort.Ints(ports)
	return ports
}

func (n *Network) sortedPortsLocked() []int {
	ports := make([]int, 0, len(n.peers))
	for port := range n.peers {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}

// Dial is a broadcast.DialFunc.
func (n *Network) Dial(ctx context.Context, port int) (broadcast.Peer, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.dials = append(n.dials, port)
	p, ok := n.peers[port]
	if !ok {
		return nil, false
	}
	return p, true
}

// Dials returns every port dialed so far, in order.
func (n *Network) Dials() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int(nil), n.dials...)
}

// Closes returns how many peer channels were torn down.
func (n *Network) Closes() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closes
}

// Handle returns the process handle registered for port.
func (n *Network) Handle(port int) types.ProcessHandle {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.handles[port]
}

// Peer is a scripted peer. Verdicts are answered in order for OpenProject,
// the last one repeating.
type Peer struct {
	port    int
	network *Network

	mu       sync.Mutex
	verdicts []types.Verdict
	calls    map[string]int

	OpenErr        error
	OpenDelay      time.Duration
	LinkHandled    bool
	RestoreHandled bool
	CloseHandled   bool
	CloseErr       error
	Name           string
	// called when CloseAllWindows is handled
	OnClose func()
}

func NewPeer(port int, verdicts ...types.Verdict) *Peer {
	if len(verdicts) == 0 {
		verdicts = []types.Verdict{types.VerdictIsNotMine}
	}
	return &Peer{
		port:         port,
		verdicts:     verdicts,
		calls:        make(map[string]int),
		CloseHandled: true,
	}
}

// Calls returns how often op was invoked on this peer.
func (p *Peer) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *Peer) record(op string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[op]++
}

func (p *Peer) nextVerdict() types.Verdict {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.verdicts[0]
	if len(p.verdicts) > 1 {
		p.verdicts = p.verdicts[1:]
	}
	return v
}

func (p *Peer) Port() int { return p.port }

func (p *Peer) OwnershipStatus(ctx context.Context, project types.ProjectIdentity) (types.Verdict, error) {
	p.record("OwnershipStatus")
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verdicts[0], nil
}

func (p *Peer) OpenProject(ctx context.Context, project types.ProjectIdentity, args types.StartupArgs) (types.Verdict, error) {
	p.record("OpenProject")
	if p.OpenDelay > 0 {
		time.Sleep(p.OpenDelay)
	}
	if p.OpenErr != nil {
		return types.VerdictUnknown, p.OpenErr
	}
	return p.nextVerdict(), nil
}

func (p *Peer) HandleLink(ctx context.Context, args types.LinkArgs) (bool, error) {
	p.record("HandleLink")
	return p.LinkHandled, nil
}

func (p *Peer) HandleRestore(ctx context.Context, settings types.RestoreSettings) (bool, error) {
	p.record("HandleRestore")
	return p.RestoreHandled, nil
}

func (p *Peer) CloseAllWindows(ctx context.Context) (bool, error) {
	p.record("CloseAllWindows")
	if p.CloseErr != nil {
		return false, p.CloseErr
	}
	if p.CloseHandled && p.OnClose != nil {
		p.OnClose()
	}
	return p.CloseHandled, nil
}

func (p *Peer) ProjectName(ctx context.Context) (string, error) {
	p.record("ProjectName")
	return p.Name, nil
}

func (p *Peer) Close() error {
	if p.network != nil {
		p.network.mu.Lock()
		p.network.closes++
		p.network.mu.Unlock()
	}
	return nil
}
