package types

// contiguous range [BasePort, BasePort+Count)
type PortRange struct {
	BasePort int
	Count    int
}

// Ports returns all ports in the range in ascending order.
func (pr PortRange) Ports() []int {
	if pr.Count <= 0 {
		return []int{}
	}
	ports := make([]int, pr.Count)
	for i := 0; i < pr.Count; i++ {
		ports[i] = pr.BasePort + i
	}
	return ports
}

func (pr PortRange) Contains(port int) bool {
	return port >= pr.BasePort && port < pr.BasePort+pr.Count
}

// identifies a local OS process, enumerated fresh on every discovery pass
type ProcessHandle struct {
	PID      int32
	Username string
	Exe      string
}
