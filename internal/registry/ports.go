package registry

// DefaultPortBase is the first NAT port issued on each node.
const DefaultPortBase = 2020

// PortAllocator hands out strictly increasing NAT ports per node address.
// Ports are never reused within a session.
type PortAllocator struct {
	base int
	next map[string]int
}

// NewPortAllocator creates an allocator whose first port on every node is base.
func NewPortAllocator(base int) *PortAllocator {
	if base <= 0 {
		base = DefaultPortBase
	}
	return &PortAllocator{
		base: base,
		next: make(map[string]int),
	}
}

// Next returns an unused port on the node.
func (p *PortAllocator) Next(address string) int {
	port, ok := p.next[address]
	if !ok {
		port = p.base
	}
	p.next[address] = port + 1
	return port
}

// Issued returns how many ports were handed out on the node.
func (p *PortAllocator) Issued(address string) int {
	port, ok := p.next[address]
	if !ok {
		return 0
	}
	return port - p.base
}
