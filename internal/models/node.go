package models

// Node represents a physical host able to run benchmark VMs.
// Remaining is mutated only by placement strategies.
type Node struct {
	Address   string `json:"address"`
	Capacity  int    `json:"capacity"`
	Remaining int    `json:"remaining"`
}

// NewNode creates a node with its full capacity available.
func NewNode(address string, capacity int) *Node {
	return &Node{
		Address:   address,
		Capacity:  capacity,
		Remaining: capacity,
	}
}

// Allocated returns the number of slots handed out on the node.
func (n *Node) Allocated() int {
	return n.Capacity - n.Remaining
}
