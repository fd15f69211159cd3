package models

import "errors"

// ErrAlreadyPlaced is returned when a VM's owning node is set a second time.
var ErrAlreadyPlaced = errors.New("vm already placed")

// VM describes one virtual machine instance requested by a scenario.
// Everything except the owning node is fixed at parse time.
type VM struct {
	Name      string  `json:"name"`
	Image     string  `json:"image"`
	VCPUs     int     `json:"vcpus"`
	Memory    int     `json:"memory"`
	Disk      int     `json:"disk"`
	Frequency int     `json:"frequency"`
	MemorySLA float64 `json:"memory_sla"`

	node *Node
}

// Node returns the node hosting the VM, or nil when it has not been placed.
func (v *VM) Node() *Node {
	return v.node
}

// Placed reports whether the VM has an owning node.
func (v *VM) Placed() bool {
	return v.node != nil
}

// SetNode records the owning node. It succeeds exactly once.
func (v *VM) SetNode(n *Node) error {
	if v.node != nil {
		return ErrAlreadyPlaced
	}
	v.node = n
	return nil
}
