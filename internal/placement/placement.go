// Package placement selects the physical node that hosts each new VM.
package placement

import (
	"github.com/narvanalabs/benchctl/internal/models"
)

// Unallocated is the index returned by BestFit when no node can take a request.
const Unallocated = -1

// Strategy chooses a node for a VM. Implementations may consume node capacity.
type Strategy interface {
	// Name identifies the strategy in logs.
	Name() string
	// Select returns the index in nodes of the node that will host vm.
	Select(nodes []*models.Node, vm *models.VM) (int, error)
}

// BestFit returns the index of the candidate with the smallest remaining capacity
// that still fits size. A later node with the same capacity never displaces an
// earlier one. It returns Unallocated when no node fits.
func BestFit(remaining []int, size int) int {
	best := Unallocated
	for i, capacity := range remaining {
		if capacity < size {
			continue
		}
		if best == Unallocated || capacity < remaining[best] {
			best = i
		}
	}
	return best
}

// Allocate runs best-fit sequentially over requests, consuming capacity as it goes.
// The returned slice holds the node index for each request, or Unallocated.
// The input capacities are left untouched.
func Allocate(capacities, requests []int) []int {
	remaining := make([]int, len(capacities))
	copy(remaining, capacities)

	allocation := make([]int, len(requests))
	for i, size := range requests {
		idx := BestFit(remaining, size)
		allocation[i] = idx
		if idx != Unallocated {
			remaining[idx] -= size
		}
	}
	return allocation
}

// CountPerNode returns how many requests were assigned to each of n nodes.
func CountPerNode(allocation []int, n int) []int {
	counts := make([]int, n)
	for _, idx := range allocation {
		if idx >= 0 && idx < n {
			counts[idx]++
		}
	}
	return counts
}

// BestFitStrategy packs VMs by vcpu count onto the tightest node that fits.
type BestFitStrategy struct{}

// NewBestFit creates a best-fit strategy.
func NewBestFit() *BestFitStrategy {
	return &BestFitStrategy{}
}

// Name returns the strategy name.
func (s *BestFitStrategy) Name() string {
	return "bestfit"
}

// Select picks the tightest fitting node and decrements its remaining capacity.
func (s *BestFitStrategy) Select(nodes []*models.Node, vm *models.VM) (int, error) {
	if len(nodes) == 0 {
		return Unallocated, ErrNoNodes
	}

	remaining := make([]int, len(nodes))
	for i, node := range nodes {
		remaining[i] = node.Remaining
	}

	idx := BestFit(remaining, vm.VCPUs)
	if idx == Unallocated {
		return Unallocated, ErrUnallocated
	}

	nodes[idx].Remaining -= vm.VCPUs
	return idx, nil
}

// ByNameStrategy always returns the node with a fixed address, falling back to the
// first node, regardless of load. It forces co-location for controlled experiments.
type ByNameStrategy struct {
	address string
}

// NewByName creates a strategy pinned to address. An empty address pins the first node.
func NewByName(address string) *ByNameStrategy {
	return &ByNameStrategy{address: address}
}

// Name returns the strategy name.
func (s *ByNameStrategy) Name() string {
	return "byname"
}

// Select returns the pinned node without looking at capacity.
func (s *ByNameStrategy) Select(nodes []*models.Node, vm *models.VM) (int, error) {
	if len(nodes) == 0 {
		return Unallocated, ErrNoNodes
	}
	for i, node := range nodes {
		if node.Address == s.address {
			return i, nil
		}
	}
	return 0, nil
}

// FirstStrategy is the default: every VM goes to node 0.
type FirstStrategy struct{}

// NewFirst creates the default strategy.
func NewFirst() *FirstStrategy {
	return &FirstStrategy{}
}

// Name returns the strategy name.
func (s *FirstStrategy) Name() string {
	return "first"
}

// Select always returns the first node.
func (s *FirstStrategy) Select(nodes []*models.Node, vm *models.VM) (int, error) {
	if len(nodes) == 0 {
		return Unallocated, ErrNoNodes
	}
	return 0, nil
}

// FromName returns the strategy registered under name, or the default strategy.
func FromName(name, target string) Strategy {
	switch name {
	case "bestfit":
		return NewBestFit()
	case "byname":
		return NewByName(target)
	default:
		return NewFirst()
	}
}
