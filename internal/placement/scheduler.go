package placement

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/narvanalabs/benchctl/internal/models"
	"github.com/narvanalabs/benchctl/internal/registry"
)

// Outcome summarizes a placement pass.
type Outcome struct {
	Placed      []string
	Unallocated []string
	// Allocated is the number of vcpus handed out per node address.
	Allocated map[string]int
}

// Scheduler assigns every registered VM to a node through a Strategy and records
// the result in the registry.
type Scheduler struct {
	strategy Strategy
	registry *registry.Registry
	logger   *slog.Logger
}

// NewScheduler creates a new Scheduler instance.
func NewScheduler(strategy Strategy, reg *registry.Registry, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if strategy == nil {
		strategy = NewFirst()
	}
	return &Scheduler{
		strategy: strategy,
		registry: reg,
		logger:   logger,
	}
}

// Schedule places one VM. ErrUnallocated is returned untouched so callers can
// treat it as a miss rather than a failure.
func (s *Scheduler) Schedule(vm *models.VM) (*models.Node, error) {
	nodes := s.registry.Nodes()
	remaining := make([]int, len(nodes))
	for i, n := range nodes {
		remaining[i] = n.Remaining
	}

	idx, err := s.strategy.Select(nodes, vm)
	if err != nil {
		return nil, err
	}

	node := nodes[idx]
	if err := s.registry.Assign(vm.Name, node.Address); err != nil {
		// Hand back whatever the strategy consumed.
		for i, n := range nodes {
			n.Remaining = remaining[i]
		}
		return nil, fmt.Errorf("recording placement: %w", err)
	}

	s.logger.Info("vm placed",
		"vm", vm.Name,
		"node", node.Address,
		"vcpus", vm.VCPUs,
		"remaining", node.Remaining,
		"strategy", s.strategy.Name(),
	)
	return node, nil
}

// ScheduleAll places every registered VM in registration order. Requests that do
// not fit are reported in the outcome and do not stop the pass.
func (s *Scheduler) ScheduleAll() (*Outcome, error) {
	out := &Outcome{}
	for _, name := range s.registry.Names() {
		vm, _ := s.registry.VM(name)
		if vm.Placed() {
			out.Placed = append(out.Placed, name)
			continue
		}

		if _, err := s.Schedule(vm); err != nil {
			if errors.Is(err, ErrUnallocated) {
				s.logger.Warn("vm not allocated",
					"vm", name,
					"vcpus", vm.VCPUs,
					"strategy", s.strategy.Name(),
				)
				out.Unallocated = append(out.Unallocated, name)
				continue
			}
			return out, fmt.Errorf("placing %s: %w", name, err)
		}
		out.Placed = append(out.Placed, name)
	}

	out.Allocated = make(map[string]int)
	for _, n := range s.registry.Nodes() {
		out.Allocated[n.Address] = n.Allocated()
		s.logger.Debug("node allocation", "node", n.Address, "allocated", n.Allocated(), "capacity", n.Capacity)
	}

	s.logger.Info("placement complete",
		"placed", len(out.Placed),
		"unallocated", len(out.Unallocated),
	)
	return out, nil
}
