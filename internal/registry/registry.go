// Package registry records where each VM runs, which test it is paired with and
// how it is reached through its node.
//
// A Registry belongs to a single campaign session and is mutated only by the session's
// control goroutine, so it carries no locking.
package registry

import (
	"fmt"

	"github.com/narvanalabs/benchctl/internal/models"
)

// Endpoint is the NAT address of a VM's SSH server.
type Endpoint struct {
	Address string
	Port    int
}

// Registry is the source of truth for VM to node assignment.
type Registry struct {
	nodes     []*models.Node
	byAddress map[string]*models.Node
	vms       map[string]*models.VM
	tests     map[string]*models.Test
	endpoints map[string]Endpoint
	order     []string
	ports     *PortAllocator
}

// New creates a registry over the node pool.
func New(nodes []*models.Node, portBase int) *Registry {
	r := &Registry{
		nodes:     nodes,
		byAddress: make(map[string]*models.Node, len(nodes)),
		vms:       make(map[string]*models.VM),
		tests:     make(map[string]*models.Test),
		endpoints: make(map[string]Endpoint),
		ports:     NewPortAllocator(portBase),
	}
	for _, n := range nodes {
		r.byAddress[n.Address] = n
	}
	return r
}

// Nodes returns the node pool in its original order.
func (r *Registry) Nodes() []*models.Node {
	return r.nodes
}

// Register pairs a VM with its test.
func (r *Registry) Register(vm *models.VM, test *models.Test) error {
	if _, ok := r.vms[vm.Name]; ok {
		return fmt.Errorf("%s: %w", vm.Name, ErrDuplicateVM)
	}
	r.vms[vm.Name] = vm
	r.tests[vm.Name] = test
	r.order = append(r.order, vm.Name)
	return nil
}

// Assign records that the VM runs on the node at address.
func (r *Registry) Assign(name, address string) error {
	vm, ok := r.vms[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownVM)
	}
	node, ok := r.byAddress[address]
	if !ok {
		return fmt.Errorf("%s: %w", address, ErrUnknownNode)
	}
	if err := vm.SetNode(node); err != nil {
		return fmt.Errorf("assigning %s to %s: %w", name, address, err)
	}
	return nil
}

// VM returns the registered VM.
func (r *Registry) VM(name string) (*models.VM, bool) {
	vm, ok := r.vms[name]
	return vm, ok
}

// Test returns the test paired with the VM.
func (r *Registry) Test(name string) (*models.Test, bool) {
	t, ok := r.tests[name]
	return t, ok
}

// NodeOf returns the node hosting the VM.
func (r *Registry) NodeOf(name string) (*models.Node, error) {
	vm, ok := r.vms[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownVM)
	}
	if !vm.Placed() {
		return nil, fmt.Errorf("%s: %w", name, ErrNotPlaced)
	}
	return vm.Node(), nil
}

// Connect issues a NAT port for the VM on its node and records the endpoint.
func (r *Registry) Connect(name string) (Endpoint, error) {
	node, err := r.NodeOf(name)
	if err != nil {
		return Endpoint{}, err
	}
	ep := Endpoint{Address: node.Address, Port: r.ports.Next(node.Address)}
	r.endpoints[name] = ep
	return ep, nil
}

// Endpoint returns the NAT endpoint issued for the VM.
func (r *Registry) Endpoint(name string) (Endpoint, bool) {
	ep, ok := r.endpoints[name]
	return ep, ok
}

// Names returns registered VM names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Placed returns the bindings of placed VMs in registration order.
func (r *Registry) Placed() []models.Binding {
	var out []models.Binding
	for _, name := range r.order {
		vm := r.vms[name]
		if vm.Placed() {
			out = append(out, models.Binding{VM: vm, Test: r.tests[name]})
		}
	}
	return out
}

// VMsOn returns the names of VMs placed on the node, in registration order.
func (r *Registry) VMsOn(address string) []string {
	var out []string
	for _, name := range r.order {
		vm := r.vms[name]
		if vm.Placed() && vm.Node().Address == address {
			out = append(out, name)
		}
	}
	return out
}

// Placement returns the realized VM name to node address mapping.
func (r *Registry) Placement() map[string]string {
	out := make(map[string]string)
	for _, name := range r.order {
		vm := r.vms[name]
		if vm.Placed() {
			out[name] = vm.Node().Address
		}
	}
	return out
}
