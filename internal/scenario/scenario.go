// Package scenario parses benchmark scenario descriptors into VM and test records
// and produces their canonical text form.
package scenario

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/narvanalabs/benchctl/internal/models"
)

// Document is the on-disk scenario layout.
type Document struct {
	VMs       []VMSpec       `yaml:"vms"`
	CPUMarket map[string]any `yaml:"cpu-market,omitempty"`
	MemMarket map[string]any `yaml:"mem-market,omitempty"`
}

// VMSpec describes a group of identical VMs.
type VMSpec struct {
	Name      string    `yaml:"name"`
	Image     string    `yaml:"image"`
	Instances int       `yaml:"instances"`
	VCPUs     int       `yaml:"vcpus"`
	Memory    int       `yaml:"memory"`
	Frequency int       `yaml:"frequency"`
	MemorySLA *float64  `yaml:"memorySLA"`
	Disk      int       `yaml:"disk"`
	Test      *TestSpec `yaml:"test"`
}

// TestSpec describes the benchmark run by every VM of a group.
type TestSpec struct {
	Type   string   `yaml:"type"`
	Name   string   `yaml:"name"`
	Start  *float64 `yaml:"start"`
	End    *float64 `yaml:"end,omitempty"`
	NbRun  int      `yaml:"nb-run,omitempty"`
	Params string   `yaml:"params,omitempty"`
}

// Scenario is a validated descriptor expanded into one binding per VM instance.
type Scenario struct {
	Document  Document
	Bindings  []models.Binding
	canonical string
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a scenario. Unknown keys, missing required fields and
// duplicate VM names are rejected before anything is returned.
func Parse(data []byte) (*Scenario, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, &ParseError{Field: "document", Reason: "malformed yaml", Err: err}
	}

	bindings, err := expand(&doc)
	if err != nil {
		return nil, err
	}

	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, &ParseError{Field: "document", Reason: "malformed yaml", Err: err}
	}
	canonical, err := yaml.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("serializing scenario: %w", err)
	}

	return &Scenario{
		Document:  doc,
		Bindings:  bindings,
		canonical: string(canonical),
	}, nil
}

func expand(doc *Document) ([]models.Binding, error) {
	if len(doc.VMs) == 0 {
		return nil, fieldError("vms", "at least one vm group is required")
	}

	seen := make(map[string]bool)
	var bindings []models.Binding
	for i, spec := range doc.VMs {
		field := fmt.Sprintf("vms[%d]", i)
		if err := validateVM(field, &spec); err != nil {
			return nil, err
		}
		test := spec.Test.toModel()

		for j := 0; j < spec.Instances; j++ {
			name := spec.Name + strconv.Itoa(j)
			if seen[name] {
				return nil, fieldError(field+".name", fmt.Sprintf("duplicate vm name %q", name))
			}
			seen[name] = true

			vm := &models.VM{
				Name:      name,
				Image:     spec.Image,
				VCPUs:     spec.VCPUs,
				Memory:    spec.Memory,
				Disk:      spec.Disk,
				Frequency: spec.Frequency,
				MemorySLA: *spec.MemorySLA,
			}
			t := test
			bindings = append(bindings, models.Binding{VM: vm, Test: &t})
		}
	}
	return bindings, nil
}

func validateVM(field string, spec *VMSpec) error {
	switch {
	case spec.Name == "":
		return fieldError(field+".name", "is required")
	case spec.Image == "":
		return fieldError(field+".image", "is required")
	case spec.Instances < 1:
		return fieldError(field+".instances", "must be at least 1")
	case spec.VCPUs < 1:
		return fieldError(field+".vcpus", "must be at least 1")
	case spec.Memory < 1:
		return fieldError(field+".memory", "must be positive")
	case spec.Disk < 1:
		return fieldError(field+".disk", "must be positive")
	case spec.Frequency < 1:
		return fieldError(field+".frequency", "must be positive")
	case spec.MemorySLA == nil:
		return fieldError(field+".memorySLA", "is required")
	case !finite(*spec.MemorySLA) || *spec.MemorySLA < 0 || *spec.MemorySLA > 1:
		return fieldError(field+".memorySLA", "must be within [0, 1]")
	case spec.Test == nil:
		return fieldError(field+".test", "is required")
	}
	return validateTest(field+".test", spec.Test)
}

func validateTest(field string, t *TestSpec) error {
	switch {
	case t.Type == "":
		return fieldError(field+".type", "is required")
	case t.Name == "":
		return fieldError(field+".name", "is required")
	case t.Start == nil:
		return fieldError(field+".start", "is required")
	case !finite(*t.Start):
		return fieldError(field+".start", "must be a finite number")
	case *t.Start < 0:
		return fieldError(field+".start", "must not be negative")
	case t.End != nil && !finite(*t.End):
		return fieldError(field+".end", "must be a finite number")
	case t.End != nil && *t.End <= *t.Start:
		return fieldError(field+".end", "must be after start")
	case t.NbRun < 0:
		return fieldError(field+".nb-run", "must not be negative")
	}
	return nil
}

// finite rejects NaN and the infinities, which YAML spells .nan and .inf.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (t *TestSpec) toModel() models.Test {
	out := models.Test{
		Kind:   models.TestKind(t.Type),
		Name:   t.Name,
		Runs:   t.NbRun,
		Params: t.Params,
		Start:  *t.Start,
	}
	if out.Kind == models.TestKindPhoronix && out.Runs == 0 {
		out.Runs = 1
	}
	if t.End != nil {
		end := *t.End
		out.End = &end
	}
	return out
}

// Canonical returns the scenario serialized with sorted keys. Two descriptors with
// the same fields and values produce the same text regardless of key order.
func (s *Scenario) Canonical() string {
	return s.canonical
}

// Hash returns the hex sha256 of the canonical text.
func (s *Scenario) Hash() string {
	return Hash(s.canonical)
}

// Hash returns the hex sha256 of a canonical scenario text.
func Hash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Encode serializes the typed document back to YAML.
func (s *Scenario) Encode() ([]byte, error) {
	return yaml.Marshal(&s.Document)
}

// MarketConfig returns the cpu and memory market sections, possibly nil.
func (s *Scenario) MarketConfig() (cpu, mem map[string]any) {
	return s.Document.CPUMarket, s.Document.MemMarket
}
