package scenario

import (
	"errors"
	"strings"
	"testing"

	"github.com/narvanalabs/benchctl/internal/models"
)

func TestLoadExample(t *testing.T) {
	s, err := Load("testdata/scenar1.yml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(s.Bindings) != 3 {
		t.Fatalf("expected 3 vm instances, got %d", len(s.Bindings))
	}

	names := []string{"compress0", "compress1", "alloc0"}
	for i, b := range s.Bindings {
		if b.VM.Name != names[i] {
			t.Errorf("binding %d name = %q, want %q", i, b.VM.Name, names[i])
		}
		if b.VM.Placed() {
			t.Errorf("%s must not be placed at parse time", b.VM.Name)
		}
	}

	first := s.Bindings[0]
	if first.Test.Kind != models.TestKindPhoronix || first.Test.Runs != 3 {
		t.Errorf("unexpected phoronix test: %+v", first.Test)
	}
	if !first.Test.HasEnd() || *first.Test.End != 120 {
		t.Errorf("expected end=120, got %+v", first.Test.End)
	}
	if first.Test == s.Bindings[1].Test {
		t.Error("instances must not share a test descriptor")
	}

	alloc := s.Bindings[2]
	if alloc.Test.Kind != models.TestKindCustom || alloc.Test.Params != "512 60" || alloc.Test.HasEnd() {
		t.Errorf("unexpected custom test: %+v", alloc.Test)
	}
	if alloc.VM.MemorySLA != 0.8 || alloc.VM.VCPUs != 2 {
		t.Errorf("unexpected vm: %+v", alloc.VM)
	}

	cpu, mem := s.MarketConfig()
	if cpu["window"] != 1000 || mem["window"] != 2000 {
		t.Errorf("market config = %v %v", cpu, mem)
	}
	if len(s.Hash()) != 64 {
		t.Errorf("hash length = %d", len(s.Hash()))
	}
}

const validVM = `
  - name: v
    image: ubuntu-20.04
    instances: 1
    vcpus: 2
    memory: 1024
    frequency: 1000
    memorySLA: 0.5
    disk: 100
`

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"not yaml", "vms: [", "document"},
		{"no vms", "vms: []", "vms"},
		{"unknown key", "vms:" + validVM + "    colour: red\n    test: {type: custom, name: t, start: 0}\n", "document"},
		{"missing test", "vms:" + validVM, "vms[0].test"},
		{"missing start", "vms:" + validVM + "    test: {type: custom, name: t}\n", "vms[0].test.start"},
		{"end before start", "vms:" + validVM + "    test: {type: custom, name: t, start: 10, end: 5}\n", "vms[0].test.end"},
		{"end equals start", "vms:" + validVM + "    test: {type: custom, name: t, start: 10, end: 10}\n", "vms[0].test.end"},
		{"negative start", "vms:" + validVM + "    test: {type: custom, name: t, start: -1}\n", "vms[0].test.start"},
		{"nan start", "vms:" + validVM + "    test: {type: custom, name: t, start: .nan}\n", "vms[0].test.start"},
		{"infinite start", "vms:" + validVM + "    test: {type: custom, name: t, start: .inf}\n", "vms[0].test.start"},
		{"nan end", "vms:" + validVM + "    test: {type: custom, name: t, start: 0, end: .nan}\n", "vms[0].test.end"},
		{"infinite end", "vms:" + validVM + "    test: {type: custom, name: t, start: 10, end: .inf}\n", "vms[0].test.end"},
		{"nan sla", "vms:\n  - {name: v, image: i, instances: 1, vcpus: 1, memory: 1, frequency: 1, memorySLA: .nan, disk: 1, test: {type: custom, name: t, start: 0}}\n", "vms[0].memorySLA"},
		{"missing type", "vms:" + validVM + "    test: {name: t, start: 0}\n", "vms[0].test.type"},
		{"missing sla", "vms:\n  - {name: v, image: i, instances: 1, vcpus: 1, memory: 1, frequency: 1, disk: 1, test: {type: custom, name: t, start: 0}}\n", "vms[0].memorySLA"},
		{"zero instances", "vms:\n  - {name: v, image: i, instances: 0, vcpus: 1, memory: 1, frequency: 1, memorySLA: 1, disk: 1, test: {type: custom, name: t, start: 0}}\n", "vms[0].instances"},
		{"duplicate names", "vms:\n" +
			"  - {name: v1, image: i, instances: 1, vcpus: 1, memory: 1, frequency: 1, memorySLA: 1, disk: 1, test: {type: custom, name: t, start: 0}}\n" +
			"  - {name: v, image: i, instances: 11, vcpus: 1, memory: 1, frequency: 1, memorySLA: 1, disk: 1, test: {type: custom, name: t, start: 0}}\n",
			"vms[1].name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if !errors.Is(err, ErrInvalidScenario) {
				t.Fatalf("expected ErrInvalidScenario, got %v", err)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError, got %T", err)
			}
			if pe.Field != tt.field {
				t.Errorf("field = %q, want %q (%v)", pe.Field, tt.field, err)
			}
		})
	}
}

func TestParseAcceptsUnknownTestType(t *testing.T) {
	s, err := Parse([]byte("vms:" + validVM + "    test: {type: stress-ng, name: t, start: 0}\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Bindings[0].Test.Kind.Known() {
		t.Error("stress-ng must not be a known kind")
	}
}

func TestParsePhoronixDefaultsRuns(t *testing.T) {
	s, err := Parse([]byte("vms:" + validVM + "    test: {type: phoronix, name: compress-7zip, start: 0}\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Bindings[0].Test.Runs != 1 {
		t.Errorf("Runs = %d, want 1", s.Bindings[0].Test.Runs)
	}
}

func TestCanonicalIgnoresKeyOrder(t *testing.T) {
	a := "vms:" + validVM + "    test: {type: custom, name: t, start: 0, params: x}\n"
	b := strings.Replace(a, "    image: ubuntu-20.04\n    instances: 1\n", "    instances: 1\n    image: ubuntu-20.04\n", 1)
	b = strings.Replace(b, "{type: custom, name: t, start: 0, params: x}", "{params: x, start: 0, name: t, type: custom}", 1)
	if a == b {
		t.Fatal("test documents should differ textually")
	}

	sa, err := Parse([]byte(a))
	if err != nil {
		t.Fatalf("Parse(a): %v", err)
	}
	sb, err := Parse([]byte(b))
	if err != nil {
		t.Fatalf("Parse(b): %v", err)
	}
	if sa.Canonical() != sb.Canonical() || sa.Hash() != sb.Hash() {
		t.Errorf("canonical forms differ:\n%s\n---\n%s", sa.Canonical(), sb.Canonical())
	}
}
