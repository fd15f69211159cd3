package scenario

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"gopkg.in/yaml.v3"
)

// genTestSpec generates valid test sections.
func genTestSpec() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf("phoronix", "custom"),
		gen.Identifier(),
		gen.IntRange(0, 600),
		gen.IntRange(0, 600),
		gen.IntRange(1, 10),
		gen.AlphaString(),
	).Map(func(v []interface{}) *TestSpec {
		start := float64(v[2].(int))
		t := &TestSpec{
			Type:  v[0].(string),
			Name:  v[1].(string),
			Start: &start,
		}
		if extra := v[3].(int); extra > 0 {
			end := start + float64(extra)
			t.End = &end
		}
		if t.Type == "phoronix" {
			t.NbRun = v[4].(int)
		} else {
			t.Params = v[5].(string)
		}
		return t
	})
}

// genVMSpec generates valid vm groups with a unique name prefix.
func genVMSpec(prefix string) gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(1, 4),
		gen.IntRange(1, 16),
		gen.IntRange(256, 16384),
		gen.IntRange(800, 3000),
		gen.IntRange(0, 100),
		gen.IntRange(1000, 50000),
		genTestSpec(),
	).Map(func(v []interface{}) VMSpec {
		sla := float64(v[4].(int)) / 100
		return VMSpec{
			Name:      prefix,
			Image:     "ubuntu-20.04",
			Instances: v[0].(int),
			VCPUs:     v[1].(int),
			Memory:    v[2].(int),
			Frequency: v[3].(int),
			MemorySLA: &sla,
			Disk:      v[5].(int),
			Test:      v[6].(*TestSpec),
		}
	})
}

func genDocument() gopter.Gen {
	return gopter.CombineGens(
		genVMSpec("web"),
		genVMSpec("db"),
		gen.IntRange(0, 5000),
	).Map(func(v []interface{}) Document {
		doc := Document{VMs: []VMSpec{v[0].(VMSpec), v[1].(VMSpec)}}
		if w := v[2].(int); w > 0 {
			doc.CPUMarket = map[string]any{"window": w}
		}
		return doc
	})
}

// normalize converts every number to float64 so documents compare by value.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case int:
		return float64(t)
	default:
		return v
	}
}

func decodeGeneric(data []byte) (any, error) {
	var out any
	err := yaml.Unmarshal(data, &out)
	return normalize(out), err
}

// **Feature: scenario-descriptor, Property 1: Descriptor Round-Trip**
// For any valid scenario descriptor, parsing it and re-serializing the typed records
// yields a document semantically equal to the original.
func TestPropertyScenarioRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("parse then encode preserves fields and values", prop.ForAll(
		func(doc Document) bool {
			original, err := yaml.Marshal(&doc)
			if err != nil {
				return false
			}
			s, err := Parse(original)
			if err != nil {
				t.Logf("parse failed: %v", err)
				return false
			}
			encoded, err := s.Encode()
			if err != nil {
				return false
			}

			want, err := decodeGeneric(original)
			if err != nil {
				return false
			}
			got, err := decodeGeneric(encoded)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(want, got)
		},
		genDocument(),
	))

	properties.Property("canonical form is stable under re-parsing", prop.ForAll(
		func(doc Document) bool {
			original, _ := yaml.Marshal(&doc)
			s, err := Parse(original)
			if err != nil {
				return false
			}
			again, err := Parse([]byte(s.Canonical()))
			if err != nil {
				return false
			}
			return again.Canonical() == s.Canonical() && again.Hash() == s.Hash()
		},
		genDocument(),
	))

	properties.Property("instances expand into uniquely named vms", prop.ForAll(
		func(doc Document) bool {
			original, _ := yaml.Marshal(&doc)
			s, err := Parse(original)
			if err != nil {
				return false
			}
			total := 0
			for _, spec := range doc.VMs {
				total += spec.Instances
			}
			names := make(map[string]bool)
			for _, b := range s.Bindings {
				names[b.VM.Name] = true
			}
			return len(s.Bindings) == total && len(names) == total
		},
		genDocument(),
	))

	properties.TestingRun(t)
}
