package models

// TestKind discriminates the supported benchmark variants.
type TestKind string

const (
	// TestKindPhoronix runs a phoronix-test-suite benchmark.
	TestKindPhoronix TestKind = "phoronix"
	// TestKindCustom runs a launch.sh script uploaded from the assets directory.
	TestKindCustom TestKind = "custom"
)

// Known reports whether the kind is one the engine can install and start.
func (k TestKind) Known() bool {
	return k == TestKindPhoronix || k == TestKindCustom
}

// Test describes the benchmark bound to one VM.
// Runs is only meaningful for phoronix tests and Params for custom tests.
type Test struct {
	Kind   TestKind `json:"type"`
	Name   string   `json:"name"`
	Runs   int      `json:"nb_run,omitempty"`
	Params string   `json:"params,omitempty"`
	Start  float64  `json:"start"`
	End    *float64 `json:"end,omitempty"`
}

// HasEnd reports whether the test declares a stop instant.
func (t *Test) HasEnd() bool {
	return t.End != nil
}

// Binding pairs a VM with the test it runs.
type Binding struct {
	VM   *VM
	Test *Test
}
