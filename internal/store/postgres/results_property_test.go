package postgres

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/narvanalabs/benchctl/internal/models"
	"github.com/narvanalabs/benchctl/internal/store"
)

// getTestDSN returns the test database connection string.
// Set TEST_DATABASE_URL environment variable to run these tests.
func getTestDSN() string {
	return os.Getenv("TEST_DATABASE_URL")
}

// setupResultStore connects to the test database with a clean results table.
func setupResultStore(t *testing.T) *ResultStore {
	t.Helper()

	dsn := getTestDSN()
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database tests")
	}

	s, err := Open(DefaultConfig(dsn), slog.Default())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if _, err := s.DB().Exec("TRUNCATE results"); err != nil {
		s.Close()
		t.Fatalf("failed to truncate results: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func genOutputs() gopter.Gen {
	return gen.MapOf(gen.Identifier(), gen.AlphaString())
}

// **Feature: result-store, Property 1: Result Persistence Round-Trip**
// For any result, inserting it and reading it back by ID returns the same outputs,
// placement and scenario, and the result is listed under its scenario hash.
func TestPropertyResultRoundTrip(t *testing.T) {
	s := setupResultStore(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("insert then get preserves the result", prop.ForAll(
		func(outputs map[string]string, text string) bool {
			placement := make(map[string]string, len(outputs))
			for name := range outputs {
				placement[name] = "10.0.0.1"
			}
			result := &models.Result{
				Monitors:    map[string]string{"10.0.0.1": `{"t":1}`},
				Outputs:     outputs,
				Placement:   placement,
				Unallocated: []string{"late0"},
			}
			if err := s.Insert(ctx, "vms: "+text+"\n", result); err != nil {
				t.Logf("insert failed: %v", err)
				return false
			}

			got, err := s.Get(ctx, result.ID)
			if err != nil {
				return false
			}
			if got.Scenario != result.Scenario || got.ScenarioHash != result.ScenarioHash {
				return false
			}
			if !reflect.DeepEqual(got.Placement, placement) || !reflect.DeepEqual(got.Unallocated, result.Unallocated) {
				return false
			}
			if len(got.Outputs) != len(outputs) {
				return false
			}
			for k, v := range outputs {
				if got.Outputs[k] != v {
					return false
				}
			}

			listed, err := s.List(ctx, result.ScenarioHash)
			if err != nil {
				return false
			}
			for _, r := range listed {
				if r.ID == result.ID {
					return true
				}
			}
			return false
		},
		genOutputs(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

func TestResultStoreErrors(t *testing.T) {
	s := setupResultStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, uuid.New().String()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, "not-a-uuid"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get(invalid) error = %v, want ErrNotFound", err)
	}

	r := &models.Result{}
	if err := s.Insert(ctx, "vms: []\n", r); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	dup := &models.Result{ID: r.ID}
	if err := s.Insert(ctx, "vms: []\n", dup); !errors.Is(err, store.ErrDuplicateKey) {
		t.Errorf("Insert() duplicate error = %v, want ErrDuplicateKey", err)
	}
}

func TestResultStoreWithTxRollback(t *testing.T) {
	s := setupResultStore(t)
	ctx := context.Background()

	var id string
	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *ResultStore) error {
		r := &models.Result{}
		if err := tx.Insert(ctx, "vms: []\n", r); err != nil {
			return err
		}
		id = r.ID
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v, want boom", err)
	}
	if _, err := s.Get(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("rolled back result should not exist, got %v", err)
	}
}
