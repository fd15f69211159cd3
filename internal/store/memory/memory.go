// Package memory is an in-process result store for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/narvanalabs/benchctl/internal/models"
	"github.com/narvanalabs/benchctl/internal/scenario"
	"github.com/narvanalabs/benchctl/internal/store"
)

// Store keeps results in memory.
type Store struct {
	mu      sync.RWMutex
	results []*models.Result
	byID    map[string]*models.Result
	now     func() time.Time
}

var _ store.ResultStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		byID: make(map[string]*models.Result),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Insert stores a copy of result.
func (s *Store) Insert(ctx context.Context, scenarioText string, result *models.Result) error {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = s.now()
	}
	result.Scenario = scenarioText
	result.ScenarioHash = scenario.Hash(scenarioText)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[result.ID]; ok {
		return fmt.Errorf("result %s: %w", result.ID, store.ErrDuplicateKey)
	}
	stored := clone(result)
	s.results = append(s.results, stored)
	s.byID[stored.ID] = stored
	return nil
}

// List returns copies of the results for scenarioHash in insertion order.
func (s *Store) List(ctx context.Context, scenarioHash string) ([]*models.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Result
	for _, r := range s.results {
		if scenarioHash == "" || r.ScenarioHash == scenarioHash {
			out = append(out, clone(r))
		}
	}
	return out, nil
}

// Get returns a copy of the result with id.
func (s *Store) Get(ctx context.Context, id string) (*models.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(r), nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func clone(r *models.Result) *models.Result {
	out := *r
	out.Monitors = cloneMap(r.Monitors)
	out.Outputs = cloneMap(r.Outputs)
	out.Placement = cloneMap(r.Placement)
	if r.Unallocated != nil {
		out.Unallocated = append([]string(nil), r.Unallocated...)
	}
	return &out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
