// Package store provides result persistence interfaces.
package store

import (
	"context"
	"errors"

	"github.com/narvanalabs/benchctl/internal/models"
)

// Common store errors.
var (
	// ErrNotFound is returned when a requested result does not exist.
	ErrNotFound = errors.New("result not found")

	// ErrDuplicateKey is returned when a result id is inserted twice.
	ErrDuplicateKey = errors.New("duplicate key")
)

// ResultStore persists campaign results keyed by the hash of their scenario.
type ResultStore interface {
	// Insert stores a result for the canonical scenario text. The result's
	// ScenarioHash and Scenario fields are set from scenarioText.
	Insert(ctx context.Context, scenarioText string, result *models.Result) error
	// List returns every result recorded for a scenario hash, oldest first.
	// An empty hash lists all results.
	List(ctx context.Context, scenarioHash string) ([]*models.Result, error)
	// Get retrieves a result by ID.
	Get(ctx context.Context, id string) (*models.Result, error)
	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
	// Close releases the underlying resources.
	Close() error
}
