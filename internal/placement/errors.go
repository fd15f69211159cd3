package placement

import "errors"

// Placement errors.
var (
	// ErrUnallocated is returned when no node has enough remaining capacity.
	// It is not fatal: the caller reports the request and moves on.
	ErrUnallocated = errors.New("no node with sufficient remaining capacity")

	// ErrNoNodes is returned when a strategy is asked to choose from an empty pool.
	ErrNoNodes = errors.New("no nodes available")
)
