package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/narvanalabs/benchctl/internal/models"
	"github.com/narvanalabs/benchctl/internal/scenario"
	"github.com/narvanalabs/benchctl/internal/store"
)

// ResultStore implements store.ResultStore using PostgreSQL.
type ResultStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

var _ store.ResultStore = (*ResultStore)(nil)

// conn returns the queryable connection (transaction or database).
func (s *ResultStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Insert stores a result for the canonical scenario text.
func (s *ResultStore) Insert(ctx context.Context, scenarioText string, result *models.Result) error {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	result.Scenario = scenarioText
	result.ScenarioHash = scenario.Hash(scenarioText)

	monitors, err := json.Marshal(nonNil(result.Monitors))
	if err != nil {
		return fmt.Errorf("marshaling monitors: %w", err)
	}
	outputs, err := json.Marshal(nonNil(result.Outputs))
	if err != nil {
		return fmt.Errorf("marshaling outputs: %w", err)
	}
	placement, err := json.Marshal(nonNil(result.Placement))
	if err != nil {
		return fmt.Errorf("marshaling placement: %w", err)
	}

	query := `
		INSERT INTO results (id, scenario_hash, scenario, monitors, outputs, placement,
			vm_names, unallocated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.conn().ExecContext(ctx, query,
		result.ID,
		result.ScenarioHash,
		result.Scenario,
		monitors,
		outputs,
		placement,
		pq.Array(result.VMNames()),
		pq.Array(nonNilSlice(result.Unallocated)),
		result.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("result %s: %w", result.ID, store.ErrDuplicateKey)
		}
		return fmt.Errorf("inserting result: %w", err)
	}

	s.logger.Info("result stored",
		"result_id", result.ID,
		"scenario_hash", result.ScenarioHash,
		"vms", len(result.Outputs),
	)
	return nil
}

const selectResult = `
	SELECT id, scenario_hash, scenario, monitors, outputs, placement, unallocated, created_at
	FROM results`

// Get retrieves a result by ID.
func (s *ResultStore) Get(ctx context.Context, id string) (*models.Result, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrNotFound
	}
	row := s.conn().QueryRowContext(ctx, selectResult+` WHERE id = $1`, id)
	result, err := scanResult(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("querying result: %w", err)
	}
	return result, nil
}

// List returns the results recorded for a scenario hash, oldest first.
func (s *ResultStore) List(ctx context.Context, scenarioHash string) ([]*models.Result, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if scenarioHash == "" {
		rows, err = s.conn().QueryContext(ctx, selectResult+` ORDER BY created_at ASC`)
	} else {
		rows, err = s.conn().QueryContext(ctx, selectResult+` WHERE scenario_hash = $1 ORDER BY created_at ASC`, scenarioHash)
	}
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer rows.Close()

	var results []*models.Result
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating results: %w", err)
	}
	return results, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(row scanner) (*models.Result, error) {
	var (
		result                       models.Result
		monitors, outputs, placement []byte
		unallocated                  []string
	)
	err := row.Scan(
		&result.ID,
		&result.ScenarioHash,
		&result.Scenario,
		&monitors,
		&outputs,
		&placement,
		pq.Array(&unallocated),
		&result.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(monitors, &result.Monitors); err != nil {
		return nil, fmt.Errorf("decoding monitors: %w", err)
	}
	if err := json.Unmarshal(outputs, &result.Outputs); err != nil {
		return nil, fmt.Errorf("decoding outputs: %w", err)
	}
	if err := json.Unmarshal(placement, &result.Placement); err != nil {
		return nil, fmt.Errorf("decoding placement: %w", err)
	}
	if len(unallocated) > 0 {
		result.Unallocated = unallocated
	}
	return &result, nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// PostgreSQL error code 23505 is unique_violation
	return strings.Contains(err.Error(), "23505") ||
		strings.Contains(err.Error(), "unique constraint") ||
		strings.Contains(err.Error(), "duplicate key")
}
