// Package storage persists completed decode runs. Search state never
// touches the database; only finished results are recorded.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soypete/beamdecode/pkg/beam"
)

// RunStatus marks how a decode run ended.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// DecodeRun is one persisted search outcome.
type DecodeRun struct {
	ID           string          `json:"id"`
	Status       RunStatus       `json:"status"`
	Config       json.RawMessage `json:"config"`
	Tokens       []int           `json:"tokens"`
	Text         string          `json:"text"`
	AvgLogProb   float64         `json:"avg_log_prob"`
	Steps        int             `json:"steps"`
	Completed    int             `json:"completed"`
	Duration     time.Duration   `json:"duration"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewDecodeRun builds a completed run record from a search result. words is
// the decoded output with OOV ids already resolved.
func NewDecodeRun(cfg *beam.Config, res *beam.Result, words []string, duration time.Duration) (*DecodeRun, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	return &DecodeRun{
		ID:         uuid.NewString(),
		Status:     RunStatusCompleted,
		Config:     cfgJSON,
		Tokens:     append([]int(nil), res.Best.Tokens...),
		Text:       strings.Join(words, " "),
		AvgLogProb: res.Best.AvgLogProb(),
		Steps:      res.Steps,
		Completed:  res.Completed,
		Duration:   duration,
		CreatedAt:  time.Now(),
	}, nil
}

// NewFailedRun builds a failure record so aborted searches are visible in
// run history.
func NewFailedRun(cfg *beam.Config, runErr error, duration time.Duration) (*DecodeRun, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	return &DecodeRun{
		ID:           uuid.NewString(),
		Status:       RunStatusFailed,
		Config:       cfgJSON,
		ErrorMessage: runErr.Error(),
		Duration:     duration,
		CreatedAt:    time.Now(),
	}, nil
}

// RunStore reads and writes decode runs.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a store over an open database connection.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// Save inserts a decode run. A missing ID gets a fresh UUID.
func (s *RunStore) Save(ctx context.Context, run *DecodeRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	tokensJSON, err := json.Marshal(run.Tokens)
	if err != nil {
		return fmt.Errorf("marshal tokens: %w", err)
	}
	config := run.Config
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}

	query := `
		INSERT INTO decode_runs (id, status, config, tokens, output_text, avg_log_prob, steps, completed, duration_ms, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		string(run.Status),
		string(config),
		string(tokensJSON),
		run.Text,
		run.AvgLogProb,
		run.Steps,
		run.Completed,
		run.Duration.Milliseconds(),
		run.ErrorMessage,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save decode run: %w", err)
	}
	return nil
}

// Get fetches one run by id.
func (s *RunStore) Get(ctx context.Context, id string) (*DecodeRun, error) {
	query := `
		SELECT id, status, config, tokens, output_text, avg_log_prob, steps, completed, duration_ms, error_message, created_at
		FROM decode_runs
		WHERE id = $1
	`
	return scanRun(s.db.QueryRowContext(ctx, query, id))
}

// List returns the most recent runs, newest first.
func (s *RunStore) List(ctx context.Context, limit int) ([]*DecodeRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, status, config, tokens, output_text, avg_log_prob, steps, completed, duration_ms, error_message, created_at
		FROM decode_runs
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list decode runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ListByStatus returns the most recent runs with the given status.
func (s *RunStore) ListByStatus(ctx context.Context, status RunStatus, limit int) ([]*DecodeRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, status, config, tokens, output_text, avg_log_prob, steps, completed, duration_ms, error_message, created_at
		FROM decode_runs
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list decode runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// Delete removes a run by id.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM decode_runs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete decode run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete decode run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("decode run %s not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*DecodeRun, error) {
	var run DecodeRun
	var status, config, tokens string
	var durationMS int64

	err := row.Scan(
		&run.ID, &status, &config, &tokens, &run.Text,
		&run.AvgLogProb, &run.Steps, &run.Completed, &durationMS,
		&run.ErrorMessage, &run.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("decode run not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan decode run: %w", err)
	}

	run.Status = RunStatus(status)
	run.Config = json.RawMessage(config)
	run.Duration = time.Duration(durationMS) * time.Millisecond
	if err := json.Unmarshal([]byte(tokens), &run.Tokens); err != nil {
		return nil, fmt.Errorf("parse tokens: %w", err)
	}
	return &run, nil
}

func collectRuns(rows *sql.Rows) ([]*DecodeRun, error) {
	var runs []*DecodeRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
