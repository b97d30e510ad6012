package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const runColumns = `id, source, speed, start_time_ms, status, emitted, discarded, lines, last_event_time_ms, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run       Run
		startMs   sql.NullInt64
		lastEvent sql.NullInt64
	)
	err := row.Scan(
		&run.ID,
		&run.Source,
		&run.Speed,
		&startMs,
		&run.Status,
		&run.Emitted,
		&run.Discarded,
		&run.Lines,
		&lastEvent,
		&run.Error,
	)
	if err != nil {
		return Run{}, err
	}
	if startMs.Valid {
		run.StartTime = fromMillis(&startMs.Int64)
	}
	if lastEvent.Valid {
		run.LastEventTime = fromMillis(&lastEvent.Int64)
	}
	return run, nil
}

// ReadRun returns a run by ID, or ErrRunNotFound.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("read run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns all runs ordered by ID. UUIDv7 run IDs sort by creation time.
//
// Returns an empty slice (not nil) if no runs exist.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY id COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadEmissions returns the emissions of a run in seq order.
//
// Returns an empty slice (not nil) if the run has no emissions.
func (s *Store) ReadEmissions(ctx context.Context, runID string) ([]Emission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, line, record_id, event_time_ms, wait_ms, payload
		FROM emissions
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query emissions: %w", err)
	}
	defer rows.Close()

	emissions := []Emission{}
	for rows.Next() {
		var (
			em Emission
			ms int64
		)
		if err := rows.Scan(&em.RunID, &em.Seq, &em.Line, &em.RecordID, &ms, &em.WaitMs, &em.Payload); err != nil {
			return nil, fmt.Errorf("scan emission: %w", err)
		}
		em.EventTime = time.UnixMilli(ms).UTC()
		emissions = append(emissions, em)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate emissions: %w", err)
	}
	return emissions, nil
}

// FindRunsByRecord returns the IDs of runs that emitted the given record,
// ordered by run ID.
func (s *Store) FindRunsByRecord(ctx context.Context, recordID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT run_id
		FROM emissions
		WHERE record_id = ?
		ORDER BY run_id COLLATE BINARY ASC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("query runs by record: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run ids: %w", err)
	}
	return ids, nil
}
