package store

import (
	"context"
	"fmt"
)

// CreateRun inserts a run in the running status.
// A run ID can only be created once.
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	if s.readOnly {
		return fmt.Errorf("create run: %w", ErrReadOnly)
	}
	if run.ID == "" {
		return fmt.Errorf("create run: empty run ID")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, source, speed, start_time_ms, status)
		VALUES (?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Source,
		run.Speed,
		toMillis(run.StartTime),
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun records the terminal status and counters of a run.
// Only a running run can be finished; finishing twice returns an error.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	if s.readOnly {
		return fmt.Errorf("finish run: %w", ErrReadOnly)
	}
	switch run.Status {
	case StatusExhausted, StatusCancelled, StatusFailed:
	default:
		return fmt.Errorf("finish run: %q is not a terminal status", run.Status)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, emitted = ?, discarded = ?, lines = ?, last_event_time_ms = ?, error = ?
		WHERE id = ? AND status = ?
	`,
		run.Status,
		run.Emitted,
		run.Discarded,
		run.Lines,
		toMillis(run.LastEventTime),
		run.Error,
		run.ID,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w or already finished", run.ID, ErrRunNotFound)
	}
	return nil
}

// WriteEmission appends an emission to a run.
// Uses ON CONFLICT DO NOTHING for idempotency - rewriting the same
// (run_id, seq) is silently ignored.
func (s *Store) WriteEmission(ctx context.Context, em Emission) error {
	if s.readOnly {
		return fmt.Errorf("write emission: %w", ErrReadOnly)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO emissions
		(run_id, seq, line, record_id, event_time_ms, wait_ms, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		em.RunID,
		em.Seq,
		em.Line,
		em.RecordID,
		em.EventTime.UnixMilli(),
		em.WaitMs,
		em.Payload,
	)
	if err != nil {
		return fmt.Errorf("write emission: %w", err)
	}
	return nil
}
