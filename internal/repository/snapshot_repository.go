package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scoutdata/medallion/internal/db"
	"github.com/scoutdata/medallion/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type snapshotRepository struct {
	conn *db.Connection
}

// NewSnapshotRepository wires a repository backed by the shared
// connection. It needs the transaction helper, not just the pool: the
// run swap must be atomic with respect to readers.
func NewSnapshotRepository(conn *db.Connection) SnapshotRepository {
	return &snapshotRepository{conn: conn}
}

func (r *snapshotRepository) ReplaceRun(ctx context.Context, jobName string, rows []domain.SnapshotRow, computedAt time.Time) (domain.SnapshotRun, error) {
	if r.conn == nil {
		return domain.SnapshotRun{}, fmt.Errorf("snapshot repository not initialized")
	}

	runID := uuid.New()
	run := domain.SnapshotRun{
		JobName:    jobName,
		RunID:      runID,
		RowCount:   len(rows),
		ComputedAt: computedAt,
	}

	// Write the new run into a fresh slot, repoint the job's current run,
	// then drop the old slot. All inside one transaction so readers see
	// either the old run or the new run, never a mix.
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, row := range rows {
			dimsJSON, err := json.Marshal(row.Dimensions)
			if err != nil {
				return fmt.Errorf("failed to marshal dimensions: %w", err)
			}
			metricsJSON, err := json.Marshal(row.Metrics)
			if err != nil {
				return fmt.Errorf("failed to marshal metrics: %w", err)
			}
			batch.Queue(
				`INSERT INTO aggregate_snapshots (job_name, run_id, dimensions, window_start, window_end, metrics)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				jobName, runID, dimsJSON, row.WindowStart, row.WindowEnd, metricsJSON,
			)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("failed to insert snapshot rows: %w", err)
			}
		}

		if _, err := tx.Exec(
			ctx,
			`INSERT INTO aggregate_runs (job_name, current_run_id, row_count, computed_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (job_name) DO UPDATE
			 SET current_run_id = EXCLUDED.current_run_id,
			     row_count = EXCLUDED.row_count,
			     computed_at = EXCLUDED.computed_at`,
			jobName, runID, len(rows), computedAt,
		); err != nil {
			return fmt.Errorf("failed to repoint current run: %w", err)
		}

		if _, err := tx.Exec(
			ctx,
			`DELETE FROM aggregate_snapshots WHERE job_name = $1 AND run_id <> $2`,
			jobName, runID,
		); err != nil {
			return fmt.Errorf("failed to drop previous run: %w", err)
		}

		return nil
	})
	if err != nil {
		return domain.SnapshotRun{}, err
	}

	return run, nil
}

func (r *snapshotRepository) GetRun(ctx context.Context, jobName string) (domain.SnapshotRun, []domain.SnapshotRow, error) {
	if r.conn == nil {
		return domain.SnapshotRun{}, nil, fmt.Errorf("snapshot repository not initialized")
	}

	// Pointer and rows are read in a single statement. Reading them
	// separately would let a concurrent ReplaceRun commit in between,
	// pairing the old run's metadata with an empty row set. One statement
	// sees one snapshot of both tables, so the result is always a whole
	// run. The LEFT JOIN keeps a zero-row run visible.
	rows, err := r.conn.Pool.Query(
		ctx,
		`SELECT ar.current_run_id, ar.row_count, ar.computed_at,
		        s.dimensions, s.window_start, s.window_end, s.metrics
		 FROM aggregate_runs ar
		 LEFT JOIN aggregate_snapshots s
		   ON s.job_name = ar.job_name AND s.run_id = ar.current_run_id
		 WHERE ar.job_name = $1`,
		jobName,
	)
	if err != nil {
		return domain.SnapshotRun{}, nil, fmt.Errorf("failed to query snapshot run: %w", err)
	}
	defer rows.Close()

	run := domain.SnapshotRun{JobName: jobName}
	snapshotRows := []domain.SnapshotRow{}
	found := false
	for rows.Next() {
		var (
			computedAt             pgtype.Timestamptz
			dimsJSON, metricsJSON  []byte
			windowStart, windowEnd pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&run.RunID,
			&run.RowCount,
			&computedAt,
			&dimsJSON,
			&windowStart,
			&windowEnd,
			&metricsJSON,
		); scanErr != nil {
			return domain.SnapshotRun{}, nil, fmt.Errorf("failed to scan snapshot row: %w", scanErr)
		}
		found = true
		if computedAt.Valid {
			run.ComputedAt = computedAt.Time
		}

		// A run with no rows joins to NULLs; there is nothing to collect.
		if dimsJSON == nil {
			continue
		}
		row := domain.SnapshotRow{JobName: jobName, RunID: run.RunID}
		if windowStart.Valid {
			row.WindowStart = windowStart.Time
		}
		if windowEnd.Valid {
			row.WindowEnd = windowEnd.Time
		}
		if unmarshalErr := json.Unmarshal(dimsJSON, &row.Dimensions); unmarshalErr != nil {
			return domain.SnapshotRun{}, nil, fmt.Errorf("failed to unmarshal dimensions: %w", unmarshalErr)
		}
		if unmarshalErr := json.Unmarshal(metricsJSON, &row.Metrics); unmarshalErr != nil {
			return domain.SnapshotRun{}, nil, fmt.Errorf("failed to unmarshal metrics: %w", unmarshalErr)
		}
		snapshotRows = append(snapshotRows, row)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return domain.SnapshotRun{}, nil, fmt.Errorf("failed to iterate snapshot rows: %w", rowsErr)
	}
	if !found {
		return domain.SnapshotRun{}, nil, fmt.Errorf("no aggregate run for job %q", jobName)
	}

	return run, snapshotRows, nil
}

func (r *snapshotRepository) ListRuns(ctx context.Context) ([]domain.SnapshotRun, error) {
	if r.conn == nil {
		return nil, fmt.Errorf("snapshot repository not initialized")
	}

	rows, err := r.conn.Pool.Query(
		ctx,
		`SELECT job_name, current_run_id, row_count, computed_at
		 FROM aggregate_runs
		 ORDER BY job_name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregate runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.SnapshotRun{}
	for rows.Next() {
		var (
			run        domain.SnapshotRun
			computedAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(&run.JobName, &run.RunID, &run.RowCount, &computedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan aggregate run: %w", scanErr)
		}
		if computedAt.Valid {
			run.ComputedAt = computedAt.Time
		}
		runs = append(runs, run)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate aggregate runs: %w", rowsErr)
	}

	return runs, nil
}
