package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scoutdata/medallion/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rawEventRepository struct {
	pool *pgxpool.Pool
}

// NewRawEventRepository wires a repository backed by pgxpool.
func NewRawEventRepository(pool *pgxpool.Pool) RawEventRepository {
	return &rawEventRepository{pool: pool}
}

func (r *rawEventRepository) Append(ctx context.Context, event domain.RawEvent) (uuid.UUID, error) {
	if r.pool == nil {
		return uuid.Nil, fmt.Errorf("raw event repository not initialized")
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.IngestedAt.IsZero() {
		event.IngestedAt = time.Now().UTC()
	}

	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO raw_events (id, source_type, source_id, payload, ingested_at, processed)
		 VALUES ($1, $2, $3, $4, $5, FALSE)`,
		event.ID,
		string(event.SourceType),
		event.SourceID,
		payloadJSON,
		event.IngestedAt,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to append raw event: %w", err)
	}

	return event.ID, nil
}

func (r *rawEventRepository) ListUnprocessed(ctx context.Context, sourceType domain.SourceType, olderThan time.Time, limit int) ([]domain.RawEvent, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("raw event repository not initialized")
	}
	if limit <= 0 {
		limit = 500
	}

	var cutoff any
	if !olderThan.IsZero() {
		cutoff = olderThan
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, source_type, source_id, payload, ingested_at
		 FROM raw_events
		 WHERE source_type = $1
		   AND processed = FALSE
		   AND ($2::timestamptz IS NULL OR ingested_at < $2)
		 ORDER BY ingested_at ASC
		 LIMIT $3`,
		string(sourceType),
		cutoff,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed raw events: %w", err)
	}
	defer rows.Close()

	events := []domain.RawEvent{}
	for rows.Next() {
		var (
			event       domain.RawEvent
			sourceType  string
			payloadJSON []byte
			ingestedAt  pgtype.Timestamptz
		)
		if scanErr := rows.Scan(&event.ID, &sourceType, &event.SourceID, &payloadJSON, &ingestedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan raw event: %w", scanErr)
		}

		event.SourceType = domain.SourceType(sourceType)
		if ingestedAt.Valid {
			event.IngestedAt = ingestedAt.Time
		}
		if len(payloadJSON) > 0 {
			if unmarshalErr := json.Unmarshal(payloadJSON, &event.Payload); unmarshalErr != nil {
				return nil, fmt.Errorf("failed to unmarshal payload for %s: %w", event.ID, unmarshalErr)
			}
		}
		event.State = domain.Pending()

		events = append(events, event)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate raw events: %w", rowsErr)
	}

	return events, nil
}

func (r *rawEventRepository) MarkProcessed(ctx context.Context, id uuid.UUID, verr *domain.ValidationError) error {
	if r.pool == nil {
		return fmt.Errorf("raw event repository not initialized")
	}

	var verrJSON any
	if verr != nil {
		encoded, err := json.Marshal(verr)
		if err != nil {
			return fmt.Errorf("failed to marshal validation error: %w", err)
		}
		verrJSON = encoded
	}

	// processed = FALSE in the predicate makes the transition monotonic:
	// re-marking an already processed event matches zero rows.
	_, err := r.pool.Exec(
		ctx,
		`UPDATE raw_events
		 SET processed = TRUE, validation_error = $2, processed_at = now()
		 WHERE id = $1 AND processed = FALSE`,
		id,
		verrJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to mark raw event processed: %w", err)
	}

	return nil
}

func (r *rawEventRepository) MarkBatchProcessed(ctx context.Context, ids []uuid.UUID) error {
	if r.pool == nil {
		return fmt.Errorf("raw event repository not initialized")
	}
	if len(ids) == 0 {
		return nil
	}

	_, err := r.pool.Exec(
		ctx,
		`UPDATE raw_events
		 SET processed = TRUE, processed_at = now()
		 WHERE id = ANY($1) AND processed = FALSE`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("failed to mark batch processed: %w", err)
	}

	return nil
}

func (r *rawEventRepository) CountUnprocessedOlderThan(ctx context.Context, sourceType domain.SourceType, cutoff time.Time) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("raw event repository not initialized")
	}

	var count int64
	err := r.pool.QueryRow(
		ctx,
		`SELECT count(*)
		 FROM raw_events
		 WHERE source_type = $1
		   AND processed = FALSE
		   AND ingested_at < $2`,
		string(sourceType),
		cutoff,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unprocessed raw events: %w", err)
	}

	return count, nil
}

func (r *rawEventRepository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("raw event repository not initialized")
	}

	// The processed = TRUE predicate is a hard precondition: the sweep
	// must never touch events the validator has not finished with.
	tag, err := r.pool.Exec(
		ctx,
		`DELETE FROM raw_events
		 WHERE processed = TRUE AND ingested_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed raw events: %w", err)
	}

	return tag.RowsAffected(), nil
}
