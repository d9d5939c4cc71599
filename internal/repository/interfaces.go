package repository

import (
	"context"
	"time"

	"github.com/scoutdata/medallion/internal/domain"

	"github.com/google/uuid"
)

// RawEventRepository is the bronze tier: an append-only log with a
// single monotonic flag per event.
type RawEventRepository interface {
	// Append inserts the event as received. It never inspects the payload.
	Append(ctx context.Context, event domain.RawEvent) (uuid.UUID, error)
	// ListUnprocessed returns up to limit pending events of one source
	// type, oldest first. A zero olderThan means no age filter.
	ListUnprocessed(ctx context.Context, sourceType domain.SourceType, olderThan time.Time, limit int) ([]domain.RawEvent, error)
	// MarkProcessed flips the flag for one event, recording a terminal
	// validation error when verr is non-nil. Marking an already-processed
	// event is a no-op, not an error.
	MarkProcessed(ctx context.Context, id uuid.UUID, verr *domain.ValidationError) error
	// MarkBatchProcessed flips the flag for a batch of successfully
	// promoted events in one statement.
	MarkBatchProcessed(ctx context.Context, ids []uuid.UUID) error
	// CountUnprocessedOlderThan reports the backlog for one source type.
	CountUnprocessedOlderThan(ctx context.Context, sourceType domain.SourceType, cutoff time.Time) (int64, error)
	// DeleteProcessedBefore removes processed events older than the
	// cutoff. The processed=true predicate is a hard precondition; the
	// implementation must never touch pending events.
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CanonicalRepository is the silver tier: normalized transactions and
// inventory movements, written only by the validator.
type CanonicalRepository interface {
	// UpsertTransaction inserts if absent, keyed by the raw event id.
	UpsertTransaction(ctx context.Context, txn domain.Transaction) error
	// UpsertItems inserts missing lines for a transaction. Safe to call
	// with an empty slice.
	UpsertItems(ctx context.Context, transactionID uuid.UUID, items []domain.TransactionItem) error
	// ApplyEnrichment attaches transcript/vision/customer columns to an
	// existing transaction. Returns domain.ErrTransactionNotFound when
	// the referenced transaction has not been promoted yet.
	ApplyEnrichment(ctx context.Context, enrichment domain.TransactionEnrichment) error
	// UpsertInventoryMovement inserts if absent, keyed by the raw event id.
	UpsertInventoryMovement(ctx context.Context, movement domain.InventoryMovement) error

	ListTransactionsSince(ctx context.Context, since time.Time) ([]domain.Transaction, error)
	ListSoldItemsSince(ctx context.Context, since time.Time) ([]domain.SoldItem, error)
	ListInventoryMovementsSince(ctx context.Context, since time.Time) ([]domain.InventoryMovement, error)
}

// ReferenceRepository reads the externally-owned dimension tables used
// for referential integrity checks.
type ReferenceRepository interface {
	StoreExists(ctx context.Context, storeID string) (bool, error)
	ProductExists(ctx context.Context, skuID string) (bool, error)
}

// SnapshotRepository is the gold tier. Runs are replaced whole: readers
// observe either the previous run or the new one, never a mix.
type SnapshotRepository interface {
	// ReplaceRun atomically installs a freshly computed run for a job and
	// discards the previous one.
	ReplaceRun(ctx context.Context, jobName string, rows []domain.SnapshotRow, computedAt time.Time) (domain.SnapshotRun, error)
	// GetRun returns the live run and its rows for a job.
	GetRun(ctx context.Context, jobName string) (domain.SnapshotRun, []domain.SnapshotRow, error)
	// ListRuns returns the live run of every aggregate job.
	ListRuns(ctx context.Context) ([]domain.SnapshotRun, error)
}

// MonitoringRepository stores health checks for external alerting.
type MonitoringRepository interface {
	Record(ctx context.Context, check domain.HealthCheck) error
	List(ctx context.Context, layer domain.Layer, limit int) ([]domain.HealthCheck, error)
}
