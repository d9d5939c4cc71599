package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/scoutdata/medallion/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type canonicalRepository struct {
	pool *pgxpool.Pool
}

// NewCanonicalRepository wires a repository backed by pgxpool.
func NewCanonicalRepository(pool *pgxpool.Pool) CanonicalRepository {
	return &canonicalRepository{pool: pool}
}

func (r *canonicalRepository) UpsertTransaction(ctx context.Context, txn domain.Transaction) error {
	if r.pool == nil {
		return fmt.Errorf("canonical repository not initialized")
	}

	// ON CONFLICT DO NOTHING keyed by the raw event id makes reprocessing
	// a batch after a partial failure safe.
	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO transactions
		   (id, store_id, total, customer_id, campaign_id, requested_brand, was_substituted, transacted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		txn.ID,
		txn.StoreID,
		txn.Total,
		txn.CustomerID,
		txn.CampaignID,
		txn.RequestedBrand,
		txn.WasSubstituted,
		txn.TransactedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert transaction: %w", err)
	}

	return nil
}

func (r *canonicalRepository) UpsertItems(ctx context.Context, transactionID uuid.UUID, items []domain.TransactionItem) error {
	if r.pool == nil {
		return fmt.Errorf("canonical repository not initialized")
	}
	// A transaction may legitimately exist with no confirmed lines yet.
	if len(items) == 0 {
		return nil
	}

	for _, item := range items {
		_, err := r.pool.Exec(
			ctx,
			`INSERT INTO transaction_items
			   (transaction_id, line_number, sku_id, quantity, unit_price, peso_value)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (transaction_id, line_number) DO NOTHING`,
			transactionID,
			item.LineNumber,
			item.SKUID,
			item.Quantity,
			item.UnitPrice,
			item.PesoValue,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert transaction item %d: %w", item.LineNumber, err)
		}
	}

	return nil
}

func (r *canonicalRepository) ApplyEnrichment(ctx context.Context, enrichment domain.TransactionEnrichment) error {
	if r.pool == nil {
		return fmt.Errorf("canonical repository not initialized")
	}

	tag, err := r.pool.Exec(
		ctx,
		`UPDATE transactions
		 SET audio_language   = COALESCE($2, audio_language),
		     audio_transcript = COALESCE($3, audio_transcript),
		     video_objects    = COALESCE($4, video_objects),
		     gender           = COALESCE($5, gender),
		     age_bracket      = COALESCE($6, age_bracket),
		     updated_at       = now()
		 WHERE id = $1`,
		enrichment.TransactionID,
		enrichment.AudioLanguage,
		enrichment.AudioTranscript,
		enrichment.VideoObjects,
		enrichment.Gender,
		enrichment.AgeBracket,
	)
	if err != nil {
		return fmt.Errorf("failed to apply enrichment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransactionNotFound
	}

	return nil
}

func (r *canonicalRepository) UpsertInventoryMovement(ctx context.Context, movement domain.InventoryMovement) error {
	if r.pool == nil {
		return fmt.Errorf("canonical repository not initialized")
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO inventory_movements (id, store_id, sku_id, quantity_delta, reason, moved_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		movement.ID,
		movement.StoreID,
		movement.SKUID,
		movement.QuantityDelta,
		movement.Reason,
		movement.MovedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert inventory movement: %w", err)
	}

	return nil
}

func (r *canonicalRepository) ListTransactionsSince(ctx context.Context, since time.Time) ([]domain.Transaction, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("canonical repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, store_id, total, customer_id, campaign_id, requested_brand, was_substituted,
		        transacted_at, audio_language, audio_transcript, video_objects, gender, age_bracket,
		        created_at, updated_at
		 FROM transactions
		 WHERE transacted_at >= $1
		 ORDER BY transacted_at ASC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txns := []domain.Transaction{}
	for rows.Next() {
		var (
			txn       domain.Transaction
			createdAt pgtype.Timestamptz
			updatedAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&txn.ID,
			&txn.StoreID,
			&txn.Total,
			&txn.CustomerID,
			&txn.CampaignID,
			&txn.RequestedBrand,
			&txn.WasSubstituted,
			&txn.TransactedAt,
			&txn.AudioLanguage,
			&txn.AudioTranscript,
			&txn.VideoObjects,
			&txn.Gender,
			&txn.AgeBracket,
			&createdAt,
			&updatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", scanErr)
		}

		if createdAt.Valid {
			txn.CreatedAt = createdAt.Time
		}
		if updatedAt.Valid {
			txn.UpdatedAt = updatedAt.Time
		}

		txns = append(txns, txn)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", rowsErr)
	}

	return txns, nil
}

func (r *canonicalRepository) ListSoldItemsSince(ctx context.Context, since time.Time) ([]domain.SoldItem, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("canonical repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT ti.transaction_id, t.store_id, ti.sku_id, p.brand_name, p.category,
		        ti.quantity, ti.unit_price, ti.peso_value, t.transacted_at
		 FROM transaction_items ti
		 JOIN transactions t ON t.id = ti.transaction_id
		 JOIN products p ON p.sku_id = ti.sku_id
		 WHERE t.transacted_at >= $1
		 ORDER BY t.transacted_at ASC, ti.line_number ASC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sold items: %w", err)
	}
	defer rows.Close()

	items := []domain.SoldItem{}
	for rows.Next() {
		var item domain.SoldItem
		if scanErr := rows.Scan(
			&item.TransactionID,
			&item.StoreID,
			&item.SKUID,
			&item.BrandName,
			&item.Category,
			&item.Quantity,
			&item.UnitPrice,
			&item.PesoValue,
			&item.TransactedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan sold item: %w", scanErr)
		}
		items = append(items, item)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate sold items: %w", rowsErr)
	}

	return items, nil
}

func (r *canonicalRepository) ListInventoryMovementsSince(ctx context.Context, since time.Time) ([]domain.InventoryMovement, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("canonical repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, store_id, sku_id, quantity_delta, reason, moved_at
		 FROM inventory_movements
		 WHERE moved_at >= $1
		 ORDER BY moved_at ASC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory movements: %w", err)
	}
	defer rows.Close()

	movements := []domain.InventoryMovement{}
	for rows.Next() {
		var movement domain.InventoryMovement
		if scanErr := rows.Scan(
			&movement.ID,
			&movement.StoreID,
			&movement.SKUID,
			&movement.QuantityDelta,
			&movement.Reason,
			&movement.MovedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan inventory movement: %w", scanErr)
		}
		movements = append(movements, movement)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate inventory movements: %w", rowsErr)
	}

	return movements, nil
}
