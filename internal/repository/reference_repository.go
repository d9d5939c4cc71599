package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// referenceRepository reads the dimension tables owned by the hosting
// data platform. The pipeline never writes them.
type referenceRepository struct {
	pool *pgxpool.Pool
}

// NewReferenceRepository wires a repository backed by pgxpool.
func NewReferenceRepository(pool *pgxpool.Pool) ReferenceRepository {
	return &referenceRepository{pool: pool}
}

func (r *referenceRepository) StoreExists(ctx context.Context, storeID string) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("reference repository not initialized")
	}

	var exists bool
	err := r.pool.QueryRow(
		ctx,
		`SELECT EXISTS (SELECT 1 FROM stores WHERE id = $1)`,
		storeID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check store existence: %w", err)
	}

	return exists, nil
}

func (r *referenceRepository) ProductExists(ctx context.Context, skuID string) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("reference repository not initialized")
	}

	var exists bool
	err := r.pool.QueryRow(
		ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE sku_id = $1)`,
		skuID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check product existence: %w", err)
	}

	return exists, nil
}
