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

type monitoringRepository struct {
	pool *pgxpool.Pool
}

// NewMonitoringRepository wires a repository backed by pgxpool.
func NewMonitoringRepository(pool *pgxpool.Pool) MonitoringRepository {
	return &monitoringRepository{pool: pool}
}

func (r *monitoringRepository) Record(ctx context.Context, check domain.HealthCheck) error {
	if r.pool == nil {
		return fmt.Errorf("monitoring repository not initialized")
	}

	if check.ID == uuid.Nil {
		check.ID = uuid.New()
	}
	if check.CheckedAt.IsZero() {
		check.CheckedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO health_checks (id, layer, metric_name, metric_value, threshold, alert_triggered, message, checked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		check.ID,
		string(check.Layer),
		check.MetricName,
		check.MetricValue,
		check.Threshold,
		check.AlertTriggered,
		check.Message,
		check.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record health check: %w", err)
	}

	return nil
}

func (r *monitoringRepository) List(ctx context.Context, layer domain.Layer, limit int) ([]domain.HealthCheck, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("monitoring repository not initialized")
	}
	if limit <= 0 {
		limit = 200
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, layer, metric_name, metric_value, threshold, alert_triggered, message, checked_at
		 FROM health_checks
		 WHERE layer = $1
		 ORDER BY checked_at DESC
		 LIMIT $2`,
		string(layer),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list health checks: %w", err)
	}
	defer rows.Close()

	checks := []domain.HealthCheck{}
	for rows.Next() {
		var (
			check     domain.HealthCheck
			layerRaw  string
			checkedAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&check.ID,
			&layerRaw,
			&check.MetricName,
			&check.MetricValue,
			&check.Threshold,
			&check.AlertTriggered,
			&check.Message,
			&checkedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan health check: %w", scanErr)
		}

		check.Layer = domain.Layer(layerRaw)
		if checkedAt.Valid {
			check.CheckedAt = checkedAt.Time
		}

		checks = append(checks, check)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate health checks: %w", rowsErr)
	}

	return checks, nil
}
