package aggregate

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/scoutdata/medallion/internal/domain"
	"github.com/scoutdata/medallion/internal/metrics"
	"github.com/scoutdata/medallion/internal/repository"
)

// Aggregate job names. Each one fully recomputes its snapshot from the
// canonical tier over the lookback window and swaps it in atomically.
const (
	JobDailyRevenue  = "daily_revenue"
	JobBrandMix      = "brand_mix"
	JobStoreFeatures = "store_features"
)

// JobNames returns every aggregate job in a stable order.
func JobNames() []string {
	return []string{JobDailyRevenue, JobBrandMix, JobStoreFeatures}
}

// Service recomputes aggregate snapshots. Every run is independent of
// prior runs: a failed recompute leaves the previous snapshot live.
type Service struct {
	canonical repository.CanonicalRepository
	snapshots repository.SnapshotRepository
	lookback  time.Duration
	now       func() time.Time
}

// NewService creates a new aggregator.
func NewService(
	canonical repository.CanonicalRepository,
	snapshots repository.SnapshotRepository,
	lookbackDays int,
) *Service {
	if lookbackDays <= 0 {
		lookbackDays = 30
	}
	return &Service{
		canonical: canonical,
		snapshots: snapshots,
		lookback:  time.Duration(lookbackDays) * 24 * time.Hour,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RunJob recomputes one named job's snapshot. An empty canonical store
// yields an empty run with a fresh computed_at, not a failure.
func (s *Service) RunJob(ctx context.Context, jobName string) (domain.SnapshotRun, error) {
	computedAt := s.now()
	windowStart := computedAt.Add(-s.lookback)

	var (
		rows []domain.SnapshotRow
		err  error
	)
	switch jobName {
	case JobDailyRevenue:
		rows, err = s.computeDailyRevenue(ctx, windowStart, computedAt)
	case JobBrandMix:
		rows, err = s.computeBrandMix(ctx, windowStart, computedAt)
	case JobStoreFeatures:
		rows, err = s.computeStoreFeatures(ctx, windowStart, computedAt)
	default:
		return domain.SnapshotRun{}, fmt.Errorf("unknown aggregate job %q", jobName)
	}
	if err != nil {
		return domain.SnapshotRun{}, fmt.Errorf("failed to compute %s: %w", jobName, err)
	}

	run, err := s.snapshots.ReplaceRun(ctx, jobName, rows, computedAt)
	if err != nil {
		return domain.SnapshotRun{}, fmt.Errorf("failed to replace %s snapshot: %w", jobName, err)
	}

	metrics.SnapshotRows.WithLabelValues(jobName).Set(float64(run.RowCount))
	log.Printf("[AGGREGATOR] %s recomputed: %d rows", jobName, run.RowCount)

	return run, nil
}

// computeDailyRevenue rolls transactions up per store per day.
func (s *Service) computeDailyRevenue(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.SnapshotRow, error) {
	txns, err := s.canonical.ListTransactionsSince(ctx, windowStart)
	if err != nil {
		return nil, err
	}
	items, err := s.canonical.ListSoldItemsSince(ctx, windowStart)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		day     time.Time
		storeID string
		count   float64
		revenue float64
		units   float64
	}
	buckets := map[string]*bucket{}
	key := func(storeID string, day time.Time) string {
		return storeID + "|" + day.Format("2006-01-02")
	}

	for _, txn := range txns {
		day := txn.TransactedAt.UTC().Truncate(24 * time.Hour)
		k := key(txn.StoreID, day)
		b, ok := buckets[k]
		if !ok {
			b = &bucket{day: day, storeID: txn.StoreID}
			buckets[k] = b
		}
		b.count++
		b.revenue += txn.Total
	}
	for _, item := range items {
		day := item.TransactedAt.UTC().Truncate(24 * time.Hour)
		if b, ok := buckets[key(item.StoreID, day)]; ok {
			b.units += float64(item.Quantity)
		}
	}

	rows := make([]domain.SnapshotRow, 0, len(buckets))
	for _, b := range buckets {
		avgBasket := 0.0
		if b.count > 0 {
			avgBasket = b.revenue / b.count
		}
		rows = append(rows, domain.SnapshotRow{
			JobName: JobDailyRevenue,
			Dimensions: map[string]string{
				"store_id": b.storeID,
				"date":     b.day.Format("2006-01-02"),
			},
			WindowStart: b.day,
			WindowEnd:   b.day.Add(24 * time.Hour),
			Metrics: map[string]float64{
				"transaction_count": b.count,
				"revenue":           b.revenue,
				"units":             b.units,
				"avg_basket":        avgBasket,
			},
		})
	}
	return rows, nil
}

// computeBrandMix summarizes units and revenue share per brand/category
// over the whole window.
func (s *Service) computeBrandMix(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.SnapshotRow, error) {
	items, err := s.canonical.ListSoldItemsSince(ctx, windowStart)
	if err != nil {
		return nil, err
	}

	type mix struct {
		brand    string
		category string
		units    float64
		revenue  float64
	}
	mixes := map[string]*mix{}
	var totalRevenue float64

	for _, item := range items {
		k := item.BrandName + "|" + item.Category
		m, ok := mixes[k]
		if !ok {
			m = &mix{brand: item.BrandName, category: item.Category}
			mixes[k] = m
		}
		m.units += float64(item.Quantity)
		m.revenue += item.PesoValue
		totalRevenue += item.PesoValue
	}

	rows := make([]domain.SnapshotRow, 0, len(mixes))
	for _, m := range mixes {
		share := 0.0
		if totalRevenue > 0 {
			share = m.revenue / totalRevenue
		}
		rows = append(rows, domain.SnapshotRow{
			JobName: JobBrandMix,
			Dimensions: map[string]string{
				"brand_name": m.brand,
				"category":   m.category,
			},
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
			Metrics: map[string]float64{
				"units":         m.units,
				"revenue":       m.revenue,
				"revenue_share": share,
			},
		})
	}
	return rows, nil
}

// computeStoreFeatures builds one feature vector per store for the
// downstream recommendation models.
func (s *Service) computeStoreFeatures(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.SnapshotRow, error) {
	txns, err := s.canonical.ListTransactionsSince(ctx, windowStart)
	if err != nil {
		return nil, err
	}
	items, err := s.canonical.ListSoldItemsSince(ctx, windowStart)
	if err != nil {
		return nil, err
	}
	movements, err := s.canonical.ListInventoryMovementsSince(ctx, windowStart)
	if err != nil {
		return nil, err
	}

	type features struct {
		txnCount     float64
		revenue      float64
		units        float64
		branded      float64
		substituted  float64
		weekend      float64
		restockUnits float64
	}
	byStore := map[string]*features{}
	store := func(id string) *features {
		f, ok := byStore[id]
		if !ok {
			f = &features{}
			byStore[id] = f
		}
		return f
	}

	for _, txn := range txns {
		f := store(txn.StoreID)
		f.txnCount++
		f.revenue += txn.Total
		if txn.RequestedBrand != nil {
			f.branded++
		}
		if txn.WasSubstituted {
			f.substituted++
		}
		switch txn.TransactedAt.UTC().Weekday() {
		case time.Saturday, time.Sunday:
			f.weekend++
		}
	}
	for _, item := range items {
		store(item.StoreID).units += float64(item.Quantity)
	}
	for _, movement := range movements {
		if movement.QuantityDelta > 0 {
			store(movement.StoreID).restockUnits += float64(movement.QuantityDelta)
		}
	}

	rows := make([]domain.SnapshotRow, 0, len(byStore))
	for storeID, f := range byStore {
		rate := func(n float64) float64 {
			if f.txnCount == 0 {
				return 0
			}
			return n / f.txnCount
		}
		rows = append(rows, domain.SnapshotRow{
			JobName:     JobStoreFeatures,
			Dimensions:  map[string]string{"store_id": storeID},
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
			Metrics: map[string]float64{
				"transaction_count":    f.txnCount,
				"avg_basket_size":      rate(f.revenue),
				"avg_units_per_txn":    rate(f.units),
				"branded_request_rate": rate(f.branded),
				"substitution_rate":    rate(f.substituted),
				"weekend_share":        rate(f.weekend),
				"restock_units":        f.restockUnits,
			},
		})
	}
	return rows, nil
}
