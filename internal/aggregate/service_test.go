package aggregate

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/scoutdata/medallion/internal/domain"

	"github.com/google/uuid"
)

func TestAggregatorEmptyCanonicalStore(t *testing.T) {
	canonical := &stubCanonicalRepo{}
	snapshots := newStubSnapshotRepo()

	service := newTestService(canonical, snapshots)

	run, err := service.RunJob(context.Background(), JobDailyRevenue)
	if err != nil {
		t.Fatalf("empty store must not fail: %v", err)
	}
	if run.RowCount != 0 {
		t.Fatalf("expected empty snapshot, got %d rows", run.RowCount)
	}
	if run.ComputedAt.IsZero() {
		t.Fatalf("computed_at must be advanced even for an empty run")
	}
	if snapshots.replaceCalls != 1 {
		t.Fatalf("expected one snapshot replacement, got %d", snapshots.replaceCalls)
	}
}

func TestAggregatorDailyRevenue(t *testing.T) {
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	canonical := &stubCanonicalRepo{
		transactions: []domain.Transaction{
			txn("store-1", 100, day.Add(9*time.Hour)),
			txn("store-1", 50, day.Add(15*time.Hour)),
			txn("store-2", 30, day.Add(10*time.Hour)),
			txn("store-1", 70, day.Add(25*time.Hour)), // next day
		},
	}
	snapshots := newStubSnapshotRepo()

	service := newTestService(canonical, snapshots)

	run, err := service.RunJob(context.Background(), JobDailyRevenue)
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if run.RowCount != 3 {
		t.Fatalf("expected 3 buckets, got %d", run.RowCount)
	}

	row := findRow(t, snapshots.rows[JobDailyRevenue], map[string]string{
		"store_id": "store-1",
		"date":     "2025-06-02",
	})
	if row.Metrics["transaction_count"] != 2 {
		t.Fatalf("expected 2 transactions, got %f", row.Metrics["transaction_count"])
	}
	if row.Metrics["revenue"] != 150 {
		t.Fatalf("expected revenue 150, got %f", row.Metrics["revenue"])
	}
	if row.Metrics["avg_basket"] != 75 {
		t.Fatalf("expected avg basket 75, got %f", row.Metrics["avg_basket"])
	}
}

func TestAggregatorBrandMixShares(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	canonical := &stubCanonicalRepo{
		items: []domain.SoldItem{
			soldItem("Alaska", "dairy", 2, 60, now),
			soldItem("Alaska", "dairy", 1, 30, now),
			soldItem("Marlboro", "tobacco", 1, 10, now),
		},
	}
	snapshots := newStubSnapshotRepo()

	service := newTestService(canonical, snapshots)

	if _, err := service.RunJob(context.Background(), JobBrandMix); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	alaska := findRow(t, snapshots.rows[JobBrandMix], map[string]string{
		"brand_name": "Alaska",
		"category":   "dairy",
	})
	if alaska.Metrics["units"] != 3 {
		t.Fatalf("expected 3 units, got %f", alaska.Metrics["units"])
	}
	if math.Abs(alaska.Metrics["revenue_share"]-0.9) > 1e-9 {
		t.Fatalf("expected revenue share 0.9, got %f", alaska.Metrics["revenue_share"])
	}
}

func TestAggregatorStoreFeatures(t *testing.T) {
	saturday := time.Date(2025, 6, 7, 11, 0, 0, 0, time.UTC)
	monday := time.Date(2025, 6, 9, 11, 0, 0, 0, time.UTC)
	brand := "Alaska"
	canonical := &stubCanonicalRepo{
		transactions: []domain.Transaction{
			{ID: uuid.New(), StoreID: "store-1", Total: 100, RequestedBrand: &brand, TransactedAt: saturday},
			{ID: uuid.New(), StoreID: "store-1", Total: 50, WasSubstituted: true, TransactedAt: monday},
		},
		movements: []domain.InventoryMovement{
			{ID: uuid.New(), StoreID: "store-1", SKUID: "SKU-1", QuantityDelta: 12, MovedAt: monday},
			{ID: uuid.New(), StoreID: "store-1", SKUID: "SKU-1", QuantityDelta: -3, MovedAt: monday},
		},
	}
	snapshots := newStubSnapshotRepo()

	service := newTestService(canonical, snapshots)

	if _, err := service.RunJob(context.Background(), JobStoreFeatures); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	row := findRow(t, snapshots.rows[JobStoreFeatures], map[string]string{"store_id": "store-1"})
	if row.Metrics["branded_request_rate"] != 0.5 {
		t.Fatalf("expected branded request rate 0.5, got %f", row.Metrics["branded_request_rate"])
	}
	if row.Metrics["substitution_rate"] != 0.5 {
		t.Fatalf("expected substitution rate 0.5, got %f", row.Metrics["substitution_rate"])
	}
	if row.Metrics["weekend_share"] != 0.5 {
		t.Fatalf("expected weekend share 0.5, got %f", row.Metrics["weekend_share"])
	}
	if row.Metrics["restock_units"] != 12 {
		t.Fatalf("expected restock units 12, got %f", row.Metrics["restock_units"])
	}
}

func TestAggregatorFailureKeepsPreviousSnapshot(t *testing.T) {
	canonical := &stubCanonicalRepo{}
	snapshots := newStubSnapshotRepo()

	service := newTestService(canonical, snapshots)

	// Install a first run, then make the canonical read fail.
	firstRun, err := service.RunJob(context.Background(), JobDailyRevenue)
	if err != nil {
		t.Fatalf("first run returned error: %v", err)
	}

	canonical.failReads = true
	if _, err := service.RunJob(context.Background(), JobDailyRevenue); err == nil {
		t.Fatalf("expected failed recompute to return an error")
	}

	live := snapshots.runs[JobDailyRevenue]
	if live.RunID != firstRun.RunID {
		t.Fatalf("failed recompute must leave the previous run live")
	}
	if !live.ComputedAt.Equal(firstRun.ComputedAt) {
		t.Fatalf("computed_at must not advance on failure")
	}
}

func TestAggregatorUnknownJob(t *testing.T) {
	service := newTestService(&stubCanonicalRepo{}, newStubSnapshotRepo())
	if _, err := service.RunJob(context.Background(), "nope"); err == nil {
		t.Fatalf("expected error for unknown job")
	}
}

func newTestService(canonical *stubCanonicalRepo, snapshots *stubSnapshotRepo) *Service {
	service := NewService(canonical, snapshots, 30)
	service.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return service
}

func txn(storeID string, total float64, at time.Time) domain.Transaction {
	return domain.Transaction{ID: uuid.New(), StoreID: storeID, Total: total, TransactedAt: at}
}

func soldItem(brand, category string, quantity int, pesoValue float64, at time.Time) domain.SoldItem {
	return domain.SoldItem{
		TransactionID: uuid.New(),
		StoreID:       "store-1",
		SKUID:         "SKU-1",
		BrandName:     brand,
		Category:      category,
		Quantity:      quantity,
		PesoValue:     pesoValue,
		TransactedAt:  at,
	}
}

func findRow(t *testing.T, rows []domain.SnapshotRow, dims map[string]string) domain.SnapshotRow {
	t.Helper()
outer:
	for _, row := range rows {
		for key, want := range dims {
			if row.Dimensions[key] != want {
				continue outer
			}
		}
		return row
	}
	t.Fatalf("no snapshot row matching %v", dims)
	return domain.SnapshotRow{}
}

// --- stubs ---

type stubCanonicalRepo struct {
	transactions []domain.Transaction
	items        []domain.SoldItem
	movements    []domain.InventoryMovement
	failReads    bool
}

func (r *stubCanonicalRepo) UpsertTransaction(ctx context.Context, txn domain.Transaction) error {
	return nil
}

func (r *stubCanonicalRepo) UpsertItems(ctx context.Context, transactionID uuid.UUID, items []domain.TransactionItem) error {
	return nil
}

func (r *stubCanonicalRepo) ApplyEnrichment(ctx context.Context, enrichment domain.TransactionEnrichment) error {
	return nil
}

func (r *stubCanonicalRepo) UpsertInventoryMovement(ctx context.Context, movement domain.InventoryMovement) error {
	return nil
}

func (r *stubCanonicalRepo) ListTransactionsSince(ctx context.Context, since time.Time) ([]domain.Transaction, error) {
	if r.failReads {
		return nil, errors.New("storage unavailable")
	}
	return r.transactions, nil
}

func (r *stubCanonicalRepo) ListSoldItemsSince(ctx context.Context, since time.Time) ([]domain.SoldItem, error) {
	if r.failReads {
		return nil, errors.New("storage unavailable")
	}
	return r.items, nil
}

func (r *stubCanonicalRepo) ListInventoryMovementsSince(ctx context.Context, since time.Time) ([]domain.InventoryMovement, error) {
	if r.failReads {
		return nil, errors.New("storage unavailable")
	}
	return r.movements, nil
}

type stubSnapshotRepo struct {
	runs         map[string]domain.SnapshotRun
	rows         map[string][]domain.SnapshotRow
	replaceCalls int
}

func newStubSnapshotRepo() *stubSnapshotRepo {
	return &stubSnapshotRepo{
		runs: map[string]domain.SnapshotRun{},
		rows: map[string][]domain.SnapshotRow{},
	}
}

func (r *stubSnapshotRepo) ReplaceRun(ctx context.Context, jobName string, rows []domain.SnapshotRow, computedAt time.Time) (domain.SnapshotRun, error) {
	run := domain.SnapshotRun{
		JobName:    jobName,
		RunID:      uuid.New(),
		RowCount:   len(rows),
		ComputedAt: computedAt,
	}
	r.runs[jobName] = run
	r.rows[jobName] = rows
	r.replaceCalls++
	return run, nil
}

func (r *stubSnapshotRepo) GetRun(ctx context.Context, jobName string) (domain.SnapshotRun, []domain.SnapshotRow, error) {
	run, ok := r.runs[jobName]
	if !ok {
		return domain.SnapshotRun{}, nil, errors.New("no run")
	}
	return run, r.rows[jobName], nil
}

func (r *stubSnapshotRepo) ListRuns(ctx context.Context) ([]domain.SnapshotRun, error) {
	runs := []domain.SnapshotRun{}
	for _, run := range r.runs {
		runs = append(runs, run)
	}
	return runs, nil
}
