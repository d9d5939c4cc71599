package validator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scoutdata/medallion/internal/domain"

	"github.com/google/uuid"
)

func TestValidatorPromotesPOSBatch(t *testing.T) {
	raw := newStubRawRepo()
	canonical := newStubCanonicalRepo()
	refs := newStubRefRepo("store-1")
	refs.products["SKU-1"] = true

	// Three POS events, one missing the required total field.
	good1 := appendPOS(raw, "store-1", 125.50, nil)
	good2 := appendPOS(raw, "store-1", 60.00, []map[string]any{
		{"sku_id": "SKU-1", "quantity": 2.0, "unit_price": 30.0},
	})
	bad := raw.append(domain.SourcePOSTransaction, map[string]any{
		"store_id": "store-1",
	})

	service := NewService(raw, canonical, refs, 100, 0.7)

	summary, err := service.Run(context.Background(), domain.SourcePOSTransaction)
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if summary.Scanned != 3 || summary.Promoted != 2 || summary.Rejected != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if len(canonical.transactions) != 2 {
		t.Fatalf("expected 2 canonical transactions, got %d", len(canonical.transactions))
	}
	if _, ok := canonical.transactions[good1]; !ok {
		t.Fatalf("expected transaction for event %s", good1)
	}
	if len(canonical.items[good2]) != 1 {
		t.Fatalf("expected 1 item for event %s, got %d", good2, len(canonical.items[good2]))
	}

	for _, id := range []uuid.UUID{good1, good2, bad} {
		if !raw.record(id).processed {
			t.Fatalf("expected event %s to be processed", id)
		}
	}
	if raw.record(bad).verr == nil {
		t.Fatalf("expected validation error on event %s", bad)
	}
	if raw.record(good1).verr != nil {
		t.Fatalf("did not expect validation error on event %s", good1)
	}
}

func TestValidatorRetryAfterCrashIsIdempotent(t *testing.T) {
	raw := newStubRawRepo()
	canonical := newStubCanonicalRepo()
	refs := newStubRefRepo("store-1")

	appendPOS(raw, "store-1", 99.0, nil)
	appendPOS(raw, "store-1", 45.0, nil)

	service := NewService(raw, canonical, refs, 100, 0.7)

	// Simulate a crash after the canonical writes but before the flag
	// flips: the mark step fails, so both events stay in the backlog.
	raw.failMarkBatch = true
	if _, err := service.Run(context.Background(), domain.SourcePOSTransaction); err == nil {
		t.Fatalf("expected error when marking fails")
	}
	if got := raw.pendingCount(domain.SourcePOSTransaction); got != 2 {
		t.Fatalf("expected 2 pending events after failed mark, got %d", got)
	}

	raw.failMarkBatch = false
	summary, err := service.Run(context.Background(), domain.SourcePOSTransaction)
	if err != nil {
		t.Fatalf("retry returned error: %v", err)
	}
	if summary.Promoted != 2 {
		t.Fatalf("expected 2 promoted on retry, got %d", summary.Promoted)
	}

	// Insert-if-absent: reprocessing produced no duplicates.
	if len(canonical.transactions) != 2 {
		t.Fatalf("expected exactly 2 canonical transactions, got %d", len(canonical.transactions))
	}
	if canonical.transactionWrites != 4 {
		// Two writes per run; the second pair were no-ops.
		t.Fatalf("expected 4 upsert attempts, got %d", canonical.transactionWrites)
	}
}

func TestValidatorStorageFailureLeavesBatchUnmarked(t *testing.T) {
	raw := newStubRawRepo()
	canonical := newStubCanonicalRepo()
	canonical.failWrites = true
	refs := newStubRefRepo("store-1")

	appendPOS(raw, "store-1", 10.0, nil)
	appendPOS(raw, "store-1", 20.0, nil)

	service := NewService(raw, canonical, refs, 100, 0.7)

	if _, err := service.Run(context.Background(), domain.SourcePOSTransaction); err == nil {
		t.Fatalf("expected storage error to propagate")
	}

	if got := raw.pendingCount(domain.SourcePOSTransaction); got != 2 {
		t.Fatalf("expected whole batch to stay unprocessed, got %d pending", got)
	}
}

func TestValidatorConfidenceAtThresholdAccepted(t *testing.T) {
	raw := newStubRawRepo()
	canonical := newStubCanonicalRepo()
	refs := newStubRefRepo("store-1")

	txnID := uuid.New()
	canonical.transactions[txnID] = domain.Transaction{ID: txnID, StoreID: "store-1"}

	atThreshold := raw.append(domain.SourceTranscription, map[string]any{
		"transaction_ref":  txnID.String(),
		"audio_transcript": "pabili po ng alaska",
		"audio_language":   "tagalog",
		"confidence":       0.7,
	})
	below := raw.append(domain.SourceTranscription, map[string]any{
		"transaction_ref":  txnID.String(),
		"audio_transcript": "static noise",
		"confidence":       0.699,
	})

	service := NewService(raw, canonical, refs, 100, 0.7)

	summary, err := service.Run(context.Background(), domain.SourceTranscription)
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if summary.Promoted != 1 || summary.Rejected != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if raw.record(atThreshold).verr != nil {
		t.Fatalf("detection at exactly the threshold must be accepted")
	}
	if raw.record(below).verr == nil {
		t.Fatalf("detection below the threshold must be rejected")
	}
	enriched := canonical.transactions[txnID]
	if enriched.AudioTranscript == nil || *enriched.AudioTranscript != "pabili po ng alaska" {
		t.Fatalf("expected transcript enrichment, got %+v", enriched)
	}
}

func TestValidatorDefersEnrichmentBeforeTransaction(t *testing.T) {
	raw := newStubRawRepo()
	canonical := newStubCanonicalRepo()
	refs := newStubRefRepo("store-1")

	early := raw.append(domain.SourceVisionDetection, map[string]any{
		"transaction_ref": uuid.New().String(),
		"objects":         []any{"shelf", "poster"},
		"confidence":      0.95,
	})

	service := NewService(raw, canonical, refs, 100, 0.7)

	summary, err := service.Run(context.Background(), domain.SourceVisionDetection)
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if summary.Deferred != 1 || summary.Rejected != 0 || summary.Promoted != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if raw.record(early).processed {
		t.Fatalf("deferred event must stay in the backlog")
	}
}

func TestValidatorRejectsUnknownStore(t *testing.T) {
	raw := newStubRawRepo()
	canonical := newStubCanonicalRepo()
	refs := newStubRefRepo("store-1")

	id := appendPOS(raw, "store-404", 10.0, nil)

	service := NewService(raw, canonical, refs, 100, 0.7)

	summary, err := service.Run(context.Background(), domain.SourcePOSTransaction)
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if summary.Rejected != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	rec := raw.record(id)
	if !rec.processed || rec.verr == nil || rec.verr.Field != "store_id" {
		t.Fatalf("expected terminal store_id error, got %+v", rec.verr)
	}
	if len(canonical.transactions) != 0 {
		t.Fatalf("rejected event must not produce canonical rows")
	}
}

func TestValidatorRejectsFractionalQuantity(t *testing.T) {
	raw := newStubRawRepo()
	canonical := newStubCanonicalRepo()
	refs := newStubRefRepo("store-1")
	refs.products["SKU-1"] = true

	id := appendPOS(raw, "store-1", 75.0, []map[string]any{
		{"sku_id": "SKU-1", "quantity": 2.5, "unit_price": 30.0},
	})

	service := NewService(raw, canonical, refs, 100, 0.7)

	summary, err := service.Run(context.Background(), domain.SourcePOSTransaction)
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if summary.Rejected != 1 || summary.Promoted != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	// Fractional units must never be silently truncated into canon.
	rec := raw.record(id)
	if rec.verr == nil || rec.verr.Field != "items[0].quantity" {
		t.Fatalf("expected terminal quantity error, got %+v", rec.verr)
	}
	if len(canonical.transactions) != 0 {
		t.Fatalf("rejected event must not produce canonical rows")
	}
}

func TestValidatorPromotesInventoryMovement(t *testing.T) {
	raw := newStubRawRepo()
	canonical := newStubCanonicalRepo()
	refs := newStubRefRepo("store-1")
	refs.products["SKU-9"] = true

	id := raw.append(domain.SourceInventory, map[string]any{
		"store_id":       "store-1",
		"sku_id":         "SKU-9",
		"quantity_delta": 24.0,
		"reason":         "restock",
	})

	service := NewService(raw, canonical, refs, 100, 0.7)

	summary, err := service.Run(context.Background(), domain.SourceInventory)
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if summary.Promoted != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	movement, ok := canonical.movements[id]
	if !ok || movement.QuantityDelta != 24 || movement.StoreID != "store-1" {
		t.Fatalf("unexpected movement: %+v", movement)
	}
}

// appendPOS appends a well-formed POS event and returns its id.
func appendPOS(raw *stubRawRepo, storeID string, total float64, items []map[string]any) uuid.UUID {
	payload := map[string]any{
		"store_id": storeID,
		"total":    total,
	}
	if items != nil {
		list := make([]any, len(items))
		for i, item := range items {
			list[i] = item
		}
		payload["items"] = list
	}
	return raw.append(domain.SourcePOSTransaction, payload)
}

// --- stubs ---

type rawRecord struct {
	event     domain.RawEvent
	processed bool
	verr      *domain.ValidationError
}

type stubRawRepo struct {
	records       []*rawRecord
	failMarkBatch bool
	clock         time.Time
}

func newStubRawRepo() *stubRawRepo {
	return &stubRawRepo{clock: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func (r *stubRawRepo) append(sourceType domain.SourceType, payload map[string]any) uuid.UUID {
	r.clock = r.clock.Add(time.Second)
	event := domain.RawEvent{
		ID:         uuid.New(),
		SourceType: sourceType,
		SourceID:   "edge-device-1",
		Payload:    payload,
		IngestedAt: r.clock,
	}
	r.records = append(r.records, &rawRecord{event: event})
	return event.ID
}

func (r *stubRawRepo) record(id uuid.UUID) *rawRecord {
	for _, rec := range r.records {
		if rec.event.ID == id {
			return rec
		}
	}
	return nil
}

func (r *stubRawRepo) pendingCount(sourceType domain.SourceType) int {
	count := 0
	for _, rec := range r.records {
		if rec.event.SourceType == sourceType && !rec.processed {
			count++
		}
	}
	return count
}

func (r *stubRawRepo) Append(ctx context.Context, event domain.RawEvent) (uuid.UUID, error) {
	r.records = append(r.records, &rawRecord{event: event})
	return event.ID, nil
}

func (r *stubRawRepo) ListUnprocessed(ctx context.Context, sourceType domain.SourceType, olderThan time.Time, limit int) ([]domain.RawEvent, error) {
	events := []domain.RawEvent{}
	for _, rec := range r.records {
		if rec.event.SourceType != sourceType || rec.processed {
			continue
		}
		if !olderThan.IsZero() && !rec.event.IngestedAt.Before(olderThan) {
			continue
		}
		events = append(events, rec.event)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func (r *stubRawRepo) MarkProcessed(ctx context.Context, id uuid.UUID, verr *domain.ValidationError) error {
	rec := r.record(id)
	if rec == nil || rec.processed {
		return nil
	}
	rec.processed = true
	rec.verr = verr
	return nil
}

func (r *stubRawRepo) MarkBatchProcessed(ctx context.Context, ids []uuid.UUID) error {
	if r.failMarkBatch {
		return errors.New("storage unavailable")
	}
	for _, id := range ids {
		if rec := r.record(id); rec != nil && !rec.processed {
			rec.processed = true
		}
	}
	return nil
}

func (r *stubRawRepo) CountUnprocessedOlderThan(ctx context.Context, sourceType domain.SourceType, cutoff time.Time) (int64, error) {
	var count int64
	for _, rec := range r.records {
		if rec.event.SourceType == sourceType && !rec.processed && rec.event.IngestedAt.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func (r *stubRawRepo) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	kept := r.records[:0]
	var deleted int64
	for _, rec := range r.records {
		if rec.processed && rec.event.IngestedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	return deleted, nil
}

type stubCanonicalRepo struct {
	transactions      map[uuid.UUID]domain.Transaction
	items             map[uuid.UUID][]domain.TransactionItem
	movements         map[uuid.UUID]domain.InventoryMovement
	transactionWrites int
	failWrites        bool
}

func newStubCanonicalRepo() *stubCanonicalRepo {
	return &stubCanonicalRepo{
		transactions: map[uuid.UUID]domain.Transaction{},
		items:        map[uuid.UUID][]domain.TransactionItem{},
		movements:    map[uuid.UUID]domain.InventoryMovement{},
	}
}

func (r *stubCanonicalRepo) UpsertTransaction(ctx context.Context, txn domain.Transaction) error {
	if r.failWrites {
		return errors.New("storage unavailable")
	}
	r.transactionWrites++
	if _, exists := r.transactions[txn.ID]; exists {
		return nil
	}
	r.transactions[txn.ID] = txn
	return nil
}

func (r *stubCanonicalRepo) UpsertItems(ctx context.Context, transactionID uuid.UUID, items []domain.TransactionItem) error {
	if r.failWrites {
		return errors.New("storage unavailable")
	}
	existing := map[int]bool{}
	for _, item := range r.items[transactionID] {
		existing[item.LineNumber] = true
	}
	for _, item := range items {
		if existing[item.LineNumber] {
			continue
		}
		r.items[transactionID] = append(r.items[transactionID], item)
	}
	return nil
}

func (r *stubCanonicalRepo) ApplyEnrichment(ctx context.Context, enrichment domain.TransactionEnrichment) error {
	if r.failWrites {
		return errors.New("storage unavailable")
	}
	txn, ok := r.transactions[enrichment.TransactionID]
	if !ok {
		return domain.ErrTransactionNotFound
	}
	if enrichment.AudioLanguage != nil {
		txn.AudioLanguage = enrichment.AudioLanguage
	}
	if enrichment.AudioTranscript != nil {
		txn.AudioTranscript = enrichment.AudioTranscript
	}
	if enrichment.VideoObjects != nil {
		txn.VideoObjects = enrichment.VideoObjects
	}
	if enrichment.Gender != nil {
		txn.Gender = enrichment.Gender
	}
	if enrichment.AgeBracket != nil {
		txn.AgeBracket = enrichment.AgeBracket
	}
	r.transactions[enrichment.TransactionID] = txn
	return nil
}

func (r *stubCanonicalRepo) UpsertInventoryMovement(ctx context.Context, movement domain.InventoryMovement) error {
	if r.failWrites {
		return errors.New("storage unavailable")
	}
	if _, exists := r.movements[movement.ID]; exists {
		return nil
	}
	r.movements[movement.ID] = movement
	return nil
}

func (r *stubCanonicalRepo) ListTransactionsSince(ctx context.Context, since time.Time) ([]domain.Transaction, error) {
	txns := []domain.Transaction{}
	for _, txn := range r.transactions {
		if !txn.TransactedAt.Before(since) {
			txns = append(txns, txn)
		}
	}
	return txns, nil
}

func (r *stubCanonicalRepo) ListSoldItemsSince(ctx context.Context, since time.Time) ([]domain.SoldItem, error) {
	return []domain.SoldItem{}, nil
}

func (r *stubCanonicalRepo) ListInventoryMovementsSince(ctx context.Context, since time.Time) ([]domain.InventoryMovement, error) {
	return []domain.InventoryMovement{}, nil
}

type stubRefRepo struct {
	stores   map[string]bool
	products map[string]bool
}

func newStubRefRepo(storeIDs ...string) *stubRefRepo {
	repo := &stubRefRepo{stores: map[string]bool{}, products: map[string]bool{}}
	for _, id := range storeIDs {
		repo.stores[id] = true
	}
	return repo
}

func (r *stubRefRepo) StoreExists(ctx context.Context, storeID string) (bool, error) {
	return r.stores[storeID], nil
}

func (r *stubRefRepo) ProductExists(ctx context.Context, skuID string) (bool, error) {
	return r.products[skuID], nil
}
