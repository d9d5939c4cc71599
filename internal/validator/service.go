package validator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/scoutdata/medallion/internal/domain"
	"github.com/scoutdata/medallion/internal/metrics"
	"github.com/scoutdata/medallion/internal/repository"

	"github.com/google/uuid"
)

// Service drains the unprocessed backlog for one source type per run,
// promoting well-formed events to the canonical tier in bounded batches.
type Service struct {
	raw           repository.RawEventRepository
	canonical     repository.CanonicalRepository
	refs          repository.ReferenceRepository
	batchSize     int
	minConfidence float64
}

// NewService creates a new validator service.
func NewService(
	raw repository.RawEventRepository,
	canonical repository.CanonicalRepository,
	refs repository.ReferenceRepository,
	batchSize int,
	minConfidence float64,
) *Service {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Service{
		raw:           raw,
		canonical:     canonical,
		refs:          refs,
		batchSize:     batchSize,
		minConfidence: minConfidence,
	}
}

// Summary returns run level counts for one source type.
type Summary struct {
	SourceType domain.SourceType `json:"source_type"`
	Scanned    int               `json:"scanned"`
	Promoted   int               `json:"promoted"`
	Rejected   int               `json:"rejected"`
	Deferred   int               `json:"deferred"`
}

func (s Summary) add(other Summary) Summary {
	s.Scanned += other.Scanned
	s.Promoted += other.Promoted
	s.Rejected += other.Rejected
	s.Deferred += other.Deferred
	return s
}

// Run drains the backlog for sourceType. A storage failure aborts the
// current batch with nothing marked processed; the batch is retried on
// the next scheduled run.
func (s *Service) Run(ctx context.Context, sourceType domain.SourceType) (Summary, error) {
	summary := Summary{SourceType: sourceType}

	for {
		events, err := s.raw.ListUnprocessed(ctx, sourceType, time.Time{}, s.batchSize)
		if err != nil {
			return summary, fmt.Errorf("failed to read backlog: %w", err)
		}
		if len(events) == 0 {
			return summary, nil
		}

		batch, err := s.processBatch(ctx, sourceType, events)
		summary = summary.add(batch)
		if err != nil {
			return summary, err
		}

		// Deferred events stay in the backlog; stop once a pass makes no
		// progress so the run terminates.
		if batch.Promoted+batch.Rejected == 0 {
			return summary, nil
		}
		if len(events) < s.batchSize {
			return summary, nil
		}
	}
}

type promotion struct {
	id    uuid.UUID
	write func(ctx context.Context) error
}

type rejection struct {
	id   uuid.UUID
	verr domain.ValidationError
}

// processBatch runs in three phases: terminal filtering, canonical
// writes keyed by raw event id, then flag flips. Nothing is marked
// processed until every canonical write of the batch succeeded.
func (s *Service) processBatch(ctx context.Context, sourceType domain.SourceType, events []domain.RawEvent) (Summary, error) {
	summary := Summary{SourceType: sourceType, Scanned: len(events)}

	var (
		promotions []promotion
		rejections []rejection
		deferred   []uuid.UUID
	)

	for _, event := range events {
		promo, verr, err := s.classify(ctx, event)
		if err != nil {
			return summary, err
		}
		if verr != nil {
			rejections = append(rejections, rejection{id: event.ID, verr: *verr})
			continue
		}
		promotions = append(promotions, *promo)
	}

	promoted := make([]uuid.UUID, 0, len(promotions))
	for _, promo := range promotions {
		if err := promo.write(ctx); err != nil {
			if errors.Is(err, domain.ErrTransactionNotFound) {
				// Enrichment arrived before its transaction. Transient:
				// leave it unprocessed and pick it up next tick.
				deferred = append(deferred, promo.id)
				continue
			}
			return summary, fmt.Errorf("failed to write canonical rows: %w", err)
		}
		promoted = append(promoted, promo.id)
	}

	if err := s.raw.MarkBatchProcessed(ctx, promoted); err != nil {
		return summary, fmt.Errorf("failed to mark batch processed: %w", err)
	}
	for _, rej := range rejections {
		verr := rej.verr
		if err := s.raw.MarkProcessed(ctx, rej.id, &verr); err != nil {
			return summary, fmt.Errorf("failed to record validation error: %w", err)
		}
		log.Printf("[VALIDATOR] %s event %s rejected: %s", sourceType, rej.id, verr.Error())
	}

	summary.Promoted = len(promoted)
	summary.Rejected = len(rejections)
	summary.Deferred = len(deferred)

	metrics.EventsValidated.WithLabelValues(string(sourceType), "promoted").Add(float64(summary.Promoted))
	metrics.EventsValidated.WithLabelValues(string(sourceType), "rejected").Add(float64(summary.Rejected))
	metrics.EventsValidated.WithLabelValues(string(sourceType), "deferred").Add(float64(summary.Deferred))

	return summary, nil
}

// classify decodes and validates one event. A nil promotion with a
// validation error is terminal; a non-nil error is a storage failure.
func (s *Service) classify(ctx context.Context, event domain.RawEvent) (*promotion, *domain.ValidationError, error) {
	switch event.SourceType {
	case domain.SourcePOSTransaction:
		return s.classifyPOS(ctx, event)
	case domain.SourceTranscription, domain.SourceVisionDetection, domain.SourceCustomerInteraction:
		return s.classifyEnrichment(event)
	case domain.SourceInventory:
		return s.classifyInventory(ctx, event)
	default:
		return nil, &domain.ValidationError{Message: fmt.Sprintf("unsupported source type %s", event.SourceType)}, nil
	}
}

func (s *Service) classifyPOS(ctx context.Context, event domain.RawEvent) (*promotion, *domain.ValidationError, error) {
	payload, verr := decodePOS(event)
	if verr != nil {
		return nil, verr, nil
	}

	exists, err := s.refs.StoreExists(ctx, payload.StoreID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check store %s: %w", payload.StoreID, err)
	}
	if !exists {
		return nil, &domain.ValidationError{Field: "store_id", Message: fmt.Sprintf("unknown store %s", payload.StoreID)}, nil
	}
	for _, item := range payload.Items {
		known, err := s.refs.ProductExists(ctx, item.SKUID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to check product %s: %w", item.SKUID, err)
		}
		if !known {
			return nil, &domain.ValidationError{Field: "items", Message: fmt.Sprintf("unknown sku %s", item.SKUID)}, nil
		}
	}

	txn := domain.Transaction{
		ID:             event.ID,
		StoreID:        payload.StoreID,
		Total:          payload.Total,
		CustomerID:     payload.CustomerID,
		CampaignID:     payload.CampaignID,
		RequestedBrand: payload.RequestedBrand,
		WasSubstituted: payload.WasSubstituted,
		TransactedAt:   payload.TransactedAt,
	}
	items := make([]domain.TransactionItem, len(payload.Items))
	for idx, item := range payload.Items {
		items[idx] = domain.TransactionItem{
			TransactionID: event.ID,
			LineNumber:    idx + 1,
			SKUID:         item.SKUID,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			PesoValue:     float64(item.Quantity) * item.UnitPrice,
		}
	}

	return &promotion{
		id: event.ID,
		write: func(ctx context.Context) error {
			if err := s.canonical.UpsertTransaction(ctx, txn); err != nil {
				return err
			}
			return s.canonical.UpsertItems(ctx, txn.ID, items)
		},
	}, nil, nil
}

func (s *Service) classifyEnrichment(event domain.RawEvent) (*promotion, *domain.ValidationError, error) {
	payload, verr := decodeEnrichment(event)
	if verr != nil {
		return nil, verr, nil
	}

	// A detection exactly at the threshold is accepted.
	if payload.Confidence < s.minConfidence {
		return nil, &domain.ValidationError{
			Field:   "confidence",
			Message: fmt.Sprintf("confidence %.3f below threshold %.3f", payload.Confidence, s.minConfidence),
		}, nil
	}

	enrichment := domain.TransactionEnrichment{
		TransactionID:   payload.TransactionRef,
		AudioLanguage:   payload.AudioLanguage,
		AudioTranscript: payload.AudioTranscript,
		VideoObjects:    payload.VideoObjects,
		Gender:          payload.Gender,
		AgeBracket:      payload.AgeBracket,
	}

	return &promotion{
		id: event.ID,
		write: func(ctx context.Context) error {
			return s.canonical.ApplyEnrichment(ctx, enrichment)
		},
	}, nil, nil
}

func (s *Service) classifyInventory(ctx context.Context, event domain.RawEvent) (*promotion, *domain.ValidationError, error) {
	payload, verr := decodeInventory(event)
	if verr != nil {
		return nil, verr, nil
	}

	exists, err := s.refs.StoreExists(ctx, payload.StoreID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check store %s: %w", payload.StoreID, err)
	}
	if !exists {
		return nil, &domain.ValidationError{Field: "store_id", Message: fmt.Sprintf("unknown store %s", payload.StoreID)}, nil
	}
	known, err := s.refs.ProductExists(ctx, payload.SKUID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check product %s: %w", payload.SKUID, err)
	}
	if !known {
		return nil, &domain.ValidationError{Field: "sku_id", Message: fmt.Sprintf("unknown sku %s", payload.SKUID)}, nil
	}

	movement := domain.InventoryMovement{
		ID:            event.ID,
		StoreID:       payload.StoreID,
		SKUID:         payload.SKUID,
		QuantityDelta: payload.QuantityDelta,
		Reason:        payload.Reason,
		MovedAt:       payload.MovedAt,
	}

	return &promotion{
		id: event.ID,
		write: func(ctx context.Context) error {
			return s.canonical.UpsertInventoryMovement(ctx, movement)
		},
	}, nil, nil
}
