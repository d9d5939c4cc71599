package retention

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/scoutdata/medallion/internal/repository"
)

// Sweeper deletes raw events that have been processed and have aged out
// of the retention window. It is deliberately outside the pipeline's
// correctness guarantees: the repository enforces the processed=true
// precondition, so an in-flight validator batch can never lose events.
type Sweeper struct {
	raw       repository.RawEventRepository
	retention time.Duration
	now       func() time.Time
}

// NewSweeper creates a sweeper keeping retentionDays of processed events.
func NewSweeper(raw repository.RawEventRepository, retentionDays int) *Sweeper {
	if retentionDays <= 0 {
		retentionDays = 14
	}
	return &Sweeper{
		raw:       raw,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run deletes processed events strictly older than the retention window.
func (s *Sweeper) Run(ctx context.Context) error {
	cutoff := s.now().Add(-s.retention)

	deleted, err := s.raw.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to sweep raw events: %w", err)
	}

	if deleted > 0 {
		log.Printf("[RETENTION] swept %d processed raw events older than %s", deleted, cutoff.Format(time.RFC3339))
	}
	return nil
}
