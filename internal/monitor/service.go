package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/scoutdata/medallion/internal/domain"
	"github.com/scoutdata/medallion/internal/metrics"
	"github.com/scoutdata/medallion/internal/repository"
)

// Thresholds configures what the monitor considers unhealthy.
type Thresholds struct {
	// BacklogThreshold is the max tolerated count of unprocessed raw
	// events older than BacklogMinAge, per source type.
	BacklogThreshold int64
	BacklogMinAge    time.Duration
	// StalenessThreshold is the max tolerated age of an aggregate
	// snapshot's computed_at.
	StalenessThreshold time.Duration
}

// Service inspects backlog size and snapshot freshness on its own
// cadence. It only ever writes to the monitoring log; pipeline state is
// read-only to it.
type Service struct {
	raw        repository.RawEventRepository
	snapshots  repository.SnapshotRepository
	monitoring repository.MonitoringRepository
	thresholds Thresholds
	now        func() time.Time
}

// NewService creates a new health monitor.
func NewService(
	raw repository.RawEventRepository,
	snapshots repository.SnapshotRepository,
	monitoring repository.MonitoringRepository,
	thresholds Thresholds,
) *Service {
	return &Service{
		raw:        raw,
		snapshots:  snapshots,
		monitoring: monitoring,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run performs one monitoring pass, writing one record per observed
// metric. Threshold breaches become alerts, never errors.
func (s *Service) Run(ctx context.Context) error {
	checkedAt := s.now()

	if err := s.checkBacklogs(ctx, checkedAt); err != nil {
		return err
	}
	return s.checkStaleness(ctx, checkedAt)
}

func (s *Service) checkBacklogs(ctx context.Context, checkedAt time.Time) error {
	cutoff := checkedAt.Add(-s.thresholds.BacklogMinAge)

	for _, sourceType := range domain.AllSourceTypes() {
		count, err := s.raw.CountUnprocessedOlderThan(ctx, sourceType, cutoff)
		if err != nil {
			return fmt.Errorf("failed to count %s backlog: %w", sourceType, err)
		}

		metrics.RawBacklog.WithLabelValues(string(sourceType)).Set(float64(count))

		check := domain.HealthCheck{
			Layer:       domain.LayerRaw,
			MetricName:  fmt.Sprintf("backlog_%s", sourceType),
			MetricValue: float64(count),
			Threshold:   float64(s.thresholds.BacklogThreshold),
			CheckedAt:   checkedAt,
		}
		if count > s.thresholds.BacklogThreshold {
			check.AlertTriggered = true
			check.Message = fmt.Sprintf(
				"%d unprocessed %s events older than %s (threshold %d)",
				count, sourceType, s.thresholds.BacklogMinAge, s.thresholds.BacklogThreshold,
			)
			log.Printf("[MONITOR] ALERT %s", check.Message)
		}

		if err := s.monitoring.Record(ctx, check); err != nil {
			return fmt.Errorf("failed to record backlog check: %w", err)
		}
	}

	return nil
}

func (s *Service) checkStaleness(ctx context.Context, checkedAt time.Time) error {
	runs, err := s.snapshots.ListRuns(ctx)
	if err != nil {
		return fmt.Errorf("failed to list aggregate runs: %w", err)
	}

	for _, run := range runs {
		age := checkedAt.Sub(run.ComputedAt)

		metrics.SnapshotAge.WithLabelValues(run.JobName).Set(age.Seconds())

		check := domain.HealthCheck{
			Layer:       domain.LayerAggregate,
			MetricName:  fmt.Sprintf("staleness_%s", run.JobName),
			MetricValue: age.Seconds(),
			Threshold:   s.thresholds.StalenessThreshold.Seconds(),
			CheckedAt:   checkedAt,
		}
		if age > s.thresholds.StalenessThreshold {
			check.AlertTriggered = true
			check.Message = fmt.Sprintf(
				"%s snapshot is %s old (threshold %s)",
				run.JobName, age.Round(time.Second), s.thresholds.StalenessThreshold,
			)
			log.Printf("[MONITOR] ALERT %s", check.Message)
		}

		if err := s.monitoring.Record(ctx, check); err != nil {
			return fmt.Errorf("failed to record staleness check: %w", err)
		}
	}

	return nil
}
