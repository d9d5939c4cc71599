package domain

import (
	"time"

	"github.com/google/uuid"
)

// SnapshotRow is one keyed row of an aggregate (gold tier) snapshot.
// Rows only ever exist as members of a run; a run is replaced whole.
type SnapshotRow struct {
	JobName     string             `json:"job_name"`
	RunID       uuid.UUID          `json:"run_id"`
	Dimensions  map[string]string  `json:"dimensions"`
	WindowStart time.Time          `json:"window_start"`
	WindowEnd   time.Time          `json:"window_end"`
	Metrics     map[string]float64 `json:"metrics"`
}

// SnapshotRun identifies the currently live run of an aggregate job.
// ComputedAt is the sole staleness signal for the health monitor.
type SnapshotRun struct {
	JobName    string    `json:"job_name"`
	RunID      uuid.UUID `json:"run_id"`
	RowCount   int       `json:"row_count"`
	ComputedAt time.Time `json:"computed_at"`
}
