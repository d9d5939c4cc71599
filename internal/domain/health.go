package domain

import (
	"time"

	"github.com/google/uuid"
)

// Layer names the pipeline tier a health check observed.
type Layer string

const (
	LayerRaw       Layer = "raw"
	LayerCanonical Layer = "canonical"
	LayerAggregate Layer = "aggregate"
)

// HealthCheck is one append-only monitoring record. It is never mutated;
// retention of old records is handled outside the pipeline core.
type HealthCheck struct {
	ID             uuid.UUID `json:"id"`
	Layer          Layer     `json:"layer"`
	MetricName     string    `json:"metric_name"`
	MetricValue    float64   `json:"metric_value"`
	Threshold      float64   `json:"threshold"`
	AlertTriggered bool      `json:"alert_triggered"`
	Message        string    `json:"message,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}
