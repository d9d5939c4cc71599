package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyProcessed is returned when a processed event is asked to
// transition again. Callers that only need idempotence can ignore it.
var ErrAlreadyProcessed = errors.New("raw event already processed")

// ValidationError records why a raw event could not be promoted to the
// canonical tier. It is terminal: the event is never retried.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ProcessingState is the two-state lifecycle of a raw event. The zero
// value is pending. The transition to processed is monotonic; there is
// no way back to pending through this type.
type ProcessingState struct {
	processed bool
	verr      *ValidationError
}

// Pending returns the initial state.
func Pending() ProcessingState {
	return ProcessingState{}
}

// ProcessedOK returns the state of an event promoted to canonical.
func ProcessedOK() ProcessingState {
	return ProcessingState{processed: true}
}

// ProcessedWithError returns the state of an event rejected by validation.
func ProcessedWithError(verr ValidationError) ProcessingState {
	return ProcessingState{processed: true, verr: &verr}
}

// Processed reports whether the event has left the backlog.
func (s ProcessingState) Processed() bool {
	return s.processed
}

// ValidationError returns the terminal rejection, if any.
func (s ProcessingState) ValidationError() *ValidationError {
	if s.verr == nil {
		return nil
	}
	copied := *s.verr
	return &copied
}

// Transition applies the pending-to-processed step. Applying it to an
// already-processed state returns ErrAlreadyProcessed and leaves the
// state unchanged, so the flag can never revert.
func (s ProcessingState) Transition(next ProcessingState) (ProcessingState, error) {
	if s.processed {
		return s, ErrAlreadyProcessed
	}
	return next, nil
}

// RawEvent is one append-only record in the bronze tier. The payload is
// stored as received and never mutated; only State moves, once.
type RawEvent struct {
	ID         uuid.UUID       `json:"id"`
	SourceType SourceType      `json:"source_type"`
	SourceID   string          `json:"source_id"`
	Payload    map[string]any  `json:"payload"`
	IngestedAt time.Time       `json:"ingested_at"`
	State      ProcessingState `json:"-"`
}

// NewRawEvent assigns an id and ingestion timestamp at append time.
func NewRawEvent(sourceType SourceType, sourceID string, payload map[string]any) RawEvent {
	return RawEvent{
		ID:         uuid.New(),
		SourceType: sourceType,
		SourceID:   sourceID,
		Payload:    payload,
		IngestedAt: time.Now().UTC(),
		State:      Pending(),
	}
}
