package domain

import "fmt"

// SourceType identifies the kind of edge stream a raw event came from.
type SourceType string

const (
	SourcePOSTransaction      SourceType = "pos_transaction"
	SourceTranscription       SourceType = "transcription"
	SourceVisionDetection     SourceType = "vision_detection"
	SourceInventory           SourceType = "inventory"
	SourceCustomerInteraction SourceType = "customer_interaction"
)

// AllSourceTypes returns every supported source type in a stable order.
func AllSourceTypes() []SourceType {
	return []SourceType{
		SourcePOSTransaction,
		SourceTranscription,
		SourceVisionDetection,
		SourceInventory,
		SourceCustomerInteraction,
	}
}

// ParseSourceType validates a string coming off the wire.
func ParseSourceType(raw string) (SourceType, error) {
	st := SourceType(raw)
	for _, known := range AllSourceTypes() {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown source type %q", raw)
}
