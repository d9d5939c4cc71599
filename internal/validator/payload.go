package validator

import (
	"fmt"
	"math"
	"time"

	"github.com/scoutdata/medallion/internal/domain"

	"github.com/google/uuid"
)

// Decoded payload shapes, one per source type. Raw payloads arrive as
// JSON objects; decoding failures are terminal validation errors.

type posPayload struct {
	StoreID        string
	Total          float64
	CustomerID     *string
	CampaignID     *string
	RequestedBrand *string
	WasSubstituted bool
	TransactedAt   time.Time
	Items          []posItem
}

type posItem struct {
	SKUID     string
	Quantity  int
	UnitPrice float64
}

type enrichmentPayload struct {
	TransactionRef  uuid.UUID
	Confidence      float64
	AudioLanguage   *string
	AudioTranscript *string
	VideoObjects    []string
	Gender          *string
	AgeBracket      *string
}

type inventoryPayload struct {
	StoreID       string
	SKUID         string
	QuantityDelta int
	Reason        string
	MovedAt       time.Time
}

func decodePOS(event domain.RawEvent) (posPayload, *domain.ValidationError) {
	p := posPayload{}

	storeID, verr := requireString(event.Payload, "store_id")
	if verr != nil {
		return p, verr
	}
	p.StoreID = storeID

	total, verr := requireFloat(event.Payload, "total")
	if verr != nil {
		return p, verr
	}
	if total < 0 {
		return p, &domain.ValidationError{Field: "total", Message: "must not be negative"}
	}
	p.Total = total

	p.CustomerID = optionalString(event.Payload, "customer_id")
	p.CampaignID = optionalString(event.Payload, "campaign_id")
	p.RequestedBrand = optionalString(event.Payload, "requested_brand")
	if sub, ok := event.Payload["was_substituted"].(bool); ok {
		p.WasSubstituted = sub
	}

	p.TransactedAt = event.IngestedAt
	if raw := optionalString(event.Payload, "transacted_at"); raw != nil {
		parsed, err := time.Parse(time.RFC3339, *raw)
		if err != nil {
			return p, &domain.ValidationError{Field: "transacted_at", Message: "not a valid RFC3339 timestamp"}
		}
		p.TransactedAt = parsed
	}

	// Items are optional: a transaction may exist with no confirmed lines.
	rawItems, present := event.Payload["items"]
	if !present || rawItems == nil {
		return p, nil
	}
	list, ok := rawItems.([]any)
	if !ok {
		return p, &domain.ValidationError{Field: "items", Message: "must be a list"}
	}
	for idx, rawItem := range list {
		obj, ok := rawItem.(map[string]any)
		if !ok {
			return p, &domain.ValidationError{Field: fmt.Sprintf("items[%d]", idx), Message: "must be an object"}
		}
		skuID, verr := requireString(obj, "sku_id")
		if verr != nil {
			verr.Field = fmt.Sprintf("items[%d].%s", idx, verr.Field)
			return p, verr
		}
		qty, verr := requireFloat(obj, "quantity")
		if verr != nil {
			verr.Field = fmt.Sprintf("items[%d].%s", idx, verr.Field)
			return p, verr
		}
		if qty <= 0 {
			return p, &domain.ValidationError{Field: fmt.Sprintf("items[%d].quantity", idx), Message: "must be positive"}
		}
		if qty != math.Trunc(qty) {
			return p, &domain.ValidationError{Field: fmt.Sprintf("items[%d].quantity", idx), Message: "must be a whole number"}
		}
		price, verr := requireFloat(obj, "unit_price")
		if verr != nil {
			verr.Field = fmt.Sprintf("items[%d].%s", idx, verr.Field)
			return p, verr
		}
		p.Items = append(p.Items, posItem{SKUID: skuID, Quantity: int(qty), UnitPrice: price})
	}

	return p, nil
}

func decodeEnrichment(event domain.RawEvent) (enrichmentPayload, *domain.ValidationError) {
	p := enrichmentPayload{}

	ref, verr := requireString(event.Payload, "transaction_ref")
	if verr != nil {
		return p, verr
	}
	parsed, err := uuid.Parse(ref)
	if err != nil {
		return p, &domain.ValidationError{Field: "transaction_ref", Message: "not a valid uuid"}
	}
	p.TransactionRef = parsed

	switch event.SourceType {
	case domain.SourceTranscription:
		transcript, verr := requireString(event.Payload, "audio_transcript")
		if verr != nil {
			return p, verr
		}
		p.AudioTranscript = &transcript
		p.AudioLanguage = optionalString(event.Payload, "audio_language")
		confidence, verr := requireFloat(event.Payload, "confidence")
		if verr != nil {
			return p, verr
		}
		p.Confidence = confidence
	case domain.SourceVisionDetection:
		rawObjects, present := event.Payload["objects"]
		list, ok := rawObjects.([]any)
		if !present || !ok {
			return p, &domain.ValidationError{Field: "objects", Message: "required field is missing or not a list"}
		}
		for idx, rawObject := range list {
			name, ok := rawObject.(string)
			if !ok {
				return p, &domain.ValidationError{Field: fmt.Sprintf("objects[%d]", idx), Message: "must be a string"}
			}
			p.VideoObjects = append(p.VideoObjects, name)
		}
		confidence, verr := requireFloat(event.Payload, "confidence")
		if verr != nil {
			return p, verr
		}
		p.Confidence = confidence
	case domain.SourceCustomerInteraction:
		p.Gender = optionalString(event.Payload, "gender")
		p.AgeBracket = optionalString(event.Payload, "age_bracket")
		if p.Gender == nil && p.AgeBracket == nil {
			return p, &domain.ValidationError{Message: "interaction carries neither gender nor age_bracket"}
		}
		// Interactions are operator-entered, not model output: no score.
		p.Confidence = 1
	default:
		return p, &domain.ValidationError{Message: fmt.Sprintf("source type %s is not an enrichment stream", event.SourceType)}
	}

	return p, nil
}

func decodeInventory(event domain.RawEvent) (inventoryPayload, *domain.ValidationError) {
	p := inventoryPayload{}

	storeID, verr := requireString(event.Payload, "store_id")
	if verr != nil {
		return p, verr
	}
	p.StoreID = storeID

	skuID, verr := requireString(event.Payload, "sku_id")
	if verr != nil {
		return p, verr
	}
	p.SKUID = skuID

	delta, verr := requireFloat(event.Payload, "quantity_delta")
	if verr != nil {
		return p, verr
	}
	if delta != math.Trunc(delta) {
		return p, &domain.ValidationError{Field: "quantity_delta", Message: "must be a whole number"}
	}
	p.QuantityDelta = int(delta)

	if reason := optionalString(event.Payload, "reason"); reason != nil {
		p.Reason = *reason
	}

	p.MovedAt = event.IngestedAt
	if raw := optionalString(event.Payload, "moved_at"); raw != nil {
		parsed, err := time.Parse(time.RFC3339, *raw)
		if err != nil {
			return p, &domain.ValidationError{Field: "moved_at", Message: "not a valid RFC3339 timestamp"}
		}
		p.MovedAt = parsed
	}

	return p, nil
}

func requireString(payload map[string]any, key string) (string, *domain.ValidationError) {
	raw, present := payload[key]
	if !present || raw == nil {
		return "", &domain.ValidationError{Field: key, Message: "required field is missing"}
	}
	value, ok := raw.(string)
	if !ok || value == "" {
		return "", &domain.ValidationError{Field: key, Message: "must be a non-empty string"}
	}
	return value, nil
}

func requireFloat(payload map[string]any, key string) (float64, *domain.ValidationError) {
	raw, present := payload[key]
	if !present || raw == nil {
		return 0, &domain.ValidationError{Field: key, Message: "required field is missing"}
	}
	switch value := raw.(type) {
	case float64:
		return value, nil
	case int:
		return float64(value), nil
	default:
		return 0, &domain.ValidationError{Field: key, Message: "must be a number"}
	}
}

func optionalString(payload map[string]any, key string) *string {
	raw, present := payload[key]
	if !present || raw == nil {
		return nil
	}
	value, ok := raw.(string)
	if !ok || value == "" {
		return nil
	}
	return &value
}
