package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrTransactionNotFound signals an enrichment event that arrived before
// its POS transaction. The caller treats it as transient and retries.
var ErrTransactionNotFound = errors.New("transaction not found")

// Transaction is a canonical (silver tier) sale. Its ID equals the id of
// the raw POS event it was promoted from, which makes promotion
// idempotent. Enrichment columns are filled in later by transcription,
// vision and interaction events that reference the same transaction.
type Transaction struct {
	ID             uuid.UUID `json:"id"`
	StoreID        string    `json:"store_id"`
	Total          float64   `json:"total"`
	CustomerID     *string   `json:"customer_id,omitempty"`
	CampaignID     *string   `json:"campaign_id,omitempty"`
	RequestedBrand *string   `json:"requested_brand,omitempty"`
	WasSubstituted bool      `json:"was_substituted"`
	TransactedAt   time.Time `json:"transacted_at"`

	AudioLanguage   *string  `json:"audio_language,omitempty"`
	AudioTranscript *string  `json:"audio_transcript,omitempty"`
	VideoObjects    []string `json:"video_objects,omitempty"`
	Gender          *string  `json:"gender,omitempty"`
	AgeBracket      *string  `json:"age_bracket,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransactionItem is one confirmed line of a canonical transaction.
type TransactionItem struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	LineNumber    int       `json:"line_number"`
	SKUID         string    `json:"sku_id"`
	Quantity      int       `json:"quantity"`
	UnitPrice     float64   `json:"unit_price"`
	PesoValue     float64   `json:"peso_value"`
}

// TransactionEnrichment carries the columns a non-POS event attaches to
// an existing transaction. Nil fields are left untouched.
type TransactionEnrichment struct {
	TransactionID   uuid.UUID
	AudioLanguage   *string
	AudioTranscript *string
	VideoObjects    []string
	Gender          *string
	AgeBracket      *string
}

// SoldItem is the read model the aggregator consumes: a transaction line
// joined with its transaction and product dimensions.
type SoldItem struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	StoreID       string    `json:"store_id"`
	SKUID         string    `json:"sku_id"`
	BrandName     string    `json:"brand_name"`
	Category      string    `json:"category"`
	Quantity      int       `json:"quantity"`
	UnitPrice     float64   `json:"unit_price"`
	PesoValue     float64   `json:"peso_value"`
	TransactedAt  time.Time `json:"transacted_at"`
}

// InventoryMovement is the canonical form of an inventory event. Its ID
// equals the originating raw event id.
type InventoryMovement struct {
	ID            uuid.UUID `json:"id"`
	StoreID       string    `json:"store_id"`
	SKUID         string    `json:"sku_id"`
	QuantityDelta int       `json:"quantity_delta"`
	Reason        string    `json:"reason"`
	MovedAt       time.Time `json:"moved_at"`
}
