package model

import (
	"encoding/json"
	"time"
)

// Offer flags record oracle values that did not fit the expected shape.
const (
	FlagDurationUnparsed = "duration_unparsed"
	FlagPriceUnparsed    = "price_unparsed"
	FlagFieldUnparsed    = "field_unparsed"
)

// StructuredOffer is one canonical offer extracted from a single payload.
// Undetermined fields are nil.
type StructuredOffer struct {
	ID              string          `json:"id"`
	PayloadID       string          `json:"payload_id"`
	BusinessID      string          `json:"business_id"`
	Path            PromoPath       `json:"path"`
	Category        *string         `json:"category"`
	Subcategory     *string         `json:"subcategory"`
	Service         *string         `json:"service"`
	Price           *string         `json:"price"`
	DurationMinutes *int            `json:"duration_minutes"`
	Description     *string         `json:"description"`
	Flags           []string        `json:"flags,omitempty"`
	Raw             json.RawMessage `json:"raw,omitempty"`
	OracleModel     string          `json:"oracle_model,omitempty"`
	RunID           string          `json:"run_id"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ServiceType returns the most specific service label available.
func (o StructuredOffer) ServiceType() string {
	for _, s := range []*string{o.Service, o.Subcategory, o.Category} {
		if s != nil && *s != "" {
			return *s
		}
	}
	return ""
}

// OutcomeStatus is the result of one structuring run over a payload.
type OutcomeStatus string

const (
	OutcomeProcessed  OutcomeStatus = "processed"
	OutcomeUnresolved OutcomeStatus = "unresolved"
)

// StructuringOutcome records one structuring run. Its ID is the RunID carried
// by the offers the run produced.
type StructuringOutcome struct {
	ID        string        `json:"id"`
	PayloadID string        `json:"payload_id"`
	Status    OutcomeStatus `json:"status"`
	Attempts  int           `json:"attempts"`
	Offers    int           `json:"offers"`
	Model     string        `json:"model,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}
