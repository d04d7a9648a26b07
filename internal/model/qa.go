package model

import "time"

// QAStatus is the verdict on an offer. Review is a holding state.
type QAStatus string

const (
	QAPass   QAStatus = "pass"
	QAFail   QAStatus = "fail"
	QAReview QAStatus = "review"
)

// Valid reports whether s is a known status.
func (s QAStatus) Valid() bool {
	return s == QAPass || s == QAFail || s == QAReview
}

// Terminal reports whether s closes the QAResult it is recorded on.
func (s QAStatus) Terminal() bool {
	return s == QAPass || s == QAFail
}

// QAResult is one append-only verdict on an offer. The current status of an
// offer is its latest QAResult.
type QAResult struct {
	ID                 string    `json:"id"`
	OfferID            string    `json:"offer_id"`
	BusinessID         string    `json:"business_id"`
	Query              string    `json:"query"`
	Score              float64   `json:"score"`
	ManualReviewNeeded bool      `json:"manual_review_needed"`
	Status             QAStatus  `json:"qa_status"`
	Reviewer           string    `json:"reviewer,omitempty"`
	Notes              *string   `json:"notes"`
	CreatedAt          time.Time `json:"created_at"`
}

// QAUnresolved marks an offer whose search never succeeded. It stays
// surfaced until a later QAResult is recorded for the offer.
type QAUnresolved struct {
	ID         string    `json:"id"`
	OfferID    string    `json:"offer_id"`
	BusinessID string    `json:"business_id"`
	Query      string    `json:"query"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error"`
	CreatedAt  time.Time `json:"created_at"`
}
