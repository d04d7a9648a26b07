package model

import (
	"encoding/json"
	"time"
)

// RawBusinessRecord is a map-listing capture written by the acquisition
// collaborator. Identity is assigned by the producer and stable across
// re-crawls; rows are never updated.
type RawBusinessRecord struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Address     string          `json:"address"`
	City        string          `json:"city,omitempty"`
	Website     string          `json:"website"`
	ReviewCount int             `json:"review_count"`
	Score       float64         `json:"score"`
	Category    string          `json:"category"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CapturedAt  time.Time       `json:"captured_at"`
}

// Validate checks the fields the staging store requires.
func (r RawBusinessRecord) Validate() error {
	if err := ValidateIdentity("id", r.ID); err != nil {
		return err
	}
	if r.ReviewCount < 0 {
		return Invalidf("review_count must be non-negative, got %d", r.ReviewCount)
	}
	if r.Score < 0 || r.Score > 5 {
		return Invalidf("score must be within [0, 5], got %.2f", r.Score)
	}
	return nil
}

// EnrichmentSource tags where an enrichment observation came from.
type EnrichmentSource string

const (
	SourceWebsite EnrichmentSource = "website" // Links found on the business's own site
	SourceSearch  EnrichmentSource = "search"  // Search-engine fallback results
)

// Rank orders sources by precedence; lower wins.
func (s EnrichmentSource) Rank() int {
	switch s {
	case SourceWebsite:
		return 0
	case SourceSearch:
		return 1
	default:
		return 2
	}
}

// RawEnrichmentPayload is a website/social observation written by the
// enrichment collaborator.
type RawEnrichmentPayload struct {
	BusinessID string           `json:"business_id"`
	Source     EnrichmentSource `json:"source"`
	Website    string           `json:"website,omitempty"`
	Links      []string         `json:"links,omitempty"`
	CapturedAt time.Time        `json:"captured_at"`
}

// Validate checks identity and source tag.
func (p RawEnrichmentPayload) Validate() error {
	if err := ValidateIdentity("business_id", p.BusinessID); err != nil {
		return err
	}
	if p.Source != SourceWebsite && p.Source != SourceSearch {
		return Invalidf("unknown enrichment source %q", p.Source)
	}
	return nil
}

// Disqualification reasons recorded on failing qualified records.
const (
	ReasonIrrelevant = "irrelevant"
	ReasonLowQuality = "low_quality"
)

// QualifiedBusinessRecord is the filter's verdict on the latest capture of a
// business. Failing records are kept with FilterPassed=false.
type QualifiedBusinessRecord struct {
	BusinessID    string    `json:"business_id"`
	Name          string    `json:"name"`
	Address       string    `json:"address"`
	City          string    `json:"city"`
	Website       string    `json:"website"`
	ReviewCount   int       `json:"review_count"`
	Score         float64   `json:"score"`
	Category      string    `json:"category"`
	FilterPassed  bool      `json:"filter_passed"`
	Reason        string    `json:"reason,omitempty"`
	RawCapturedAt time.Time `json:"raw_captured_at"`
	QualifiedAt   time.Time `json:"qualified_at"`
}

// EnrichmentRecord holds normalized website and social attributes. One live
// record per business identity.
type EnrichmentRecord struct {
	BusinessID   string    `json:"business_id"`
	WebsiteClean *string   `json:"website_clean"`
	FacebookURL  *string   `json:"facebook_url"`
	InstagramURL *string   `json:"instagram_url"`
	ProcessFlag  *string   `json:"process_flag"`
	EnrichedAt   time.Time `json:"enriched_at"`
}

// MasterRecord is the canonical business profile referenced by every
// downstream phase.
type MasterRecord struct {
	BusinessID   string     `json:"business_id"`
	Name         string     `json:"name"`
	Address      string     `json:"address"`
	City         string     `json:"city"`
	Category     string     `json:"category"`
	ReviewCount  int        `json:"review_count"`
	Score        float64    `json:"score"`
	WebsiteClean *string    `json:"website_clean"`
	FacebookURL  *string    `json:"facebook_url"`
	InstagramURL *string    `json:"instagram_url"`
	ProcessFlag  *string    `json:"process_flag"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	RetiredAt    *time.Time `json:"retired_at,omitempty"`
}

// Active reports whether the master still admits new promo payloads.
func (m MasterRecord) Active() bool {
	return m.RetiredAt == nil
}

// SameContent reports whether two masters carry identical business data,
// ignoring bookkeeping timestamps.
func (m MasterRecord) SameContent(o MasterRecord) bool {
	return m.BusinessID == o.BusinessID &&
		m.Name == o.Name &&
		m.Address == o.Address &&
		m.City == o.City &&
		m.Category == o.Category &&
		m.ReviewCount == o.ReviewCount &&
		m.Score == o.Score &&
		equalPtr(m.WebsiteClean, o.WebsiteClean) &&
		equalPtr(m.FacebookURL, o.FacebookURL) &&
		equalPtr(m.InstagramURL, o.InstagramURL) &&
		equalPtr(m.ProcessFlag, o.ProcessFlag) &&
		(m.RetiredAt == nil) == (o.RetiredAt == nil)
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
