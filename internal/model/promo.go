package model

import "time"

// PromoPath is one of the three promotional-content acquisition channels.
type PromoPath string

const (
	PathAdTransparency PromoPath = "ad_transparency"
	PathEmail          PromoPath = "email"
	PathWebsiteSubpage PromoPath = "website_subpage"
)

// PromoPaths lists every path kind.
var PromoPaths = []PromoPath{PathAdTransparency, PathEmail, PathWebsiteSubpage}

// Valid reports whether p is a known path kind.
func (p PromoPath) Valid() bool {
	switch p {
	case PathAdTransparency, PathEmail, PathWebsiteSubpage:
		return true
	}
	return false
}

// RawPromoPayload is one observation of promotional content from a path.
// Content is kept verbatim, even when empty.
type RawPromoPayload struct {
	ID          string    `json:"id"`
	BusinessID  string    `json:"business_id"`
	Path        PromoPath `json:"path"`
	Content     string    `json:"content"`
	ContentType string    `json:"content_type,omitempty"`
	Charset     string    `json:"charset,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
	IngestedAt  time.Time `json:"ingested_at"`
}

// Validate checks identities and path tag. An empty ID is allowed; the
// ingestor assigns one.
func (p RawPromoPayload) Validate() error {
	if p.ID != "" {
		if err := ValidateIdentity("id", p.ID); err != nil {
			return err
		}
	}
	if err := ValidateIdentity("business_id", p.BusinessID); err != nil {
		return err
	}
	if !p.Path.Valid() {
		return Invalidf("unknown path %q", p.Path)
	}
	return nil
}
