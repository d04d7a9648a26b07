// Package qa scores structured offers against an external search
// collaborator and records append-only QA verdicts.
package qa

import (
	"strings"

	"github.com/sells-group/promo-cli/internal/model"
	"github.com/sells-group/promo-cli/internal/textmatch"
)

// BuildQuery composes the search query for an offer: its most specific
// service label followed by the business city. It returns "" when the offer
// has no service label.
func BuildQuery(offer model.StructuredOffer, master model.MasterRecord) string {
	service := strings.TrimSpace(offer.ServiceType())
	if service == "" {
		return ""
	}
	return strings.TrimSpace(service + " " + strings.TrimSpace(master.City))
}

// OfferTerms returns the distinct matchable terms of an offer.
func OfferTerms(offer model.StructuredOffer, stop textmatch.StopWords) map[string]struct{} {
	return textmatch.TermSet(stop,
		model.Deref(offer.Service),
		model.Deref(offer.Category),
		model.Deref(offer.Subcategory),
		model.Deref(offer.Price),
		model.Deref(offer.Description),
	)
}

// Score is the share of the offer's terms that appear in any snippet. It is
// 0 for an offer with no terms and never decreases as snippets gain overlap.
func Score(offer model.StructuredOffer, snippets []string, stop textmatch.StopWords) float64 {
	terms := OfferTerms(offer, stop)
	if len(terms) == 0 {
		return 0
	}
	found := textmatch.TermSet(stop, snippets...)

	hits := 0
	for t := range terms {
		if _, ok := found[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// Verdict maps a score onto a status using the configured thresholds.
func Verdict(score, high, low float64) model.QAStatus {
	switch {
	case score >= high:
		return model.QAPass
	case score <= low:
		return model.QAFail
	default:
		return model.QAReview
	}
}
