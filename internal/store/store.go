// Package store persists the raw staging records and every derived record
// set of the pipeline.
package store

import (
	"context"

	"github.com/sells-group/promo-cli/internal/model"
)

// PayloadFilter selects promo payloads.
type PayloadFilter struct {
	BusinessID string
	Path       model.PromoPath
	// Unprocessed keeps payloads without a processed structuring outcome.
	Unprocessed bool
	Limit       int
}

// OfferFilter selects structured offers.
type OfferFilter struct {
	PayloadID  string
	BusinessID string
	// Unscored keeps offers without any QA result.
	Unscored bool
	// CurrentOnly keeps offers from the latest processed run of their payload.
	CurrentOnly bool
	Limit       int
}

// OutcomeFilter selects structuring outcomes.
type OutcomeFilter struct {
	PayloadID string
	Status    model.OutcomeStatus
	// LatestOnly keeps the most recent outcome per payload.
	LatestOnly bool
	Limit      int
}

// QAFilter selects current QA results (latest per offer).
type QAFilter struct {
	Status     model.QAStatus
	BusinessID string
	Limit      int
}

// Store defines persistence for the consolidation and QA pipeline.
type Store interface {
	// Raw staging (append-only)
	AppendRawBusinesses(ctx context.Context, recs []model.RawBusinessRecord) (int, error)
	LatestRawBusinesses(ctx context.Context) ([]model.RawBusinessRecord, error)
	AppendRawEnrichment(ctx context.Context, payloads []model.RawEnrichmentPayload) (int, error)
	ListRawEnrichment(ctx context.Context) ([]model.RawEnrichmentPayload, error)

	// Qualified businesses
	UpsertQualified(ctx context.Context, recs []model.QualifiedBusinessRecord) error
	ListQualified(ctx context.Context, passedOnly bool) ([]model.QualifiedBusinessRecord, error)

	// Enrichment
	UpsertEnrichment(ctx context.Context, recs []model.EnrichmentRecord) error
	ListEnrichment(ctx context.Context) ([]model.EnrichmentRecord, error)

	// Masters
	UpsertMasters(ctx context.Context, recs []model.MasterRecord) error
	GetMaster(ctx context.Context, businessID string) (*model.MasterRecord, error)
	ListMasters(ctx context.Context, activeOnly bool) ([]model.MasterRecord, error)

	// Promo payloads. InsertPromoPayload returns ErrOrphan when no active
	// master exists and inserted=false when the payload id was already stored.
	InsertPromoPayload(ctx context.Context, p model.RawPromoPayload) (inserted bool, err error)
	GetPromoPayload(ctx context.Context, id string) (*model.RawPromoPayload, error)
	ListPromoPayloads(ctx context.Context, f PayloadFilter) ([]model.RawPromoPayload, error)

	// Structuring. RecordStructuring writes the outcome and its offers atomically.
	RecordStructuring(ctx context.Context, outcome model.StructuringOutcome, offers []model.StructuredOffer) error
	ListOutcomes(ctx context.Context, f OutcomeFilter) ([]model.StructuringOutcome, error)
	GetOffer(ctx context.Context, id string) (*model.StructuredOffer, error)
	ListOffers(ctx context.Context, f OfferFilter) ([]model.StructuredOffer, error)

	// QA results (append-only). AppendQAResult returns ErrOrphan for an
	// unknown offer and a validation error when business ids disagree.
	AppendQAResult(ctx context.Context, r model.QAResult) error
	ListQAResults(ctx context.Context, offerID string) ([]model.QAResult, error)
	CurrentQAResults(ctx context.Context, f QAFilter) ([]model.QAResult, error)
	// AppendReview appends r only while the offer's current result is
	// review, checked and written atomically. Returns ErrStale otherwise.
	AppendReview(ctx context.Context, r model.QAResult) error

	// QA unresolved marks (append-only). ListQAUnresolved returns the open
	// mark per offer: the newest one with no QA result recorded since.
	RecordQAUnresolved(ctx context.Context, u model.QAUnresolved) error
	ListQAUnresolved(ctx context.Context, limit int) ([]model.QAUnresolved, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
