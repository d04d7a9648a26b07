// Package ingest admits raw promotional payloads from the three promo paths.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/promo-cli/internal/metrics"
	"github.com/sells-group/promo-cli/internal/model"
	"github.com/sells-group/promo-cli/internal/store"
)

const phase = "ingest"

// Result describes how one payload was admitted.
type Result struct {
	Payload model.RawPromoPayload
	// Duplicate is true when the payload id was already stored.
	Duplicate bool
}

// Ingestor validates payloads, checks them against master records and
// appends them to the store. The same code path serves every promo path.
type Ingestor struct {
	store   store.Store
	metrics *metrics.Pipeline
	now     func() time.Time
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithMetrics records per-payload outcomes.
func WithMetrics(m *metrics.Pipeline) Option {
	return func(i *Ingestor) { i.metrics = m }
}

// WithClock overrides the ingestion clock.
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) { i.now = now }
}

// New creates an Ingestor.
func New(st store.Store, opts ...Option) *Ingestor {
	i := &Ingestor{store: st, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest admits one payload. Validation failures wrap model.ErrValidation
// and referential failures wrap store.ErrOrphan; neither writes anything.
// Redelivering a stored payload id is a no-op reported as a duplicate.
// Content is kept as delivered, including empty content, apart from
// decoding a declared non-UTF-8 charset.
func (i *Ingestor) Ingest(ctx context.Context, p model.RawPromoPayload) (Result, error) {
	log := zap.L().With(zap.String("phase", phase))

	if err := p.Validate(); err != nil {
		i.metrics.Record(phase, "rejected")
		return Result{}, eris.Wrap(err, "ingest: validate payload")
	}

	if p.ID == "" {
		p.ID = uuid.Must(uuid.NewV7()).String()
	}
	p.IngestedAt = i.now()
	if p.CapturedAt.IsZero() {
		p.CapturedAt = p.IngestedAt
	}
	p.Content, p.Charset = DecodeContent(p.Content, p.Charset)

	inserted, err := i.store.InsertPromoPayload(ctx, p)
	if err != nil {
		if errors.Is(err, store.ErrOrphan) {
			i.metrics.Record(phase, "rejected")
			log.Warn("orphan payload rejected; business has no active master record",
				zap.String("business_id", p.BusinessID),
				zap.String("payload_id", p.ID),
				zap.String("path", string(p.Path)),
			)
		}
		return Result{}, eris.Wrapf(err, "ingest: payload %s", p.ID)
	}

	if !inserted {
		i.metrics.Record(phase, "duplicate")
		log.Debug("duplicate payload ignored", zap.String("payload_id", p.ID))
		return Result{Payload: p, Duplicate: true}, nil
	}

	i.metrics.Record(phase, "accepted")
	return Result{Payload: p}, nil
}

// IngestBatch ingests every payload and aggregates the outcomes. A bad
// payload never stops the batch.
func (i *Ingestor) IngestBatch(ctx context.Context, payloads []model.RawPromoPayload) model.BatchReport {
	report := model.BatchReport{Phase: phase}
	for _, p := range payloads {
		if ctx.Err() != nil {
			report.Skipped += len(payloads) - report.Total
			break
		}
		report.Total++
		res, err := i.Ingest(ctx, p)
		switch {
		case err != nil:
			report.Rejected++
			report.AddError(err)
		case res.Duplicate:
			report.Duplicates++
		default:
			report.Accepted++
		}
	}
	zap.L().Info("ingest batch complete", zap.String("phase", phase), zap.Object("report", report))
	return report
}
