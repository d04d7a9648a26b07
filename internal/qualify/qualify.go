// Package qualify decides which raw business records enter production.
package qualify

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/promo-cli/internal/config"
	"github.com/sells-group/promo-cli/internal/model"
	"github.com/sells-group/promo-cli/internal/store"
	"github.com/sells-group/promo-cli/internal/textmatch"
)

// Criteria holds the relevance keywords and the two-tier quality gate.
type Criteria struct {
	Keywords textmatch.Keywords
	// Tier one: at least MinReviews reviews with score >= MinScore.
	MinReviews int
	MinScore   float64
	// Tier two: FloorReviews <= reviews < MinReviews with score >= FloorScore.
	FloorReviews int
	FloorScore   float64
}

// NewCriteria builds Criteria from configuration and rules.
func NewCriteria(cfg config.QualifyConfig, rules *config.Rules) Criteria {
	return Criteria{
		Keywords:     textmatch.NewKeywords(rules.Keywords),
		MinReviews:   cfg.MinReviews,
		MinScore:     cfg.MinScore,
		FloorReviews: cfg.FloorReviews,
		FloorScore:   cfg.FloorScore,
	}
}

// Relevant reports whether the category or name contains a keyword.
func (c Criteria) Relevant(r model.RawBusinessRecord) bool {
	return c.Keywords.Match(r.Category, r.Name) != ""
}

// MeetsQuality applies the quality gate.
func (c Criteria) MeetsQuality(reviews int, score float64) bool {
	if reviews >= c.MinReviews {
		return score >= c.MinScore
	}
	return reviews >= c.FloorReviews && score >= c.FloorScore
}

// Evaluate derives the qualified record for r. It depends only on r, c and
// now, so re-running it after a criteria change needs no re-crawl.
func Evaluate(r model.RawBusinessRecord, c Criteria, now time.Time) model.QualifiedBusinessRecord {
	q := model.QualifiedBusinessRecord{
		BusinessID:    r.ID,
		Name:          r.Name,
		Address:       r.Address,
		City:          r.City,
		Website:       r.Website,
		ReviewCount:   r.ReviewCount,
		Score:         r.Score,
		Category:      r.Category,
		RawCapturedAt: r.CapturedAt,
		QualifiedAt:   now,
	}
	if q.City == "" {
		q.City = CityFromAddress(r.Address)
	}

	switch {
	case !c.Relevant(r):
		q.Reason = model.ReasonIrrelevant
	case !c.MeetsQuality(r.ReviewCount, r.Score):
		q.Reason = model.ReasonLowQuality
	default:
		q.FilterPassed = true
	}
	return q
}

// Run re-derives every qualified record from the latest raw capture per
// business identity.
func Run(ctx context.Context, st store.Store, c Criteria) (model.BatchReport, error) {
	log := zap.L().With(zap.String("phase", "qualify"))
	report := model.BatchReport{Phase: "qualify"}

	raws, err := st.LatestRawBusinesses(ctx)
	if err != nil {
		return report, eris.Wrap(err, "qualify: load raw businesses")
	}

	now := time.Now().UTC()
	out := make([]model.QualifiedBusinessRecord, 0, len(raws))
	for _, r := range raws {
		report.Total++
		if err := r.Validate(); err != nil {
			report.Rejected++
			report.AddError(err)
			log.Warn("skipping malformed raw business", zap.String("business_id", r.ID), zap.Error(err))
			continue
		}
		q := Evaluate(r, c, now)
		if q.FilterPassed {
			report.Accepted++
		} else {
			report.Rejected++
			log.Debug("business filtered out",
				zap.String("business_id", r.ID),
				zap.String("reason", q.Reason),
			)
		}
		out = append(out, q)
	}

	if err := st.UpsertQualified(ctx, out); err != nil {
		return report, eris.Wrap(err, "qualify: upsert")
	}

	log.Info("qualification complete", zap.Object("report", report))
	return report, nil
}
