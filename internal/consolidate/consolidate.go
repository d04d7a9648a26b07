// Package consolidate joins qualified businesses with their enrichment into
// one master record per business identity.
package consolidate

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/promo-cli/internal/model"
	"github.com/sells-group/promo-cli/internal/store"
)

// Merge left-joins passed qualified records with enrichment on business
// identity. A business without enrichment gets nil social fields and a nil
// process flag. Records that did not pass the filter produce nothing.
func Merge(qualified []model.QualifiedBusinessRecord, enrichment []model.EnrichmentRecord, now time.Time) []model.MasterRecord {
	byID := make(map[string]model.EnrichmentRecord, len(enrichment))
	for _, e := range enrichment {
		byID[e.BusinessID] = e
	}

	seen := make(map[string]int, len(qualified))
	out := make([]model.MasterRecord, 0, len(qualified))
	for _, q := range qualified {
		if !q.FilterPassed {
			continue
		}
		m := model.MasterRecord{
			BusinessID:  q.BusinessID,
			Name:        q.Name,
			Address:     q.Address,
			City:        q.City,
			Category:    q.Category,
			ReviewCount: q.ReviewCount,
			Score:       q.Score,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if e, ok := byID[q.BusinessID]; ok {
			m.WebsiteClean = e.WebsiteClean
			m.FacebookURL = e.FacebookURL
			m.InstagramURL = e.InstagramURL
			m.ProcessFlag = e.ProcessFlag
		}
		if i, dup := seen[m.BusinessID]; dup {
			out[i] = m
			continue
		}
		seen[m.BusinessID] = len(out)
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].BusinessID < out[j].BusinessID })
	return out
}

// Changes is the identity-scoped difference between computed and stored masters.
type Changes struct {
	Created   []model.MasterRecord
	Updated   []model.MasterRecord
	Retired   []model.MasterRecord
	Unchanged int
}

// Upserts returns every record that must be written.
func (c Changes) Upserts() []model.MasterRecord {
	out := make([]model.MasterRecord, 0, len(c.Created)+len(c.Updated)+len(c.Retired))
	out = append(out, c.Created...)
	out = append(out, c.Updated...)
	return append(out, c.Retired...)
}

// Diff compares freshly merged masters with the stored ones. Stored masters
// whose business no longer qualifies are retired rather than removed, and a
// retired master whose business qualifies again is reactivated under the
// same identity.
func Diff(merged, existing []model.MasterRecord, now time.Time) Changes {
	stored := make(map[string]model.MasterRecord, len(existing))
	for _, m := range existing {
		stored[m.BusinessID] = m
	}

	var ch Changes
	live := make(map[string]bool, len(merged))
	for _, m := range merged {
		live[m.BusinessID] = true
		old, ok := stored[m.BusinessID]
		if !ok {
			ch.Created = append(ch.Created, m)
			continue
		}
		if m.SameContent(old) {
			ch.Unchanged++
			continue
		}
		m.CreatedAt = old.CreatedAt
		m.UpdatedAt = now
		ch.Updated = append(ch.Updated, m)
	}

	for _, old := range existing {
		if live[old.BusinessID] || !old.Active() {
			continue
		}
		retired := now
		old.RetiredAt = &retired
		old.UpdatedAt = now
		ch.Retired = append(ch.Retired, old)
	}
	return ch
}

// Run recomputes masters from the current qualified and enrichment sets and
// writes only the identities that changed.
func Run(ctx context.Context, st store.Store) (model.BatchReport, error) {
	log := zap.L().With(zap.String("phase", "consolidate"))
	report := model.BatchReport{Phase: "consolidate"}

	qualified, err := st.ListQualified(ctx, true)
	if err != nil {
		return report, eris.Wrap(err, "consolidate: load qualified")
	}
	enrichment, err := st.ListEnrichment(ctx)
	if err != nil {
		return report, eris.Wrap(err, "consolidate: load enrichment")
	}
	existing, err := st.ListMasters(ctx, false)
	if err != nil {
		return report, eris.Wrap(err, "consolidate: load masters")
	}

	now := time.Now().UTC()
	merged := Merge(qualified, enrichment, now)
	ch := Diff(merged, existing, now)

	if err := st.UpsertMasters(ctx, ch.Upserts()); err != nil {
		return report, eris.Wrap(err, "consolidate: upsert masters")
	}

	report.Total = len(merged) + len(ch.Retired)
	report.Accepted = len(ch.Created) + len(ch.Updated)
	report.Skipped = ch.Unchanged
	// Retired masters are reported as rejected: they no longer admit payloads.
	report.Rejected = len(ch.Retired)

	for _, m := range ch.Retired {
		log.Info("master retired", zap.String("business_id", m.BusinessID))
	}
	log.Info("consolidation complete",
		zap.Object("report", report),
		zap.Int("created", len(ch.Created)),
		zap.Int("updated", len(ch.Updated)),
		zap.Int("retired", len(ch.Retired)),
	)
	return report, nil
}
