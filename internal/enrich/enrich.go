// Package enrich canonicalizes website and social-profile attributes for
// each business identity.
package enrich

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/promo-cli/internal/config"
	"github.com/sells-group/promo-cli/internal/model"
	"github.com/sells-group/promo-cli/internal/store"
)

type platformRule struct {
	flag    string
	domains []string
	paths   []*regexp.Regexp
}

// Normalizer turns raw website and social payloads into EnrichmentRecords.
// It is safe for concurrent use.
type Normalizer struct {
	platforms []platformRule
	reserved  map[string]bool
}

// NewNormalizer compiles the platform classification rules.
func NewNormalizer(rules *config.Rules) (*Normalizer, error) {
	n := &Normalizer{reserved: make(map[string]bool, len(rules.ReservedSocialPaths))}
	for _, p := range rules.ReservedSocialPaths {
		n.reserved[strings.ToLower(p)] = true
	}
	for _, pr := range rules.Platforms {
		rule := platformRule{flag: pr.Flag, domains: pr.Domains}
		for _, pat := range pr.PathPatterns {
			re, err := regexp.Compile(pat)
			if err != nil {
				return nil, eris.Wrapf(err, "enrich: compile path pattern %q for %s", pat, pr.Flag)
			}
			rule.paths = append(rule.paths, re)
		}
		n.platforms = append(n.platforms, rule)
	}
	return n, nil
}

// Classify returns the process flag for a website, or "" when it is an
// ordinary business site.
func (n *Normalizer) Classify(raw string) string {
	host, path := parseWebsite(raw)
	return n.classify(host, path)
}

func (n *Normalizer) classify(host, path string) string {
	if host == "" {
		return ""
	}
	for _, rule := range n.platforms {
		for _, d := range rule.domains {
			if hostMatches(host, d) {
				return rule.flag
			}
		}
		for _, re := range rule.paths {
			if re.MatchString(path) {
				return rule.flag
			}
		}
	}
	return ""
}

// Normalize builds the enrichment record for one business. Payload
// websites are considered before fallbackWebsite, and links from the
// business's own site before search results. Nothing here fails: an
// attribute that cannot be resolved is left nil.
func (n *Normalizer) Normalize(businessID, fallbackWebsite string, payloads []model.RawEnrichmentPayload, now time.Time) model.EnrichmentRecord {
	rec := model.EnrichmentRecord{BusinessID: businessID, EnrichedAt: now}

	ordered := make([]model.RawEnrichmentPayload, len(payloads))
	copy(ordered, payloads)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Source.Rank() < ordered[j].Source.Rank()
	})

	candidates := make([]string, 0, len(ordered)+1)
	for _, p := range ordered {
		if p.Website != "" {
			candidates = append(candidates, p.Website)
		}
	}
	candidates = append(candidates, fallbackWebsite)
	for _, w := range candidates {
		host, path := parseWebsite(w)
		if host == "" {
			continue
		}
		rec.WebsiteClean = model.StringPtr(host)
		rec.ProcessFlag = model.StringPtr(n.classify(host, path))
		break
	}

	for _, p := range ordered {
		for _, link := range p.Links {
			if rec.FacebookURL == nil {
				rec.FacebookURL = model.StringPtr(n.socialURL(link, facebook))
			}
			if rec.InstagramURL == nil {
				rec.InstagramURL = model.StringPtr(n.socialURL(link, instagram))
			}
		}
	}
	return rec
}

// Run normalizes every business that has staged enrichment or a raw
// website and upserts one record per identity.
func Run(ctx context.Context, st store.Store, n *Normalizer) (model.BatchReport, error) {
	log := zap.L().With(zap.String("phase", "enrich"))
	report := model.BatchReport{Phase: "enrich"}

	raws, err := st.LatestRawBusinesses(ctx)
	if err != nil {
		return report, eris.Wrap(err, "enrich: load raw businesses")
	}
	staged, err := st.ListRawEnrichment(ctx)
	if err != nil {
		return report, eris.Wrap(err, "enrich: load raw enrichment")
	}

	websites := make(map[string]string, len(raws))
	for _, r := range raws {
		if r.Validate() != nil {
			continue
		}
		websites[r.ID] = r.Website
	}
	byBusiness := make(map[string][]model.RawEnrichmentPayload)
	for _, p := range staged {
		if err := p.Validate(); err != nil {
			report.Rejected++
			report.AddError(err)
			log.Warn("skipping malformed enrichment payload", zap.String("business_id", p.BusinessID), zap.Error(err))
			continue
		}
		byBusiness[p.BusinessID] = append(byBusiness[p.BusinessID], p)
	}

	ids := make([]string, 0, len(websites)+len(byBusiness))
	for id, w := range websites {
		if w != "" || len(byBusiness[id]) > 0 {
			ids = append(ids, id)
		}
	}
	for id := range byBusiness {
		if _, ok := websites[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	now := time.Now().UTC()
	recs := make([]model.EnrichmentRecord, 0, len(ids))
	for _, id := range ids {
		report.Total++
		rec := n.Normalize(id, websites[id], byBusiness[id], now)
		if rec.WebsiteClean == nil && rec.FacebookURL == nil && rec.InstagramURL == nil {
			report.Skipped++
		} else {
			report.Accepted++
		}
		recs = append(recs, rec)
	}

	if err := st.UpsertEnrichment(ctx, recs); err != nil {
		return report, eris.Wrap(err, "enrich: upsert")
	}

	log.Info("enrichment complete", zap.Object("report", report))
	return report, nil
}
