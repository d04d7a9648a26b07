package enrich

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/promo-cli/internal/config"
	"github.com/sells-group/promo-cli/internal/model"
	"github.com/sells-group/promo-cli/internal/store"
)

var now = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func newNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := NewNormalizer(config.DefaultRules())
	require.NoError(t, err)
	return n
}

func TestCanonicalDomain(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://www.AlluraDerm.com/?utm=1", "alluraderm.com"},
		{"http://alluraderm.com/", "alluraderm.com"},
		{"alluraderm.com/services#botox", "alluraderm.com"},
		{"WWW.AlluraDerm.com:8443/path", "alluraderm.com"},
		{"https://botox-it.ueniweb.com/about-us/best-medical-spa", "botox-it.ueniweb.com"},
		{"https://www.google.com/url?q=https%3A%2F%2Fwww.glowspa.com%2F&sa=U", "glowspa.com"},
		{"https://www.google.co.uk/url?url=https://glowspa.co.uk/offers", "glowspa.co.uk"},
		{"https://www.bing.com/ck/a?!&&p=abc&u=a1aHR0cHM6Ly9nbG93c3BhLmNvbS8&ntb=1", "glowspa.com"},
		{"https://l.facebook.com/l.php?u=https%3A%2F%2Fglowspa.com%2Fbook&h=AT0", "glowspa.com"},
		{"https://duckduckgo.com/l/?uddg=https%3A%2F%2Fglowspa.com%2F", "glowspa.com"},
		{"https://alluraderm.com/search?q=lip.filler", "alluraderm.com"},
		{"https://alluraderm.com/?q=botox.specials&page=2", "alluraderm.com"},
		{"https://www.google.com/search?q=glowspa.com", "google.com"},
		{"", ""},
		{"not a url", ""},
		{"http://", ""},
		{"localhost", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalDomain(tt.raw))
		})
	}
}

func TestClassify(t *testing.T) {
	n := newNormalizer(t)

	tests := []struct {
		raw  string
		want string
	}{
		{"https://linktr.ee/allura", "link_aggregator"},
		{"https://www.vagaro.com/alluraderm", "booking_platform"},
		{"https://allura.square.site", "booking_platform"},
		{"https://botox-it.ueniweb.com/about-us", "site_builder"},
		{"https://orangetwist.com/center/tustin/", "location_suffix"},
		{"https://www.instagram.com/allura", "image_hosting"},
		{"https://alluraderm.com/services", ""},
		{"garbage", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Classify(tt.raw))
		})
	}
}

func TestNormalize_FlaggedKeepsBestDomain(t *testing.T) {
	n := newNormalizer(t)

	rec := n.Normalize("b1", "https://orangetwist.com/center/tustin/", nil, now)
	assert.Equal(t, "orangetwist.com", model.Deref(rec.WebsiteClean))
	assert.Equal(t, "location_suffix", model.Deref(rec.ProcessFlag))
	assert.Nil(t, rec.FacebookURL)
	assert.Nil(t, rec.InstagramURL)
}

func TestNormalize_SocialPrecedence(t *testing.T) {
	n := newNormalizer(t)

	payloads := []model.RawEnrichmentPayload{
		{BusinessID: "b1", Source: model.SourceSearch, Links: []string{
			"https://www.facebook.com/allura.search",
			"https://instagram.com/allura_search",
		}},
		{BusinessID: "b1", Source: model.SourceWebsite, Website: "https://www.AlluraDerm.com/?utm=1", Links: []string{
			"https://www.facebook.com/sharer.php?u=x",
			"https://m.facebook.com/AlluraDerm/?ref=page",
		}},
	}

	rec := n.Normalize("b1", "", payloads, now)
	assert.Equal(t, "alluraderm.com", model.Deref(rec.WebsiteClean))
	assert.Nil(t, rec.ProcessFlag)
	assert.Equal(t, "https://www.facebook.com/AlluraDerm", model.Deref(rec.FacebookURL))
	assert.Equal(t, "https://www.instagram.com/allura_search", model.Deref(rec.InstagramURL))
	assert.True(t, rec.EnrichedAt.Equal(now))
}

func TestNormalize_SocialForms(t *testing.T) {
	n := newNormalizer(t)

	tests := []struct {
		name      string
		link      string
		facebook  string
		instagram string
	}{
		{"profile id", "https://www.facebook.com/profile.php?id=100064&ref=x#top", "https://www.facebook.com/profile.php?id=100064", ""},
		{"profile without id", "https://facebook.com/profile.php", "", ""},
		{"fb short host", "fb.com/glowspa", "https://www.facebook.com/glowspa", ""},
		{"reserved path", "https://www.facebook.com/login", "", ""},
		{"instagram short host", "https://instagr.am/glow.spa/", "", "https://www.instagram.com/glow.spa"},
		{"instagram explore", "https://www.instagram.com/explore/tags/botox", "", ""},
		{"instagram post", "https://www.instagram.com/p/Cx123/", "", ""},
		{"redirect wrapped", "https://www.google.com/url?q=https://www.instagram.com/glowspa/&sa=U", "", "https://www.instagram.com/glowspa"},
		{"lookalike host", "https://notfacebook.com/glowspa", "", ""},
		{"bare host", "https://www.facebook.com/", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := n.Normalize("b1", "", []model.RawEnrichmentPayload{
				{BusinessID: "b1", Source: model.SourceWebsite, Links: []string{tt.link}},
			}, now)
			assert.Equal(t, tt.facebook, model.Deref(rec.FacebookURL))
			assert.Equal(t, tt.instagram, model.Deref(rec.InstagramURL))
		})
	}
}

func TestNormalize_MalformedInputYieldsNulls(t *testing.T) {
	n := newNormalizer(t)

	rec := n.Normalize("b1", "::::", []model.RawEnrichmentPayload{
		{BusinessID: "b1", Source: model.SourceSearch, Website: "%%%", Links: []string{"", "::", "http://[bad"}},
	}, now)
	assert.Equal(t, "b1", rec.BusinessID)
	assert.Nil(t, rec.WebsiteClean)
	assert.Nil(t, rec.ProcessFlag)
	assert.Nil(t, rec.FacebookURL)
	assert.Nil(t, rec.InstagramURL)
}

func TestNewNormalizer_BadPattern(t *testing.T) {
	rules := config.DefaultRules()
	rules.Platforms = append(rules.Platforms, config.PlatformRule{Flag: "x", PathPatterns: []string{"("}})
	_, err := NewNormalizer(rules)
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "e.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	_, err = st.AppendRawBusinesses(ctx, []model.RawBusinessRecord{
		{ID: "b1", Website: "https://www.AlluraDerm.com/?utm=1", CapturedAt: now},
		{ID: "b2", CapturedAt: now},
	})
	require.NoError(t, err)
	_, err = st.AppendRawEnrichment(ctx, []model.RawEnrichmentPayload{
		{BusinessID: "b1", Source: model.SourceSearch, Links: []string{"https://facebook.com/allura"}, CapturedAt: now},
		{BusinessID: "b3", Source: model.SourceWebsite, Website: "https://linktr.ee/b3", CapturedAt: now},
		{BusinessID: "b4", Source: "carrier-pigeon", CapturedAt: now},
	})
	require.NoError(t, err)

	n := newNormalizer(t)
	report, err := Run(ctx, st, n)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Accepted)
	assert.Equal(t, 1, report.Rejected)

	recs, err := st.ListEnrichment(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b1", recs[0].BusinessID)
	assert.Equal(t, "alluraderm.com", model.Deref(recs[0].WebsiteClean))
	assert.Equal(t, "https://www.facebook.com/allura", model.Deref(recs[0].FacebookURL))
	assert.Equal(t, "b3", recs[1].BusinessID)
	assert.Equal(t, "link_aggregator", model.Deref(recs[1].ProcessFlag))

	// Re-enrichment overwrites by identity.
	_, err = Run(ctx, st, n)
	require.NoError(t, err)
	recs, err = st.ListEnrichment(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}
