package consolidate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/promo-cli/internal/model"
	"github.com/sells-group/promo-cli/internal/store"
)

var now = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func qualified(id string, passed bool) model.QualifiedBusinessRecord {
	return model.QualifiedBusinessRecord{
		BusinessID: id, Name: "Biz " + id, City: "Austin", Category: "Medspa",
		ReviewCount: 120, Score: 4.2, FilterPassed: passed,
	}
}

func TestMerge_LeftJoin(t *testing.T) {
	masters := Merge(
		[]model.QualifiedBusinessRecord{qualified("b2", true), qualified("b1", true), qualified("b3", false)},
		[]model.EnrichmentRecord{
			{BusinessID: "b1", WebsiteClean: model.StringPtr("b1.com"), FacebookURL: model.StringPtr("https://www.facebook.com/b1"),
				ProcessFlag: model.StringPtr("booking_platform")},
			{BusinessID: "b3", WebsiteClean: model.StringPtr("b3.com")},
			{BusinessID: "b9", WebsiteClean: model.StringPtr("b9.com")},
		},
		now,
	)

	require.Len(t, masters, 2)
	assert.Equal(t, "b1", masters[0].BusinessID)
	assert.Equal(t, "b1.com", model.Deref(masters[0].WebsiteClean))
	assert.Equal(t, "booking_platform", model.Deref(masters[0].ProcessFlag))

	// Qualified without enrichment: exactly one master with null social fields.
	assert.Equal(t, "b2", masters[1].BusinessID)
	assert.Nil(t, masters[1].WebsiteClean)
	assert.Nil(t, masters[1].FacebookURL)
	assert.Nil(t, masters[1].InstagramURL)
	assert.Nil(t, masters[1].ProcessFlag)
	assert.Equal(t, "Austin", masters[1].City)
}

func TestMerge_DuplicateQualifiedKeepsLast(t *testing.T) {
	a := qualified("b1", true)
	b := qualified("b1", true)
	b.Name = "Renamed"
	masters := Merge([]model.QualifiedBusinessRecord{a, b}, nil, now)
	require.Len(t, masters, 1)
	assert.Equal(t, "Renamed", masters[0].Name)
}

func TestDiff(t *testing.T) {
	later := now.Add(24 * time.Hour)
	retiredAt := now.Add(-time.Hour)

	existing := []model.MasterRecord{
		{BusinessID: "same", Name: "Same", CreatedAt: now, UpdatedAt: now},
		{BusinessID: "changed", Name: "Old", CreatedAt: now, UpdatedAt: now},
		{BusinessID: "gone", Name: "Gone", CreatedAt: now, UpdatedAt: now},
		{BusinessID: "already-retired", CreatedAt: now, UpdatedAt: now, RetiredAt: &retiredAt},
		{BusinessID: "back", Name: "Back", CreatedAt: now, UpdatedAt: now, RetiredAt: &retiredAt},
	}
	merged := []model.MasterRecord{
		{BusinessID: "same", Name: "Same", CreatedAt: later, UpdatedAt: later},
		{BusinessID: "changed", Name: "New", CreatedAt: later, UpdatedAt: later},
		{BusinessID: "new", Name: "New", CreatedAt: later, UpdatedAt: later},
		{BusinessID: "back", Name: "Back", CreatedAt: later, UpdatedAt: later},
	}

	ch := Diff(merged, existing, later)
	assert.Equal(t, 1, ch.Unchanged)

	require.Len(t, ch.Created, 1)
	assert.Equal(t, "new", ch.Created[0].BusinessID)

	require.Len(t, ch.Updated, 2)
	assert.Equal(t, "changed", ch.Updated[0].BusinessID)
	assert.True(t, ch.Updated[0].CreatedAt.Equal(now))
	assert.True(t, ch.Updated[0].UpdatedAt.Equal(later))
	assert.Equal(t, "back", ch.Updated[1].BusinessID)
	assert.Nil(t, ch.Updated[1].RetiredAt)

	require.Len(t, ch.Retired, 1)
	assert.Equal(t, "gone", ch.Retired[0].BusinessID)
	require.NotNil(t, ch.Retired[0].RetiredAt)
	assert.True(t, ch.Retired[0].RetiredAt.Equal(later))

	assert.Len(t, ch.Upserts(), 4)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "c.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	q1, q2 := qualified("b1", true), qualified("b2", true)
	q1.RawCapturedAt, q1.QualifiedAt = now, now
	q2.RawCapturedAt, q2.QualifiedAt = now, now
	require.NoError(t, st.UpsertQualified(ctx, []model.QualifiedBusinessRecord{q1, q2}))
	require.NoError(t, st.UpsertEnrichment(ctx, []model.EnrichmentRecord{
		{BusinessID: "b1", WebsiteClean: model.StringPtr("b1.com"), EnrichedAt: now},
	}))

	report, err := Run(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Accepted)

	// Nothing changed: nothing is rewritten.
	report, err = Run(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Accepted)
	assert.Equal(t, 2, report.Skipped)

	// b2 stops qualifying; b1's record is untouched.
	before, err := st.GetMaster(ctx, "b1")
	require.NoError(t, err)
	q2.FilterPassed = false
	q2.Reason = model.ReasonLowQuality
	require.NoError(t, st.UpsertQualified(ctx, []model.QualifiedBusinessRecord{q2}))

	report, err = Run(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, 1, report.Skipped)

	after, err := st.GetMaster(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))

	b2, err := st.GetMaster(ctx, "b2")
	require.NoError(t, err)
	assert.False(t, b2.Active())

	active, err := st.ListMasters(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b1", active[0].BusinessID)
}
