package model

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateIdentity(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"plain", "biz-123", false},
		{"uuid", "0190a7c2-5b1e-7cc4-9d7e-3f4b2a1c0d9e", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"inner space", "biz 123", true},
		{"newline", "biz\n123", true},
		{"too long", strings.Repeat("x", 300), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentity("id", tt.id)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRawBusinessRecordValidate(t *testing.T) {
	ok := RawBusinessRecord{ID: "b1", ReviewCount: 10, Score: 4.5}
	assert.NoError(t, ok.Validate())

	neg := ok
	neg.ReviewCount = -1
	assert.ErrorIs(t, neg.Validate(), ErrValidation)

	high := ok
	high.Score = 5.1
	assert.ErrorIs(t, high.Validate(), ErrValidation)
}

func TestRawPromoPayloadValidate(t *testing.T) {
	p := RawPromoPayload{BusinessID: "b1", Path: PathEmail}
	assert.NoError(t, p.Validate(), "empty id is assigned later")

	p.Path = "fax"
	assert.ErrorIs(t, p.Validate(), ErrValidation)

	p.Path = PathAdTransparency
	p.ID = "has space"
	assert.ErrorIs(t, p.Validate(), ErrValidation)

	p.ID = ""
	p.BusinessID = ""
	assert.ErrorIs(t, p.Validate(), ErrValidation)
}

func TestEnrichmentSourceRank(t *testing.T) {
	assert.Less(t, SourceWebsite.Rank(), SourceSearch.Rank())
	assert.Less(t, SourceSearch.Rank(), EnrichmentSource("other").Rank())
}

func TestMasterSameContent(t *testing.T) {
	now := time.Now()
	a := MasterRecord{BusinessID: "b1", Name: "Allura", WebsiteClean: StringPtr("alluraderm.com"), CreatedAt: now}
	b := a
	b.CreatedAt = now.Add(time.Hour)
	b.WebsiteClean = StringPtr("alluraderm.com")
	assert.True(t, a.SameContent(b), "timestamps and pointer identity are ignored")

	b.FacebookURL = StringPtr("https://facebook.com/allura")
	assert.False(t, a.SameContent(b))

	c := a
	c.RetiredAt = &now
	assert.False(t, a.SameContent(c))
	assert.False(t, c.Active())
}

func TestServiceType(t *testing.T) {
	o := StructuredOffer{Category: StringPtr("Injectables")}
	assert.Equal(t, "Injectables", o.ServiceType())

	o.Subcategory = StringPtr("Neurotoxin")
	assert.Equal(t, "Neurotoxin", o.ServiceType())

	o.Service = StringPtr("Botox")
	assert.Equal(t, "Botox", o.ServiceType())

	assert.Equal(t, "", StructuredOffer{}.ServiceType())
}

func TestQAStatus(t *testing.T) {
	assert.True(t, QAPass.Terminal())
	assert.True(t, QAFail.Terminal())
	assert.False(t, QAReview.Terminal())
	assert.True(t, QAReview.Valid())
	assert.False(t, QAStatus("scored").Valid())
}

func TestBatchReport(t *testing.T) {
	r := BatchReport{Phase: "ingest", Total: 2, Accepted: 1}
	r.AddError(nil)
	r.AddError(errors.New("orphan"))
	r.Merge(BatchReport{Total: 3, Rejected: 2, Unresolved: 1, Errors: []string{"x"}})

	assert.Equal(t, 5, r.Total)
	assert.Equal(t, 1, r.Accepted)
	assert.Equal(t, 2, r.Rejected)
	assert.Equal(t, 1, r.Unresolved)
	assert.Equal(t, []string{"orphan", "x"}, r.Errors)

	for i := 0; i < 50; i++ {
		r.AddError(errors.New("more"))
	}
	assert.Len(t, r.Errors, maxReportErrors)
}

func TestStringPtr(t *testing.T) {
	assert.Nil(t, StringPtr(""))
	assert.Equal(t, "x", Deref(StringPtr("x")))
	assert.Equal(t, "", Deref(nil))
}
