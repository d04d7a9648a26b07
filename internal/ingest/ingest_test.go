package ingest

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/promo-cli/internal/metrics"
	"github.com/sells-group/promo-cli/internal/model"
	"github.com/sells-group/promo-cli/internal/store"
)

var now = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newTestIngestor(t *testing.T) (*Ingestor, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	require.NoError(t, st.UpsertMasters(context.Background(), []model.MasterRecord{{
		BusinessID:  "biz-1",
		Name:        "Glow Aesthetics",
		City:        "Denver",
		Category:    "Medical spa",
		ReviewCount: 210,
		Score:       4.7,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}))

	return New(st, WithClock(func() time.Time { return now }), WithMetrics(metrics.New())), st
}

func TestIngest_Accepted(t *testing.T) {
	ing, st := newTestIngestor(t)
	ctx := context.Background()

	res, err := ing.Ingest(ctx, model.RawPromoPayload{
		ID:         "p-1",
		BusinessID: "biz-1",
		Path:       model.PathAdTransparency,
		Content:    "Spring special: HydraFacial $149",
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, now, res.Payload.IngestedAt)
	assert.Equal(t, now, res.Payload.CapturedAt)

	got, err := st.GetPromoPayload(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Spring special: HydraFacial $149", got.Content)
	assert.Equal(t, model.PathAdTransparency, got.Path)
}

func TestIngest_OrphanWritesNothing(t *testing.T) {
	ing, st := newTestIngestor(t)
	ctx := context.Background()

	_, err := ing.Ingest(ctx, model.RawPromoPayload{
		ID:         "p-orphan",
		BusinessID: "biz-unknown",
		Path:       model.PathEmail,
		Content:    "20% off peels",
	})
	require.Error(t, err)
	assert.True(t, eris.Is(err, store.ErrOrphan))

	payloads, err := st.ListPromoPayloads(ctx, store.PayloadFilter{BusinessID: "biz-unknown"})
	require.NoError(t, err)
	assert.Empty(t, payloads)
}

func TestIngest_Duplicate(t *testing.T) {
	ing, st := newTestIngestor(t)
	ctx := context.Background()
	p := model.RawPromoPayload{ID: "p-dup", BusinessID: "biz-1", Path: model.PathEmail, Content: "first"}

	_, err := ing.Ingest(ctx, p)
	require.NoError(t, err)

	p.Content = "second"
	res, err := ing.Ingest(ctx, p)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	got, err := st.GetPromoPayload(ctx, "p-dup")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Content)
}

func TestIngest_Validation(t *testing.T) {
	ing, _ := newTestIngestor(t)

	tests := []struct {
		name string
		p    model.RawPromoPayload
	}{
		{"missing business", model.RawPromoPayload{ID: "p-1", Path: model.PathEmail}},
		{"unknown path", model.RawPromoPayload{ID: "p-1", BusinessID: "biz-1", Path: "fax"}},
		{"whitespace id", model.RawPromoPayload{ID: "p 1", BusinessID: "biz-1", Path: model.PathEmail}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ing.Ingest(context.Background(), tt.p)
			require.Error(t, err)
			assert.True(t, eris.Is(err, model.ErrValidation))
		})
	}
}

func TestIngest_AssignsIDAndKeepsEmptyContent(t *testing.T) {
	ing, st := newTestIngestor(t)
	ctx := context.Background()

	res, err := ing.Ingest(ctx, model.RawPromoPayload{BusinessID: "biz-1", Path: model.PathWebsiteSubpage})
	require.NoError(t, err)
	require.NotEmpty(t, res.Payload.ID)

	got, err := st.GetPromoPayload(ctx, res.Payload.ID)
	require.NoError(t, err)
	assert.Equal(t, "", got.Content)
	assert.Equal(t, model.PathWebsiteSubpage, got.Path)
}

func TestIngest_DecodesCharset(t *testing.T) {
	ing, st := newTestIngestor(t)
	ctx := context.Background()

	res, err := ing.Ingest(ctx, model.RawPromoPayload{
		ID:         "p-latin",
		BusinessID: "biz-1",
		Path:       model.PathEmail,
		Content:    "Caf\xe9 facial \xe0 $99",
		Charset:    "ISO-8859-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "utf-8", res.Payload.Charset)

	got, err := st.GetPromoPayload(ctx, "p-latin")
	require.NoError(t, err)
	assert.Equal(t, "Café facial à $99", got.Content)
}

func TestDecodeContent(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		charset     string
		wantContent string
		wantCharset string
	}{
		{"no charset", "plain", "", "plain", ""},
		{"utf-8 alias", "naïve", "UTF8", "naïve", "utf-8"},
		{"windows-1252", "\x93Glow\x94", "windows-1252", "“Glow”", "utf-8"},
		{"unknown label", "abc", "x-klingon", "abc", "x-klingon"},
		{"empty content", "", "latin1", "", "latin1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, charset := DecodeContent(tt.content, tt.charset)
			assert.Equal(t, tt.wantContent, content)
			assert.Equal(t, tt.wantCharset, charset)
		})
	}
}

func TestIngestBatch_Report(t *testing.T) {
	ing, _ := newTestIngestor(t)

	report := ing.IngestBatch(context.Background(), []model.RawPromoPayload{
		{ID: "b-1", BusinessID: "biz-1", Path: model.PathEmail, Content: "a"},
		{ID: "b-1", BusinessID: "biz-1", Path: model.PathEmail, Content: "a"},
		{ID: "b-2", BusinessID: "biz-404", Path: model.PathEmail, Content: "b"},
		{ID: "b-3", BusinessID: "biz-1", Path: "sms", Content: "c"},
		{ID: "b-4", BusinessID: "biz-1", Path: model.PathAdTransparency, Content: "d"},
	})

	assert.Equal(t, "ingest", report.Phase)
	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 2, report.Accepted)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 2, report.Rejected)
	assert.Len(t, report.Errors, 2)
}

func TestIngestBatch_Cancelled(t *testing.T) {
	ing, _ := newTestIngestor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := ing.IngestBatch(ctx, []model.RawPromoPayload{
		{ID: "c-1", BusinessID: "biz-1", Path: model.PathEmail},
		{ID: "c-2", BusinessID: "biz-1", Path: model.PathEmail},
	})
	assert.Equal(t, 0, report.Total)
	assert.Equal(t, 2, report.Skipped)
}

func TestSubscriber_IngestMessage(t *testing.T) {
	ing, st := newTestIngestor(t)
	sub := NewSubscriber(nil, ing, "promo", "promo-ingest")
	ctx := context.Background()

	body, err := json.Marshal(map[string]any{"id": "m-1", "business_id": "biz-1", "content": "BOGO lip filler"})
	require.NoError(t, err)
	res, err := sub.ingestMessage(ctx, model.PathEmail, body)
	require.NoError(t, err)
	assert.Equal(t, model.PathEmail, res.Payload.Path)

	got, err := st.GetPromoPayload(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, model.PathEmail, got.Path)

	mismatch, err := json.Marshal(model.RawPromoPayload{ID: "m-2", BusinessID: "biz-1", Path: model.PathAdTransparency})
	require.NoError(t, err)
	_, err = sub.ingestMessage(ctx, model.PathEmail, mismatch)
	assert.True(t, eris.Is(err, model.ErrValidation))

	_, err = sub.ingestMessage(ctx, model.PathEmail, []byte("{not json"))
	assert.True(t, eris.Is(err, model.ErrValidation))
}

func TestPublisher_RedeliveryStoresOneRow(t *testing.T) {
	ing, st := newTestIngestor(t)
	sub := NewSubscriber(nil, ing, "promo", "promo-ingest")
	pub := &Publisher{prefix: "promo"}
	ctx := context.Background()

	subject, data, err := pub.encode(model.RawPromoPayload{
		BusinessID: "biz-1",
		Path:       model.PathEmail,
		Content:    "20% off Botox this week",
	})
	require.NoError(t, err)
	assert.Equal(t, "promo.email", subject)

	var sent model.RawPromoPayload
	require.NoError(t, json.Unmarshal(data, &sent))
	require.NotEmpty(t, sent.ID)

	first, err := sub.ingestMessage(ctx, model.PathEmail, data)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := sub.ingestMessage(ctx, model.PathEmail, data)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, sent.ID, second.Payload.ID)

	rows, err := st.ListPromoPayloads(ctx, store.PayloadFilter{BusinessID: "biz-1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, sent.ID, rows[0].ID)
}

func TestPublisher_EncodeKeepsID(t *testing.T) {
	pub := &Publisher{prefix: "promo"}

	_, data, err := pub.encode(model.RawPromoPayload{ID: "p-7", BusinessID: "biz-1", Path: model.PathAdTransparency})
	require.NoError(t, err)
	var sent model.RawPromoPayload
	require.NoError(t, json.Unmarshal(data, &sent))
	assert.Equal(t, "p-7", sent.ID)

	_, _, err = pub.encode(model.RawPromoPayload{BusinessID: "biz-1", Path: "fax"})
	assert.True(t, eris.Is(err, model.ErrValidation))
}

func TestAckFor(t *testing.T) {
	p := model.RawPromoPayload{ID: "p-9"}

	assert.Equal(t, Ack{ID: "p-9", Status: AckAccepted}, AckFor(Result{Payload: p}, nil))
	assert.Equal(t, Ack{ID: "p-9", Status: AckDuplicate}, AckFor(Result{Payload: p, Duplicate: true}, nil))
	assert.Equal(t, AckInvalid, AckFor(Result{}, model.Invalidf("bad")).Status)
	assert.Equal(t, AckOrphan, AckFor(Result{}, eris.Wrap(store.ErrOrphan, "payload p-9")).Status)
	assert.Equal(t, AckError, AckFor(Result{}, eris.New("boom")).Status)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "promo.website_subpage", Subject("promo", model.PathWebsiteSubpage))
}
