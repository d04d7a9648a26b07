package structure

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/promo-cli/internal/metrics"
	"github.com/sells-group/promo-cli/internal/model"
	"github.com/sells-group/promo-cli/internal/resilience"
	"github.com/sells-group/promo-cli/internal/store"
)

var t0 = time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "structure.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.UpsertMasters(ctx, []model.MasterRecord{{
		BusinessID: "biz-1", Name: "Luxe Skin", City: "Miami", Category: "Medical spa",
		ReviewCount: 300, Score: 4.9, CreatedAt: t0, UpdatedAt: t0,
	}}))
	return st
}

func addPayload(t *testing.T, st store.Store, id, content string) model.RawPromoPayload {
	t.Helper()
	p := model.RawPromoPayload{
		ID: id, BusinessID: "biz-1", Path: model.PathEmail, Content: content,
		CapturedAt: t0, IngestedAt: t0,
	}
	inserted, err := st.InsertPromoPayload(context.Background(), p)
	require.NoError(t, err)
	require.True(t, inserted)
	return p
}

func fastOptions() Options {
	return Options{
		Concurrency: 4,
		CallTimeout: time.Second,
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			JitterFraction: 0,
		},
	}
}

func candidate(t *testing.T, fields map[string]any) Candidate {
	t.Helper()
	c := Candidate{}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		c[k] = raw
	}
	return c
}

func TestEngine_RetriesThenSucceeds(t *testing.T) {
	st := newTestStore(t)
	p := addPayload(t, st, "p-1", "Botox $10/unit, HydraFacial 60 min $149")

	found := []Candidate{
		candidate(t, map[string]any{"service": "Botox", "price": "$10/unit", "category": "Injectables"}),
		candidate(t, map[string]any{"service": "HydraFacial", "price": 149, "duration": "60 min"}),
	}
	var calls atomic.Int32
	oracle := OracleFunc(func(_ context.Context, req Request) (Response, error) {
		assert.Equal(t, Schema, req.Schema)
		if calls.Add(1) <= 2 {
			return Response{}, resilience.NewTransientError(eris.New("overloaded"), 529)
		}
		return Response{Model: "test-model", Offers: found}, nil
	})

	engine := NewEngine(st, oracle, metrics.New(), fastOptions())
	report, err := engine.Run(context.Background(), []model.RawPromoPayload{p})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accepted)
	assert.Equal(t, 0, report.Unresolved)
	assert.Equal(t, int32(3), calls.Load())

	offers, err := st.ListOffers(context.Background(), store.OfferFilter{PayloadID: "p-1"})
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, offers[0].RunID, offers[1].RunID)
	assert.NotEqual(t, offers[0].ID, offers[1].ID)

	byService := map[string]model.StructuredOffer{}
	for _, o := range offers {
		byService[model.Deref(o.Service)] = o
	}
	facial := byService["HydraFacial"]
	require.NotNil(t, facial.Price)
	assert.Equal(t, "149", *facial.Price)
	require.NotNil(t, facial.DurationMinutes)
	assert.Equal(t, 60, *facial.DurationMinutes)
	assert.Nil(t, facial.Category)
	assert.Equal(t, "test-model", facial.OracleModel)

	outcomes, err := st.ListOutcomes(context.Background(), store.OutcomeFilter{PayloadID: "p-1"})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, model.OutcomeProcessed, outcomes[0].Status)
	assert.Equal(t, 3, outcomes[0].Attempts)
	assert.Equal(t, 2, outcomes[0].Offers)
	assert.Equal(t, outcomes[0].ID, offers[0].RunID)
}

func TestEngine_NoOffersIsProcessed(t *testing.T) {
	st := newTestStore(t)
	p := addPayload(t, st, "p-empty", "Thanks for subscribing!")

	engine := NewEngine(st, OracleFunc(func(context.Context, Request) (Response, error) {
		return Response{Model: "test-model"}, nil
	}), nil, fastOptions())

	report, err := engine.Run(context.Background(), []model.RawPromoPayload{p})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accepted)
	assert.Empty(t, report.Errors)

	offers, err := st.ListOffers(context.Background(), store.OfferFilter{PayloadID: "p-empty"})
	require.NoError(t, err)
	assert.Empty(t, offers)

	pending, err := st.ListPromoPayloads(context.Background(), store.PayloadFilter{Unprocessed: true})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEngine_ExhaustionIsUnresolved(t *testing.T) {
	st := newTestStore(t)
	bad := addPayload(t, st, "p-bad", "flaky")
	good := addPayload(t, st, "p-good", "fine")

	peel := []Candidate{candidate(t, map[string]any{"service": "Peel"})}
	engine := NewEngine(st, OracleFunc(func(_ context.Context, req Request) (Response, error) {
		if req.Content == "flaky" {
			return Response{}, resilience.NewTransientError(eris.New("malformed reply"), 0)
		}
		return Response{Offers: peel}, nil
	}), nil, fastOptions())

	report, err := engine.Run(context.Background(), []model.RawPromoPayload{bad, good})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Accepted)
	assert.Equal(t, 1, report.Unresolved)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "p-bad")

	outcomes, err := st.ListOutcomes(context.Background(), store.OutcomeFilter{PayloadID: "p-bad"})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, model.OutcomeUnresolved, outcomes[0].Status)
	assert.Equal(t, 3, outcomes[0].Attempts)
	assert.Contains(t, outcomes[0].Error, "malformed reply")

	pending, err := st.ListPromoPayloads(context.Background(), store.PayloadFilter{Unprocessed: true})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "p-bad", pending[0].ID)
}

func TestEngine_PermanentErrorNotRetried(t *testing.T) {
	st := newTestStore(t)
	p := addPayload(t, st, "p-perm", "content")

	var calls atomic.Int32
	engine := NewEngine(st, OracleFunc(func(context.Context, Request) (Response, error) {
		calls.Add(1)
		return Response{}, eris.New("invalid api key")
	}), nil, fastOptions())

	report, err := engine.Run(context.Background(), []model.RawPromoPayload{p})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unresolved)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEngine_RerunAppendsUnlessSkipped(t *testing.T) {
	st := newTestStore(t)
	p := addPayload(t, st, "p-rerun", "Laser hair removal 50% off")

	laser := []Candidate{candidate(t, map[string]any{"service": "Laser hair removal", "price": "50% off"})}
	var calls atomic.Int32
	oracle := OracleFunc(func(context.Context, Request) (Response, error) {
		calls.Add(1)
		return Response{Offers: laser}, nil
	})
	ctx := context.Background()

	engine := NewEngine(st, oracle, nil, fastOptions())
	_, err := engine.Run(ctx, []model.RawPromoPayload{p})
	require.NoError(t, err)
	_, err = engine.Run(ctx, []model.RawPromoPayload{p})
	require.NoError(t, err)

	all, err := st.ListOffers(ctx, store.OfferFilter{PayloadID: "p-rerun"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	current, err := st.ListOffers(ctx, store.OfferFilter{PayloadID: "p-rerun", CurrentOnly: true})
	require.NoError(t, err)
	assert.Len(t, current, 1)

	opts := fastOptions()
	opts.SkipProcessed = true
	report, err := NewEngine(st, oracle, nil, opts).Run(ctx, []model.RawPromoPayload{p})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEngine_RunPending(t *testing.T) {
	st := newTestStore(t)
	addPayload(t, st, "p-a", "a")
	addPayload(t, st, "p-b", "b")

	engine := NewEngine(st, OracleFunc(func(context.Context, Request) (Response, error) {
		return Response{}, nil
	}), nil, fastOptions())

	report, err := engine.RunPending(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Accepted)

	report, err = engine.RunPending(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total)
}

func TestEngine_CancelledContext(t *testing.T) {
	st := newTestStore(t)
	p := addPayload(t, st, "p-cancel", "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	engine := NewEngine(st, OracleFunc(func(context.Context, Request) (Response, error) {
		calls.Add(1)
		return Response{}, nil
	}), nil, fastOptions())

	report, err := engine.Run(ctx, []model.RawPromoPayload{p})
	require.Error(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, calls.Load())

	outcomes, err := st.ListOutcomes(context.Background(), store.OutcomeFilter{PayloadID: "p-cancel"})
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}
