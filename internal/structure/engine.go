package structure

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/promo-cli/internal/config"
	"github.com/sells-group/promo-cli/internal/metrics"
	"github.com/sells-group/promo-cli/internal/model"
	"github.com/sells-group/promo-cli/internal/resilience"
	"github.com/sells-group/promo-cli/internal/store"
)

const phase = "structure"

// Options controls a structuring run.
type Options struct {
	Concurrency int
	RatePerSec  float64
	CallTimeout time.Duration
	Retry       resilience.RetryConfig
	// SkipProcessed leaves payloads that already have a processed outcome
	// alone. Without it every run appends a new offer set.
	SkipProcessed bool
}

// OptionsFromConfig builds Options from the structure config section.
func OptionsFromConfig(c config.StructureConfig) Options {
	return Options{
		Concurrency:   c.Concurrency,
		RatePerSec:    c.RatePerSec,
		CallTimeout:   c.CallTimeout,
		Retry:         resilience.FromRetryConfig(c.Retry),
		SkipProcessed: c.SkipProcessed,
	}
}

// Engine runs payloads through the oracle and records one outcome per
// payload per run.
type Engine struct {
	store   store.Store
	oracle  Oracle
	metrics *metrics.Pipeline
	opts    Options
	now     func() time.Time
}

// NewEngine creates an Engine. m may be nil.
func NewEngine(st store.Store, oracle Oracle, m *metrics.Pipeline, opts Options) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("oracle", "extract")
	}
	return &Engine{
		store:   st,
		oracle:  oracle,
		metrics: m,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RunPending structures stored payloads that have no processed outcome yet.
func (e *Engine) RunPending(ctx context.Context, limit int) (model.BatchReport, error) {
	payloads, err := e.store.ListPromoPayloads(ctx, store.PayloadFilter{Unprocessed: true, Limit: limit})
	if err != nil {
		return model.BatchReport{Phase: phase}, eris.Wrap(err, "structure: list pending payloads")
	}
	return e.Run(ctx, payloads)
}

// Run structures each payload. A failing payload is recorded as unresolved
// and never stops the batch; the returned error is reserved for a cancelled
// context.
func (e *Engine) Run(ctx context.Context, payloads []model.RawPromoPayload) (model.BatchReport, error) {
	log := zap.L().With(zap.String("phase", phase))
	report := model.BatchReport{Phase: phase}

	limit := rate.Inf
	if e.opts.RatePerSec > 0 {
		limit = rate.Limit(e.opts.RatePerSec)
	}
	limiter := rate.NewLimiter(limit, 1)

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)

	for _, p := range payloads {
		g.Go(func() error {
			res := e.structure(gCtx, limiter, p)

			mu.Lock()
			defer mu.Unlock()
			report.Total++
			switch res.status {
			case statusProcessed:
				report.Accepted++
			case statusUnresolved:
				report.Unresolved++
				report.AddError(res.err)
			case statusSkipped:
				report.Skipped++
			case statusFailed:
				report.Rejected++
				report.AddError(res.err)
			}
			return nil
		})
	}
	_ = g.Wait()

	e.metrics.ObserveReport(report)
	log.Info("structuring complete", zap.Object("report", report))

	if err := ctx.Err(); err != nil {
		return report, eris.Wrap(err, "structure: run cancelled")
	}
	return report, nil
}

type unitStatus int

const (
	statusProcessed unitStatus = iota
	statusUnresolved
	statusSkipped
	statusFailed
)

type unitResult struct {
	status unitStatus
	err    error
}

func (e *Engine) structure(ctx context.Context, limiter *rate.Limiter, p model.RawPromoPayload) unitResult {
	log := zap.L().With(zap.String("phase", phase), zap.String("payload_id", p.ID))

	if ctx.Err() != nil {
		return unitResult{status: statusSkipped}
	}
	if e.opts.SkipProcessed {
		done, err := e.alreadyProcessed(ctx, p.ID)
		if err != nil {
			return unitResult{status: statusFailed, err: err}
		}
		if done {
			return unitResult{status: statusSkipped}
		}
	}

	defer e.metrics.Start(phase)()

	attempts := 0
	resp, err := resilience.DoVal(ctx, e.opts.Retry, func(ctx context.Context) (Response, error) {
		attempts++
		if err := limiter.Wait(ctx); err != nil {
			return Response{}, err
		}
		callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
		defer cancel()

		start := time.Now()
		resp, err := e.oracle.Extract(callCtx, Request{Content: p.Content, Schema: Schema})
		e.metrics.ObserveCall("oracle", resilience.Classify(err), time.Since(start))
		return resp, err
	})

	if ctx.Err() != nil {
		return unitResult{status: statusSkipped}
	}

	outcome := model.StructuringOutcome{
		ID:        uuid.Must(uuid.NewV7()).String(),
		PayloadID: p.ID,
		Attempts:  attempts,
		CreatedAt: e.now(),
	}

	if err != nil {
		outcome.Status = model.OutcomeUnresolved
		outcome.Error = err.Error()
		if rerr := e.store.RecordStructuring(ctx, outcome, nil); rerr != nil {
			return unitResult{status: statusFailed, err: eris.Wrapf(rerr, "structure: record unresolved %s", p.ID)}
		}
		log.Warn("payload unresolved",
			zap.Int("attempts", attempts),
			zap.String("class", resilience.Classify(err)),
			zap.Error(err),
		)
		return unitResult{status: statusUnresolved, err: eris.Wrapf(err, "structure: payload %s", p.ID)}
	}

	offers := e.buildOffers(p, outcome, resp)
	outcome.Status = model.OutcomeProcessed
	outcome.Offers = len(offers)
	outcome.Model = resp.Model

	if err := e.store.RecordStructuring(ctx, outcome, offers); err != nil {
		if errors.Is(err, store.ErrOrphan) {
			log.Warn("payload business no longer references a master record", zap.String("business_id", p.BusinessID))
		}
		return unitResult{status: statusFailed, err: eris.Wrapf(err, "structure: record payload %s", p.ID)}
	}

	log.Debug("payload processed", zap.Int("offers", len(offers)), zap.Int("attempts", attempts))
	return unitResult{status: statusProcessed}
}

func (e *Engine) buildOffers(p model.RawPromoPayload, outcome model.StructuringOutcome, resp Response) []model.StructuredOffer {
	offers := make([]model.StructuredOffer, 0, len(resp.Offers))
	for _, c := range resp.Offers {
		offer := model.StructuredOffer{
			ID:          uuid.Must(uuid.NewV7()).String(),
			PayloadID:   p.ID,
			BusinessID:  p.BusinessID,
			Path:        p.Path,
			OracleModel: resp.Model,
			RunID:       outcome.ID,
			CreatedAt:   outcome.CreatedAt,
		}
		mapCandidate(c, &offer)
		if raw, err := json.Marshal(c); err == nil {
			offer.Raw = raw
		}
		offers = append(offers, offer)
	}
	return offers
}

func (e *Engine) alreadyProcessed(ctx context.Context, payloadID string) (bool, error) {
	outcomes, err := e.store.ListOutcomes(ctx, store.OutcomeFilter{
		PayloadID: payloadID,
		Status:    model.OutcomeProcessed,
		Limit:     1,
	})
	if err != nil {
		return false, eris.Wrapf(err, "structure: check outcomes for %s", payloadID)
	}
	return len(outcomes) > 0, nil
}
