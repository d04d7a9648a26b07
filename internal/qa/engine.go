package qa

import (
	"context"
	"errors"
	"strings"
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
	"github.com/sells-group/promo-cli/internal/textmatch"
)

const phase = "qa"

// ErrNotInReview is returned when a human decision targets an offer whose
// current status is not review.
var ErrNotInReview = eris.New("offer is not awaiting review")

// Config holds scoring policy and call limits.
type Config struct {
	HighThreshold float64
	LowThreshold  float64
	TopN          int
	HighVolume    int
	AllowList     []string
	StopWords     []string
	Concurrency   int
	RatePerSec    float64
	CallTimeout   time.Duration
	Retry         resilience.RetryConfig
}

// ConfigFrom builds a Config from the qa config section and the rules file.
func ConfigFrom(c config.QAConfig, rules *config.Rules) Config {
	cfg := Config{
		HighThreshold: c.HighThreshold,
		LowThreshold:  c.LowThreshold,
		TopN:          c.TopN,
		HighVolume:    c.HighVolume,
		Concurrency:   c.Concurrency,
		RatePerSec:    c.RatePerSec,
		CallTimeout:   c.CallTimeout,
		Retry:         resilience.FromRetryConfig(c.Retry),
	}
	if rules != nil {
		cfg.AllowList = rules.AllowList
		cfg.StopWords = rules.StopWords
	}
	return cfg
}

// Options selects the offers a run scores.
type Options struct {
	// Rescore scores every current offer again instead of only unscored ones.
	Rescore    bool
	BusinessID string
	Limit      int
}

// Decision is a human reviewer's verdict on an offer in review.
type Decision struct {
	OfferID  string
	Status   model.QAStatus
	Reviewer string
	Notes    string
}

// Engine scores offers and records human decisions.
type Engine struct {
	store    store.Store
	searcher Searcher
	metrics  *metrics.Pipeline
	cfg      Config
	stop     textmatch.StopWords
	now      func() time.Time
}

// NewEngine creates an Engine. m may be nil.
func NewEngine(st store.Store, searcher Searcher, m *metrics.Pipeline, cfg Config) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("search", "qa")
	}
	return &Engine{
		store:    st,
		searcher: searcher,
		metrics:  m,
		cfg:      cfg,
		stop:     textmatch.NewStopWords(cfg.StopWords),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run scores the current offers selected by opts, appending one QAResult
// per scored offer. Offers whose search never succeeds stay unscored and get
// a persisted unresolved mark, unless a manual-review trigger fires.
func (e *Engine) Run(ctx context.Context, opts Options) (model.BatchReport, error) {
	log := zap.L().With(zap.String("phase", phase))
	report := model.BatchReport{Phase: phase}

	masters, err := e.store.ListMasters(ctx, true)
	if err != nil {
		return report, eris.Wrap(err, "qa: list masters")
	}
	byID := make(map[string]model.MasterRecord, len(masters))
	for _, m := range masters {
		byID[m.BusinessID] = m
	}
	triggers := NewTriggers(masters, e.cfg.TopN, e.cfg.HighVolume, e.cfg.AllowList)

	offers, err := e.store.ListOffers(ctx, store.OfferFilter{
		BusinessID:  opts.BusinessID,
		Unscored:    !opts.Rescore,
		CurrentOnly: true,
		Limit:       opts.Limit,
	})
	if err != nil {
		return report, eris.Wrap(err, "qa: list offers")
	}

	limit := rate.Inf
	if e.cfg.RatePerSec > 0 {
		limit = rate.Limit(e.cfg.RatePerSec)
	}
	limiter := rate.NewLimiter(limit, 1)

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for _, offer := range offers {
		g.Go(func() error {
			master, ok := byID[offer.BusinessID]
			var res unitResult
			if !ok {
				res = unitResult{status: statusSkipped}
				log.Debug("offer skipped; master retired", zap.String("offer_id", offer.ID))
			} else {
				res = e.scoreOffer(gCtx, limiter, offer, master, triggers.Fired(master))
			}

			mu.Lock()
			defer mu.Unlock()
			report.Total++
			switch res.status {
			case statusScored:
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
	log.Info("qa scoring complete", zap.Object("report", report))

	if err := ctx.Err(); err != nil {
		return report, eris.Wrap(err, "qa: run cancelled")
	}
	return report, nil
}

type unitStatus int

const (
	statusScored unitStatus = iota
	statusUnresolved
	statusSkipped
	statusFailed
)

type unitResult struct {
	status unitStatus
	err    error
}

func (e *Engine) scoreOffer(ctx context.Context, limiter *rate.Limiter, offer model.StructuredOffer, master model.MasterRecord, fired []string) unitResult {
	log := zap.L().With(zap.String("phase", phase), zap.String("offer_id", offer.ID))
	if ctx.Err() != nil {
		return unitResult{status: statusSkipped}
	}
	defer e.metrics.Start(phase)()

	result := model.QAResult{
		ID:         uuid.Must(uuid.NewV7()).String(),
		OfferID:    offer.ID,
		BusinessID: offer.BusinessID,
		Query:      BuildQuery(offer, master),
	}
	var notes []string

	if result.Query == "" {
		// Nothing to search for; a human has to look at it.
		result.Status = model.QAReview
		result.ManualReviewNeeded = true
		notes = append(notes, "no service type to search")
	} else {
		snippets, err := e.search(ctx, limiter, result.Query)
		switch {
		case ctx.Err() != nil:
			return unitResult{status: statusSkipped}
		case err != nil && len(fired) == 0:
			log.Warn("offer unresolved; search failed",
				zap.String("query", result.Query),
				zap.String("class", resilience.Classify(err)),
				zap.Error(err),
			)
			return e.markUnresolved(ctx, result, err)
		case err != nil:
			notes = append(notes, "search unresolved: "+err.Error())
		default:
			result.Score = Score(offer, snippets, e.stop)
			result.Status = Verdict(result.Score, e.cfg.HighThreshold, e.cfg.LowThreshold)
		}
	}

	if len(fired) > 0 {
		result.Status = model.QAReview
		result.ManualReviewNeeded = true
		notes = append([]string{"manual review: " + strings.Join(fired, ", ")}, notes...)
	}
	if len(notes) > 0 {
		n := strings.Join(notes, "; ")
		result.Notes = &n
	}
	result.CreatedAt = e.now()

	if err := e.store.AppendQAResult(ctx, result); err != nil {
		return unitResult{status: statusFailed, err: eris.Wrapf(err, "qa: record offer %s", offer.ID)}
	}
	e.metrics.Record(phase, string(result.Status))
	return unitResult{status: statusScored}
}

// markUnresolved persists the failed search so the offer is surfaced until a
// later run scores it.
func (e *Engine) markUnresolved(ctx context.Context, result model.QAResult, cause error) unitResult {
	attempts := 1
	var exhausted *resilience.ExhaustedError
	if errors.As(cause, &exhausted) {
		attempts = exhausted.Attempts
	}
	u := model.QAUnresolved{
		ID:         uuid.Must(uuid.NewV7()).String(),
		OfferID:    result.OfferID,
		BusinessID: result.BusinessID,
		Query:      result.Query,
		Attempts:   attempts,
		Error:      cause.Error(),
		CreatedAt:  e.now(),
	}
	if err := e.store.RecordQAUnresolved(ctx, u); err != nil {
		return unitResult{status: statusFailed, err: eris.Wrapf(err, "qa: record unresolved offer %s", u.OfferID)}
	}
	return unitResult{status: statusUnresolved, err: eris.Wrapf(cause, "qa: offer %s", u.OfferID)}
}

func (e *Engine) search(ctx context.Context, limiter *rate.Limiter, query string) ([]string, error) {
	return resilience.DoVal(ctx, e.cfg.Retry, func(ctx context.Context) ([]string, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()

		start := time.Now()
		snippets, err := e.searcher.Search(callCtx, query)
		e.metrics.ObserveCall("search", resilience.Classify(err), time.Since(start))
		return snippets, err
	})
}

// Review appends a human decision. The decision must be pass or fail and the
// offer's current status must be review.
func (e *Engine) Review(ctx context.Context, d Decision) (model.QAResult, error) {
	if d.Status != model.QAPass && d.Status != model.QAFail {
		return model.QAResult{}, model.Invalidf("review status must be pass or fail, got %q", d.Status)
	}
	if strings.TrimSpace(d.Reviewer) == "" {
		return model.QAResult{}, model.Invalidf("reviewer is required")
	}

	offer, err := e.store.GetOffer(ctx, d.OfferID)
	if err != nil {
		return model.QAResult{}, eris.Wrap(err, "qa: review")
	}
	history, err := e.store.ListQAResults(ctx, offer.ID)
	if err != nil {
		return model.QAResult{}, eris.Wrap(err, "qa: review history")
	}
	if len(history) == 0 || history[len(history)-1].Status != model.QAReview {
		return model.QAResult{}, eris.Wrapf(ErrNotInReview, "qa: offer %s", offer.ID)
	}
	current := history[len(history)-1]

	result := model.QAResult{
		ID:         uuid.Must(uuid.NewV7()).String(),
		OfferID:    offer.ID,
		BusinessID: offer.BusinessID,
		Query:      current.Query,
		Score:      current.Score,
		Status:     d.Status,
		Reviewer:   d.Reviewer,
		Notes:      model.StringPtr(strings.TrimSpace(d.Notes)),
		CreatedAt:  e.now(),
	}
	if err := e.store.AppendReview(ctx, result); err != nil {
		if eris.Is(err, store.ErrStale) {
			return model.QAResult{}, eris.Wrapf(ErrNotInReview, "qa: offer %s was decided concurrently", offer.ID)
		}
		return model.QAResult{}, eris.Wrap(err, "qa: record review")
	}

	e.metrics.Record(phase, "reviewed_"+string(d.Status))
	zap.L().Info("review recorded",
		zap.String("phase", phase),
		zap.String("offer_id", offer.ID),
		zap.String("status", string(d.Status)),
		zap.String("reviewer", d.Reviewer),
	)
	return result, nil
}

// Unresolved lists offers whose last search attempt ran out of retries and
// that have not been scored since.
func (e *Engine) Unresolved(ctx context.Context, limit int) ([]model.QAUnresolved, error) {
	marks, err := e.store.ListQAUnresolved(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "qa: unresolved")
	}
	return marks, nil
}

// ReviewQueue lists the current results still awaiting a human decision.
func (e *Engine) ReviewQueue(ctx context.Context, limit int) ([]model.QAResult, error) {
	results, err := e.store.CurrentQAResults(ctx, store.QAFilter{Status: model.QAReview, Limit: limit})
	if err != nil {
		return nil, eris.Wrap(err, "qa: review queue")
	}
	return results, nil
}

// History returns every QA result of an offer, oldest first.
func (e *Engine) History(ctx context.Context, offerID string) ([]model.QAResult, error) {
	if _, err := e.store.GetOffer(ctx, offerID); err != nil {
		return nil, eris.Wrap(err, "qa: history")
	}
	results, err := e.store.ListQAResults(ctx, offerID)
	if err != nil {
		return nil, eris.Wrap(err, "qa: history")
	}
	return results, nil
}
