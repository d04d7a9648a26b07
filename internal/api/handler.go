// Package api exposes promo ingestion, QA review and pipeline metrics over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/promo-cli/internal/ingest"
	"github.com/sells-group/promo-cli/internal/metrics"
	"github.com/sells-group/promo-cli/internal/model"
	"github.com/sells-group/promo-cli/internal/qa"
	"github.com/sells-group/promo-cli/internal/store"
)

// maxBodyBytes bounds a single promo payload request.
const maxBodyBytes = 5 << 20

// Ingester admits promo payloads.
type Ingester interface {
	Ingest(ctx context.Context, p model.RawPromoPayload) (ingest.Result, error)
}

// Reviewer serves QA history and human decisions.
type Reviewer interface {
	Review(ctx context.Context, d qa.Decision) (model.QAResult, error)
	ReviewQueue(ctx context.Context, limit int) ([]model.QAResult, error)
	History(ctx context.Context, offerID string) ([]model.QAResult, error)
}

// Handler serves the HTTP surface.
type Handler struct {
	ingester Ingester
	reviewer Reviewer
	metrics  *metrics.Pipeline
}

// New creates a Handler. m may be nil.
func New(ingester Ingester, reviewer Reviewer, m *metrics.Pipeline) *Handler {
	return &Handler{ingester: ingester, reviewer: reviewer, metrics: m}
}

// Router returns a chi router with the standard middleware and every route
// registered.
func (h *Handler) Router(allowedOrigins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}
	h.Register(r)
	return r
}

// Register adds the routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/promo/{path}", h.handleIngest)
		r.Get("/offers/{id}/qa", h.handleHistory)
		r.Post("/offers/{id}/review", h.handleReview)
		r.Get("/review-queue", h.handleReviewQueue)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	path := model.PromoPath(chi.URLParam(r, "path"))
	if !path.Valid() {
		writeError(w, http.StatusNotFound, "unknown promo path")
		return
	}

	var p model.RawPromoPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if p.Path == "" {
		p.Path = path
	}
	if p.Path != path {
		writeError(w, http.StatusBadRequest, "payload path does not match route")
		return
	}

	res, err := h.ingester.Ingest(r.Context(), p)
	ack := ingest.AckFor(res, err)
	switch ack.Status {
	case ingest.AckAccepted:
		writeJSON(w, http.StatusCreated, ack)
	case ingest.AckDuplicate:
		writeJSON(w, http.StatusOK, ack)
	case ingest.AckInvalid:
		writeJSON(w, http.StatusBadRequest, ack)
	case ingest.AckOrphan:
		writeJSON(w, http.StatusUnprocessableEntity, ack)
	default:
		zap.L().Error("ingest request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "ingest failed")
	}
}

type reviewRequest struct {
	Status   model.QAStatus `json:"qa_status"`
	Reviewer string         `json:"reviewer"`
	Notes    string         `json:"notes"`
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.reviewer.Review(r.Context(), qa.Decision{
		OfferID:  chi.URLParam(r, "id"),
		Status:   req.Status,
		Reviewer: req.Reviewer,
		Notes:    req.Notes,
	})
	if err != nil {
		h.writeReviewError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	results, err := h.reviewer.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeReviewError(w, r, err)
		return
	}
	if results == nil {
		results = []model.QAResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) handleReviewQueue(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	results, err := h.reviewer.ReviewQueue(r.Context(), limit)
	if err != nil {
		h.writeReviewError(w, r, err)
		return
	}
	if results == nil {
		results = []model.QAResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) writeReviewError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "offer not found")
	case errors.Is(err, qa.ErrNotInReview):
		writeError(w, http.StatusConflict, "offer is not awaiting review")
	default:
		zap.L().Error("review request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
