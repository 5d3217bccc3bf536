// Package handler exposes the search engine over HTTP. Requests carry
// already-split term lists; the handler only decodes, delegates and encodes.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/zip-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/metrics"
)

const maxBodyBytes = 1 << 20

// SearchEngine is the part of indexer.Engine the handler calls.
type SearchEngine interface {
	Current() *indexer.Generation
	Status() indexer.Status
	Rebuild(ctx context.Context) (indexer.BuildRecord, error)
}

// BuildHistory lists past index loads, newest first.
type BuildHistory interface {
	Recent(ctx context.Context, limit int) ([]indexer.BuildRecord, error)
}

// SearchRequest is the POST body of a search.
type SearchRequest struct {
	Terms []string `json:"terms"`
	Limit int      `json:"limit,omitempty"`
}

type Greeting struct {
	Message string `json:"message"`
}

type Handler struct {
	engine       SearchEngine
	cache        *cache.QueryCache
	history      BuildHistory
	admin        func(http.Handler) http.Handler
	metrics      *metrics.Metrics
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

// New wires a handler. queryCache and m may be nil.
func New(engine SearchEngine, queryCache *cache.QueryCache, m *metrics.Metrics, defaultLimit, maxResults int) *Handler {
	return &Handler{
		engine:       engine,
		cache:        queryCache,
		metrics:      m,
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// SetAdminGuard wraps the rebuild and cache invalidation routes.
func (h *Handler) SetAdminGuard(guard func(http.Handler) http.Handler) { h.admin = guard }

// SetBuildHistory enables GET /api/v1/index/builds.
func (h *Handler) SetBuildHistory(b BuildHistory) { h.history = b }

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Index)
	mux.HandleFunc("POST /search", h.Search)
	mux.HandleFunc("POST /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/search", h.SearchQuery)
	mux.HandleFunc("GET /api/v1/index/stats", h.IndexStats)
	mux.Handle("POST /api/v1/index/rebuild", h.guarded(h.Rebuild))
	mux.HandleFunc("GET /api/v1/index/builds", h.Builds)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.Handle("POST /api/v1/cache/invalidate", h.guarded(h.CacheInvalidate))
}

func (h *Handler) guarded(fn http.HandlerFunc) http.Handler {
	if h.admin == nil {
		return fn
	}
	return h.admin(fn)
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, Greeting{Message: "Hello, welcome to our server!"})
}

// Search answers POST {"terms": [...]}. Terms are used exactly as sent.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "request body must be JSON with a terms array")
		return
	}
	if req.Terms == nil {
		h.writeError(w, http.StatusBadRequest, "terms is required")
		return
	}
	limit, err := h.clampLimit(req.Limit)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.search(w, r, req.Terms, limit)
}

// SearchQuery answers GET ?q=a,b c&limit=n for ad hoc use from a browser.
func (h *Handler) SearchQuery(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			h.writeAppError(w, apperrors.New(apperrors.ErrArgument, http.StatusBadRequest, "limit must be an integer"))
			return
		}
		limit = parsed
	}
	limit, err := h.clampLimit(limit)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.search(w, r, parser.Parse(query), limit)
}

func (h *Handler) clampLimit(limit int) (int, error) {
	if limit < 0 {
		return 0, apperrors.Newf(apperrors.ErrArgument, http.StatusBadRequest, "limit %d must not be negative", limit)
	}
	if limit == 0 {
		limit = h.defaultLimit
	}
	if h.maxResults > 0 && (limit == 0 || limit > h.maxResults) {
		limit = h.maxResults
	}
	return limit, nil
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request, terms []string, limit int) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	gen := h.engine.Current()
	if gen == nil {
		h.observe("error", "disabled", start, 0)
		h.writeAppError(w, apperrors.ErrNotReady)
		return
	}

	var (
		result   *executor.SearchResult
		err      error
		cacheHit bool
	)
	if h.cache != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, gen.Fingerprint, terms, limit, func() (*executor.SearchResult, error) {
			return gen.Search(terms, limit)
		})
	} else {
		result, err = gen.Search(terms, limit)
	}

	cacheStatus := "disabled"
	if h.cache != nil {
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	}
	if err != nil {
		h.observe("error", cacheStatus, start, 0)
		log.Error("search failed", "terms", terms, "error", err)
		h.writeAppError(w, err)
		return
	}

	resultType := "hit"
	if result.Total == 0 {
		resultType = "zero_result"
	}
	h.observe(resultType, cacheStatus, start, result.Total)
	log.Info("search completed",
		"terms", len(terms),
		"total", result.Total,
		"returned", len(result.Matches),
		"generation", gen.Number,
		"fingerprint", gen.Fingerprint,
		"cache", cacheStatus,
		"latency_us", time.Since(start).Microseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) observe(resultType, cacheStatus string, start time.Time, total int) {
	if h.metrics == nil {
		return
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	if resultType != "error" {
		h.metrics.SearchResultsCount.Observe(float64(total))
	}
	switch cacheStatus {
	case "hit":
		h.metrics.CacheHitsTotal.Inc()
	case "miss":
		h.metrics.CacheMissesTotal.Inc()
	}
}

func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	status := h.engine.Status()
	if !status.Ready {
		h.writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// Rebuild re-ingests the listing and returns the new build record.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.Rebuild(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("rebuild request failed", "error", err)
		h.writeAppError(w, err)
		return
	}
	if h.cache != nil {
		if err := h.cache.Invalidate(r.Context()); err != nil {
			h.logger.Warn("cache invalidation after rebuild failed", "error", err)
		}
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) Builds(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, http.StatusServiceUnavailable, "build history is disabled")
		return
	}
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, 100)
	}
	records, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		logger.FromContext(r.Context()).Error("listing builds failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "listing builds failed")
		return
	}
	if records == nil {
		records = []indexer.BuildRecord{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"builds": records})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := http.StatusText(status)
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		message = appErr.Message
	case errors.Is(err, apperrors.ErrNotReady):
		message = "index is not loaded yet"
	case status < http.StatusInternalServerError:
		message = err.Error()
	}
	h.writeError(w, status, message)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
