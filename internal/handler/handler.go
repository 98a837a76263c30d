// Package handler exposes the searcher HTTP API: faceted search, facet
// listings, corpus stats, single-question lookup, retraction, and exports.
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/export"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/query"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/question"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/store"
	apperrors "github.com/zambia-civic-lab/orderpaper-miner/pkg/errors"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/logger"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/metrics"
)

// knownFacets guards GET /facets/{name} against arbitrary map probing.
var knownFacets = map[string]struct{}{
	question.FacetYear:         {},
	question.FacetMP:           {},
	question.FacetMinister:     {},
	question.FacetSession:      {},
	question.FacetConstituency: {},
	question.FacetChiefdom:     {},
	question.FacetDistrict:     {},
	question.FacetWard:         {},
	question.FacetKind:         {},
	question.FacetSubject:      {},
}

// Handler serves the question query API.
type Handler struct {
	store    *store.Store
	engine   *query.Engine
	cache    *query.Cache
	exporter *export.Exporter
	metrics  *metrics.Metrics
}

// New creates a Handler. cache, exporter, and m may be nil.
func New(st *store.Store, engine *query.Engine, cache *query.Cache, exporter *export.Exporter, m *metrics.Metrics) *Handler {
	return &Handler{store: st, engine: engine, cache: cache, exporter: exporter, metrics: m}
}

// Register wires all API routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/export", h.Export)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/facets/{name}", h.Facet)
	mux.HandleFunc("GET /api/v1/questions/{id}", h.Question)
	mux.HandleFunc("DELETE /api/v1/questions/{id}", h.Retract)
}

// Search executes a faceted query, consulting the cache first.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var spec query.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, cacheHit, err := h.cache.GetOrCompute(ctx, &spec, h.store.Generation(), func() (*query.Result, error) {
		return h.engine.Execute(ctx, &spec)
	})
	if err != nil {
		log.Error("search failed", "error", err)
		h.writeAppError(w, err)
		return
	}

	if h.metrics != nil {
		status := "miss"
		if cacheHit {
			status = "hit"
		}
		h.metrics.QueryLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
	log.Info("search completed",
		"total", result.Total,
		"returned", len(result.Questions),
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

// exportRequest is the POST /export body: a query spec plus output options.
type exportRequest struct {
	query.Spec
	Format  string `json:"format"`
	Name    string `json:"name"`
	MaxRows int    `json:"max_rows,omitempty"`
}

// Export runs the query without pagination and writes a CSV or PDF file.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Format != export.FormatCSV && req.Format != export.FormatPDF {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("format must be %q or %q", export.FormatCSV, export.FormatPDF))
		return
	}
	if req.Name == "" {
		req.Name = fmt.Sprintf("questions-%d", time.Now().Unix())
	}

	questions, err := h.engine.All(ctx, &req.Spec, req.MaxRows)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	path, err := h.exporter.ExportFile(ctx, req.Format, req.Name, questions)
	if err != nil {
		log.Error("export failed", "format", req.Format, "error", err)
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"path": path,
		"rows": len(questions),
	})
}

// Stats returns corpus-level summaries.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.store.Stats())
}

// Facet returns the value counts of one facet.
func (h *Handler) Facet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := knownFacets[name]; !ok {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown facet %q", name))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"facet":  name,
		"values": h.store.FacetCardinality(name),
	})
}

// Question returns a single record by id.
func (h *Handler) Question(w http.ResponseWriter, r *http.Request) {
	q, err := h.store.Get(r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, q)
}

// Retract removes a record from the store and durable layer.
func (h *Handler) Retract(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.Retract(r.Context(), id); err != nil {
		h.writeAppError(w, err)
		return
	}
	logger.FromContext(r.Context()).Info("question retracted", "id", id)
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "retracted", "id": id})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.WithComponent("search-handler").Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	h.writeJSON(w, apperrors.HTTPStatusCode(err), map[string]string{"error": err.Error()})
}
