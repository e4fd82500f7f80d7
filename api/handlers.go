/*
handlers.go - HTTP API handlers for the duplicate reconciler

PURPOSE:
  Exposes runs, pair discovery and per-item inspection over REST so an
  operator can rehearse a run (dry run) and read the findings before
  confirming a live one.

ENDPOINTS:
  Pairs:
    GET    /api/pairs                   Pairs the next run would process
  Runs:
    POST   /api/runs                    Start a run (dry run by default)
    GET    /api/runs/last               Result of the last completed run
  Items:
    GET    /api/items/{id}/aggregates   Records owned by the item
    GET    /api/items/{id}/verify       Lifetime check for the item
  Scenarios:
    GET    /api/scenarios               List built-in scenarios
    GET    /api/scenarios/current       Last loaded scenario
    POST   /api/scenarios/load          Reset and load a scenario
    POST   /api/scenarios/reset         Reset the store
  Ops:
    GET    /healthz
    GET    /metrics

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input, missing confirm phrase
  - 404: Unknown scenario, no completed run
  - 409: A run is already in progress
  - 502: Duplicate pairs could not be listed
  - 500: Internal errors

SECURITY NOTE:
  No authentication. Bind to a private interface.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
	"github.com/mkultr4/fix-item-duplicates/batch"
	"github.com/mkultr4/fix-item-duplicates/dedupe"
	"github.com/mkultr4/fix-item-duplicates/fixture"
	"github.com/mkultr4/fix-item-duplicates/reconcile"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the API reads, runs against and seeds.
type Store interface {
	aggregate.Store
	aggregate.Seeder
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    Store
	Runner   *batch.Runner
	Verifier *reconcile.Verifier
	Log      logrus.FieldLogger
	Gatherer prometheus.Gatherer

	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires a handler around runner, which must use st.
func NewHandler(st Store, runner *batch.Runner, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Store:    st,
		Runner:   runner,
		Verifier: reconcile.NewVerifier(st, log, runner.Metrics),
		Log:      log,
		Gatherer: prometheus.DefaultGatherer,
		validate: validator.New(),
	}
}

// =============================================================================
// PAIRS AND RUNS
// =============================================================================

// ListPairs resolves duplicate groups without touching anything.
func (h *Handler) ListPairs(w http.ResponseWriter, r *http.Request) {
	limit := h.Runner.Limit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	pairs, err := dedupe.NewLocator(h.Store, limit, h.Log).Locate(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "Failed to locate pairs", err)
		return
	}
	if pairs == nil {
		pairs = []aggregate.Pair{}
	}
	writeJSON(w, http.StatusOK, PairsResponse{Limit: limit, Pairs: pairs})
}

// StartRun executes a run synchronously and returns its result.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	opts := batch.Options{DryRun: true, Confirm: req.Confirm, Limit: req.Limit}
	if req.DryRun != nil {
		opts.DryRun = *req.DryRun
	}
	if s := r.URL.Query().Get("dry_run"); s != "" {
		dry, err := strconv.ParseBool(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid dry_run", err)
			return
		}
		opts.DryRun = dry
	}

	// A dropped connection must not stop a live run halfway.
	res, err := h.Runner.Run(context.WithoutCancel(r.Context()), opts)
	if err != nil {
		var lookup *batch.LookupError
		switch {
		case errors.Is(err, batch.ErrNotConfirmed):
			writeError(w, http.StatusBadRequest, "Confirmation required", err)
		case errors.Is(err, batch.ErrRunInProgress):
			writeError(w, http.StatusConflict, "Run in progress", err)
		case errors.As(err, &lookup):
			writeError(w, http.StatusBadGateway, "Failed to locate pairs", err)
		default:
			writeError(w, http.StatusInternalServerError, "Run failed", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) LastRun(w http.ResponseWriter, r *http.Request) {
	res, err := h.Runner.Last()
	if errors.Is(err, batch.ErrNoRunCompleted) {
		writeError(w, http.StatusNotFound, "No run completed", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read last run", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// ITEMS
// =============================================================================

// ItemAggregates returns the item's records in their document shape.
func (h *Handler) ItemAggregates(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	f := aggregate.Filter{
		Reference:   aggregate.ItemRef(id),
		Granularity: aggregate.Granularity(r.URL.Query().Get("granularity")),
	}
	if f.Granularity != "" && !f.Granularity.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid granularity", nil)
		return
	}

	records, err := h.Store.FindAggregates(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load aggregates", err)
		return
	}
	dtos := make([]fixture.AggregateJSON, len(records))
	for i, rec := range records {
		dtos[i] = fixture.FromRecord(rec)
	}
	writeJSON(w, http.StatusOK, AggregatesResponse{ItemID: id, Aggregates: dtos})
}

func (h *Handler) VerifyItem(w http.ResponseWriter, r *http.Request) {
	v, err := h.Verifier.Verify(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Verification failed", err)
		return
	}
	if v.Findings == nil {
		v.Findings = []reconcile.Finding{}
	}
	writeJSON(w, http.StatusOK, v)
}

// =============================================================================
// OPS
// =============================================================================

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
