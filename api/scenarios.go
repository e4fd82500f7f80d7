/*
scenarios.go - Demo scenario endpoints

PURPOSE:

	Loads the built-in fixture scenarios into the configured store so a run
	can be rehearsed end to end without production data.

HOW SCENARIOS WORK:
 1. Reset the store (clear items, check items, aggregates)
 2. Build the scenario from package fixture
 3. Seed it through aggregate.Seeder

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "basic"}

NOTE:

	Loading resets the store. Never point a server with these routes at
	production data.

SEE ALSO:
  - fixture/scenarios.go: Scenario definitions
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mkultr4/fix-item-duplicates/fixture"
)

// ListScenarios returns the built-in scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, fixture.Scenarios())
}

// GetCurrentScenario returns the id of the last loaded scenario.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": current})
}

// LoadScenario resets the store and seeds one scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	f, err := fixture.Scenario(req.ScenarioID)
	if errors.Is(err, fixture.ErrUnknownScenario) {
		writeError(w, http.StatusNotFound, "Unknown scenario", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build scenario", err)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := fixture.Load(ctx, h.Store, f); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	h.Log.WithField("scenario", req.ScenarioID).Info("scenario loaded")

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"scenario_id": req.ScenarioID,
		"items":       len(f.Items),
		"check_items": len(f.CheckItems),
		"aggregates":  len(f.Aggregates),
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
