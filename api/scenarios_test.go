/*
scenarios_test.go - Tests for the scenario endpoints

PURPOSE:
	Loading a scenario resets the store and seeds exactly the scenario's
	documents; scenario routes are only mounted when enabled.
*/
package api_test

import (
	"context"
	"net/http"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
	"github.com/mkultr4/fix-item-duplicates/aggregate/store"
	"github.com/mkultr4/fix-item-duplicates/api"
	"github.com/mkultr4/fix-item-duplicates/batch"
	"github.com/mkultr4/fix-item-duplicates/fixture"
)

func TestListScenarios(t *testing.T) {
	s := setupServer(t)
	rec := s.do(t, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[[]api.ScenarioDTO](t, rec)
	assert.Len(t, list, len(fixture.Scenarios()))
}

func TestLoadScenario_ResetsThenSeeds(t *testing.T) {
	// GIVEN: A store holding the basic scenario
	// WHEN: Loading the mismatch scenario
	// THEN: Only the mismatch documents remain and it is current

	s := setupServer(t, "basic")

	rec := s.do(t, http.MethodPost, "/api/scenarios/load", api.LoadScenarioRequest{ScenarioID: "mismatch"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	items, err := s.mem.FindItems(context.Background(), aggregate.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "mm.1", items[0].ID)

	rec = s.do(t, http.MethodGet, "/api/scenarios/current", nil)
	assert.JSONEq(t, `{"scenario_id":"mismatch"}`, rec.Body.String())
}

func TestLoadScenario_Unknown(t *testing.T) {
	s := setupServer(t)
	rec := s.do(t, http.MethodPost, "/api/scenarios/load", api.LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/scenarios/load", api.LoadScenarioRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetDatabase_ClearsStore(t *testing.T) {
	s := setupServer(t, "basic")
	rec := s.do(t, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	recs, err := s.mem.FindAggregates(context.Background(), aggregate.Filter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestScenarioRoutes_NotMountedByDefault(t *testing.T) {
	mem := store.NewMemory()
	log, _ := logtest.NewNullLogger()
	h := api.NewHandler(mem, batch.NewRunner(mem, log), log)
	router := api.NewRouter(h, api.RouterOptions{})

	s := &testServer{mem: mem, router: router}
	rec := s.do(t, http.MethodPost, "/api/scenarios/reset", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
