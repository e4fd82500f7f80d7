/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures of the admin API. Run and verification
  results are returned as their domain types, which already carry json
  tags; only requests and list wrappers live here.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request structs carry validator/v10 tags, checked in handlers.

SEE ALSO:
  - handlers.go: Uses these types
  - batch/runner.go: RunResult, PairReport
  - fixture/fixture.go: AggregateJSON (the document shape of a record)
*/
package api

import (
	"github.com/mkultr4/fix-item-duplicates/aggregate"
	"github.com/mkultr4/fix-item-duplicates/fixture"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// RunRequest starts a run. DryRun defaults to true when omitted.
type RunRequest struct {
	DryRun  *bool  `json:"dry_run"`
	Confirm string `json:"confirm"`
	Limit   int    `json:"limit" validate:"gte=0"`
}

// PairsResponse lists the pairs a run would process.
type PairsResponse struct {
	Limit int              `json:"limit"`
	Pairs []aggregate.Pair `json:"pairs"`
}

// AggregatesResponse lists the records owned by one item.
type AggregatesResponse struct {
	ItemID     string                  `json:"item_id"`
	Aggregates []fixture.AggregateJSON `json:"aggregates"`
}

// ScenarioDTO describes a built-in data set.
type ScenarioDTO = fixture.ScenarioInfo

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
