/*
main.go - Application entry point

PURPOSE:
  fixdup finds items that were duplicated as "<id>.1" / "<id>.2", folds the
  duplicate's check items, aggregates and list fields into the original and
  deletes the duplicate.

COMMANDS:
  locate   List the pairs the next run would process
  run      Process pairs (dry run unless --dry-run=false --confirm=MERGE)
  verify   Re-derive an item's lifetime totals and report disagreements
  seed     Load a built-in scenario or a JSON fixture into the store
  serve    Admin HTTP API, metrics and an optional periodic run

CONFIGURATION:
  Read from .env and the environment (see config/config.go); persistent
  flags override.

EXAMPLES:
  # Rehearse against a local SQLite copy
  fixdup seed --scenario basic --reset
  fixdup run

  # Execute against MongoDB
  FIXDUP_STORE=mongo MONGODB_URL=mongodb://... fixdup run --dry-run=false --confirm MERGE

SEE ALSO:
  - root.go: flags and configuration
  - batch/runner.go: what a run does
*/
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
