/*
Package sqlite provides a SQLite-backed implementation of the aggregate stores.

PURPOSE:
  Implements aggregate.Store and aggregate.Seeder on SQLite so a run can be
  rehearsed against a local copy of the POS collections. The layout mirrors
  the document collections one table each.

INTERFACES IMPLEMENTED:
  aggregate.AggregateStore: aggregate-pos-data records
  aggregate.ItemStore:      items and duplicate grouping
  aggregate.CheckItemStore: check item references
  aggregate.Seeder:         bulk insert and reset

KEY TABLES:
  items:       one row per item, array fields in lists_json
  check_items: item_ref holds the "/v1.0/item/<id>" path
  aggregates:  one row per record, children in children_json

ENCODING:
  - Values are TEXT in decimal string form, never REAL
  - Windows are RFC3339Nano in UTC so equality filters compare strings
  - References and children use the path form

ATOMICITY:
  Read-modify-write methods (SetReference, MergeValue, UpdateItemLists) run
  in one SQL transaction so the union of children and the new value land
  together.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, on top of SQLite's single writer.

USAGE:
  st, err := sqlite.New("./fixdup.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

SEE ALSO:
  - aggregate/store.go: Interface definitions
  - aggregate/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
)

// Store implements the aggregate storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ aggregate.Store  = (*Store)(nil)
	_ aggregate.Seeder = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		sale_department TEXT NOT NULL DEFAULT '',
		master_department TEXT NOT NULL DEFAULT '',
		lists_json TEXT NOT NULL DEFAULT '{}'
	);

	-- Duplicate grouping (hot path of the locator)
	CREATE INDEX IF NOT EXISTS idx_items_descriptor
		ON items(name, location, sale_department, master_department);

	CREATE TABLE IF NOT EXISTS check_items (
		id TEXT PRIMARY KEY,
		item_ref TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_check_items_item
		ON check_items(item_ref);

	CREATE TABLE IF NOT EXISTS aggregates (
		id TEXT PRIMARY KEY,
		reference TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		granularity TEXT NOT NULL,
		data_kind TEXT NOT NULL,
		bgn TEXT NOT NULL,
		end_ts TEXT NOT NULL,
		value TEXT NOT NULL,
		children_json TEXT NOT NULL DEFAULT '[]'
	);

	-- Snapshot and slot lookups
	CREATE INDEX IF NOT EXISTS idx_aggregates_reference
		ON aggregates(reference, location, granularity);
	CREATE INDEX IF NOT EXISTS idx_aggregates_slot
		ON aggregates(reference, granularity, data_kind, user_id, bgn, end_ts);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SEEDER (aggregate.Seeder interface)
// =============================================================================

func (s *Store) InsertItems(ctx context.Context, items []aggregate.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, it := range items {
			if err := insertItem(ctx, tx, it); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertItem(ctx context.Context, db execer, it aggregate.Item) error {
	lists, err := encodeLists(it.Lists)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT OR REPLACE INTO items
		(id, name, location, sale_department, master_department, lists_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, it.ID, it.Name, it.Location, it.SaleDepartment, it.MasterDepartment, lists)
	if err != nil {
		return fmt.Errorf("failed to insert item %s: %w", it.ID, err)
	}
	return nil
}

func (s *Store) InsertCheckItems(ctx context.Context, checkItems []aggregate.CheckItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, ci := range checkItems {
			_, err := tx.ExecContext(ctx,
				"INSERT OR REPLACE INTO check_items (id, item_ref, location) VALUES (?, ?, ?)",
				ci.ID, ci.Item.String(), ci.Location,
			)
			if err != nil {
				return fmt.Errorf("failed to insert check item %s: %w", ci.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) InsertAggregates(ctx context.Context, records []aggregate.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range records {
			if err := insertAggregate(ctx, tx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertAggregate(ctx context.Context, db execer, r aggregate.Record) error {
	children, err := json.Marshal(r.Children.Strings())
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT OR REPLACE INTO aggregates
		(id, reference, location, user_id, granularity, data_kind, bgn, end_ts, value, children_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID,
		r.Reference.String(),
		r.Location,
		r.User,
		string(r.Granularity),
		string(r.DataKind),
		formatTime(r.Begin),
		formatTime(r.End),
		r.Value.String(),
		string(children),
	)
	if err != nil {
		return fmt.Errorf("failed to insert aggregate %s: %w", r.ID, err)
	}
	return nil
}

// Reset clears all data.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"aggregates", "check_items", "items"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// AGGREGATES (aggregate.AggregateStore interface)
// =============================================================================

const aggregateColumns = `id, reference, location, user_id, granularity, data_kind, bgn, end_ts, value, children_json`

// FindAggregates returns matching records ordered by id.
func (s *Store) FindAggregates(ctx context.Context, f aggregate.Filter) ([]aggregate.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		where = append(where, clause)
		args = append(args, arg)
	}
	if !f.Reference.IsZero() {
		add("reference = ?", f.Reference.String())
	}
	if f.Location != "" {
		add("location = ?", f.Location)
	}
	if f.Granularity != "" {
		add("granularity = ?", string(f.Granularity))
	}
	if f.DataKind != "" {
		add("data_kind = ?", string(f.DataKind))
	}
	if f.User != nil {
		add("user_id = ?", *f.User)
	}
	if f.Begin != nil {
		add("bgn = ?", formatTime(*f.Begin))
	}
	if f.End != nil {
		add("end_ts = ?", formatTime(*f.End))
	}

	query := "SELECT " + aggregateColumns + " FROM aggregates"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregates: %w", err)
	}
	defer rows.Close()

	var records []aggregate.Record
	for rows.Next() {
		r, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanAggregate(rows *sql.Rows) (aggregate.Record, error) {
	var (
		r                 aggregate.Record
		reference         string
		granularity, kind string
		bgn, end, value   string
		childrenJSON      string
	)
	err := rows.Scan(&r.ID, &reference, &r.Location, &r.User, &granularity, &kind,
		&bgn, &end, &value, &childrenJSON)
	if err != nil {
		return r, fmt.Errorf("failed to scan aggregate: %w", err)
	}

	r.Granularity = aggregate.Granularity(granularity)
	r.DataKind = aggregate.DataKind(kind)
	if r.Reference, err = aggregate.ParseRef(reference); err != nil {
		return r, &aggregate.RecordError{ID: r.ID, Err: err}
	}
	if r.Value, err = decimal.NewFromString(value); err != nil {
		return r, &aggregate.RecordError{ID: r.ID, Err: fmt.Errorf("%w: %q", aggregate.ErrInvalidValue, value)}
	}
	if r.Begin, err = parseTime(bgn); err != nil {
		return r, &aggregate.RecordError{ID: r.ID, Err: err}
	}
	if r.End, err = parseTime(end); err != nil {
		return r, &aggregate.RecordError{ID: r.ID, Err: err}
	}
	if r.Children, err = decodeChildren(childrenJSON); err != nil {
		return r, &aggregate.RecordError{ID: r.ID, Err: err}
	}
	return r, nil
}

// SetReference rewrites the owner of one record.
func (s *Store) SetReference(ctx context.Context, id string, ref aggregate.Ref) (aggregate.UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res aggregate.UpdateResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, "SELECT reference FROM aggregates WHERE id = ?", id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		res.Matched = 1
		if current == ref.String() {
			return nil
		}
		if _, err := tx.ExecContext(ctx, "UPDATE aggregates SET reference = ? WHERE id = ?", ref.String(), id); err != nil {
			return err
		}
		res.Modified = 1
		return nil
	})
	if err != nil {
		return aggregate.UpdateResult{}, fmt.Errorf("failed to set reference of %s: %w", id, err)
	}
	return res, nil
}

// MergeValue sets value and unions children in one transaction.
func (s *Store) MergeValue(ctx context.Context, id string, value decimal.Decimal, children []aggregate.Ref) (aggregate.UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res aggregate.UpdateResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var current, childrenJSON string
		err := tx.QueryRowContext(ctx, "SELECT value, children_json FROM aggregates WHERE id = ?", id).
			Scan(&current, &childrenJSON)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		res.Matched = 1

		set, err := decodeChildren(childrenJSON)
		if err != nil {
			return &aggregate.RecordError{ID: id, Err: err}
		}
		added := set.Add(children...)
		old, err := decimal.NewFromString(current)
		if err == nil && old.Equal(value) && len(added) == 0 {
			return nil
		}

		encoded, err := json.Marshal(set.Strings())
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE aggregates SET value = ?, children_json = ? WHERE id = ?",
			value.String(), string(encoded), id,
		)
		if err != nil {
			return err
		}
		res.Modified = 1
		return nil
	})
	if err != nil {
		return aggregate.UpdateResult{}, fmt.Errorf("failed to merge value of %s: %w", id, err)
	}
	return res, nil
}

func (s *Store) DeleteAggregate(ctx context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, "DELETE FROM aggregates WHERE id = ?", id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete aggregate %s: %w", id, err)
	}
	return result.RowsAffected()
}

// DeleteAggregates removes every listed record with one statement.
func (s *Store) DeleteAggregates(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	query := "DELETE FROM aggregates WHERE id IN (" + placeholders(len(ids)) + ")"
	result, err := s.db.ExecContext(ctx, query, stringArgs(ids)...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete aggregates: %w", err)
	}
	return result.RowsAffected()
}

// =============================================================================
// ITEMS (aggregate.ItemStore interface)
// =============================================================================

// DuplicateGroups groups named items by their four descriptive fields.
func (s *Store) DuplicateGroups(ctx context.Context, limit int) ([]aggregate.ItemGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, location, sale_department, master_department, COUNT(*)
		FROM items
		WHERE name <> ''
		GROUP BY name, location, sale_department, master_department
		HAVING COUNT(*) > 1
		ORDER BY name, location, sale_department, master_department
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to group items: %w", err)
	}
	defer rows.Close()

	var groups []aggregate.ItemGroup
	for rows.Next() {
		var g aggregate.ItemGroup
		if err := rows.Scan(&g.Name, &g.Location, &g.SaleDepartment, &g.MasterDepartment, &g.Count); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *Store) FindItems(ctx context.Context, f aggregate.ItemFilter) ([]aggregate.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if len(f.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(f.IDs))+")")
		args = append(args, stringArgs(f.IDs)...)
	}
	for _, c := range []struct{ col, val string }{
		{"name", f.Name},
		{"location", f.Location},
		{"sale_department", f.SaleDepartment},
		{"master_department", f.MasterDepartment},
	} {
		if c.val != "" {
			where = append(where, c.col+" = ?")
			args = append(args, c.val)
		}
	}

	query := "SELECT id, name, location, sale_department, master_department, lists_json FROM items"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []aggregate.Item
	for rows.Next() {
		var (
			it        aggregate.Item
			listsJSON string
		)
		if err := rows.Scan(&it.ID, &it.Name, &it.Location, &it.SaleDepartment, &it.MasterDepartment, &listsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		if it.Lists, err = decodeLists(listsJSON); err != nil {
			return nil, fmt.Errorf("item %s: %w", it.ID, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpdateItemLists replaces the named array fields, keeping the others.
func (s *Store) UpdateItemLists(ctx context.Context, id string, lists map[string][]string) (aggregate.UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res aggregate.UpdateResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var listsJSON string
		err := tx.QueryRowContext(ctx, "SELECT lists_json FROM items WHERE id = ?", id).Scan(&listsJSON)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		res.Matched = 1

		current, err := decodeLists(listsJSON)
		if err != nil {
			return err
		}
		if current == nil {
			current = make(map[string][]string, len(lists))
		}
		for k, v := range lists {
			current[k] = v
		}
		encoded, err := encodeLists(current)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE items SET lists_json = ? WHERE id = ?", encoded, id); err != nil {
			return err
		}
		res.Modified = 1
		return nil
	})
	if err != nil {
		return aggregate.UpdateResult{}, fmt.Errorf("failed to update item %s: %w", id, err)
	}
	return res, nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE id = ?", id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete item %s: %w", id, err)
	}
	return result.RowsAffected()
}

// =============================================================================
// CHECK ITEMS (aggregate.CheckItemStore interface)
// =============================================================================

func (s *Store) CountCheckItems(ctx context.Context, item aggregate.Ref) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM check_items WHERE item_ref = ?",
		item.String(),
	).Scan(&count)
	return count, err
}

func (s *Store) FindCheckItems(ctx context.Context, item aggregate.Ref) ([]aggregate.CheckItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, item_ref, location FROM check_items WHERE item_ref = ? ORDER BY id",
		item.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query check items: %w", err)
	}
	defer rows.Close()

	var result []aggregate.CheckItem
	for rows.Next() {
		var (
			ci  aggregate.CheckItem
			ref string
		)
		if err := rows.Scan(&ci.ID, &ref, &ci.Location); err != nil {
			return nil, fmt.Errorf("failed to scan check item: %w", err)
		}
		if ci.Item, err = aggregate.ParseRef(ref); err != nil {
			return nil, fmt.Errorf("check item %s: %w", ci.ID, err)
		}
		result = append(result, ci)
	}
	return result, rows.Err()
}

func (s *Store) RepointCheckItems(ctx context.Context, from, to aggregate.Ref) (aggregate.UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		"UPDATE check_items SET item_ref = ? WHERE item_ref = ?",
		to.String(), from.String(),
	)
	if err != nil {
		return aggregate.UpdateResult{}, fmt.Errorf("failed to repoint check items: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return aggregate.UpdateResult{}, err
	}
	res := aggregate.UpdateResult{Matched: n, Modified: n}
	if from == to {
		res.Modified = 0
	}
	return res, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid window bound %q: %w", s, err)
	}
	return t, nil
}

func decodeChildren(s string) (aggregate.ChildSet, error) {
	var paths []string
	if s != "" {
		if err := json.Unmarshal([]byte(s), &paths); err != nil {
			return nil, fmt.Errorf("children: %w", err)
		}
	}
	return aggregate.ParseChildSet(paths)
}

func encodeLists(lists map[string][]string) (string, error) {
	if lists == nil {
		return "{}", nil
	}
	b, err := json.Marshal(lists)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeLists(s string) (map[string][]string, error) {
	var lists map[string][]string
	if s == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(s), &lists); err != nil {
		return nil, fmt.Errorf("lists: %w", err)
	}
	if len(lists) == 0 {
		return nil, nil
	}
	return lists, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
