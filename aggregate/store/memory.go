// Package store provides the in-memory aggregate.Store implementation.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mkultr4/fix-item-duplicates/aggregate"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for tests and dry runs)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	items      map[string]aggregate.Item
	checkItems map[string]aggregate.CheckItem
	records    map[string]aggregate.Record
}

var (
	_ aggregate.Store  = (*Memory)(nil)
	_ aggregate.Seeder = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		items:      make(map[string]aggregate.Item),
		checkItems: make(map[string]aggregate.CheckItem),
		records:    make(map[string]aggregate.Record),
	}
}

func (m *Memory) Close() error { return nil }

// Reset drops every entity.
func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]aggregate.Item)
	m.checkItems = make(map[string]aggregate.CheckItem)
	m.records = make(map[string]aggregate.Record)
	return nil
}

// =============================================================================
// SEEDER
// =============================================================================

func (m *Memory) InsertItems(_ context.Context, items []aggregate.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		m.items[it.ID] = copyItem(it)
	}
	return nil
}

func (m *Memory) InsertCheckItems(_ context.Context, checkItems []aggregate.CheckItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ci := range checkItems {
		m.checkItems[ci.ID] = ci
	}
	return nil
}

func (m *Memory) InsertAggregates(_ context.Context, records []aggregate.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		r = r.Clone()
		if r.Children == nil {
			r.Children = aggregate.NewChildSet()
		}
		m.records[r.ID] = r
	}
	return nil
}

// =============================================================================
// AGGREGATES
// =============================================================================

func (m *Memory) FindAggregates(_ context.Context, f aggregate.Filter) ([]aggregate.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []aggregate.Record
	for _, r := range m.records {
		if f.Matches(r) {
			result = append(result, r.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Aggregate returns one record by id.
func (m *Memory) Aggregate(id string) (aggregate.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return aggregate.Record{}, false
	}
	return r.Clone(), true
}

func (m *Memory) SetReference(_ context.Context, id string, ref aggregate.Ref) (aggregate.UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return aggregate.UpdateResult{}, nil
	}
	res := aggregate.UpdateResult{Matched: 1}
	if r.Reference != ref {
		r.Reference = ref
		m.records[id] = r
		res.Modified = 1
	}
	return res, nil
}

func (m *Memory) MergeValue(_ context.Context, id string, value decimal.Decimal, children []aggregate.Ref) (aggregate.UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return aggregate.UpdateResult{}, nil
	}
	res := aggregate.UpdateResult{Matched: 1}
	r = r.Clone()
	if r.Children == nil {
		r.Children = aggregate.NewChildSet()
	}
	added := r.Children.Add(children...)
	if !r.Value.Equal(value) || len(added) > 0 {
		res.Modified = 1
	}
	r.Value = value
	m.records[id] = r
	return res, nil
}

func (m *Memory) DeleteAggregate(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return 0, nil
	}
	delete(m.records, id)
	return 1, nil
}

func (m *Memory) DeleteAggregates(_ context.Context, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := m.records[id]; ok {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// =============================================================================
// ITEMS
// =============================================================================

type groupKey struct {
	name, location, sale, master string
}

func (m *Memory) DuplicateGroups(_ context.Context, limit int) ([]aggregate.ItemGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[groupKey]int)
	for _, it := range m.items {
		if it.Name == "" {
			continue
		}
		counts[groupKey{it.Name, it.Location, it.SaleDepartment, it.MasterDepartment}]++
	}

	var groups []aggregate.ItemGroup
	for k, n := range counts {
		if n < 2 {
			continue
		}
		groups = append(groups, aggregate.ItemGroup{
			Name:             k.name,
			Location:         k.location,
			SaleDepartment:   k.sale,
			MasterDepartment: k.master,
			Count:            n,
		})
	}
	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Location != b.Location {
			return a.Location < b.Location
		}
		if a.SaleDepartment != b.SaleDepartment {
			return a.SaleDepartment < b.SaleDepartment
		}
		return a.MasterDepartment < b.MasterDepartment
	})
	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}
	return groups, nil
}

func (m *Memory) FindItems(_ context.Context, f aggregate.ItemFilter) ([]aggregate.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []aggregate.Item
	for _, it := range m.items {
		if f.Matches(it) {
			result = append(result, copyItem(it))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) UpdateItemLists(_ context.Context, id string, lists map[string][]string) (aggregate.UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return aggregate.UpdateResult{}, nil
	}
	it = copyItem(it)
	if it.Lists == nil {
		it.Lists = make(map[string][]string)
	}
	for k, v := range lists {
		it.Lists[k] = append([]string(nil), v...)
	}
	m.items[id] = it
	return aggregate.UpdateResult{Matched: 1, Modified: 1}, nil
}

func (m *Memory) DeleteItem(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return 0, nil
	}
	delete(m.items, id)
	return 1, nil
}

// =============================================================================
// CHECK ITEMS
// =============================================================================

func (m *Memory) CountCheckItems(_ context.Context, item aggregate.Ref) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, ci := range m.checkItems {
		if ci.Item == item {
			n++
		}
	}
	return n, nil
}

func (m *Memory) FindCheckItems(_ context.Context, item aggregate.Ref) ([]aggregate.CheckItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []aggregate.CheckItem
	for _, ci := range m.checkItems {
		if ci.Item == item {
			result = append(result, ci)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) RepointCheckItems(_ context.Context, from, to aggregate.Ref) (aggregate.UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res aggregate.UpdateResult
	for id, ci := range m.checkItems {
		if ci.Item != from {
			continue
		}
		res.Matched++
		if from != to {
			ci.Item = to
			m.checkItems[id] = ci
			res.Modified++
		}
	}
	return res, nil
}

func copyItem(it aggregate.Item) aggregate.Item {
	if it.Lists == nil {
		return it
	}
	lists := make(map[string][]string, len(it.Lists))
	for k, v := range it.Lists {
		lists[k] = append([]string(nil), v...)
	}
	it.Lists = lists
	return it
}
