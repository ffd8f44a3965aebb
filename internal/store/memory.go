package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store used by tests and DB_ADAPTER=memory.
// Records are copied on the way in and out.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Table]map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[Table]map[string]Record{}}
}

func (m *MemoryStore) FindByID(ctx context.Context, table Table, id string) ([]Record, error) {
	if _, err := lookupTable(table); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.records[table][id]; ok {
		return []Record{r.clone()}, nil
	}
	return []Record{}, nil
}

func (m *MemoryStore) FindByField(ctx context.Context, table Table, field string, value any) ([]Record, error) {
	def, err := checkField(table, field, value)
	if err != nil {
		return nil, err
	}
	idx := def.columnIndex(field)

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Record{}
	for _, r := range m.records[table] {
		if def.values(r)[idx] == value {
			out = append(out, r.clone())
		}
	}
	// map iteration order is random; keep results stable
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID() < out[j].RecordID() })
	return out, nil
}

func (m *MemoryStore) Insert(ctx context.Context, rec Record) error {
	def, err := lookupTable(rec.table())
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.records[def.name]
	if !ok {
		rows = map[string]Record{}
		m.records[def.name] = rows
	}
	if _, exists := rows[rec.RecordID()]; exists {
		return fmt.Errorf("inserting into %s: %w: %s", def.name, ErrDuplicateID, rec.RecordID())
	}
	c := rec.clone()
	if c.DocType() == "" {
		c.setType(def.docType)
	}
	rows[rec.RecordID()] = c
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, rec Record) error {
	def, err := lookupTable(rec.table())
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.records[def.name][rec.RecordID()]
	if !ok {
		return fmt.Errorf("updating %s %s: %w", def.name, rec.RecordID(), ErrNotFound)
	}
	c := rec.clone()
	if c.DocType() == "" {
		c.setType(prev.DocType())
	}
	m.records[def.name][rec.RecordID()] = c
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
