// Package store is the data-access layer: typed by-id and by-field lookups
// over the entity tables, the composite finder chains built on top of them,
// and the SQL and in-memory backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by Update when no row has the record's id.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateID is returned by the memory backend on a primary key clash.
	ErrDuplicateID = errors.New("duplicate record id")
	// ErrUnknownTable is returned for a table identifier with no definition.
	ErrUnknownTable = errors.New("unknown table")
	// ErrUnknownField is returned when a lookup names a column the table lacks.
	ErrUnknownField = errors.New("unknown field")
	// ErrUnsupportedValue is returned when a lookup value is not a scalar.
	ErrUnsupportedValue = errors.New("unsupported lookup value")
)

// Finder performs single-table lookups. An empty result is not an error.
type Finder interface {
	FindByID(ctx context.Context, table Table, id string) ([]Record, error)
	FindByField(ctx context.Context, table Table, field string, value any) ([]Record, error)
}

// Store is the narrow data-access interface the core depends on.
type Store interface {
	Finder
	// Insert persists a new record into its table.
	Insert(ctx context.Context, rec Record) error
	// Update overwrites every column of the row with the record's id.
	Update(ctx context.Context, rec Record) error
	Ping(ctx context.Context) error
	Close() error
}

// FindAll runs a by-field lookup and keeps the records of type T.
func FindAll[T Record](ctx context.Context, f Finder, table Table, field string, value any) ([]T, error) {
	recs, err := f.FindByField(ctx, table, field, value)
	if err != nil {
		return nil, err
	}
	return filter[T](recs), nil
}

// FindOne runs a by-id lookup and returns the first record of type T, or
// the zero value when nothing matched.
func FindOne[T Record](ctx context.Context, f Finder, table Table, id string) (T, error) {
	var zero T
	recs, err := f.FindByID(ctx, table, id)
	if err != nil {
		return zero, err
	}
	found := filter[T](recs)
	if len(found) == 0 {
		return zero, nil
	}
	return found[0], nil
}

func filter[T Record](recs []Record) []T {
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		if t, ok := r.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

func checkField(table Table, field string, value any) (*tableDef, error) {
	def, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	if !def.hasColumn(field) {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, table, field)
	}
	switch value.(type) {
	case string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64, time.Time:
	default:
		return nil, fmt.Errorf("%w: %T for %s.%s", ErrUnsupportedValue, value, table, field)
	}
	return def, nil
}
