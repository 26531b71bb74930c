package merge

import (
	"context"
	"maps"

	"github.com/ChrisMcGann/idpdb/pkg/store"
)

// State holds the id base for freshly added rows of every id-bearing table.
// It is a value: Advance returns a new State and leaves the receiver alone.
type State struct {
	max map[string]int64
}

// ReadState reads the current maximum ids of schema.
func ReadState(ctx context.Context, q store.Querier, schema string) (State, error) {
	ids, err := store.MaxIDs(ctx, q, schema)
	if err != nil {
		return State{}, err
	}
	return State{max: ids}, nil
}

// Max returns the id base of table; a source row with id n that has no match
// in the target is added as n + Max(table).
func (s State) Max(table string) int64 { return s.max[table] }

// Advance returns the state after merging a source whose own maximum ids are
// sourceMax, so the next source's new rows start above every id handed out so far.
func (s State) Advance(sourceMax map[string]int64) State {
	next := make(map[string]int64, len(s.max))
	maps.Copy(next, s.max)
	for table, id := range sourceMax {
		next[table] += id
	}
	return State{max: next}
}
