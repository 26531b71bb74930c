package store

import (
	"context"
	"fmt"
)

// FilteredTables are the tables a filter pass rewrites.
var FilteredTables = []string{"Protein", "PeptideInstance", "Peptide", "PeptideSpectrumMatch"}

// Table-name prefixes of the three table sets a filter pass works with.
const (
	LiveSet       = ""
	FilteredSet   = "Filtered"
	UnfilteredSet = "Unfiltered"
)

// Snapshot identifies which table set is currently live.
type Snapshot struct {
	Generation int64 // bumped on every promotion or restore
	Filtered   bool  // live tables hold the output of a filter pass
}

// CurrentSnapshot reads the snapshot pointer. Databases created before the
// pointer existed report generation 0 and derive Filtered from the table set.
func CurrentSnapshot(ctx context.Context, q Querier) (Snapshot, error) {
	var snap Snapshot
	ok, err := TableExists(ctx, q, "main", "FilterSnapshot")
	if err != nil {
		return snap, err
	}
	if !ok {
		snap.Filtered, err = TableExists(ctx, q, "main", UnfilteredSet+"Protein")
		return snap, err
	}
	var filtered int
	err = q.QueryRowContext(ctx, "SELECT Generation, Filtered FROM FilterSnapshot WHERE Id = 1").Scan(&snap.Generation, &filtered)
	if err != nil {
		return snap, fmt.Errorf("failed to read filter snapshot: %w", err)
	}
	snap.Filtered = filtered != 0
	return snap, nil
}

// DropFilters discards any Filtered* tables and, if a previous pass stored
// the original tables as Unfiltered*, restores them as the live tables.
// It is a no-op on a database that was never filtered.
func DropFilters(ctx context.Context, q Querier) error {
	for _, t := range FilteredTables {
		if _, err := q.ExecContext(ctx, "DROP TABLE IF EXISTS "+FilteredSet+t); err != nil {
			return fmt.Errorf("failed to drop %s%s: %w", FilteredSet, t, err)
		}
	}

	restore, err := TableExists(ctx, q, "main", UnfilteredSet+"Protein")
	if err != nil {
		return err
	}
	if !restore {
		return nil
	}

	for _, t := range FilteredTables {
		if _, err := q.ExecContext(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
			return fmt.Errorf("failed to drop filtered %s: %w", t, err)
		}
		if _, err := q.ExecContext(ctx, "ALTER TABLE "+UnfilteredSet+t+" RENAME TO "+t); err != nil {
			return fmt.Errorf("failed to restore %s: %w", t, err)
		}
	}
	return advance(ctx, q, false)
}

// PromoteFiltered moves the live tables aside as Unfiltered* and makes the
// Filtered* tables live. Run inside a transaction, other connections see
// either the previous generation or the new one.
func PromoteFiltered(ctx context.Context, q Querier) error {
	for _, t := range FilteredTables {
		if _, err := q.ExecContext(ctx, "ALTER TABLE "+t+" RENAME TO "+UnfilteredSet+t); err != nil {
			return fmt.Errorf("failed to set aside %s: %w", t, err)
		}
	}
	for _, t := range FilteredTables {
		if _, err := q.ExecContext(ctx, "ALTER TABLE "+FilteredSet+t+" RENAME TO "+t); err != nil {
			return fmt.Errorf("failed to promote %s%s: %w", FilteredSet, t, err)
		}
	}
	return advance(ctx, q, true)
}

func advance(ctx context.Context, q Querier, filtered bool) error {
	ok, err := TableExists(ctx, q, "main", "FilterSnapshot")
	if err != nil || !ok {
		return err
	}
	_, err = q.ExecContext(ctx, "UPDATE FilterSnapshot SET Generation = Generation + 1, Filtered = ? WHERE Id = 1", filtered)
	if err != nil {
		return fmt.Errorf("failed to advance filter snapshot: %w", err)
	}
	return nil
}
