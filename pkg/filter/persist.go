package filter

import (
	"context"
	"fmt"

	"github.com/ChrisMcGann/idpdb/pkg/store"
)

const createFilteringCriteria = `CREATE TABLE FilteringCriteria
                                 (
                                  MaximumQValue NUMERIC,
                                  MinimumDistinctPeptidesPerProtein INT,
                                  MinimumSpectraPerProtein INT,
                                  MinimumAdditionalPeptidesPerProtein INT,
                                  MinimumSpectraPerDistinctMatch INT,
                                  MinimumSpectraPerDistinctPeptide INT,
                                  MaximumProteinGroupsPerPeptide INT,
                                  IsChargeDistinct INT,
                                  IsAnalysisDistinct INT,
                                  AreModificationsDistinct INT,
                                  ModificationMassRoundToNearest NUMERIC
                                 )`

// SaveFilter replaces the persisted criteria with the thresholds of f.
func SaveFilter(ctx context.Context, q store.Querier, f *DataFilter) error {
	if _, err := q.ExecContext(ctx, "DROP TABLE IF EXISTS FilteringCriteria"); err != nil {
		return fmt.Errorf("failed to drop filtering criteria: %w", err)
	}
	if _, err := q.ExecContext(ctx, createFilteringCriteria); err != nil {
		return fmt.Errorf("failed to create filtering criteria: %w", err)
	}
	dmf := f.DistinctMatchFormat
	_, err := q.ExecContext(ctx, "INSERT INTO FilteringCriteria VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		f.MaximumQValue, f.MinimumDistinctPeptidesPerProtein, f.MinimumSpectraPerProtein,
		f.MinimumAdditionalPeptidesPerProtein, f.MinimumSpectraPerDistinctMatch,
		f.MinimumSpectraPerDistinctPeptide, f.MaximumProteinGroupsPerPeptide,
		dmf.IsChargeDistinct, dmf.IsAnalysisDistinct, dmf.AreModificationsDistinct,
		dmf.ModificationMassRoundToNearest)
	if err != nil {
		return fmt.Errorf("failed to save filtering criteria: %w", err)
	}
	return nil
}

// LoadFilter returns the last persisted thresholds. A missing or unreadable
// FilteringCriteria table means no filter has been applied and yields false.
func LoadFilter(ctx context.Context, q store.Querier) (*DataFilter, bool) {
	f := Default()
	err := q.QueryRowContext(ctx, `SELECT MaximumQValue, MinimumDistinctPeptidesPerProtein, MinimumSpectraPerProtein,
	                                      MinimumAdditionalPeptidesPerProtein, MinimumSpectraPerDistinctMatch,
	                                      MinimumSpectraPerDistinctPeptide, MaximumProteinGroupsPerPeptide
	                               FROM FilteringCriteria`).Scan(
		&f.MaximumQValue, &f.MinimumDistinctPeptidesPerProtein, &f.MinimumSpectraPerProtein,
		&f.MinimumAdditionalPeptidesPerProtein, &f.MinimumSpectraPerDistinctMatch,
		&f.MinimumSpectraPerDistinctPeptide, &f.MaximumProteinGroupsPerPeptide)
	if err != nil {
		return nil, false
	}

	// files written before the distinct match columns existed keep the default format
	dmf := f.DistinctMatchFormat
	err = q.QueryRowContext(ctx, `SELECT IsChargeDistinct, IsAnalysisDistinct, AreModificationsDistinct,
	                                     ModificationMassRoundToNearest
	                              FROM FilteringCriteria`).Scan(
		&dmf.IsChargeDistinct, &dmf.IsAnalysisDistinct, &dmf.AreModificationsDistinct,
		&dmf.ModificationMassRoundToNearest)
	if err == nil {
		f.DistinctMatchFormat = dmf
	}
	return f, true
}

// NeedsRefilter reports whether applying f would change the database: it is
// false only when the live tables are filtered output of the same thresholds.
func NeedsRefilter(ctx context.Context, q store.Querier, f *DataFilter) (bool, error) {
	snap, err := store.CurrentSnapshot(ctx, q)
	if err != nil {
		return true, err
	}
	if !snap.Filtered {
		return true, nil
	}
	current, ok := LoadFilter(ctx, q)
	if !ok {
		return true, nil
	}
	return !current.sameThresholds(f), nil
}
