package filter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/idpdb/pkg/core"
	"github.com/ChrisMcGann/idpdb/pkg/store"
)

func TestApplyDefaultFilter(t *testing.T) {
	ctx := context.Background()
	s := openFixture(t)

	report, err := Default().Apply(ctx, s)
	require.NoError(t, err)
	assert.False(t, report.Cancelled)
	assert.NotEmpty(t, report.RunID)
	assert.Len(t, report.Steps, TotalSteps)

	// P4 has one peptide; psm 8 fails the q-value, psm 9 the rank and psm 10 is ungrouped
	assert.Equal(t, int64(3), report.Proteins)
	assert.Equal(t, int64(4), report.Peptides)
	assert.Equal(t, int64(6), report.PeptideInstances)
	assert.Equal(t, int64(5), report.Matches)
	assert.Equal(t, int64(5), report.Spectra)
	assert.Equal(t, int64(5), report.DistinctMatches, "charge separates the two PEPTIDER matches")
	assert.Equal(t, int64(2), report.ProteinGroups)
	assert.Equal(t, int64(2), report.Clusters)

	assert.Equal(t, map[int64]int64{1: 1, 2: 1, 3: 2}, column(t, s, "SELECT Id, ProteinGroup FROM Protein"))
	assert.Equal(t, map[int64]int64{1: 1, 2: 1, 3: 2}, column(t, s, "SELECT Id, Cluster FROM Protein"))
	assert.Equal(t, map[int64]int64{1: 1, 2: 1, 3: 2, 4: 2}, column(t, s, "SELECT Id, PeptideGroup FROM Peptide"))
	assert.Equal(t, map[int64]int64{1: 2, 2: 2, 3: 2}, column(t, s, "SELECT ProteinId, AdditionalMatches FROM AdditionalMatches"))

	var coverage float64
	var blob []byte
	require.NoError(t, s.QueryRowContext(ctx, "SELECT Coverage, CoverageMask FROM ProteinCoverage WHERE Id = 2").Scan(&coverage, &blob))
	assert.InDelta(t, 15*100.0/19, coverage, 1e-9)
	mask, err := core.DecodeCoverageMask(blob)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 0, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 1, 1, 1, 1, 1, 1, 1}, mask)
	assert.Equal(t, int64(3), count(t, s, "ProteinCoverage"))

	snap, err := store.CurrentSnapshot(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, store.Snapshot{Generation: 1, Filtered: true}, snap)
	assert.True(t, tableExists(t, s, "UnfilteredProtein"))
	assert.False(t, tableExists(t, s, "FilteredProtein"))

	saved, ok := LoadFilter(ctx, s)
	require.True(t, ok)
	assert.True(t, saved.Equal(Default()))
}

func TestApplyIsRepeatable(t *testing.T) {
	ctx := context.Background()
	s := openFixture(t)

	_, err := Default().Apply(ctx, s)
	require.NoError(t, err)
	groups := column(t, s, "SELECT Id, ProteinGroup FROM Protein")
	clusters := column(t, s, "SELECT Id, Cluster FROM Protein")
	matches := column(t, s, "SELECT Id, Spectrum FROM PeptideSpectrumMatch")

	_, err = Default().Apply(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, groups, column(t, s, "SELECT Id, ProteinGroup FROM Protein"))
	assert.Equal(t, clusters, column(t, s, "SELECT Id, Cluster FROM Protein"))
	assert.Equal(t, matches, column(t, s, "SELECT Id, Spectrum FROM PeptideSpectrumMatch"))

	// restore then promote
	snap, err := store.CurrentSnapshot(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, store.Snapshot{Generation: 3, Filtered: true}, snap)
}

func TestDropFiltersRestoresUnfilteredTables(t *testing.T) {
	ctx := context.Background()
	s := openFixture(t)

	_, err := Default().Apply(ctx, s)
	require.NoError(t, err)
	require.NoError(t, DropFilters(ctx, s))

	assert.Equal(t, int64(4), count(t, s, "Protein"))
	assert.Equal(t, int64(5), count(t, s, "Peptide"))
	assert.Equal(t, int64(10), count(t, s, "PeptideSpectrumMatch"))
	assert.False(t, tableExists(t, s, "UnfilteredProtein"))

	snap, err := store.CurrentSnapshot(ctx, s)
	require.NoError(t, err)
	assert.False(t, snap.Filtered)

	// dropping twice is harmless
	require.NoError(t, DropFilters(ctx, s))
	assert.Equal(t, int64(4), count(t, s, "Protein"))
}

func indexTable(t *testing.T, q store.Querier, name string) string {
	t.Helper()
	var table string
	err := q.QueryRowContext(context.Background(),
		"SELECT tbl_name FROM sqlite_master WHERE type = 'index' AND name = ?", name).Scan(&table)
	require.NoError(t, err)
	return table
}

func TestApplyIndexesLiveTables(t *testing.T) {
	ctx := context.Background()
	s := openFixture(t)

	// an unfiltered file that already carries the assembly indexes
	_, err := s.ExecContext(ctx, "CREATE INDEX Protein_ProteinGroup ON Protein (ProteinGroup)")
	require.NoError(t, err)
	_, err = s.ExecContext(ctx, "CREATE INDEX Protein_Cluster ON Protein (Cluster)")
	require.NoError(t, err)
	_, err = s.ExecContext(ctx, "CREATE INDEX Peptide_PeptideGroup ON Peptide (PeptideGroup)")
	require.NoError(t, err)

	_, err = Default().Apply(ctx, s)
	require.NoError(t, err)
	require.True(t, tableExists(t, s, "UnfilteredProtein"))

	assert.Equal(t, "Protein", indexTable(t, s, "Protein_ProteinGroup"))
	assert.Equal(t, "Protein", indexTable(t, s, "Protein_Cluster"))
	assert.Equal(t, "Peptide", indexTable(t, s, "Peptide_PeptideGroup"))

	_, err = Default().Apply(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "Protein", indexTable(t, s, "Protein_ProteinGroup"))
}

func TestApplyThresholds(t *testing.T) {
	tests := []struct {
		name     string
		adjust   func(f *DataFilter)
		proteins int64
		peptides int64
		matches  int64
	}{
		{
			name:     "q-value admits the q=0.5 match",
			adjust:   func(f *DataFilter) { f.MaximumQValue = 0.5 },
			proteins: 3, peptides: 4, matches: 6,
		},
		{
			name:     "single peptide proteins",
			adjust:   func(f *DataFilter) { f.MinimumDistinctPeptidesPerProtein = 1 },
			proteins: 4, peptides: 5, matches: 7,
		},
		{
			name:     "spectra per distinct peptide",
			adjust:   func(f *DataFilter) { f.MinimumSpectraPerDistinctPeptide = 2 },
			proteins: 2, peptides: 1, matches: 2,
		},
		{
			name: "spectra per distinct match ignoring charge",
			adjust: func(f *DataFilter) {
				f.MinimumSpectraPerDistinctMatch = 2
				f.DistinctMatchFormat.IsChargeDistinct = false
			},
			proteins: 2, peptides: 1, matches: 2,
		},
		{
			name:     "spectra per distinct match with charge",
			adjust:   func(f *DataFilter) { f.MinimumSpectraPerDistinctMatch = 2 },
			proteins: 0, peptides: 0, matches: 0,
		},
		{
			name:     "additional peptides",
			adjust:   func(f *DataFilter) { f.MinimumAdditionalPeptidesPerProtein = 3 },
			proteins: 0, peptides: 0, matches: 0,
		},
		{
			name:     "additional peptides disabled",
			adjust:   func(f *DataFilter) { f.MinimumAdditionalPeptidesPerProtein = 0 },
			proteins: 3, peptides: 4, matches: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openFixture(t)
			f := Default()
			tt.adjust(f)

			report, err := f.Apply(context.Background(), s)
			require.NoError(t, err)
			assert.Equal(t, tt.proteins, report.Proteins)
			assert.Equal(t, tt.peptides, report.Peptides)
			assert.Equal(t, tt.matches, report.Matches)
		})
	}
}

func TestApplyMaximumProteinGroupsPerPeptide(t *testing.T) {
	ctx := context.Background()
	s := openFixture(t)

	// P5 shares PEPTIDER with P1/P2 and CCCCK with P3, so both peptides
	// belong to two protein groups
	for _, stmt := range []string{
		"INSERT INTO Protein (Id, Accession, IsDecoy, Cluster, ProteinGroup, Length) VALUES (5, 'P5', 0, 0, 0, 13)",
		"INSERT INTO ProteinData (Id, Sequence) VALUES (5, 'PEPTIDERCCCCK')",
		"INSERT INTO PeptideInstance VALUES (100, 5, 1, 0, 8, 1, 1, 0)",
		"INSERT INTO PeptideInstance VALUES (101, 5, 3, 8, 5, 1, 1, 0)",
	} {
		_, err := s.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	// P5 adds nothing beyond P1-P3, so keep it past the additional peptides step
	f := Default()
	f.MinimumAdditionalPeptidesPerProtein = 0
	report, err := f.Apply(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, int64(4), report.Proteins)

	f.MaximumProteinGroupsPerPeptide = 1
	report, err = f.Apply(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.Proteins)
	assert.Equal(t, int64(2), report.Peptides, "SAMPLEK and DDDDK remain")
	assert.Equal(t, int64(2), report.Matches)
	assert.Equal(t, map[int64]int64{1: 1, 2: 1, 3: 2}, column(t, s, "SELECT Id, ProteinGroup FROM Protein"))
}

func TestApplyCancelled(t *testing.T) {
	ctx := context.Background()
	s := openFixture(t)

	var stages []string
	progress := func(p core.Progress) bool {
		stages = append(stages, p.Stage)
		return p.Completed == 9
	}

	report, err := Default().Apply(ctx, s, WithProgress(progress))
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.Len(t, report.Steps, 8)
	assert.Equal(t, "Assembling protein groups...", stages[len(stages)-1])

	assert.Equal(t, int64(4), count(t, s, "Protein"))
	assert.False(t, tableExists(t, s, "FilteredProtein"))
	assert.False(t, tableExists(t, s, "UnfilteredProtein"))
	snap, err := store.CurrentSnapshot(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, store.Snapshot{}, snap)
}

func TestApplyReportsEveryStep(t *testing.T) {
	s := openFixture(t)

	var completed []int
	progress := func(p core.Progress) bool {
		assert.Equal(t, TotalSteps, p.Total)
		completed = append(completed, p.Completed)
		return false
	}
	report, err := Default().Apply(context.Background(), s, WithProgress(progress))
	require.NoError(t, err)

	want := make([]int, TotalSteps)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, completed)

	// the distinct match and orphan steps only run for thresholds above 1
	var skipped []string
	for _, st := range report.Steps {
		if st.Skipped {
			skipped = append(skipped, st.Stage)
		}
	}
	assert.Equal(t, []string{"Filtering distinct matches...", "Removing orphaned matches..."}, skipped)
}

func TestApplyStepErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openFixture(t)
	_, err := s.ExecContext(ctx, "DROP TABLE ProteinData")
	require.NoError(t, err)

	var failed core.Progress
	progress := func(p core.Progress) bool {
		if p.Err != nil {
			failed = p
		}
		return false
	}
	_, err = Default().Apply(ctx, s, WithProgress(progress))
	require.Error(t, err)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, 13, stepErr.Step)
	assert.Equal(t, "Calculating protein coverage...", stepErr.Stage)
	assert.Equal(t, 13, failed.Completed)

	assert.Equal(t, int64(4), count(t, s, "Protein"))
	assert.False(t, tableExists(t, s, "UnfilteredProtein"))
}

func TestApplyInCallerTransaction(t *testing.T) {
	ctx := context.Background()
	s := openFixture(t)

	tx, err := s.BeginTx(ctx, nil)
	require.NoError(t, err)
	report, err := Default().Apply(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.Proteins)
	require.NoError(t, tx.Rollback())

	assert.Equal(t, int64(4), count(t, s, "Protein"))
	_, ok := LoadFilter(ctx, s)
	assert.False(t, ok)
}

func TestApplyHonoursContext(t *testing.T) {
	s := openFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Default().Apply(ctx, s)
	require.Error(t, err)
	assert.Equal(t, int64(4), count(t, s, "Protein"))
}

func TestNeedsRefilter(t *testing.T) {
	ctx := context.Background()
	s := openFixture(t)

	_, ok := LoadFilter(ctx, s)
	assert.False(t, ok, "no criteria before the first pass")

	needs, err := NeedsRefilter(ctx, s, Default())
	require.NoError(t, err)
	assert.True(t, needs)

	_, err = Default().Apply(ctx, s)
	require.NoError(t, err)

	needs, err = NeedsRefilter(ctx, s, Default())
	require.NoError(t, err)
	assert.False(t, needs)

	// inclusion lists are not persisted
	f := Default()
	f.Cluster = []int64{1}
	needs, err = NeedsRefilter(ctx, s, f)
	require.NoError(t, err)
	assert.False(t, needs)

	f = Default()
	f.MaximumQValue = 0.05
	needs, err = NeedsRefilter(ctx, s, f)
	require.NoError(t, err)
	assert.True(t, needs)

	f = Default()
	f.DistinctMatchFormat.IsAnalysisDistinct = true
	needs, err = NeedsRefilter(ctx, s, f)
	require.NoError(t, err)
	assert.True(t, needs)

	require.NoError(t, DropFilters(ctx, s))
	needs, err = NeedsRefilter(ctx, s, Default())
	require.NoError(t, err)
	assert.True(t, needs)
}
