package stats

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/idpdb/pkg/core"
	"github.com/ChrisMcGann/idpdb/pkg/filter"
	"github.com/ChrisMcGann/idpdb/pkg/store"
	"github.com/ChrisMcGann/idpdb/pkg/writer/idpdb"
)

// openFixture writes P1 (PEPTIDER, SAMPLEK), P2 (CCCCK, DDDDK), P3 (EEEEK) and
// the decoy rev_P4 (GGGGK). PEPTIDER is matched twice at charges 2 and 3,
// every other peptide once.
func openFixture(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stats.idpDB")
	w, err := idpdb.NewWriter(path)
	require.NoError(t, err)

	for _, p := range []*core.Protein{
		{Accession: "P1", Sequence: "PEPTIDERSAMPLEK"},
		{Accession: "P2", Sequence: "CCCCKDDDDK"},
		{Accession: "P3", Sequence: "MEEEEKW"},
		{Accession: "rev_P4", Sequence: "GGGGKW", IsDecoy: true},
	} {
		_, err := w.AddProtein(p)
		require.NoError(t, err)
	}
	source, err := w.AddSource("run1", "", "/")
	require.NoError(t, err)
	analysis, err := w.AddAnalysis(&core.Analysis{Name: "search"})
	require.NoError(t, err)

	matches := []struct {
		sequence string
		charge   int
	}{
		{"PEPTIDER", 2}, {"PEPTIDER", 3}, {"SAMPLEK", 2}, {"CCCCK", 2},
		{"DDDDK", 2}, {"EEEEK", 2}, {"GGGGK", 2},
	}
	for i, m := range matches {
		peptide, err := w.AddPeptide(&core.Peptide{Sequence: m.sequence})
		require.NoError(t, err)
		if i != 1 {
			_, err = w.MapPeptide(peptide, m.sequence)
			require.NoError(t, err)
		}
		spectrum, err := w.AddSpectrum(&core.Spectrum{Source: source, Index: i, NativeID: fmt.Sprintf("scan=%d", i+1)})
		require.NoError(t, err)
		_, err = w.AddPSM(&core.PeptideSpectrumMatch{
			Spectrum: spectrum, Analysis: analysis, Peptide: peptide,
			QValue: 0.01, Rank: 1, Charge: m.charge,
		})
		require.NoError(t, err)
	}
	require.NoError(t, w.Finalize())

	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDescribe(t *testing.T) {
	d := Describe([]float64{4, 1, 3, 2})
	assert.Equal(t, 4, d.N)
	assert.InDelta(t, 2.5, d.Mean, 1e-9)
	assert.InDelta(t, 2.5, d.Median, 1e-9)
	assert.InDelta(t, 1.290994, d.StdDev, 1e-6)
	assert.Equal(t, 1.0, d.Min)
	assert.Equal(t, 4.0, d.Max)

	one := Describe([]float64{7})
	assert.Equal(t, Distribution{N: 1, Mean: 7, Median: 7, Min: 7, Max: 7}, one)

	assert.Equal(t, Distribution{}, Describe(nil))
}

func TestSummarizeUnfiltered(t *testing.T) {
	s := openFixture(t)

	sum, err := Summarize(context.Background(), s, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(4), sum.Proteins)
	assert.Equal(t, int64(1), sum.DecoyProteins)
	assert.Equal(t, int64(1), sum.ProteinGroups, "groups are assigned by filtering")
	assert.Equal(t, int64(6), sum.Peptides)
	assert.Equal(t, int64(6), sum.DistinctMatches)
	assert.Equal(t, int64(7), sum.Matches)
	assert.Equal(t, int64(7), sum.Spectra)
	assert.Zero(t, sum.Coverage.N)

	assert.Equal(t, 4, sum.PeptidesPerProtein.N)
	assert.InDelta(t, 1.5, sum.PeptidesPerProtein.Mean, 1e-9)
	assert.InDelta(t, 0.57735, sum.PeptidesPerProtein.StdDev, 1e-5)
	assert.Equal(t, 6, sum.SpectraPerPeptide.N)
	assert.Equal(t, 2.0, sum.SpectraPerPeptide.Max)
	assert.Equal(t, 1.0, sum.SpectraPerPeptide.Median)
}

func TestSummarizeRestricted(t *testing.T) {
	s := openFixture(t)

	sum, err := Summarize(context.Background(), s, &filter.DataFilter{Protein: []int64{1}})
	require.NoError(t, err)

	assert.Equal(t, int64(1), sum.Proteins)
	assert.Equal(t, int64(2), sum.Peptides)
	assert.Equal(t, int64(3), sum.Matches)
	assert.Equal(t, int64(3), sum.Spectra)
	assert.Equal(t, Distribution{N: 1, Mean: 2, Median: 2, Min: 2, Max: 2}, sum.PeptidesPerProtein)
}

func TestSummarizeFiltered(t *testing.T) {
	s := openFixture(t)
	ctx := context.Background()

	f := filter.Default()
	_, err := f.Apply(ctx, s)
	require.NoError(t, err)

	sum, err := Summarize(ctx, s, f)
	require.NoError(t, err)

	assert.Equal(t, int64(2), sum.Proteins)
	assert.Zero(t, sum.DecoyProteins)
	assert.Equal(t, int64(2), sum.ProteinGroups)
	assert.Equal(t, int64(2), sum.Clusters)
	assert.Equal(t, int64(4), sum.Peptides)
	assert.Equal(t, int64(5), sum.DistinctMatches, "PEPTIDER counts once per charge")
	assert.Equal(t, int64(5), sum.Matches)

	assert.Equal(t, 2, sum.Coverage.N)
	assert.InDelta(t, 100, sum.Coverage.Mean, 1e-9)
}
