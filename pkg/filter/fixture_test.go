package filter

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/idpdb/pkg/core"
	"github.com/ChrisMcGann/idpdb/pkg/store"
	"github.com/ChrisMcGann/idpdb/pkg/writer/idpdb"
)

// Fixture layout (ids are assigned in write order, starting at 1):
//
//	P1 PEPTIDERSAMPLEK      peptides 1 (PEPTIDER), 2 (SAMPLEK)
//	P2 GGPEPTIDERGGSAMPLEK  peptides 1, 2
//	P3 CCCCKDDDDK           peptides 3 (CCCCK), 4 (DDDDK)
//	P4 MEEEEKW              peptide 5 (EEEEK)
//
// Matches on spectra 1-8 come from a grouped source; spectrum 9 is ungrouped.
//
//	psm 1: pep 1 spectrum 1 charge 2     psm 6: pep 5 spectrum 6
//	psm 2: pep 1 spectrum 2 charge 3     psm 7: pep 5 spectrum 7
//	psm 3: pep 2 spectrum 3              psm 8: pep 4 spectrum 8 q=0.5
//	psm 4: pep 3 spectrum 4              psm 9: pep 3 spectrum 8 rank 2
//	psm 5: pep 4 spectrum 5              psm 10: pep 3 spectrum 9 (ungrouped)
func openFixture(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.idpDB")
	w, err := idpdb.NewWriter(path)
	require.NoError(t, err)

	for _, p := range []*core.Protein{
		{Accession: "P1", Sequence: "PEPTIDERSAMPLEK"},
		{Accession: "P2", Sequence: "GGPEPTIDERGGSAMPLEK"},
		{Accession: "P3", Sequence: "CCCCKDDDDK"},
		{Accession: "P4", Sequence: "MEEEEKW"},
	} {
		_, err := w.AddProtein(p)
		require.NoError(t, err)
	}
	for _, seq := range []string{"PEPTIDER", "SAMPLEK", "CCCCK", "DDDDK", "EEEEK"} {
		id, err := w.AddPeptide(&core.Peptide{Sequence: seq})
		require.NoError(t, err)
		_, err = w.MapPeptide(id, seq)
		require.NoError(t, err)
	}

	grouped, err := w.AddSource("run1", "", "/g")
	require.NoError(t, err)
	ungrouped, err := w.AddSource("run2", "", "")
	require.NoError(t, err)
	analysis, err := w.AddAnalysis(&core.Analysis{Name: "search", StartTime: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	for i := 0; i < 9; i++ {
		source := grouped
		if i == 8 {
			source = ungrouped
		}
		_, err := w.AddSpectrum(&core.Spectrum{Source: source, Index: i, NativeID: fmt.Sprintf("scan=%d", i+1)})
		require.NoError(t, err)
	}

	for _, m := range []core.PeptideSpectrumMatch{
		{Peptide: 1, Spectrum: 1, Charge: 2, QValue: 0.01, Rank: 1},
		{Peptide: 1, Spectrum: 2, Charge: 3, QValue: 0.01, Rank: 1},
		{Peptide: 2, Spectrum: 3, Charge: 2, QValue: 0.01, Rank: 1},
		{Peptide: 3, Spectrum: 4, Charge: 2, QValue: 0.01, Rank: 1},
		{Peptide: 4, Spectrum: 5, Charge: 2, QValue: 0.01, Rank: 1},
		{Peptide: 5, Spectrum: 6, Charge: 2, QValue: 0.01, Rank: 1},
		{Peptide: 5, Spectrum: 7, Charge: 2, QValue: 0.01, Rank: 1},
		{Peptide: 4, Spectrum: 8, Charge: 2, QValue: 0.5, Rank: 1},
		{Peptide: 3, Spectrum: 8, Charge: 2, QValue: 0.01, Rank: 2},
		{Peptide: 3, Spectrum: 9, Charge: 2, QValue: 0.01, Rank: 1},
	} {
		m.Analysis = analysis
		_, err := w.AddPSM(&m)
		require.NoError(t, err)
	}
	require.NoError(t, w.Finalize())

	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func count(t *testing.T, q store.Querier, table string) int64 {
	t.Helper()
	n, err := store.Count(context.Background(), q, table)
	require.NoError(t, err)
	return n
}

func column(t *testing.T, q store.Querier, query string) map[int64]int64 {
	t.Helper()
	rows, err := q.QueryContext(context.Background(), query)
	require.NoError(t, err)
	defer rows.Close()

	out := make(map[int64]int64)
	for rows.Next() {
		var id, v int64
		require.NoError(t, rows.Scan(&id, &v))
		out[id] = v
	}
	require.NoError(t, rows.Err())
	return out
}

func tableExists(t *testing.T, q store.Querier, table string) bool {
	t.Helper()
	ok, err := store.TableExists(context.Background(), q, "main", table)
	require.NoError(t, err)
	return ok
}
