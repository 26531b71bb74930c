package merge

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

type protein struct{ accession, sequence string }

// searchResult describes a small search result: every peptide is matched once, on
// spectra scan=1..n of one spectrum source.
type searchResult struct {
	proteins []protein
	peptides []string
	run      string
	group    string
	scores   []string
}

var (
	sourceA = searchResult{
		proteins: []protein{{"P1", "PEPTIDERSAMPLEK"}, {"P2", "CCCCKDDDDK"}},
		peptides: []string{"PEPTIDER", "SAMPLEK", "CCCCK"},
		run:      "run1",
		group:    "/a",
		scores:   []string{"xcorr"},
	}
	sourceB = searchResult{
		proteins: []protein{{"P2", "CCCCKDDDDK"}, {"P3", "MEEEEKW"}},
		peptides: []string{"CCCCK", "DDDDK", "EEEEK"},
		run:      "run2",
		group:    "/a",
		scores:   []string{"xcorr", "deltacn"},
	}
)

func (src searchResult) write(t *testing.T, w *idpdb.Writer) {
	t.Helper()
	for _, p := range src.proteins {
		_, err := w.AddProtein(&core.Protein{Accession: p.accession, Sequence: p.sequence})
		require.NoError(t, err)
	}
	sourceID, err := w.AddSource(src.run, "", src.group)
	require.NoError(t, err)
	analysis, err := w.AddAnalysis(&core.Analysis{
		Name:            "comet search",
		SoftwareName:    "comet",
		SoftwareVersion: "2024.01",
		StartTime:       time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Parameters:      []core.AnalysisParameter{{Name: "tolerance", Value: "10ppm"}},
	})
	require.NoError(t, err)

	for i, seq := range src.peptides {
		peptide, err := w.AddPeptide(&core.Peptide{Sequence: seq})
		require.NoError(t, err)
		_, err = w.MapPeptide(peptide, seq)
		require.NoError(t, err)

		spectrum, err := w.AddSpectrum(&core.Spectrum{Source: sourceID, Index: i, NativeID: fmt.Sprintf("scan=%d", i+1)})
		require.NoError(t, err)

		scores := make(map[string]float64)
		for j, name := range src.scores {
			scores[name] = float64(i + j)
		}
		_, err = w.AddPSM(&core.PeptideSpectrumMatch{
			Spectrum: spectrum, Analysis: analysis, Peptide: peptide,
			QValue: 0.01, Rank: 1, Charge: 2, Scores: scores,
		})
		require.NoError(t, err)
	}
}

func writeSource(t *testing.T, dir, name string, src searchResult, opts ...store.Option) string {
	t.Helper()
	path := filepath.Join(dir, name)
	w, err := idpdb.NewWriter(path, opts...)
	require.NoError(t, err)
	src.write(t, w)
	require.NoError(t, w.Finalize())
	return path
}

func openStore(t *testing.T, path string) *store.Store {
	t.Helper()
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

func scalar(t *testing.T, q store.Querier, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, q.QueryRowContext(context.Background(), query, args...).Scan(&n))
	return n
}
