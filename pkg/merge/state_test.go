package merge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/idpdb/pkg/store"
)

func TestStateAdvance(t *testing.T) {
	s := State{max: map[string]int64{"Protein": 10, "Spectrum": 5}}

	next := s.Advance(map[string]int64{"Protein": 3, "Peptide": 7})
	assert.Equal(t, int64(13), next.Max("Protein"))
	assert.Equal(t, int64(5), next.Max("Spectrum"))
	assert.Equal(t, int64(7), next.Max("Peptide"))
	assert.Zero(t, next.Max("Analysis"))

	// the receiver is untouched
	assert.Equal(t, int64(10), s.Max("Protein"))
	assert.Zero(t, s.Max("Peptide"))

	var empty State
	assert.Equal(t, int64(2), empty.Advance(map[string]int64{"Protein": 2}).Max("Protein"))
}

func TestReadState(t *testing.T) {
	path := writeSource(t, t.TempDir(), "a.idpDB", sourceA)
	s := openStore(t, path)

	state, err := ReadState(context.Background(), s, "main")
	require.NoError(t, err)
	for table, want := range map[string]int64{
		"Protein": 2, "PeptideInstance": 3, "Peptide": 3, "SpectrumSourceGroup": 2,
		"SpectrumSource": 1, "SpectrumSourceGroupLink": 2, "Spectrum": 3, "Modification": 0,
		"PeptideSpectrumMatchScoreName": 1, "Analysis": 1, "PeptideSpectrumMatch": 3,
		"PeptideModification": 0, "AnalysisParameter": 1,
	} {
		assert.Equal(t, want, state.Max(table), table)
	}
	assert.Len(t, store.IDTables, 13)
}
