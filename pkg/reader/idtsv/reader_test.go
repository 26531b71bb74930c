package idtsv

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/idpdb/pkg/core"
)

func readAll(input string) ([]Record, error) {
	r := NewReader(strings.NewReader(input), nil)
	var records []Record
	for r.Next() {
		records = append(records, *r.Record())
	}
	return records, r.Err()
}

func TestReader(t *testing.T) {
	input := strings.Join([]string{
		"# exported search results",
		"Source\tGroup\tNativeID\tCharge\tRank\tQValue\tSequence\tMods\tAccession\tAnalysis\txcorr",
		"run1\t/a\tscan=1\t2\t1\t0.01\tpeptider\t\tP1;P2\tcomet\t3.5",
		"",
		"run1\t/a\tscan=2\t3\t2\t0.2\tCMPK\tCarbamidomethyl@C1;Oxidation@M2\t\tcomet\t",
		"run2\t\tscan=1\t\t\t\tEEEEK",
	}, "\n")

	got, err := readAll(input)
	require.NoError(t, err)

	carbamidomethyl, _ := core.DefaultModDatabase().Get("Carbamidomethyl")
	oxidation, _ := core.DefaultModDatabase().Get("Oxidation")
	want := []Record{
		{
			Line: 3, Source: "run1", Group: "/a", NativeID: "scan=1", Charge: 2, Rank: 1, QValue: 0.01,
			Sequence: "PEPTIDER", Accessions: []string{"P1", "P2"}, Analysis: "comet",
			Scores: map[string]float64{"xcorr": 3.5},
		},
		{
			Line: 5, Source: "run1", Group: "/a", NativeID: "scan=2", Charge: 3, Rank: 2, QValue: 0.2,
			Sequence: "CMPK", Analysis: "comet",
			Mods: []core.ResidueMod{
				{Name: "Carbamidomethyl", Mass: carbamidomethyl.MonoMassDelta, AvgMass: carbamidomethyl.AvgMassDelta, Formula: carbamidomethyl.Formula, Position: 0},
				{Name: "Oxidation", Mass: oxidation.MonoMassDelta, AvgMass: oxidation.AvgMassDelta, Formula: oxidation.Formula, Position: 1},
			},
		},
		{Line: 6, Source: "run2", NativeID: "scan=1", Rank: 1, Sequence: "EEEEK"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestReaderErrors(t *testing.T) {
	header := "source\tnativeID\tsequence\tcharge\tmods\txcorr\n"
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"missing column", "source\tsequence\nrun1\tK\n", "missing required column"},
		{"duplicate column", "source\tsource\tnativeID\tsequence\n", "duplicate column"},
		{"empty sequence", header + "run1\tscan=1\t\t2\t\t\n", "must not be empty"},
		{"bad charge", header + "run1\tscan=1\tK\ttwo\t\t\n", "invalid charge"},
		{"unknown mod", header + "run1\tscan=1\tK\t2\tPhantom@1\t\n", "unknown modification"},
		{"bad score", header + "run1\tscan=1\tK\t2\t\thigh\n", "invalid score"},
		{"too many fields", header + "run1\tscan=1\tK\t2\t\t1\textra\n", "expected 6 fields"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readAll(tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReaderStopsAtFirstError(t *testing.T) {
	input := "source\tnativeID\tsequence\tcharge\nrun1\tscan=1\tK\tx\nrun1\tscan=2\tK\t2\n"
	r := NewReader(strings.NewReader(input), nil)
	assert.False(t, r.Next())
	assert.False(t, r.Next())
	require.Error(t, r.Err())
	assert.Contains(t, r.Err().Error(), "line 2")
	assert.Equal(t, []string{"source", "nativeid", "sequence", "charge"}, r.Columns())
}
