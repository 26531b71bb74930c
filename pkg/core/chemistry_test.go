package core

import (
	"math"
	"testing"
)

func TestNeutralMass(t *testing.T) {
	tests := []struct {
		name      string
		sequence  string
		mods      []ResidueMod
		wantMass  float64
		tolerance float64
	}{
		{
			name:      "simple tripeptide",
			sequence:  "AAA",
			wantMass:  231.122,
			tolerance: 0.01,
		},
		{
			name:      "PEPTIDE",
			sequence:  "PEPTIDE",
			wantMass:  799.360,
			tolerance: 0.01,
		},
		{
			name:     "with modification",
			sequence: "AAA",
			mods: []ResidueMod{
				{Mass: 57.021464, Position: 0},
			},
			wantMass:  288.143,
			tolerance: 0.01,
		},
		{
			name:      "unknown residues are ignored",
			sequence:  "AXA",
			wantMass:  160.085,
			tolerance: 0.01,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NeutralMass(tt.sequence, tt.mods)
			if math.Abs(got-tt.wantMass) > tt.tolerance {
				t.Errorf("NeutralMass() = %.3f, want %.3f (within %.3f)", got, tt.wantMass, tt.tolerance)
			}
		})
	}
}

func TestMolecularWeight(t *testing.T) {
	got := MolecularWeight("AAA", nil)
	if math.Abs(got-231.249) > 0.01 {
		t.Errorf("MolecularWeight(AAA) = %.3f, want 231.249", got)
	}

	withMod := MolecularWeight("AAA", []ResidueMod{{Mass: 15.994915, AvgMass: 15.9994}})
	if math.Abs(withMod-got-15.9994) > 1e-9 {
		t.Errorf("average modification mass not applied: got delta %.4f", withMod-got)
	}
}

func TestPrecursorMZ(t *testing.T) {
	tests := []struct {
		name   string
		mass   float64
		charge int
		want   float64
	}{
		{"charge 1", 231.122, 1, 232.129},
		{"charge 2", 231.122, 2, 116.568},
		{"no charge", 231.122, 0, 231.122},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PrecursorMZ(tt.mass, tt.charge)
			if math.Abs(got-tt.want) > 0.01 {
				t.Errorf("PrecursorMZ() = %.3f, want %.3f", got, tt.want)
			}
		})
	}
}

func TestRoundFloat(t *testing.T) {
	tests := []struct {
		name      string
		val       float64
		precision int
		want      float64
	}{
		{"round to 2 decimals", 3.14159, 2, 3.14},
		{"round to 4 decimals", 3.14159, 4, 3.1416},
		{"round to 0 decimals", 3.6, 0, 4.0},
		{"round negative", -3.14159, 2, -3.14},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundFloat(tt.val, tt.precision)
			if got != tt.want {
				t.Errorf("RoundFloat() = %v, want %v", got, tt.want)
			}
		})
	}
}
