package core

import "math"

// Monoisotopic atomic masses
const (
	MassH = 1.0078250321
	MassC = 12.0000000000
	MassN = 14.0030740052
	MassO = 15.9949146221
	MassS = 31.9720706900

	// Proton mass for charge calculations
	ProtonMass = 1.00727646688
)

// Average atomic masses
const (
	AvgMassH = 1.00794
	AvgMassC = 12.0107
	AvgMassN = 14.0067
	AvgMassO = 15.9994
	AvgMassS = 32.065
)

// Composition stores elemental composition
type Composition struct {
	C, H, N, O, S int
}

// Add returns the element-wise sum of two compositions.
func (c Composition) Add(o Composition) Composition {
	return Composition{C: c.C + o.C, H: c.H + o.H, N: c.N + o.N, O: c.O + o.O, S: c.S + o.S}
}

// MonoMass returns the monoisotopic mass of the composition.
func (c Composition) MonoMass() float64 {
	return float64(c.C)*MassC +
		float64(c.H)*MassH +
		float64(c.N)*MassN +
		float64(c.O)*MassO +
		float64(c.S)*MassS
}

// AvgMass returns the average mass of the composition.
func (c Composition) AvgMass() float64 {
	return float64(c.C)*AvgMassC +
		float64(c.H)*AvgMassH +
		float64(c.N)*AvgMassN +
		float64(c.O)*AvgMassO +
		float64(c.S)*AvgMassS
}

// Residues maps amino acid one-letter codes to residue composition
var Residues = map[rune]Composition{
	'A': {C: 3, H: 5, N: 1, O: 1},
	'R': {C: 6, H: 12, N: 4, O: 1},
	'N': {C: 4, H: 6, N: 2, O: 2},
	'D': {C: 4, H: 5, N: 1, O: 3},
	'C': {C: 3, H: 5, N: 1, O: 1, S: 1},
	'E': {C: 5, H: 7, N: 1, O: 3},
	'Q': {C: 5, H: 8, N: 2, O: 2},
	'G': {C: 2, H: 3, N: 1, O: 1},
	'H': {C: 6, H: 7, N: 3, O: 1},
	'I': {C: 6, H: 11, N: 1, O: 1},
	'L': {C: 6, H: 11, N: 1, O: 1},
	'K': {C: 6, H: 12, N: 2, O: 1},
	'M': {C: 5, H: 9, N: 1, O: 1, S: 1},
	'F': {C: 9, H: 9, N: 1, O: 1},
	'P': {C: 5, H: 7, N: 1, O: 1},
	'S': {C: 3, H: 5, N: 1, O: 2},
	'T': {C: 4, H: 7, N: 1, O: 2},
	'W': {C: 11, H: 10, N: 2, O: 1},
	'Y': {C: 9, H: 9, N: 1, O: 2},
	'V': {C: 5, H: 9, N: 1, O: 1},
}

var water = Composition{H: 2, O: 1}

// SequenceComposition returns the elemental composition of an unmodified
// peptide including the terminal water. Unknown residues are ignored.
func SequenceComposition(sequence string) Composition {
	comp := water
	for _, aa := range sequence {
		if r, ok := Residues[aa]; ok {
			comp = comp.Add(r)
		}
	}
	return comp
}

// NeutralMass computes the neutral monoisotopic mass of a peptide with modifications.
func NeutralMass(sequence string, mods []ResidueMod) float64 {
	mass := SequenceComposition(sequence).MonoMass()
	for _, mod := range mods {
		mass += mod.Mass
	}
	return mass
}

// MolecularWeight computes the average mass of a peptide with modifications.
func MolecularWeight(sequence string, mods []ResidueMod) float64 {
	mass := SequenceComposition(sequence).AvgMass()
	for _, mod := range mods {
		if mod.AvgMass != 0 {
			mass += mod.AvgMass
		} else {
			mass += mod.Mass
		}
	}
	return mass
}

// PrecursorMZ converts a neutral mass to m/z for the given charge state.
func PrecursorMZ(neutralMass float64, charge int) float64 {
	if charge <= 0 {
		return neutralMass
	}
	return (neutralMass + float64(charge)*ProtonMass) / float64(charge)
}

// RoundFloat rounds a float to n decimal places
func RoundFloat(val float64, precision int) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}
