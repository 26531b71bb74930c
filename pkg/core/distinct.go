package core

import (
	"fmt"
	"strconv"
	"strings"
)

// DistinctMatchFormat controls which attributes of a match distinguish it
// from otherwise identical matches of the same peptide.
type DistinctMatchFormat struct {
	IsChargeDistinct               bool    `yaml:"charge_distinct"`
	IsAnalysisDistinct             bool    `yaml:"analysis_distinct"`
	AreModificationsDistinct       bool    `yaml:"modifications_distinct"`
	ModificationMassRoundToNearest float64 `yaml:"modification_mass_round_to_nearest"`
}

// DefaultDistinctMatchFormat distinguishes charge and modifications (rounded
// to the nearest dalton) but not analysis.
func DefaultDistinctMatchFormat() DistinctMatchFormat {
	return DistinctMatchFormat{
		IsChargeDistinct:               true,
		IsAnalysisDistinct:             false,
		AreModificationsDistinct:       true,
		ModificationMassRoundToNearest: 1,
	}
}

// SQLExpression returns a SQL expression over the PeptideSpectrumMatch alias
// "psm" that evaluates to the distinct match key of each row.
func (f DistinctMatchFormat) SQLExpression() string {
	parts := []string{"psm.Peptide"}

	if f.AreModificationsDistinct {
		mass := "mod.MonoMassDelta"
		if r := f.ModificationMassRoundToNearest; r > 0 {
			rs := strconv.FormatFloat(r, 'f', -1, 64)
			mass = fmt.Sprintf("ROUND(mod.MonoMassDelta/%s)*%s", rs, rs)
		}
		parts = append(parts, fmt.Sprintf(`IFNULL((SELECT GROUP_CONCAT(pm.Offset || '@' || %s, ';' ORDER BY pm.Offset, mod.MonoMassDelta)
		         FROM PeptideModification pm
		         JOIN Modification mod ON pm.Modification = mod.Id
		         WHERE pm.PeptideSpectrumMatch = psm.Id), '')`, mass))
	}
	if f.IsChargeDistinct {
		parts = append(parts, "psm.Charge")
	}
	if f.IsAnalysisDistinct {
		parts = append(parts, "psm.Analysis")
	}

	return "(" + strings.Join(parts, " || ' ' || ") + ")"
}

// String returns a short human-readable form, e.g. "charge, mods@1".
func (f DistinctMatchFormat) String() string {
	var parts []string
	if f.IsChargeDistinct {
		parts = append(parts, "charge")
	}
	if f.IsAnalysisDistinct {
		parts = append(parts, "analysis")
	}
	if f.AreModificationsDistinct {
		parts = append(parts, "mods@"+strconv.FormatFloat(f.ModificationMassRoundToNearest, 'g', -1, 64))
	}
	if len(parts) == 0 {
		return "peptide"
	}
	return strings.Join(parts, ", ")
}
