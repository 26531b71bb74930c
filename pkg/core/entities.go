// Package core provides the identification data model shared by the filter
// and merge engines, plus the small value types they exchange.
package core

import (
	"fmt"
	"strings"
	"time"
)

// Protein is a protein sequence with its derived group and cluster assignment.
type Protein struct {
	ID           int64
	Accession    string // natural key across merges
	Description  string
	Sequence     string
	Length       int
	IsDecoy      bool
	Cluster      int64 // connected-component id, recomputed on every filter pass
	ProteinGroup int64 // equivalence-class id, recomputed on every filter pass
}

// Peptide is a distinct peptide sequence; it is related to proteins through
// PeptideInstance rows.
type Peptide struct {
	ID               int64
	Sequence         string
	MonoisotopicMass float64
	MolecularWeight  float64
	PeptideGroup     int64
	DecoySequence    string
}

// PeptideInstance is one occurrence of a peptide within a protein sequence.
// (Protein, Offset, Length) identifies it across merges.
type PeptideInstance struct {
	ID                  int64
	Protein             int64
	Peptide             int64
	Offset              int
	Length              int
	NTerminusIsSpecific bool
	CTerminusIsSpecific bool
	MissedCleavages     int
}

// PeptideSpectrumMatch is one candidate identification of a spectrum.
type PeptideSpectrumMatch struct {
	ID                    int64
	Spectrum              int64
	Analysis              int64
	Peptide               int64
	QValue                float64
	ObservedNeutralMass   float64
	MonoisotopicMassError float64
	MolecularWeightError  float64
	Rank                  int
	Charge                int
	Scores                map[string]float64
	DistinctMatchKey      string
}

// Spectrum is a single MS/MS scan in a spectrum source.
type Spectrum struct {
	ID          int64
	Source      int64
	Index       int
	NativeID    string
	PrecursorMZ float64
}

// SpectrumSource is an input file of spectra.
type SpectrumSource struct {
	ID    int64
	Name  string
	URL   string
	Group int64 // 0 when the source is ungrouped
}

// SpectrumSourceGroup is a node in the source hierarchy, named like a path ("/", "/a", "/a/b").
type SpectrumSourceGroup struct {
	ID   int64
	Name string
}

// SpectrumSourceGroupLink materializes source membership in a group and in
// every ancestor of that group.
type SpectrumSourceGroupLink struct {
	ID     int64
	Source int64
	Group  int64
}

// AnalysisParameter is one key/value setting of an analysis.
type AnalysisParameter struct {
	Name  string
	Value string
}

// Analysis describes one identification run.
type Analysis struct {
	ID              int64
	Name            string
	SoftwareName    string
	SoftwareVersion string
	Type            int
	StartTime       time.Time
	Parameters      []AnalysisParameter
}

// Modification is a mass-shift definition. (Formula, MonoMassDelta) identifies it across merges.
type Modification struct {
	ID            int64
	MonoMassDelta float64
	AvgMassDelta  float64
	Formula       string
	Name          string
}

// PeptideModification attaches a modification to a residue of a match.
type PeptideModification struct {
	ID                   int64
	PeptideSpectrumMatch int64
	Modification         int64
	Offset               int
	Site                 rune
}

// ProteinCoverage holds the covered percentage of a protein and its per-residue depth mask.
type ProteinCoverage struct {
	ID           int64
	Coverage     float64
	CoverageMask []uint16
}

// QonverterSettings stores the q-value conversion settings of an analysis.
type QonverterSettings struct {
	ID                          int64
	QonverterMethod             int
	DecoyPrefix                 string
	RerankMatches               bool
	Kernel                      int
	MassErrorHandling           int
	MissedCleavagesHandling     int
	TerminalSpecificityHandling int
	ChargeStateHandling         int
	ScoreInfoByName             string
}

// ValidationError represents an error found while validating an entity.
type ValidationError struct {
	Entity  string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", e.Entity, e.Message)
}

// Validate checks that an instance lies within its protein.
func (pi *PeptideInstance) Validate(proteinLength int) error {
	var errs []string
	if pi.Offset < 0 {
		errs = append(errs, "offset must be non-negative")
	}
	if pi.Length <= 0 {
		errs = append(errs, "length must be positive")
	}
	if proteinLength > 0 && pi.Offset+pi.Length > proteinLength {
		errs = append(errs, fmt.Sprintf("instance [%d,%d) exceeds protein length %d", pi.Offset, pi.Offset+pi.Length, proteinLength))
	}
	if len(errs) > 0 {
		return &ValidationError{Entity: "PeptideInstance", Message: strings.Join(errs, "; ")}
	}
	return nil
}

// Validate checks the fields every match must carry.
func (psm *PeptideSpectrumMatch) Validate() error {
	var errs []string
	if psm.Spectrum <= 0 {
		errs = append(errs, "spectrum is required")
	}
	if psm.Peptide <= 0 {
		errs = append(errs, "peptide is required")
	}
	if psm.Analysis <= 0 {
		errs = append(errs, "analysis is required")
	}
	if psm.Rank <= 0 {
		errs = append(errs, "rank must be positive")
	}
	if psm.QValue < 0 {
		errs = append(errs, "q-value must be non-negative")
	}
	if len(errs) > 0 {
		return &ValidationError{Entity: "PeptideSpectrumMatch", Message: strings.Join(errs, "; ")}
	}
	return nil
}

// ParentGroups returns a group name followed by all of its ancestors, ending with "/".
func ParentGroups(name string) []string {
	name = strings.TrimRight(name, "/")
	if name == "" {
		return []string{"/"}
	}
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	groups := []string{name}
	for {
		i := strings.LastIndex(name, "/")
		if i <= 0 {
			break
		}
		name = name[:i]
		groups = append(groups, name)
	}
	return append(groups, "/")
}
