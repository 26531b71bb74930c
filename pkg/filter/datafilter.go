// Package filter applies identification filters to an idpDB: it narrows the
// protein, peptide, instance and match tables to the rows passing a set of
// thresholds, then recomputes the groupings derived from them.
package filter

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ChrisMcGann/idpdb/pkg/core"
)

// ProteinCTerminus in AminoAcidOffset selects peptides ending at a protein C terminus.
const ProteinCTerminus = math.MaxInt32

// Sites is a list of modified residues, written in YAML as one string such as "STY".
type Sites []rune

// MarshalYAML writes the residues as a string.
func (s Sites) MarshalYAML() (any, error) { return string(s), nil }

// UnmarshalYAML reads a string of residues.
func (s *Sites) UnmarshalYAML(node *yaml.Node) error {
	var residues string
	if err := node.Decode(&residues); err != nil {
		return fmt.Errorf("modified_site must be a string of residues: %w", err)
	}
	*s = Sites(residues)
	return nil
}

// DataFilter holds filtering thresholds and optional inclusion lists.
// A nil list places no constraint.
type DataFilter struct {
	MaximumQValue                       float64 `yaml:"max_qvalue"`
	MinimumDistinctPeptidesPerProtein   int     `yaml:"min_distinct_peptides"`
	MinimumSpectraPerProtein            int     `yaml:"min_spectra"`
	MinimumAdditionalPeptidesPerProtein int     `yaml:"min_additional_peptides"`
	MinimumSpectraPerDistinctMatch      int     `yaml:"min_spectra_per_distinct_match"`
	MinimumSpectraPerDistinctPeptide    int     `yaml:"min_spectra_per_distinct_peptide"`
	MaximumProteinGroupsPerPeptide      int     `yaml:"max_protein_groups_per_peptide"`

	DistinctMatchFormat core.DistinctMatchFormat `yaml:"distinct_match"`

	Cluster             []int64  `yaml:"cluster,omitempty"`
	ProteinGroup        []int64  `yaml:"protein_group,omitempty"`
	PeptideGroup        []int64  `yaml:"peptide_group,omitempty"`
	Protein             []int64  `yaml:"protein,omitempty"`
	Peptide             []int64  `yaml:"peptide,omitempty"`
	DistinctMatchKey    []string `yaml:"distinct_match_key,omitempty"`
	Modifications       []int64  `yaml:"modifications,omitempty"`
	ModifiedSite        Sites    `yaml:"modified_site,omitempty"`
	Charge              []int    `yaml:"charge,omitempty"`
	Analysis            []int64  `yaml:"analysis,omitempty"`
	Spectrum            []int64  `yaml:"spectrum,omitempty"`
	SpectrumSource      []int64  `yaml:"spectrum_source,omitempty"`
	SpectrumSourceGroup []int64  `yaml:"spectrum_source_group,omitempty"`

	// AminoAcidOffset keeps peptides covering any of these protein offsets;
	// 0 means the protein N terminus and ProteinCTerminus the C terminus.
	AminoAcidOffset []int `yaml:"amino_acid_offset,omitempty"`

	// Composition is a GLOB over peptide sequences, e.g. "*H*" for at least
	// one histidine or "Q*" for a leading glutamine.
	Composition string `yaml:"composition,omitempty"`
}

// Default returns the standard thresholds.
func Default() *DataFilter {
	return &DataFilter{
		MaximumQValue:                       0.02,
		MinimumDistinctPeptidesPerProtein:   2,
		MinimumSpectraPerProtein:            2,
		MinimumAdditionalPeptidesPerProtein: 1,
		MinimumSpectraPerDistinctMatch:      1,
		MinimumSpectraPerDistinctPeptide:    1,
		MaximumProteinGroupsPerPeptide:      5,
		DistinctMatchFormat:                 core.DefaultDistinctMatchFormat(),
	}
}

// Clone returns a deep copy.
func (f *DataFilter) Clone() *DataFilter {
	c := *f
	c.Cluster = slices.Clone(f.Cluster)
	c.ProteinGroup = slices.Clone(f.ProteinGroup)
	c.PeptideGroup = slices.Clone(f.PeptideGroup)
	c.Protein = slices.Clone(f.Protein)
	c.Peptide = slices.Clone(f.Peptide)
	c.DistinctMatchKey = slices.Clone(f.DistinctMatchKey)
	c.Modifications = slices.Clone(f.Modifications)
	c.ModifiedSite = slices.Clone(f.ModifiedSite)
	c.Charge = slices.Clone(f.Charge)
	c.Analysis = slices.Clone(f.Analysis)
	c.Spectrum = slices.Clone(f.Spectrum)
	c.SpectrumSource = slices.Clone(f.SpectrumSource)
	c.SpectrumSourceGroup = slices.Clone(f.SpectrumSourceGroup)
	c.AminoAcidOffset = slices.Clone(f.AminoAcidOffset)
	return &c
}

// IsBasicFilter reports whether only the thresholds are set.
func (f *DataFilter) IsBasicFilter() bool {
	return len(f.Cluster) == 0 && len(f.ProteinGroup) == 0 && len(f.PeptideGroup) == 0 &&
		len(f.Protein) == 0 && len(f.Peptide) == 0 && len(f.DistinctMatchKey) == 0 &&
		len(f.Modifications) == 0 && len(f.ModifiedSite) == 0 && len(f.Charge) == 0 &&
		len(f.Analysis) == 0 && len(f.Spectrum) == 0 && len(f.SpectrumSource) == 0 &&
		len(f.SpectrumSourceGroup) == 0 && len(f.AminoAcidOffset) == 0 && f.Composition == ""
}

// Union returns a filter with the thresholds of lhs, the composition of rhs
// and the set union of every inclusion list.
func Union(lhs, rhs *DataFilter) *DataFilter {
	u := lhs.Clone()
	u.Cluster = union(lhs.Cluster, rhs.Cluster)
	u.ProteinGroup = union(lhs.ProteinGroup, rhs.ProteinGroup)
	u.PeptideGroup = union(lhs.PeptideGroup, rhs.PeptideGroup)
	u.Protein = union(lhs.Protein, rhs.Protein)
	u.Peptide = union(lhs.Peptide, rhs.Peptide)
	u.DistinctMatchKey = union(lhs.DistinctMatchKey, rhs.DistinctMatchKey)
	u.Modifications = union(lhs.Modifications, rhs.Modifications)
	u.ModifiedSite = union(lhs.ModifiedSite, rhs.ModifiedSite)
	u.Charge = union(lhs.Charge, rhs.Charge)
	u.Analysis = union(lhs.Analysis, rhs.Analysis)
	u.Spectrum = union(lhs.Spectrum, rhs.Spectrum)
	u.SpectrumSource = union(lhs.SpectrumSource, rhs.SpectrumSource)
	u.SpectrumSourceGroup = union(lhs.SpectrumSourceGroup, rhs.SpectrumSourceGroup)
	u.AminoAcidOffset = union(lhs.AminoAcidOffset, rhs.AminoAcidOffset)
	u.Composition = rhs.Composition
	return u
}

// union keeps lhs order, appends the new elements of rhs, and stays nil only when both are nil.
func union[T comparable](lhs, rhs []T) []T {
	if lhs == nil && rhs == nil {
		return nil
	}
	out := make([]T, 0, len(lhs)+len(rhs))
	seen := make(map[T]bool, len(lhs)+len(rhs))
	for _, list := range [][]T{lhs, rhs} {
		for _, v := range list {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// Equal compares every field.
func (f *DataFilter) Equal(other *DataFilter) bool {
	if f == nil || other == nil {
		return f == other
	}
	return f.sameThresholds(other) &&
		slices.Equal(f.Cluster, other.Cluster) &&
		slices.Equal(f.ProteinGroup, other.ProteinGroup) &&
		slices.Equal(f.PeptideGroup, other.PeptideGroup) &&
		slices.Equal(f.Protein, other.Protein) &&
		slices.Equal(f.Peptide, other.Peptide) &&
		slices.Equal(f.DistinctMatchKey, other.DistinctMatchKey) &&
		slices.Equal(f.Modifications, other.Modifications) &&
		slices.Equal(f.ModifiedSite, other.ModifiedSite) &&
		slices.Equal(f.Charge, other.Charge) &&
		slices.Equal(f.Analysis, other.Analysis) &&
		slices.Equal(f.Spectrum, other.Spectrum) &&
		slices.Equal(f.SpectrumSource, other.SpectrumSource) &&
		slices.Equal(f.SpectrumSourceGroup, other.SpectrumSourceGroup) &&
		slices.Equal(f.AminoAcidOffset, other.AminoAcidOffset) &&
		f.Composition == other.Composition
}

// sameThresholds compares what a filter pass persists
func (f *DataFilter) sameThresholds(other *DataFilter) bool {
	return f.MaximumQValue == other.MaximumQValue &&
		f.MinimumDistinctPeptidesPerProtein == other.MinimumDistinctPeptidesPerProtein &&
		f.MinimumSpectraPerProtein == other.MinimumSpectraPerProtein &&
		f.MinimumAdditionalPeptidesPerProtein == other.MinimumAdditionalPeptidesPerProtein &&
		f.MinimumSpectraPerDistinctMatch == other.MinimumSpectraPerDistinctMatch &&
		f.MinimumSpectraPerDistinctPeptide == other.MinimumSpectraPerDistinctPeptide &&
		f.MaximumProteinGroupsPerPeptide == other.MaximumProteinGroupsPerPeptide &&
		f.DistinctMatchFormat == other.DistinctMatchFormat
}

// Key returns a string that is equal for two filters exactly when Equal is true.
func (f *DataFilter) Key() string {
	return fmt.Sprintf("%v|%d|%d|%d|%d|%d|%d|%+v|%v|%v|%v|%v|%v|%q|%v|%q|%v|%v|%v|%v|%v|%v|%q",
		f.MaximumQValue, f.MinimumDistinctPeptidesPerProtein, f.MinimumSpectraPerProtein,
		f.MinimumAdditionalPeptidesPerProtein, f.MinimumSpectraPerDistinctMatch,
		f.MinimumSpectraPerDistinctPeptide, f.MaximumProteinGroupsPerPeptide, f.DistinctMatchFormat,
		f.Cluster, f.ProteinGroup, f.PeptideGroup, f.Protein, f.Peptide, f.DistinctMatchKey,
		f.Modifications, string(f.ModifiedSite), f.Charge, f.Analysis, f.Spectrum, f.SpectrumSource,
		f.SpectrumSourceGroup, f.AminoAcidOffset, f.Composition)
}

func describe[T any](singular, plural string, list []T, format func(T) string, out []string) []string {
	if len(list) == 0 {
		return out
	}
	distinct := make(map[string]bool)
	var first string
	for _, v := range list {
		s := format(v)
		if len(distinct) == 0 {
			first = s
		}
		distinct[s] = true
	}
	if len(distinct) > 1 {
		return append(out, fmt.Sprintf("%d %s", len(distinct), plural))
	}
	return append(out, singular+" "+first)
}

func formatID(v int64) string { return strconv.FormatInt(v, 10) }

// String describes the inclusion lists, or the thresholds for a basic filter.
func (f *DataFilter) String() string {
	var out []string
	out = describe("Cluster", "clusters", f.Cluster, formatID, out)
	out = describe("Protein group", "protein groups", f.ProteinGroup, formatID, out)
	out = describe("Peptide group", "peptide groups", f.PeptideGroup, formatID, out)
	out = describe("Protein", "proteins", f.Protein, formatID, out)
	out = describe("Peptide", "peptides", f.Peptide, formatID, out)
	out = describe("Distinct match", "distinct matches", f.DistinctMatchKey, func(s string) string { return s }, out)
	out = describe("Modified site", "modified sites", f.ModifiedSite, func(r rune) string { return string(r) }, out)
	out = describe("Mass shift", "mass shifts", f.Modifications, formatID, out)
	out = describe("Charge", "charges", f.Charge, strconv.Itoa, out)
	out = describe("Analysis", "analyses", f.Analysis, formatID, out)
	out = describe("Group", "groups", f.SpectrumSourceGroup, formatID, out)
	out = describe("Source", "sources", f.SpectrumSource, formatID, out)
	out = describe("Spectrum", "spectra", f.Spectrum, formatID, out)
	out = describe("Offset", "offsets", f.AminoAcidOffset, func(o int) string {
		if o == ProteinCTerminus {
			return "C-term"
		}
		return strconv.Itoa(o + 1)
	}, out)
	if f.Composition != "" {
		out = append(out, fmt.Sprintf("Composition %q", f.Composition))
	}
	if len(out) > 0 {
		return strings.Join(out, "; ")
	}

	return fmt.Sprintf("Q-value ≤ %v; Distinct peptides per protein ≥ %d; Spectra per protein ≥ %d; "+
		"Additional peptides per protein ≥ %d; Spectra per distinct match ≥ %d; "+
		"Spectra per distinct peptide ≥ %d; Protein groups per peptide ≤ %d",
		f.MaximumQValue, f.MinimumDistinctPeptidesPerProtein, f.MinimumSpectraPerProtein,
		f.MinimumAdditionalPeptidesPerProtein, f.MinimumSpectraPerDistinctMatch,
		f.MinimumSpectraPerDistinctPeptide, f.MaximumProteinGroupsPerPeptide)
}
