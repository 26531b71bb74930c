package filter

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Join is a chain of JOIN clauses leading from a root table to another table.
type Join []string

// Root tables a filtered query can start from.
const (
	FromProtein              = "Protein pro"
	FromPeptide              = "Peptide pep"
	FromPeptideSpectrumMatch = "PeptideSpectrumMatch psm"
)

func chain(base Join, next ...string) Join {
	return append(slices.Clone(base), next...)
}

// Joins from the Protein root.
var (
	ProteinToPeptideInstance         = Join{"JOIN PeptideInstance pi ON pro.Id = pi.Protein"}
	ProteinToPeptide                 = chain(ProteinToPeptideInstance, "JOIN Peptide pep ON pi.Peptide = pep.Id")
	ProteinToPeptideSpectrumMatch    = chain(ProteinToPeptideInstance, "JOIN PeptideSpectrumMatch psm ON pi.Peptide = psm.Peptide")
	ProteinToPeptideModification     = chain(ProteinToPeptideSpectrumMatch, "LEFT JOIN PeptideModification pm ON psm.Id = pm.PeptideSpectrumMatch")
	ProteinToModification            = chain(ProteinToPeptideModification, "LEFT JOIN Modification mod ON pm.Modification = mod.Id")
	ProteinToAnalysis                = chain(ProteinToPeptideSpectrumMatch, "JOIN Analysis a ON psm.Analysis = a.Id")
	ProteinToSpectrum                = chain(ProteinToPeptideSpectrumMatch, "JOIN Spectrum s ON psm.Spectrum = s.Id")
	ProteinToSpectrumSource          = chain(ProteinToSpectrum, "JOIN SpectrumSource ss ON s.Source = ss.Id")
	ProteinToSpectrumSourceGroupLink = chain(ProteinToSpectrumSource, "JOIN SpectrumSourceGroupLink ssgl ON ss.Id = ssgl.Source")
	ProteinToSpectrumSourceGroup     = chain(ProteinToSpectrumSourceGroupLink, "JOIN SpectrumSourceGroup ssg ON ssgl.Group_ = ssg.Id")
)

// Joins from the Peptide root.
var (
	PeptideToPeptideInstance         = Join{"JOIN PeptideInstance pi ON pep.Id = pi.Peptide"}
	PeptideToProtein                 = chain(PeptideToPeptideInstance, "JOIN Protein pro ON pi.Protein = pro.Id")
	PeptideToPeptideSpectrumMatch    = Join{"JOIN PeptideSpectrumMatch psm ON pep.Id = psm.Peptide"}
	PeptideToPeptideModification     = chain(PeptideToPeptideSpectrumMatch, "LEFT JOIN PeptideModification pm ON psm.Id = pm.PeptideSpectrumMatch")
	PeptideToModification            = chain(PeptideToPeptideModification, "LEFT JOIN Modification mod ON pm.Modification = mod.Id")
	PeptideToAnalysis                = chain(PeptideToPeptideSpectrumMatch, "JOIN Analysis a ON psm.Analysis = a.Id")
	PeptideToSpectrum                = chain(PeptideToPeptideSpectrumMatch, "JOIN Spectrum s ON psm.Spectrum = s.Id")
	PeptideToSpectrumSource          = chain(PeptideToSpectrum, "JOIN SpectrumSource ss ON s.Source = ss.Id")
	PeptideToSpectrumSourceGroupLink = chain(PeptideToSpectrumSource, "JOIN SpectrumSourceGroupLink ssgl ON ss.Id = ssgl.Source")
	PeptideToSpectrumSourceGroup     = chain(PeptideToSpectrumSourceGroupLink, "JOIN SpectrumSourceGroup ssg ON ssgl.Group_ = ssg.Id")
)

// Joins from the PeptideSpectrumMatch root.
var (
	PeptideSpectrumMatchToPeptide                 = Join{"JOIN Peptide pep ON psm.Peptide = pep.Id"}
	PeptideSpectrumMatchToAnalysis                = Join{"JOIN Analysis a ON psm.Analysis = a.Id"}
	PeptideSpectrumMatchToSpectrum                = Join{"JOIN Spectrum s ON psm.Spectrum = s.Id"}
	PeptideSpectrumMatchToPeptideModification     = Join{"LEFT JOIN PeptideModification pm ON psm.Id = pm.PeptideSpectrumMatch"}
	PeptideSpectrumMatchToPeptideInstance         = Join{"JOIN PeptideInstance pi ON psm.Peptide = pi.Peptide"}
	PeptideSpectrumMatchToProtein                 = chain(PeptideSpectrumMatchToPeptideInstance, "JOIN Protein pro ON pi.Protein = pro.Id")
	PeptideSpectrumMatchToModification            = chain(PeptideSpectrumMatchToPeptideModification, "LEFT JOIN Modification mod ON pm.Modification = mod.Id")
	PeptideSpectrumMatchToSpectrumSource          = chain(PeptideSpectrumMatchToSpectrum, "JOIN SpectrumSource ss ON s.Source = ss.Id")
	PeptideSpectrumMatchToSpectrumSourceGroupLink = chain(PeptideSpectrumMatchToSpectrumSource, "JOIN SpectrumSourceGroupLink ssgl ON ss.Id = ssgl.Source")
	PeptideSpectrumMatchToSpectrumSourceGroup     = chain(PeptideSpectrumMatchToSpectrumSourceGroupLink, "JOIN SpectrumSourceGroup ssg ON ssgl.Group_ = ssg.Id")
	PeptideSpectrumMatchToDistinctMatch           = Join{distinctMatchJoin}
)

// distinctMatchJoin resolves stored distinct match keys; it needs psm in scope.
const distinctMatchJoin = "LEFT JOIN DistinctMatch dm ON psm.Id = dm.PsmId"

// joinSet collects join clauses in order, skipping repeats
type joinSet struct {
	clauses []string
}

func (j *joinSet) add(joins ...Join) {
	for _, join := range joins {
		for _, clause := range join {
			if !slices.Contains(j.clauses, clause) {
				j.clauses = append(j.clauses, clause)
			}
		}
	}
}

// has reports whether alias is introduced by the root or a join
func (j *joinSet) has(root, alias string) bool {
	if strings.HasSuffix(root, " "+alias) {
		return true
	}
	for _, c := range j.clauses {
		if strings.Contains(c, " "+alias+" ON ") {
			return true
		}
	}
	return false
}

// conditions collects predicate groups: OR within a group, AND across groups,
// except modification and other conditions which always AND together
type conditions struct {
	protein, cluster, peptide, spectrum, mod, other []string
}

func (c *conditions) String() string {
	var groups []string
	for _, g := range []struct {
		list []string
		op   string
	}{
		{c.protein, " OR "}, {c.cluster, " OR "}, {c.peptide, " OR "},
		{c.spectrum, " OR "}, {c.mod, " AND "}, {c.other, " AND "},
	} {
		if len(g.list) > 0 {
			groups = append(groups, "("+strings.Join(g.list, g.op)+")")
		}
	}
	if len(groups) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(groups, " AND ") + " "
}

func ints[T int | int64](values []T) string {
	s := make([]string, len(values))
	for i, v := range values {
		s[i] = strconv.FormatInt(int64(v), 10)
	}
	return strings.Join(s, ",")
}

func quoted(values []string) string {
	s := make([]string, len(values))
	for i, v := range values {
		s[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return strings.Join(s, ",")
}

func sites(values []rune) string {
	s := make([]string, len(values))
	for i, r := range values {
		s[i] = string(r)
	}
	return quoted(s)
}

func (f *DataFilter) offsetCondition() string {
	var parts []string
	for _, offset := range f.AminoAcidOffset {
		switch {
		case offset <= 0:
			parts = append(parts, "pi.Offset = 0")
		case offset == ProteinCTerminus:
			parts = append(parts, "pi.Offset+pi.Length = pro.Length")
		default:
			parts = append(parts, fmt.Sprintf("(pi.Offset <= %d AND pi.Offset+pi.Length > %d)", offset, offset))
		}
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func (f *DataFilter) compositionCondition(peptideColumn string) string {
	return fmt.Sprintf("%s IN (SELECT Id FROM PeptideSequences WHERE Sequence GLOB %s)",
		peptideColumn, quoted([]string{f.Composition}))
}

// QueryString returns the FROM, JOIN and WHERE clauses of a query over
// fromTable restricted by the inclusion lists. Joins the lists need are added
// to the given ones; nothing else is joined.
func (f *DataFilter) QueryString(fromTable string, joins ...Join) string {
	var js joinSet
	js.add(joins...)

	hasCTerm := slices.Contains(f.AminoAcidOffset, ProteinCTerminus)
	needPSM := len(f.DistinctMatchKey) > 0 || len(f.Analysis) > 0 || len(f.Spectrum) > 0 || len(f.Charge) > 0

	switch fromTable {
	case FromProtein:
		if len(f.Peptide) > 0 || len(f.AminoAcidOffset) > 0 || f.Composition != "" {
			js.add(ProteinToPeptideInstance)
		}
		if len(f.PeptideGroup) > 0 {
			js.add(ProteinToPeptide)
		}
		if len(f.Modifications) > 0 || len(f.ModifiedSite) > 0 {
			js.add(ProteinToPeptideModification)
		}
		if needPSM {
			js.add(ProteinToPeptideSpectrumMatch)
		}
		if len(f.SpectrumSource) > 0 {
			js.add(ProteinToSpectrum)
		}
		if len(f.SpectrumSourceGroup) > 0 {
			js.add(ProteinToSpectrumSourceGroupLink)
		}

	case FromPeptide:
		if len(f.Cluster) > 0 || len(f.ProteinGroup) > 0 || hasCTerm {
			js.add(PeptideToProtein)
		}
		if len(f.Protein) > 0 || len(f.AminoAcidOffset) > 0 {
			js.add(PeptideToPeptideInstance)
		}
		if len(f.Modifications) > 0 || len(f.ModifiedSite) > 0 {
			js.add(PeptideToPeptideModification)
		}
		if needPSM {
			js.add(PeptideToPeptideSpectrumMatch)
		}
		if len(f.SpectrumSource) > 0 {
			js.add(PeptideToSpectrum)
		}
		if len(f.SpectrumSourceGroup) > 0 {
			js.add(PeptideToSpectrumSourceGroupLink)
		}

	case FromPeptideSpectrumMatch:
		if len(f.Cluster) > 0 || len(f.ProteinGroup) > 0 {
			js.add(PeptideSpectrumMatchToProtein)
		}
		if len(f.Protein) > 0 {
			js.add(PeptideSpectrumMatchToPeptideInstance)
		}
		if len(f.AminoAcidOffset) > 0 {
			if hasCTerm {
				js.add(PeptideSpectrumMatchToProtein)
			} else {
				js.add(PeptideSpectrumMatchToPeptideInstance)
			}
		}
		if len(f.PeptideGroup) > 0 {
			js.add(PeptideSpectrumMatchToPeptide)
		}
		if len(f.Modifications) > 0 || len(f.ModifiedSite) > 0 {
			js.add(PeptideSpectrumMatchToPeptideModification)
		}
		if len(f.SpectrumSource) > 0 {
			js.add(PeptideSpectrumMatchToSpectrum)
		}
		if len(f.SpectrumSourceGroup) > 0 {
			js.add(PeptideSpectrumMatchToSpectrumSourceGroupLink)
		}
	}

	if len(f.DistinctMatchKey) > 0 {
		js.add(Join{distinctMatchJoin})
	}

	var c conditions
	if len(f.Cluster) > 0 {
		c.cluster = append(c.cluster, "pro.Cluster IN ("+ints(f.Cluster)+")")
	}
	if len(f.ProteinGroup) > 0 {
		c.protein = append(c.protein, "pro.ProteinGroup IN ("+ints(f.ProteinGroup)+")")
	}
	if len(f.Protein) > 0 {
		column := "pi.Protein"
		if js.has(fromTable, "pro") {
			column = "pro.Id"
		}
		c.protein = append(c.protein, column+" IN ("+ints(f.Protein)+")")
	}

	peptideColumn := "psm.Peptide"
	switch {
	case fromTable == FromPeptide || js.has(fromTable, "pep"):
		peptideColumn = "pep.Id"
	case js.has(fromTable, "pi"):
		peptideColumn = "pi.Peptide"
	}
	if len(f.PeptideGroup) > 0 {
		c.peptide = append(c.peptide, "pep.PeptideGroup IN ("+ints(f.PeptideGroup)+")")
	}
	if len(f.Peptide) > 0 {
		c.peptide = append(c.peptide, peptideColumn+" IN ("+ints(f.Peptide)+")")
	}
	if len(f.DistinctMatchKey) > 0 {
		c.peptide = append(c.peptide, "IFNULL(dm.DistinctMatchKey, "+f.DistinctMatchFormat.SQLExpression()+") IN ("+quoted(f.DistinctMatchKey)+")")
	}

	f.addMatchConditions(&c)
	if f.Composition != "" {
		c.other = append(c.other, f.compositionCondition(peptideColumn))
	}

	return " FROM " + fromTable + " " + strings.Join(js.clauses, " ") + " " + c.String()
}

// addMatchConditions adds the conditions whose columns are the same in both builders
func (f *DataFilter) addMatchConditions(c *conditions) {
	if len(f.ModifiedSite) > 0 {
		c.mod = append(c.mod, "pm.Site IN ("+sites(f.ModifiedSite)+")")
	}
	if len(f.Modifications) > 0 {
		c.mod = append(c.mod, "pm.Modification IN ("+ints(f.Modifications)+")")
	}
	if len(f.Charge) > 0 {
		c.other = append(c.other, "psm.Charge IN ("+ints(f.Charge)+")")
	}
	if len(f.Analysis) > 0 {
		c.other = append(c.other, "psm.Analysis IN ("+ints(f.Analysis)+")")
	}
	if len(f.Spectrum) > 0 {
		c.spectrum = append(c.spectrum, "psm.Spectrum IN ("+ints(f.Spectrum)+")")
	}
	if len(f.SpectrumSource) > 0 {
		c.spectrum = append(c.spectrum, "s.Source IN ("+ints(f.SpectrumSource)+")")
	}
	if len(f.SpectrumSourceGroup) > 0 {
		c.spectrum = append(c.spectrum, "ssgl.Group_ IN ("+ints(f.SpectrumSourceGroup)+")")
	}
	if len(f.AminoAcidOffset) > 0 {
		c.other = append(c.other, f.offsetCondition())
	}
}

// WhereClause returns only the WHERE clause, for callers that join every
// table themselves under the aliases pro, pi, pep, psm, pm, s, ssgl and dm.
func (f *DataFilter) WhereClause() string {
	var c conditions
	if len(f.Cluster) > 0 {
		c.cluster = append(c.cluster, "pro.Cluster IN ("+ints(f.Cluster)+")")
	}
	if len(f.ProteinGroup) > 0 {
		c.protein = append(c.protein, "pro.ProteinGroup IN ("+ints(f.ProteinGroup)+")")
	}
	if len(f.Protein) > 0 {
		c.protein = append(c.protein, "pi.Protein IN ("+ints(f.Protein)+")")
	}
	if len(f.PeptideGroup) > 0 {
		c.peptide = append(c.peptide, "pep.PeptideGroup IN ("+ints(f.PeptideGroup)+")")
	}
	if len(f.Peptide) > 0 {
		c.peptide = append(c.peptide, "pi.Peptide IN ("+ints(f.Peptide)+")")
	}
	if len(f.DistinctMatchKey) > 0 {
		c.peptide = append(c.peptide, "IFNULL(dm.DistinctMatchKey, "+f.DistinctMatchFormat.SQLExpression()+") IN ("+quoted(f.DistinctMatchKey)+")")
	}
	f.addMatchConditions(&c)
	if f.Composition != "" {
		c.other = append(c.other, f.compositionCondition("pi.Peptide"))
	}
	return c.String()
}
