// Package stats summarizes the contents of an idpDB, optionally restricted
// to the rows selected by a filter's inclusion lists.
package stats

import (
	"context"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ChrisMcGann/idpdb/pkg/filter"
	"github.com/ChrisMcGann/idpdb/pkg/store"
)

// Distribution describes a sample of values.
type Distribution struct {
	N      int
	Mean   float64
	StdDev float64 // sample standard deviation; 0 for fewer than two values
	Median float64
	Min    float64
	Max    float64
}

// Describe computes the distribution of values.
func Describe(values []float64) Distribution {
	d := Distribution{N: len(values)}
	if d.N == 0 {
		return d
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)
	d.Mean, d.StdDev = stat.MeanStdDev(sorted, nil)
	if d.N < 2 {
		d.StdDev = 0
	}
	d.Median = (sorted[(d.N-1)/2] + sorted[d.N/2]) / 2
	d.Min = floats.Min(sorted)
	d.Max = floats.Max(sorted)
	return d
}

// Summary holds the counts of a database.
type Summary struct {
	Proteins        int64
	DecoyProteins   int64
	ProteinGroups   int64
	Clusters        int64
	Peptides        int64
	DistinctMatches int64
	Matches         int64
	Spectra         int64

	Coverage           Distribution // percent coverage of proteins with a coverage row
	PeptidesPerProtein Distribution
	SpectraPerPeptide  Distribution
}

// Summarize counts the live tables. A nil filter, or one without inclusion
// lists, counts everything; thresholds are not applied here.
func Summarize(ctx context.Context, q store.Querier, f *filter.DataFilter) (*Summary, error) {
	if f == nil {
		f = &filter.DataFilter{}
	}
	proteins := f.QueryString(filter.FromProtein)
	peptides := f.QueryString(filter.FromPeptide)
	matches := f.QueryString(filter.FromPeptideSpectrumMatch)

	hasDistinct, err := store.TableExists(ctx, q, "main", "DistinctMatch")
	if err != nil {
		return nil, err
	}
	distinctKey := f.DistinctMatchFormat.SQLExpression()
	distinct := matches
	if hasDistinct {
		distinctKey = "IFNULL(dm.DistinctMatchKey, " + distinctKey + ")"
		distinct = f.QueryString(filter.FromPeptideSpectrumMatch, filter.PeptideSpectrumMatchToDistinctMatch)
	}

	s := &Summary{}
	for _, c := range []struct {
		dst   *int64
		query string
	}{
		{&s.Proteins, "SELECT COUNT(DISTINCT pro.Id)" + proteins},
		{&s.DecoyProteins, "SELECT COUNT(DISTINCT CASE WHEN pro.IsDecoy THEN pro.Id END)" + proteins},
		{&s.ProteinGroups, "SELECT COUNT(DISTINCT pro.ProteinGroup)" + proteins},
		{&s.Clusters, "SELECT COUNT(DISTINCT pro.Cluster)" + proteins},
		{&s.Peptides, "SELECT COUNT(DISTINCT pep.Id)" + peptides},
		{&s.DistinctMatches, "SELECT COUNT(DISTINCT " + distinctKey + ")" + distinct},
		{&s.Matches, "SELECT COUNT(DISTINCT psm.Id)" + matches},
		{&s.Spectra, "SELECT COUNT(DISTINCT psm.Spectrum)" + matches},
	} {
		if err := q.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to count: %w", err)
		}
	}

	hasCoverage, err := store.TableExists(ctx, q, "main", "ProteinCoverage")
	if err != nil {
		return nil, err
	}
	if hasCoverage {
		values, err := floatColumn(ctx, q, "SELECT Coverage FROM ProteinCoverage WHERE Id IN (SELECT DISTINCT pro.Id"+proteins+")")
		if err != nil {
			return nil, err
		}
		s.Coverage = Describe(values)
	}

	values, err := floatColumn(ctx, q, "SELECT COUNT(DISTINCT pi.Peptide)"+
		f.QueryString(filter.FromProtein, filter.ProteinToPeptideInstance)+"GROUP BY pro.Id")
	if err != nil {
		return nil, err
	}
	s.PeptidesPerProtein = Describe(values)

	values, err = floatColumn(ctx, q, "SELECT COUNT(DISTINCT psm.Spectrum)"+matches+"GROUP BY psm.Peptide")
	if err != nil {
		return nil, err
	}
	s.SpectraPerPeptide = Describe(values)

	return s, nil
}

func floatColumn(ctx context.Context, q store.Querier, query string) ([]float64, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query distribution: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan distribution: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}
