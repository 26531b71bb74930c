package filter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/ChrisMcGann/idpdb/pkg/assembly"
	"github.com/ChrisMcGann/idpdb/pkg/core"
	"github.com/ChrisMcGann/idpdb/pkg/store"
)

func loadPairs(ctx context.Context, q store.Querier, query string) ([]assembly.Pair, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pairs: %w", err)
	}
	defer rows.Close()

	var pairs []assembly.Pair
	for rows.Next() {
		var p assembly.Pair
		if err := rows.Scan(&p.Member, &p.Item); err != nil {
			return nil, fmt.Errorf("failed to scan pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// setColumn resets column to 0 for every row and then writes values by id
func setColumn(ctx context.Context, q store.Querier, table, column string, values map[int64]int64) error {
	if _, err := q.ExecContext(ctx, "UPDATE "+table+" SET "+column+" = 0"); err != nil {
		return fmt.Errorf("failed to reset %s.%s: %w", table, column, err)
	}
	stmt, err := q.PrepareContext(ctx, "UPDATE "+table+" SET "+column+" = ? WHERE Id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare %s.%s update: %w", table, column, err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, values[id], id); err != nil {
			return fmt.Errorf("failed to set %s.%s of %d: %w", table, column, id, err)
		}
	}
	return nil
}

// indexColumn creates the named index on a live table. Renamed tables keep
// their index names, so an index of that name still on a set-aside table is
// dropped and recreated on the live one.
func indexColumn(ctx context.Context, q store.Querier, name, table, column string) error {
	var owner string
	err := q.QueryRowContext(ctx, "SELECT tbl_name FROM sqlite_master WHERE type = 'index' AND name = ?", name).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to look up index %s: %w", name, err)
	case owner == table:
		return nil
	default:
		if _, err := q.ExecContext(ctx, "DROP INDEX "+name); err != nil {
			return fmt.Errorf("failed to drop index %s of %s: %w", name, owner, err)
		}
	}
	return execAll(ctx, q, fmt.Sprintf("CREATE INDEX %s ON %s (%s)", name, table, column))
}

// assembleProteinGroups numbers proteins by their distinct peptide sets;
// group ids follow accession order
func assembleProteinGroups(ctx context.Context, q store.Querier) error {
	pairs, err := loadPairs(ctx, q, `SELECT pi.Protein, pi.Peptide
	                                 FROM PeptideInstance pi
	                                 JOIN Protein pro ON pi.Protein = pro.Id
	                                 ORDER BY pro.Accession, pi.Peptide`)
	if err != nil {
		return err
	}
	if err := setColumn(ctx, q, "Protein", "ProteinGroup", assembly.GroupBySets(pairs)); err != nil {
		return err
	}
	return indexColumn(ctx, q, "Protein_ProteinGroup", "Protein", "ProteinGroup")
}

// assemblePeptideGroups numbers peptides by their distinct protein sets
func assemblePeptideGroups(ctx context.Context, q store.Querier) error {
	pairs, err := loadPairs(ctx, q, `SELECT pi.Peptide, pi.Protein
	                                 FROM PeptideInstance pi
	                                 ORDER BY pi.Peptide, pi.Protein`)
	if err != nil {
		return err
	}
	if err := setColumn(ctx, q, "Peptide", "PeptideGroup", assembly.GroupBySets(pairs)); err != nil {
		return err
	}
	return indexColumn(ctx, q, "Peptide_PeptideGroup", "Peptide", "PeptideGroup")
}

// applyAdditionalPeptides stores the additional peptide count of each protein
// in AdditionalMatches and removes proteins below minimum with their orphans
func applyAdditionalPeptides(ctx context.Context, q store.Querier, minimum int) error {
	rows, err := q.QueryContext(ctx, `SELECT DISTINCT pi.Protein, psm.Spectrum, psm.Peptide
	                                  FROM PeptideSpectrumMatch psm
	                                  JOIN PeptideInstance pi ON psm.Peptide = pi.Peptide`)
	if err != nil {
		return fmt.Errorf("failed to query matches: %w", err)
	}
	var matches []assembly.Match
	for rows.Next() {
		var m assembly.Match
		if err := rows.Scan(&m.Protein, &m.Spectrum, &m.Peptide); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	counts := assembly.AdditionalPeptides(matches)

	if err := execAll(ctx, q,
		"DROP TABLE IF EXISTS AdditionalMatches",
		"CREATE TABLE AdditionalMatches (ProteinId INTEGER PRIMARY KEY, AdditionalMatches INT)"); err != nil {
		return err
	}
	stmt, err := q.PrepareContext(ctx, "INSERT INTO AdditionalMatches (ProteinId, AdditionalMatches) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare additional matches insert: %w", err)
	}
	defer stmt.Close()

	proteins := make([]int64, 0, len(counts))
	for id := range counts {
		proteins = append(proteins, id)
	}
	slices.Sort(proteins)
	for _, id := range proteins {
		if _, err := stmt.ExecContext(ctx, id, counts[id]); err != nil {
			return fmt.Errorf("failed to insert additional matches of %d: %w", id, err)
		}
	}

	if _, err := q.ExecContext(ctx,
		"DELETE FROM Protein WHERE Id IN (SELECT ProteinId FROM AdditionalMatches WHERE AdditionalMatches < ?)", minimum); err != nil {
		return fmt.Errorf("failed to filter by additional peptides: %w", err)
	}
	return execAll(ctx, q,
		"DELETE FROM PeptideInstance WHERE Protein NOT IN (SELECT Id FROM Protein)",
		"DELETE FROM Peptide WHERE Id NOT IN (SELECT Peptide FROM PeptideInstance)",
		"DELETE FROM PeptideSpectrumMatch WHERE Peptide NOT IN (SELECT Id FROM Peptide)")
}

// assembleClusters numbers connected components of the protein-spectrum graph.
// A filter with inclusion lists clusters over the matches it selects.
func (f *DataFilter) assembleClusters(ctx context.Context, q store.Querier) error {
	query := `SELECT DISTINCT pi.Protein, psm.Spectrum
	          FROM PeptideInstance pi
	          JOIN PeptideSpectrumMatch psm ON pi.Peptide = psm.Peptide`
	if !f.IsBasicFilter() {
		query = "SELECT DISTINCT pi.Protein, psm.Spectrum" + f.QueryString(FromProtein, ProteinToPeptideSpectrumMatch)
	}
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query protein-spectrum edges: %w", err)
	}
	var edges []assembly.Edge
	for rows.Next() {
		var e assembly.Edge
		if err := rows.Scan(&e.Protein, &e.Spectrum); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if err := setColumn(ctx, q, "Protein", "Cluster", assembly.Clusters(edges)); err != nil {
		return err
	}
	return indexColumn(ctx, q, "Protein_Cluster", "Protein", "Cluster")
}

// assembleCoverage recomputes ProteinCoverage for proteins with a stored sequence
func assembleCoverage(ctx context.Context, q store.Querier) error {
	if err := execAll(ctx, q, "DELETE FROM ProteinCoverage"); err != nil {
		return err
	}

	rows, err := q.QueryContext(ctx, `SELECT pi.Protein, pro.Length, pi.Offset, pi.Length
	                                  FROM PeptideInstance pi
	                                  JOIN Protein pro ON pi.Protein = pro.Id
	                                  JOIN ProteinData pd ON pi.Protein = pd.Id
	                                  ORDER BY pi.Protein`)
	if err != nil {
		return fmt.Errorf("failed to query peptide instances: %w", err)
	}

	var coverage []core.ProteinCoverage
	acc := assembly.NewCoverageAccumulator(func(pc core.ProteinCoverage) error {
		coverage = append(coverage, pc)
		return nil
	})
	for rows.Next() {
		var (
			protein                       int64
			proteinLength, offset, length int
		)
		if err := rows.Scan(&protein, &proteinLength, &offset, &length); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan peptide instance: %w", err)
		}
		if err := acc.Add(protein, proteinLength, offset, length); err != nil {
			rows.Close()
			return err
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if err := acc.Close(); err != nil {
		return err
	}

	stmt, err := q.PrepareContext(ctx, "INSERT INTO ProteinCoverage (Id, Coverage, CoverageMask) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare coverage insert: %w", err)
	}
	defer stmt.Close()
	for _, pc := range coverage {
		if _, err := stmt.ExecContext(ctx, pc.ID, pc.Coverage, core.EncodeCoverageMask(pc.CoverageMask)); err != nil {
			return fmt.Errorf("failed to insert coverage of %d: %w", pc.ID, err)
		}
	}
	return nil
}

// assembleDistinctMatches stores the distinct match key of every live match
func assembleDistinctMatches(ctx context.Context, q store.Querier, format core.DistinctMatchFormat) error {
	return execAll(ctx, q,
		"DROP TABLE IF EXISTS DistinctMatch",
		"CREATE TABLE DistinctMatch (PsmId INTEGER PRIMARY KEY, DistinctMatchKey TEXT)",
		"INSERT INTO DistinctMatch (PsmId, DistinctMatchKey) SELECT psm.Id, "+format.SQLExpression()+" FROM PeptideSpectrumMatch psm",
		"CREATE INDEX IF NOT EXISTS DistinctMatch_Key ON DistinctMatch (DistinctMatchKey)")
}
