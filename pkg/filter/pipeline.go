package filter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ChrisMcGann/idpdb/pkg/core"
	"github.com/ChrisMcGann/idpdb/pkg/logging"
	"github.com/ChrisMcGann/idpdb/pkg/store"
)

// TotalSteps is the number of progress reports of a filter pass.
const TotalSteps = 16

var errCancelled = errors.New("filter cancelled")

// StepError identifies the pipeline step that failed.
type StepError struct {
	Step  int
	Stage string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("filter step %d (%s): %v", e.Step, e.Stage, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// StepTiming records one completed step.
type StepTiming struct {
	Step     int
	Stage    string
	Duration time.Duration
	Skipped  bool
}

// Report describes a finished (or cancelled) filter pass.
type Report struct {
	RunID     string
	Steps     []StepTiming
	Cancelled bool
	Duration  time.Duration

	// row counts of the live tables after the pass
	Proteins         int64
	ProteinGroups    int64
	Clusters         int64
	Peptides         int64
	PeptideInstances int64
	Matches          int64
	DistinctMatches  int64
	Spectra          int64
}

type options struct {
	progress core.ProgressFunc
	logger   *logging.Logger
}

// Option configures Apply.
type Option func(*options)

// WithProgress sets the callback invoked before every step; returning true cancels the pass.
func WithProgress(fn core.ProgressFunc) Option { return func(o *options) { o.progress = fn } }

// WithLogger sets the logger for step timings.
func WithLogger(l *logging.Logger) Option { return func(o *options) { o.logger = l } }

// DropFilters restores the unfiltered tables of a previously filtered database.
func DropFilters(ctx context.Context, q store.Querier) error {
	return store.RunInTx(ctx, q, func(tx store.Querier) error {
		return store.DropFilters(ctx, tx)
	})
}

// Apply runs the filter pipeline in one transaction. If q is already a
// transaction it is used and left open; otherwise one is begun and committed.
//
// When the progress callback asks to stop, Apply returns a report with
// Cancelled set and a nil error. A transaction opened by Apply is rolled back;
// a caller's transaction holds the partial pass and should be rolled back by
// the caller.
func (f *DataFilter) Apply(ctx context.Context, q store.Querier, opts ...Option) (*Report, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	report := &Report{RunID: uuid.NewString()}
	logger := logging.OrNop(o.logger).WithRun(report.RunID)
	logger.Info("applying filter", "filter", f.String())
	start := time.Now()

	err := store.RunInTx(ctx, q, func(tx store.Querier) error {
		p := &pass{f: f, q: tx, progress: o.progress, logger: logger, report: report}
		return p.run(ctx)
	})
	report.Duration = time.Since(start)
	if errors.Is(err, errCancelled) {
		report.Cancelled = true
		logger.Info("filter cancelled", "completed_steps", len(report.Steps))
		return report, nil
	}
	if err != nil {
		logger.Error("filter failed", "error", err)
		return report, err
	}

	if err := report.count(ctx, q); err != nil {
		return report, err
	}
	logger.Info("filter applied",
		"duration", report.Duration,
		"proteins", report.Proteins,
		"protein_groups", report.ProteinGroups,
		"peptides", report.Peptides,
		"matches", report.Matches)
	return report, nil
}

func (r *Report) count(ctx context.Context, q store.Querier) error {
	counts := []struct {
		query string
		dst   *int64
	}{
		{"SELECT COUNT(*) FROM Protein", &r.Proteins},
		{"SELECT COUNT(DISTINCT ProteinGroup) FROM Protein", &r.ProteinGroups},
		{"SELECT COUNT(DISTINCT Cluster) FROM Protein", &r.Clusters},
		{"SELECT COUNT(*) FROM Peptide", &r.Peptides},
		{"SELECT COUNT(*) FROM PeptideInstance", &r.PeptideInstances},
		{"SELECT COUNT(*) FROM PeptideSpectrumMatch", &r.Matches},
		{"SELECT COUNT(DISTINCT DistinctMatchKey) FROM DistinctMatch", &r.DistinctMatches},
		{"SELECT COUNT(DISTINCT Spectrum) FROM PeptideSpectrumMatch", &r.Spectra},
	}
	for _, c := range counts {
		if err := q.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return fmt.Errorf("failed to count filtered rows: %w", err)
		}
	}
	return nil
}

type pass struct {
	f        *DataFilter
	q        store.Querier
	progress core.ProgressFunc
	logger   *logging.Logger
	report   *Report
	step     int
}

// do reports the next step and runs fn; a nil fn marks the step skipped
func (p *pass) do(ctx context.Context, stage string, fn func(context.Context) error) error {
	p.step++
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.progress.Report(core.Progress{Stage: stage, Completed: p.step, Total: TotalSteps}) {
		return errCancelled
	}

	start := time.Now()
	if fn != nil {
		if err := fn(ctx); err != nil {
			p.progress.Report(core.Progress{Stage: stage, Completed: p.step, Total: TotalSteps, Err: err})
			return &StepError{Step: p.step, Stage: stage, Err: err}
		}
	}
	timing := StepTiming{Step: p.step, Stage: stage, Duration: time.Since(start), Skipped: fn == nil}
	p.report.Steps = append(p.report.Steps, timing)
	p.logger.Debug("filter step", "step", timing.Step, "stage", stage, "duration", timing.Duration, "skipped", timing.Skipped)
	return nil
}

func (p *pass) when(cond bool, fn func(context.Context) error) func(context.Context) error {
	if cond {
		return fn
	}
	return nil
}

func (p *pass) run(ctx context.Context) error {
	f := p.f
	steps := []struct {
		stage string
		fn    func(context.Context) error
	}{
		{"Dropping current filters...", func(ctx context.Context) error { return store.DropFilters(ctx, p.q) }},
		{"Filtering proteins...", p.filterProteins},
		{"Filtering peptide spectrum matches...", p.filterMatches},
		{"Filtering distinct matches...", p.when(f.MinimumSpectraPerDistinctMatch > 1, p.filterDistinctMatches)},
		{"Filtering peptides...", p.filterPeptides},
		{"Removing orphaned matches...", p.when(f.MinimumSpectraPerDistinctMatch > 1 || f.MinimumSpectraPerDistinctPeptide > 1, p.removeOrphanedMatches)},
		{"Filtering peptide instances...", p.filterInstances},
		{"Promoting filtered tables...", func(ctx context.Context) error { return store.PromoteFiltered(ctx, p.q) }},
		{"Assembling protein groups...", func(ctx context.Context) error { return assembleProteinGroups(ctx, p.q) }},
		{"Filtering by protein groups per peptide...", p.when(f.MaximumProteinGroupsPerPeptide > 0, p.filterProteinGroupsPerPeptide)},
		{"Filtering by additional peptides...", p.when(f.MinimumAdditionalPeptidesPerProtein > 0, func(ctx context.Context) error {
			return applyAdditionalPeptides(ctx, p.q, f.MinimumAdditionalPeptidesPerProtein)
		})},
		{"Calculating protein clusters...", func(ctx context.Context) error { return f.assembleClusters(ctx, p.q) }},
		{"Calculating protein coverage...", func(ctx context.Context) error { return assembleCoverage(ctx, p.q) }},
		{"Assembling distinct matches...", func(ctx context.Context) error { return assembleDistinctMatches(ctx, p.q, f.DistinctMatchFormat) }},
		{"Assembling protein and peptide groups...", func(ctx context.Context) error {
			if err := assembleProteinGroups(ctx, p.q); err != nil {
				return err
			}
			return assemblePeptideGroups(ctx, p.q)
		}},
		{"Saving filter...", func(ctx context.Context) error { return SaveFilter(ctx, p.q, f) }},
	}

	for _, s := range steps {
		if err := p.do(ctx, s.stage, s.fn); err != nil {
			return err
		}
	}
	return nil
}

func execAll(ctx context.Context, q store.Querier, statements ...string) error {
	for _, s := range statements {
		if _, err := q.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("failed to execute %.60q: %w", s, err)
		}
	}
	return nil
}

func (p *pass) filterProteins(ctx context.Context) error {
	if err := execAll(ctx, p.q,
		"CREATE TABLE FilteredProtein (Id INTEGER PRIMARY KEY, Accession TEXT, IsDecoy INT, Cluster INT, ProteinGroup INT, Length INT)"); err != nil {
		return err
	}
	_, err := p.q.ExecContext(ctx, `INSERT INTO FilteredProtein (Id, Accession, IsDecoy, Cluster, ProteinGroup, Length)
	                                SELECT pro.Id, pro.Accession, pro.IsDecoy, pro.Cluster, pro.ProteinGroup, pro.Length
	                                FROM PeptideSpectrumMatch psm
	                                JOIN PeptideInstance pi ON psm.Peptide = pi.Peptide
	                                JOIN Protein pro ON pi.Protein = pro.Id
	                                JOIN Spectrum s ON psm.Spectrum = s.Id
	                                JOIN SpectrumSource ss ON s.Source = ss.Id
	                                WHERE ss.Group_ AND psm.QValue <= ? AND psm.Rank = 1
	                                GROUP BY pi.Protein
	                                HAVING COUNT(DISTINCT psm.Peptide) >= ? AND COUNT(DISTINCT psm.Spectrum) >= ?`,
		p.f.MaximumQValue, p.f.MinimumDistinctPeptidesPerProtein, p.f.MinimumSpectraPerProtein)
	if err != nil {
		return fmt.Errorf("failed to filter proteins: %w", err)
	}
	return execAll(ctx, p.q, "CREATE UNIQUE INDEX FilteredProtein_Accession ON FilteredProtein (Accession)")
}

func (p *pass) filterMatches(ctx context.Context) error {
	if err := execAll(ctx, p.q, `CREATE TABLE FilteredPeptideSpectrumMatch (Id INTEGER PRIMARY KEY, Spectrum INT, Analysis INT, Peptide INT, QValue NUMERIC,
	                                 ObservedNeutralMass NUMERIC, MonoisotopicMassError NUMERIC, MolecularWeightError NUMERIC, Rank INT, Charge INT)`); err != nil {
		return err
	}
	_, err := p.q.ExecContext(ctx, `INSERT INTO FilteredPeptideSpectrumMatch
	                                SELECT psm.Id, psm.Spectrum, psm.Analysis, psm.Peptide, psm.QValue, psm.ObservedNeutralMass,
	                                       psm.MonoisotopicMassError, psm.MolecularWeightError, psm.Rank, psm.Charge
	                                FROM FilteredProtein pro
	                                JOIN PeptideInstance pi ON pro.Id = pi.Protein
	                                JOIN PeptideSpectrumMatch psm ON pi.Peptide = psm.Peptide
	                                JOIN Spectrum s ON psm.Spectrum = s.Id
	                                JOIN SpectrumSource ss ON s.Source = ss.Id
	                                WHERE ss.Group_ AND psm.QValue <= ? AND psm.Rank = 1
	                                GROUP BY psm.Id`, p.f.MaximumQValue)
	if err != nil {
		return fmt.Errorf("failed to filter matches: %w", err)
	}
	return execAll(ctx, p.q,
		"CREATE INDEX FilteredPeptideSpectrumMatch_PeptideSpectrumAnalysis ON FilteredPeptideSpectrumMatch (Peptide, Spectrum, Analysis)",
		"CREATE INDEX FilteredPeptideSpectrumMatch_AnalysisSpectrumPeptide ON FilteredPeptideSpectrumMatch (Analysis, Spectrum, Peptide)",
		"CREATE INDEX FilteredPeptideSpectrumMatch_SpectrumPeptideAnalysis ON FilteredPeptideSpectrumMatch (Spectrum, Peptide, Analysis)")
}

// filterDistinctMatches removes matches whose distinct match has too few spectra
func (p *pass) filterDistinctMatches(ctx context.Context) error {
	expr := p.f.DistinctMatchFormat.SQLExpression()
	if err := execAll(ctx, p.q,
		"CREATE TEMP TABLE FilteredDistinctMatch AS SELECT psm.Id AS PsmId, psm.Spectrum AS Spectrum, "+expr+" AS DistinctMatchKey FROM FilteredPeptideSpectrumMatch psm"); err != nil {
		return err
	}
	_, err := p.q.ExecContext(ctx, `DELETE FROM FilteredPeptideSpectrumMatch
	                                WHERE Id IN (SELECT PsmId FROM temp.FilteredDistinctMatch
	                                             WHERE DistinctMatchKey IN (SELECT DistinctMatchKey
	                                                                        FROM temp.FilteredDistinctMatch
	                                                                        GROUP BY DistinctMatchKey
	                                                                        HAVING COUNT(DISTINCT Spectrum) < ?))`,
		p.f.MinimumSpectraPerDistinctMatch)
	if err != nil {
		return fmt.Errorf("failed to filter distinct matches: %w", err)
	}
	return execAll(ctx, p.q, "DROP TABLE temp.FilteredDistinctMatch")
}

func (p *pass) filterPeptides(ctx context.Context) error {
	if err := execAll(ctx, p.q,
		"CREATE TABLE FilteredPeptide (Id INTEGER PRIMARY KEY, MonoisotopicMass NUMERIC, MolecularWeight NUMERIC, PeptideGroup INT, DecoySequence TEXT)"); err != nil {
		return err
	}
	query := `INSERT INTO FilteredPeptide
	          SELECT pep.Id, pep.MonoisotopicMass, pep.MolecularWeight, pep.PeptideGroup, pep.DecoySequence
	          FROM FilteredPeptideSpectrumMatch psm
	          JOIN Peptide pep ON psm.Peptide = pep.Id
	          GROUP BY pep.Id`
	var args []any
	if p.f.MinimumSpectraPerDistinctPeptide > 1 {
		query += " HAVING COUNT(DISTINCT psm.Spectrum) >= ?"
		args = append(args, p.f.MinimumSpectraPerDistinctPeptide)
	}
	if _, err := p.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to filter peptides: %w", err)
	}
	return nil
}

func (p *pass) removeOrphanedMatches(ctx context.Context) error {
	return execAll(ctx, p.q, "DELETE FROM FilteredPeptideSpectrumMatch WHERE Peptide NOT IN (SELECT Id FROM FilteredPeptide)")
}

func (p *pass) filterInstances(ctx context.Context) error {
	return execAll(ctx, p.q,
		`CREATE TABLE FilteredPeptideInstance (Id INTEGER PRIMARY KEY, Protein INT, Peptide INT, Offset INT, Length INT,
		                                       NTerminusIsSpecific INT, CTerminusIsSpecific INT, MissedCleavages INT)`,
		`INSERT INTO FilteredPeptideInstance
		 SELECT pi.Id, pi.Protein, pi.Peptide, pi.Offset, pi.Length, pi.NTerminusIsSpecific, pi.CTerminusIsSpecific, pi.MissedCleavages
		 FROM FilteredPeptide pep
		 JOIN PeptideInstance pi ON pep.Id = pi.Peptide
		 JOIN FilteredProtein pro ON pi.Protein = pro.Id`,
		"CREATE INDEX FilteredPeptideInstance_Protein ON FilteredPeptideInstance (Protein)",
		"CREATE INDEX FilteredPeptideInstance_Peptide ON FilteredPeptideInstance (Peptide)",
		"CREATE INDEX FilteredPeptideInstance_PeptideProtein ON FilteredPeptideInstance (Peptide, Protein)",
		"CREATE INDEX FilteredPeptideInstance_ProteinOffsetLength ON FilteredPeptideInstance (Protein, Offset, Length)",
		"DELETE FROM FilteredProtein WHERE Id NOT IN (SELECT Protein FROM FilteredPeptideInstance)")
}

// filterProteinGroupsPerPeptide drops peptides claimed by too many protein
// groups, the rows left orphaned by that, and regroups the remaining proteins
func (p *pass) filterProteinGroupsPerPeptide(ctx context.Context) error {
	_, err := p.q.ExecContext(ctx, `DELETE FROM Peptide WHERE Id IN (SELECT pi.Peptide
	                                                                 FROM Protein pro
	                                                                 JOIN PeptideInstance pi ON pro.Id = pi.Protein
	                                                                 GROUP BY pi.Peptide
	                                                                 HAVING COUNT(DISTINCT pro.ProteinGroup) > ?)`,
		p.f.MaximumProteinGroupsPerPeptide)
	if err != nil {
		return fmt.Errorf("failed to filter peptides by protein groups: %w", err)
	}
	if err := deleteOrphans(ctx, p.q); err != nil {
		return err
	}
	return assembleProteinGroups(ctx, p.q)
}

// deleteOrphans removes instances, proteins and matches left without a parent
func deleteOrphans(ctx context.Context, q store.Querier) error {
	return execAll(ctx, q,
		"DELETE FROM PeptideInstance WHERE Peptide NOT IN (SELECT Id FROM Peptide) OR Protein NOT IN (SELECT Id FROM Protein)",
		"DELETE FROM Peptide WHERE Id NOT IN (SELECT Peptide FROM PeptideInstance)",
		"DELETE FROM Protein WHERE Id NOT IN (SELECT Protein FROM PeptideInstance)",
		"DELETE FROM PeptideSpectrumMatch WHERE Peptide NOT IN (SELECT Id FROM Peptide)")
}
