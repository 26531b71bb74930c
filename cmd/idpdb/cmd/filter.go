package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/idpdb/pkg/core"
	"github.com/ChrisMcGann/idpdb/pkg/filter"
	"github.com/ChrisMcGann/idpdb/pkg/runner"
)

var (
	maxQValue             float64
	minDistinctPeptides   int
	minSpectra            int
	minAdditionalPeptides int
	minSpectraPerMatch    int
	minSpectraPerPeptide  int
	maxGroupsPerPeptide   int
	forceFilter           bool
)

var filterCmd = &cobra.Command{
	Use:   "filter <database>",
	Short: "Filter an idpDB and assemble protein groups",
	Long: `Filter an idpDB with the configured thresholds; flags override the
config file. A database already filtered with the same thresholds is left
untouched unless --force is given. Ctrl-C stops the pass at the next step
and leaves the database as it was.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return filterDatabase(cmd, args[0])
	},
}

func init() {
	d := filter.Default()
	filterCmd.Flags().Float64Var(&maxQValue, "max-qvalue", d.MaximumQValue, "Maximum PSM q-value")
	filterCmd.Flags().IntVar(&minDistinctPeptides, "min-distinct-peptides", d.MinimumDistinctPeptidesPerProtein, "Minimum distinct peptides per protein")
	filterCmd.Flags().IntVar(&minSpectra, "min-spectra", d.MinimumSpectraPerProtein, "Minimum spectra per protein")
	filterCmd.Flags().IntVar(&minAdditionalPeptides, "min-additional-peptides", d.MinimumAdditionalPeptidesPerProtein, "Minimum additional peptides per protein group (0 = off)")
	filterCmd.Flags().IntVar(&minSpectraPerMatch, "min-spectra-per-match", d.MinimumSpectraPerDistinctMatch, "Minimum spectra per distinct match")
	filterCmd.Flags().IntVar(&minSpectraPerPeptide, "min-spectra-per-peptide", d.MinimumSpectraPerDistinctPeptide, "Minimum spectra per distinct peptide")
	filterCmd.Flags().IntVar(&maxGroupsPerPeptide, "max-groups-per-peptide", d.MaximumProteinGroupsPerPeptide, "Maximum protein groups per peptide (0 = off)")
	filterCmd.Flags().BoolVar(&forceFilter, "force", false, "Filter even if the thresholds are unchanged")
}

// filterFromFlags returns the configured filter with changed flags applied
func filterFromFlags(cmd *cobra.Command) *filter.DataFilter {
	f := cfg.Filter.Clone()
	flags := cmd.Flags()
	if flags.Changed("max-qvalue") {
		f.MaximumQValue = maxQValue
	}
	if flags.Changed("min-distinct-peptides") {
		f.MinimumDistinctPeptidesPerProtein = minDistinctPeptides
	}
	if flags.Changed("min-spectra") {
		f.MinimumSpectraPerProtein = minSpectra
	}
	if flags.Changed("min-additional-peptides") {
		f.MinimumAdditionalPeptidesPerProtein = minAdditionalPeptides
	}
	if flags.Changed("min-spectra-per-match") {
		f.MinimumSpectraPerDistinctMatch = minSpectraPerMatch
	}
	if flags.Changed("min-spectra-per-peptide") {
		f.MinimumSpectraPerDistinctPeptide = minSpectraPerPeptide
	}
	if flags.Changed("max-groups-per-peptide") {
		f.MaximumProteinGroupsPerPeptide = maxGroupsPerPeptide
	}
	return f
}

func filterDatabase(cmd *cobra.Command, path string) error {
	f := filterFromFlags(cmd)

	s, err := openDatabase(path)
	if err != nil {
		return err
	}
	defer s.Close()

	if !forceFilter {
		needed, err := filter.NeedsRefilter(cmd.Context(), s, f)
		if err != nil {
			return err
		}
		if !needed {
			fmt.Printf("%s is already filtered with %s\n", path, f)
			return nil
		}
	}

	interrupt, stop := interruptContext()
	defer stop()

	var report *filter.Report
	job := runner.Start(cmd.Context(), func(ctx context.Context, progress core.ProgressFunc) error {
		var err error
		report, err = f.Apply(ctx, s, filter.WithProgress(progress), filter.WithLogger(logger))
		return err
	})
	go func() {
		<-interrupt.Done()
		job.Cancel()
	}()

	for p := range job.Progress() {
		if p.Err == nil {
			fmt.Printf("[%2d/%d] %s\n", p.Completed, p.Total, p.Stage)
		}
	}
	if err := job.Wait(); err != nil {
		return fmt.Errorf("failed to filter %s: %w", path, err)
	}

	if report.Cancelled {
		fmt.Printf("\nFiltering cancelled; %s is unchanged\n", path)
		return nil
	}

	fmt.Printf("\nFiltering complete in %s\n", report.Duration.Round(time.Millisecond))
	fmt.Printf("Proteins:         %d (%d groups, %d clusters)\n", report.Proteins, report.ProteinGroups, report.Clusters)
	fmt.Printf("Peptides:         %d\n", report.Peptides)
	fmt.Printf("Distinct matches: %d\n", report.DistinctMatches)
	fmt.Printf("Spectra:          %d (%d matches)\n", report.Spectra, report.Matches)
	return nil
}
