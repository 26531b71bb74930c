package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/idpdb/pkg/filter"
	"github.com/ChrisMcGann/idpdb/pkg/stats"
)

var (
	summaryClusters []int64
	summaryGroups   []int64
	summaryProteins []int64
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize <database>",
	Short: "Print counts and distributions of an idpDB",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return summarize(cmd, args[0])
	},
}

func init() {
	summarizeCmd.Flags().Int64SliceVar(&summaryClusters, "cluster", nil, "Restrict to these clusters")
	summarizeCmd.Flags().Int64SliceVar(&summaryGroups, "protein-group", nil, "Restrict to these protein groups")
	summarizeCmd.Flags().Int64SliceVar(&summaryProteins, "protein", nil, "Restrict to these proteins")
}

func summarize(cmd *cobra.Command, path string) error {
	s, err := openDatabase(path)
	if err != nil {
		return err
	}
	defer s.Close()

	f := &filter.DataFilter{
		Cluster:             summaryClusters,
		ProteinGroup:        summaryGroups,
		Protein:             summaryProteins,
		DistinctMatchFormat: cfg.Filter.DistinctMatchFormat,
	}
	if saved, ok := filter.LoadFilter(cmd.Context(), s); ok {
		f.DistinctMatchFormat = saved.DistinctMatchFormat
	}

	sum, err := stats.Summarize(cmd.Context(), s, f)
	if err != nil {
		return err
	}

	fmt.Printf("%s\n\n", path)
	fmt.Printf("Proteins:         %s (%s decoys)\n", humanize.Comma(sum.Proteins), humanize.Comma(sum.DecoyProteins))
	fmt.Printf("Protein groups:   %s\n", humanize.Comma(sum.ProteinGroups))
	fmt.Printf("Clusters:         %s\n", humanize.Comma(sum.Clusters))
	fmt.Printf("Peptides:         %s\n", humanize.Comma(sum.Peptides))
	fmt.Printf("Distinct matches: %s\n", humanize.Comma(sum.DistinctMatches))
	fmt.Printf("Spectra:          %s (%s matches)\n", humanize.Comma(sum.Spectra), humanize.Comma(sum.Matches))

	fmt.Println()
	printDistribution("Coverage (%)", sum.Coverage)
	printDistribution("Peptides/protein", sum.PeptidesPerProtein)
	printDistribution("Spectra/peptide", sum.SpectraPerPeptide)
	return nil
}

func printDistribution(name string, d stats.Distribution) {
	if d.N == 0 {
		fmt.Printf("%-17s n/a\n", name+":")
		return
	}
	fmt.Printf("%-17s mean %.2f  sd %.2f  median %.2f  range %.0f-%.0f\n",
		name+":", d.Mean, d.StdDev, d.Median, d.Min, d.Max)
}
