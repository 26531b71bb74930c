package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/idpdb/pkg/core"
	"github.com/ChrisMcGann/idpdb/pkg/reader/fasta"
	"github.com/ChrisMcGann/idpdb/pkg/reader/idtsv"
	"github.com/ChrisMcGann/idpdb/pkg/writer/idpdb"
)

var (
	fastaFile   string
	inputFile   string
	outputFile  string
	decoyPrefix string
	modsFile    string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import search results into an idpDB",
	Long: `Import tab-separated identifications into a new or existing idpDB.

The FASTA file is written first; every peptide is mapped onto its proteins
and peptides occurring in no protein are skipped.`,
	Example: `  idpdb import --fasta human.fasta --in run1.tsv --out run1.idpDB
  idpdb import --fasta human.fasta --in run1.tsv --out run1.idpDB --mods unimod_custom.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return importResults()
	},
}

func init() {
	importCmd.Flags().StringVar(&fastaFile, "fasta", "", "Protein database (FASTA)")
	importCmd.Flags().StringVarP(&inputFile, "in", "i", "", "Identifications (TSV)")
	importCmd.Flags().StringVarP(&outputFile, "out", "o", "", "Output idpDB file")
	importCmd.Flags().StringVar(&decoyPrefix, "decoy-prefix", "rev_", "Accession prefix of decoy proteins")
	importCmd.Flags().StringVar(&modsFile, "mods", "", "Custom modifications CSV (name,mono[,avg[,formula]])")

	importCmd.MarkFlagRequired("fasta")
	importCmd.MarkFlagRequired("in")
	importCmd.MarkFlagRequired("out")
}

func importResults() error {
	modDB := core.DefaultModDatabase()
	if modsFile != "" {
		f, err := os.Open(modsFile)
		if err != nil {
			return fmt.Errorf("failed to open modifications file: %w", err)
		}
		err = modDB.LoadFromCSV(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", modsFile, err)
		}
	}

	proteinFile, err := os.Open(fastaFile)
	if err != nil {
		return fmt.Errorf("failed to open FASTA file: %w", err)
	}
	defer proteinFile.Close()

	inFile, err := os.Open(inputFile)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer inFile.Close()

	writer, err := idpdb.NewWriter(outputFile, cfg.StoreOptions(logger)...)
	if err != nil {
		return fmt.Errorf("failed to create output database: %w", err)
	}

	proteins, err := writer.ImportProteins(fasta.NewReader(proteinFile, decoyPrefix))
	if err != nil {
		writer.Abort()
		return err
	}
	fmt.Printf("Loaded %d proteins\n", proteins)

	stats, err := writer.ImportMatches(idtsv.NewReader(inFile, modDB), func(records int) {
		if records%1000 == 0 {
			fmt.Printf("Processed %d records...\n", records)
		}
	})
	if err != nil {
		writer.Abort()
		return fmt.Errorf("error reading input file: %w", err)
	}

	if err := writer.Finalize(); err != nil {
		return fmt.Errorf("failed to finalize database: %w", err)
	}

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Processed: %d records\n", stats.Records)
	fmt.Printf("Matches:   %d\n", stats.Matches)
	if stats.Unmapped > 0 {
		fmt.Printf("Skipped:   %d records (peptide not found in any protein)\n", stats.Unmapped)
	}
	if stats.UnknownAccessions > 0 {
		fmt.Printf("Warning:   %d records list accessions missing from %s\n", stats.UnknownAccessions, fastaFile)
	}
	fmt.Printf("Output: %s\n", outputFile)

	return nil
}
