package cmd

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/idpdb/pkg/config"
	"github.com/ChrisMcGann/idpdb/pkg/core"
	"github.com/ChrisMcGann/idpdb/pkg/merge"
)

var (
	mergeOutput     string
	continueOnError bool
)

var mergeCmd = &cobra.Command{
	Use:   "merge <source>...",
	Short: "Merge idpDB files into one",
	Long: `Merge idpDB files into one database, creating it if needed.

Sources already merged into the output are skipped. Each source is merged in
its own transaction; Ctrl-C stops before the next source and keeps what was
merged so far. Filters are dropped from the output and every source, so
filter the merged database afterwards.`,
	Example: `  idpdb merge --out all.idpDB run1.idpDB run2.idpDB run3.idpDB`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mergeDatabases(cmd, args)
	},
}

func init() {
	mergeCmd.Flags().StringVarP(&mergeOutput, "out", "o", "", "Merged idpDB file (required)")
	mergeCmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "Keep merging when a source fails")

	mergeCmd.MarkFlagRequired("out")
}

func mergeDatabases(cmd *cobra.Command, sources []string) error {
	interrupt, stop := interruptContext()
	defer stop()

	cfg.Overlay(&config.Config{Merge: config.MergeConfig{ContinueOnError: continueOnError}})
	opts := append(cfg.MergeOptions(),
		merge.WithLogger(logger),
		merge.WithProgress(func(p core.Progress) bool {
			if p.Err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", p.Err)
				return false
			}
			if interrupt.Err() != nil {
				return true
			}
			fmt.Printf("[%d/%d] %s\n", p.Completed+1, p.Total, p.Stage)
			return false
		}))

	res, err := merge.MergeFiles(cmd.Context(), mergeOutput, sources, opts...)
	if err != nil {
		return err
	}

	for _, f := range res.Files {
		if f.Skipped != "" {
			fmt.Printf("Skipped %s: %s\n", f.Path, f.Skipped)
		}
	}

	if res.Cancelled {
		fmt.Printf("\nMerge cancelled\n")
	} else {
		fmt.Printf("\nMerge complete!\n")
	}
	fmt.Printf("Merged: %d of %d files\n", len(res.Merged()), len(sources))
	if failed := res.Failed(); len(failed) > 0 {
		fmt.Printf("Failed: %d files\n", len(failed))
	}
	if info, err := os.Stat(mergeOutput); err == nil {
		fmt.Printf("Output: %s (%s)\n", mergeOutput, humanize.Bytes(uint64(info.Size())))
	}

	return nil
}
