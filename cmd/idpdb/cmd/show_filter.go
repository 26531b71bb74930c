package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ChrisMcGann/idpdb/pkg/filter"
)

var showFilterCmd = &cobra.Command{
	Use:   "show-filter <database>",
	Short: "Print the filter last applied to an idpDB",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openDatabase(args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		f, ok := filter.LoadFilter(cmd.Context(), s)
		if !ok {
			fmt.Printf("%s has not been filtered\n", args[0])
			return nil
		}

		out, err := yaml.Marshal(map[string]*filter.DataFilter{"filter": f})
		if err != nil {
			return fmt.Errorf("failed to encode filter: %w", err)
		}
		fmt.Printf("# %s\n%s", f, out)
		return nil
	},
}
