// idpdb - identification database filter and merge tool
package main

import (
	"fmt"
	"os"

	"github.com/ChrisMcGann/idpdb/cmd/idpdb/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
