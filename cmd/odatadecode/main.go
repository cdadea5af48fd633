// Command odatadecode reads an OData JSON payload against a YAML model and
// prints the materialized values.
package main

import (
	"fmt"
	"os"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
