// Command horde runs one or every role-node of a permissioned network
// topology described by a YAML config file (internal/config), following
// cmd/synnergy/main.go's single-rootCmd/AddCommand/Execute cobra shape.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{Use: "horde"}
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(startCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
