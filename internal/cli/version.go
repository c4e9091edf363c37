package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the flam version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Printf("flam %s (commit %s, built %s)\n", buildVersion, buildCommit, buildDate)
		return nil
	},
}
