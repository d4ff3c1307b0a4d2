package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/teamlead/internal/version"
)

var versionCmd = &cobra.Command{
	Use:               "version",
	Short:             "Print the version number",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "teamlead version %s\n", version.String())
	},
}
