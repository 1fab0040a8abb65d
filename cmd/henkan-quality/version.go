package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of henkan-quality",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "henkan-quality version %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
