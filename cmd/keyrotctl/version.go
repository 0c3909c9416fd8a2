package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gblikas/keyrot/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the keyrotctl version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("%s %s\n", rootCmd.Name(), version.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
