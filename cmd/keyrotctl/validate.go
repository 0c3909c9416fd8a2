package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gblikas/keyrot/internal/configfile"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a keyrot config file without starting a pool",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(_ *cobra.Command, _ []string) error {
	path := configPath()

	f, err := configfile.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}

	if err := f.Validate(); err != nil {
		fmt.Printf("✗ %s is invalid\n", path)
		return err
	}

	fmt.Printf("✓ %s is valid (%d keys)\n", path, len(f.Keys))
	return nil
}
