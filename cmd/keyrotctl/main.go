// Package main is the entry point for keyrotctl, a diagnostic CLI for
// inspecting a keyrot config file and the key pool it describes.
package main

import (
	"context"
	"os"

	"charm.land/fang/v2"
	"github.com/spf13/cobra"

	"github.com/gblikas/keyrot/internal/version"
)

const defaultConfigFile = "keyrot.yaml"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "keyrotctl",
	Short: "Inspect and validate keyrot key pool configuration",
	Long: `keyrotctl loads a keyrot config file and reports on the key pool it
describes: validation errors, per-key health, and quota/rate-limit state,
without ever dispatching a real request through it.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file path (default: ./"+defaultConfigFile+")")
}

func main() {
	if err := fang.Execute(context.Background(), rootCmd, fang.WithVersion(version.String())); err != nil {
		os.Exit(1)
	}
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return defaultConfigFile
}
