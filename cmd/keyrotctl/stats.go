package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gblikas/keyrot/cmd/keyrotctl/di"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print per-key state for a keyrot config",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(_ *cobra.Command, _ []string) error {
	c := di.NewContainer(configPath())
	defer func() {
		if err := c.Shutdown(); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}()

	poolSvc, err := di.Invoke[*di.PoolService](c)
	if err != nil {
		return err
	}

	for _, s := range poolSvc.Pool.GetAllKeyStats() {
		fmt.Printf("%s  available=%t  circuit=%s  quota=%d/%d  rps=%.1f\n",
			s.ID, s.Available, s.CircuitState, s.QuotaUsed, s.QuotaLimit, s.RPS)
	}
	return nil
}
