package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gblikas/keyrot"
	"github.com/gblikas/keyrot/cmd/keyrotctl/di"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report the pool-wide health status of a keyrot config",
	Long: `health builds the key pool described by the config file and reports its
aggregate health: healthy, degraded, critical, or exhausted, along with
any per-key warnings (quota near the warning threshold, circuit open,
rate limited).`,
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(_ *cobra.Command, _ []string) error {
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

	snap := poolSvc.Pool.GetHealth()
	fmt.Printf("status: %s\n", snap.Status)
	for _, w := range snap.Warnings {
		fmt.Printf("  - %s: %s (%s)\n", w.KeyID, w.Message, w.Category)
	}

	if snap.Status == keyrot.HealthExhausted {
		return errors.New("pool is exhausted")
	}
	return nil
}
