package cmd

import (
	"fmt"

	"github.com/dexloop/arbot/registry"

	"github.com/spf13/cobra"
)

var venuesCmd = &cobra.Command{
	Use:   "venues",
	Short: "Validate and list the configured venue seed file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.VenueSeedFile == "" {
			return fmt.Errorf("no venue seed file configured")
		}

		seeds, err := registry.ParseSeedFile(cfg.VenueSeedFile)
		if err != nil {
			return err
		}

		for _, sv := range seeds {
			fmt.Printf("%-24s protocol=%-24s slippage_cap=%dbps gas_overhead=%d pools=%d\n",
				sv.Venue.ID, sv.Venue.Protocol, sv.Venue.MaxSlippageBps, sv.Venue.GasOverhead, len(sv.Pools))
		}
		fmt.Printf("%d venues ok\n", len(seeds))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(venuesCmd)
}
