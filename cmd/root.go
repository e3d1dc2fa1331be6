package cmd

import (
	"context"

	"github.com/dexloop/arbot/utils"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "arbot",
	Short: "A cycle-arbitrage engine over DEX venues",
	Long: `A CLI arbitrage engine that aggregates quotes across swap venues,
searches for profitable 2- and 3-hop cycles, and executes them atomically
with flash-loan funding.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.arbot.json)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() {
	utils.InitLogger(debug)
}
