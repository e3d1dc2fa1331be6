package cmd

import (
	"github.com/dexloop/arbot/config"
	"github.com/dexloop/arbot/engine"
	"github.com/dexloop/arbot/utils"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the discovery and execution loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if dryRun {
			cfg.DryRun = true
		}

		eng, err := engine.New(cfg, log)
		if err != nil {
			log.Error("Failed to build engine", zap.Error(err))
			return err
		}

		// Blocks until the signal context is cancelled.
		err = eng.Run(cmd.Context())
		if err != nil && err != cmd.Context().Err() {
			return err
		}
		return nil
	},
}

func loadConfig() (*config.Config, error) {
	if err := config.LoadEnv(); err != nil {
		utils.GetLogger().Debug("No .env file loaded", zap.Error(err))
	}
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	cfg.Logger = utils.GetLogger()
	if err := cfg.ValidateConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan executions without settling them")
	rootCmd.AddCommand(runCmd)
}
