package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dexloop/arbot/cmd"
	"github.com/dexloop/arbot/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		utils.GetLogger().Sync()
		os.Exit(1)
	}
	utils.GetLogger().Sync()
}
