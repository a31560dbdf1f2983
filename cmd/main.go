package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yungbote/lms-insights/internal/app"
	"github.com/yungbote/lms-insights/internal/platform/envutil"
	"github.com/yungbote/lms-insights/internal/platform/logger"
	"github.com/yungbote/lms-insights/internal/platform/shutdown"
)

func main() {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	a, err := app.New(ctx, log)
	if err != nil {
		log.Fatal("Failed to initialize app", "error", err)
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		log.Error("Failed to start task trigger", "error", err)
		return
	}
	if err := a.Run(ctx); err != nil {
		log.Error("Server exited", "error", err)
	}
}
