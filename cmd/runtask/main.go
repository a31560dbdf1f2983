// Command runtask executes one pass of a periodic task and exits. It is the
// entry point for host cron:
//
//	*/5 * * * * runtask reminder_send
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/yungbote/lms-insights/internal/app"
	"github.com/yungbote/lms-insights/internal/platform/envutil"
	"github.com/yungbote/lms-insights/internal/platform/logger"
	"github.com/yungbote/lms-insights/internal/platform/shutdown"
	"github.com/yungbote/lms-insights/internal/tasks"
)

func main() {
	os.Exit(run())
}

func run() int {
	log, err := logger.New(envutil.String("LOG_MODE", "production"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	a, err := app.New(ctx, log)
	if err != nil {
		log.Error("Failed to initialize app", "error", err)
		return 1
	}
	defer a.Close()

	names := a.Services.Tasks.Registry().Names()
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: runtask <task>\ntasks: %s\n", strings.Join(names, ", "))
		return 2
	}

	ctx, cancel := context.WithTimeout(ctx, a.Cfg.Task.PassTimeout)
	defer cancel()
	if _, err := a.Services.Tasks.Run(ctx, os.Args[1]); err != nil {
		if errors.Is(err, tasks.ErrUnknownTask) {
			fmt.Fprintf(os.Stderr, "%v\ntasks: %s\n", err, strings.Join(names, ", "))
			return 2
		}
		return 1
	}
	return 0
}
