package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-broker/internal/api"
	"github.com/JakeFAU/crawl-broker/internal/worker"
)

// osExit is replaced in tests.
var osExit = os.Exit

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume one crawl task, run it, publish its results and exit",
		Long: `Subscribes to the task queue with a prefetch of one. The first task is
crawled, its finalizers publish the results, the subscription is cancelled,
the task is acknowledged and the process exits 0. A redelivered task is
acknowledged and dropped without crawling.`,
		Args: cobra.NoArgs,
		RunE: runWorkerCommand,
	}
}

func runWorkerCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	logger := appInstance.Logger()
	cfg := appInstance.Config()

	if cfg.Metrics.Enabled {
		srv := api.NewServer(appInstance.Ready, logger.Named("api"))
		go func() {
			if err := srv.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Metrics.Port)); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	var w *worker.Worker
	retire := func(code int) {
		cancel()
		if w != nil {
			w.Stop()
		}
		appInstance.Close()
		osExit(code)
	}
	w, err = appInstance.Worker(ctx, retire)
	if err != nil {
		return err
	}
	defer w.Stop()

	if err := w.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("worker interrupted before a task arrived")
			return nil
		}
		return err
	}
	return nil
}
