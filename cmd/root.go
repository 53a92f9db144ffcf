// Package cmd defines and implements the CLI commands of the crawlq executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-broker/internal/app"
	"github.com/JakeFAU/crawl-broker/internal/config"
	"github.com/JakeFAU/crawl-broker/internal/finalizer"
	"github.com/JakeFAU/crawl-broker/internal/logging"
	"github.com/JakeFAU/crawl-broker/internal/worker"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands need from the application container.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Ready(ctx context.Context) error
	Submit(ctx context.Context, body []byte) error
	Worker(ctx context.Context, exit func(code int)) (*worker.Worker, error)
	Finalizer(ctx context.Context) (*finalizer.Finalizer, error)
}

// newApp is the application factory. It is a variable so tests can inject a
// fake container.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "crawlq",
		Short: "Crawl task and result messaging over RabbitMQ.",
		Long: `crawlq moves crawl tasks and crawl results through RabbitMQ.

A worker consumes exactly one crawl task, runs the crawl, publishes the
results and exits. submit sends a task; finalize publishes the results of a
crawl that already ran.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json); CRAWLER_* env vars override it")

	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newSubmitCmd())
	cmd.AddCommand(newFinalizeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		logger := zap.L()
		if !logger.Core().Enabled(zap.ErrorLevel) {
			// Config or logger setup failed; the global is still the no-op logger.
			fallback, logErr := logging.New(false)
			if logErr != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			logger = fallback
		}
		logger.Fatal("command execution failed", zap.Error(err))
	}
}
