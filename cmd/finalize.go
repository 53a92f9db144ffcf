package cmd

import (
	"errors"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-broker/internal/finalizer"
)

func newFinalizeCmd() *cobra.Command {
	var (
		name   string
		output string
		logs   string
		raw    bool
	)
	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Publish the results of a finished crawl and clear its directories",
		Long: `Runs the result finalizer outside a worker, for crawls that ran elsewhere
or whose worker died after crawling. CSV results larger than the configured
maximum message size are split into chunks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config()
			if output == "" {
				output = filepath.Join(cfg.Crawl.OutputRoot, name)
			}
			if logs == "" {
				logs = filepath.Join(cfg.Crawl.LogRoot, name)
			}

			fin, err := appInstance.Finalizer(cmd.Context())
			if err != nil {
				return err
			}
			run := fin.Finalize
			if raw {
				run = fin.FinalizeRaw
			}
			report, err := run(cmd.Context(), name, output, logs)
			if err != nil {
				return err
			}
			logReport(appInstance.Logger(), name, report)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "crawl name")
	cmd.Flags().StringVar(&output, "output", "", "crawl output directory (default <output_root>/<name>)")
	cmd.Flags().StringVar(&logs, "logs", "", "crawl log directory (default <log_root>/<name>)")
	cmd.Flags().BoolVar(&raw, "raw", false, "publish raw HTML pages instead of paragraph CSV files")
	return cmd
}

func logReport(logger *zap.Logger, name string, report finalizer.Report) {
	fields := []zap.Field{
		zap.String("crawl", name),
		zap.Int("files", report.Files),
		zap.Int("messages", report.Messages),
		zap.Int("failed", report.Failed),
		zap.Int("chunked", report.Chunked),
		zap.Int("archived", report.Archived),
		zap.Int("skipped", report.Skipped),
		zap.Errors("cleanup", report.Cleanup),
	}
	if !report.OK() {
		logger.Warn("finalize finished with undelivered results", fields...)
		return
	}
	logger.Info("finalize finished", fields...)
}
