package finalizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/crawl-broker/internal/crawler"
)

// ErrUndelivered reports that at least one result message could not be published.
var ErrUndelivered = errors.New("finalizer: results not delivered")

// Set binds the remote finalizers to their registry keys.
func (f *Finalizer) Set() crawler.FinalizerSet {
	return crawler.FinalizerSet{
		crawler.FinalizerRemote:    crawler.FinalizerFunc(f.remote(f.Finalize)),
		crawler.FinalizerRemoteRaw: crawler.FinalizerFunc(f.remote(f.FinalizeRaw)),
	}
}

type finalizeFunc func(ctx context.Context, crawlName, outputDir, logDir string) (Report, error)

func (f *Finalizer) remote(run finalizeFunc) func(context.Context, crawler.Specification) error {
	return func(ctx context.Context, spec crawler.Specification) error {
		report, err := run(ctx, spec.Name, spec.Output, spec.Logs)
		if err != nil {
			return err
		}
		if !report.OK() {
			return fmt.Errorf("%w: %d of %d messages failed", ErrUndelivered, report.Failed, report.Failed+report.Messages)
		}
		return nil
	}
}
