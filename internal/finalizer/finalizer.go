package finalizer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-broker/internal/clock/system"
	"github.com/JakeFAU/crawl-broker/internal/crawler"
	"github.com/JakeFAU/crawl-broker/internal/hash/sha256"
	"github.com/JakeFAU/crawl-broker/internal/id/uuid"
	"github.com/JakeFAU/crawl-broker/internal/metrics"
	"github.com/JakeFAU/crawl-broker/internal/storage"
	"github.com/JakeFAU/crawl-broker/internal/store"
)

const (
	// DefaultMaxChunkBytes is the largest result file sent as a single message.
	DefaultMaxChunkBytes int64 = 10 << 20
	// DefaultChunkDelay separates consecutive sends.
	DefaultChunkDelay = 100 * time.Millisecond
)

// Config tunes chunking and pacing.
type Config struct {
	MaxChunkBytes int64
	ChunkDelay    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxChunkBytes <= 0 {
		c.MaxChunkBytes = DefaultMaxChunkBytes
	}
	if c.ChunkDelay < 0 {
		c.ChunkDelay = 0
	}
	return c
}

// Option customises a Finalizer.
type Option func(*Finalizer)

// WithArchive copies every result file to archive before cleanup.
func WithArchive(archive storage.Archive) Option {
	return func(f *Finalizer) {
		f.archive = archive
	}
}

// WithLedger records every publish attempt.
func WithLedger(ledger store.RunLedger) Option {
	return func(f *Finalizer) {
		if ledger != nil {
			f.ledger = ledger
		}
	}
}

// Finalizer publishes a crawl's results and clears its directories.
type Finalizer struct {
	cfg       Config
	store     ResultStore
	publisher ResultPublisher
	archive   storage.Archive
	ledger    store.RunLedger
	ids       *uuid.Generator
	hasher    Hasher
	clock     *system.Clock
	sleep     func(ctx context.Context, d time.Duration) bool
	logger    *zap.Logger
}

// New builds a Finalizer.
func New(cfg Config, results ResultStore, publisher ResultPublisher, logger *zap.Logger, opts ...Option) *Finalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Finalizer{
		cfg:       cfg.withDefaults(),
		store:     results,
		publisher: publisher,
		ledger:    store.NopLedger{},
		ids:       uuid.New(),
		hasher:    sha256.New(),
		clock:     system.New(),
		sleep:     sleepContext,
		logger:    logger.Named("finalizer"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Finalize publishes every CSV file in outputDir, chunking files larger than
// the configured maximum, then archives and removes the output and clears
// logDir. Publish failures are logged and counted but do not fail the run;
// only a failure to list the output is returned.
func (f *Finalizer) Finalize(ctx context.Context, crawlName, outputDir, logDir string) (Report, error) {
	logger := f.logger.With(zap.String("crawl", crawlName))
	logger.Info("finalizing paragraph crawl", zap.String("output", outputDir))

	files, err := f.store.ListResultFiles(ctx, outputDir)
	if err != nil {
		return Report{}, fmt.Errorf("finalize %s: %w", crawlName, err)
	}

	run := &sendRun{f: f, crawl: crawlName, logger: logger}
	for _, file := range files {
		if file.Dir != "" {
			continue
		}
		if !strings.HasSuffix(file.Name, ".csv") || strings.HasSuffix(file.Name, crawler.IncompleteSuffix+".csv") {
			logger.Warn("skipping non-result file", zap.String("file", file.Name))
			run.report.Skipped++
			continue
		}
		run.report.Files++
		if err := f.sendCSV(ctx, run, file); err != nil {
			if ctx.Err() != nil {
				return run.report, fmt.Errorf("finalize %s: %w", crawlName, ctx.Err())
			}
			logger.Error("failed to read result file", zap.String("file", file.Name), zap.Error(err))
			run.report.Failed++
		}
	}

	f.archiveAll(ctx, crawlName, files, &run.report, logger)
	run.report.Cleanup = clearDirectories(outputDir, logDir, logger)
	logger.Info("done finalizing paragraph crawl",
		zap.Int("files", run.report.Files),
		zap.Int("messages", run.report.Messages),
		zap.Int("failed", run.report.Failed),
	)
	return run.report, nil
}

// FinalizeRaw publishes one message per .html file found in each top-level
// directory of outputDir; the directory name is the message url. Raw pages are
// never chunked.
func (f *Finalizer) FinalizeRaw(ctx context.Context, crawlName, outputDir, logDir string) (Report, error) {
	logger := f.logger.With(zap.String("crawl", crawlName))
	logger.Info("finalizing raw crawl", zap.String("output", outputDir))

	files, err := f.store.ListResultFiles(ctx, outputDir)
	if err != nil {
		return Report{}, fmt.Errorf("finalize raw %s: %w", crawlName, err)
	}

	run := &sendRun{f: f, crawl: crawlName, logger: logger}
	for _, file := range files {
		if file.Dir == "" || !strings.HasSuffix(file.Name, ".html") {
			run.report.Skipped++
			continue
		}
		run.report.Files++
		data, err := f.readAll(ctx, file.Path)
		if err != nil {
			logger.Error("failed to read raw page", zap.String("file", file.Path), zap.Error(err))
			run.report.Failed++
			continue
		}
		if int64(len(data)) > f.cfg.MaxChunkBytes {
			logger.Warn("raw page exceeds message size, sending whole", zap.String("file", file.Path), zap.Int("bytes", len(data)))
		}
		msg := ResultMessage{Crawl: crawlName, Raw: true, URL: file.Dir, Filename: file.Name, Data: string(data)}
		if err := run.send(ctx, msg); err != nil {
			return run.report, fmt.Errorf("finalize raw %s: %w", crawlName, err)
		}
	}

	f.archiveAll(ctx, crawlName, files, &run.report, logger)
	run.report.Cleanup = clearDirectories(outputDir, logDir, logger)
	logger.Info("done finalizing raw crawl",
		zap.Int("files", run.report.Files),
		zap.Int("messages", run.report.Messages),
		zap.Int("failed", run.report.Failed),
	)
	return run.report, nil
}

func (f *Finalizer) sendCSV(ctx context.Context, run *sendRun, file storage.ResultFile) error {
	base := strings.TrimSuffix(file.Name, ".csv")
	data, err := f.readAll(ctx, file.Path)
	if err != nil {
		return err
	}
	size := int64(len(data))
	run.logger.Info("result size", zap.String("file", file.Name), zap.Int64("bytes", size))

	n := ChunkCount(size, f.cfg.MaxChunkBytes)
	if n == 1 {
		return run.send(ctx, ResultMessage{Crawl: run.crawl, URL: base, Filename: base, Data: string(data)})
	}

	header, rows, err := readCSV(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: %w", file.Name, err)
	}
	run.logger.Info("multiple messages required", zap.String("file", file.Name), zap.Int("chunks", n), zap.Int("rows", len(rows)))
	run.report.Chunked++
	metrics.ObserveChunkedFile()

	for i, group := range splitRows(rows, n) {
		payload, err := encodeCSV(header, group)
		if err != nil {
			return fmt.Errorf("%s chunk %d: %w", file.Name, i+1, err)
		}
		msg := ResultMessage{
			Crawl:      run.crawl,
			URL:        base,
			Filename:   fmt.Sprintf("%s_part%d_%d", base, i+1, n),
			Data:       payload,
			ChunkIndex: i + 1,
			ChunkCount: n,
		}
		if err := run.send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (f *Finalizer) readAll(ctx context.Context, p string) ([]byte, error) {
	rc, err := f.store.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rc.Close(); err != nil {
			f.logger.Warn("failed to close result file", zap.String("file", p), zap.Error(err))
		}
	}()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}

func (f *Finalizer) archiveAll(ctx context.Context, crawlName string, files []storage.ResultFile, report *Report, logger *zap.Logger) {
	if f.archive == nil {
		return
	}
	day := f.clock.Now().Format("2006-01-02")
	for _, file := range files {
		if ctx.Err() != nil {
			return
		}
		rel := path.Join(crawlName, day, filepath.ToSlash(file.Dir), file.Name)
		rc, err := f.store.Open(ctx, file.Path)
		if err != nil {
			logger.Warn("failed to open file for archive", zap.String("file", file.Path), zap.Error(err))
			continue
		}
		uri, err := f.archive.PutObject(ctx, rel, contentType(file.Name), rc)
		if closeErr := rc.Close(); closeErr != nil {
			logger.Warn("failed to close archived file", zap.String("file", file.Path), zap.Error(closeErr))
		}
		if err != nil {
			logger.Warn("failed to archive result file", zap.String("file", file.Path), zap.Error(err))
			continue
		}
		report.Archived++
		logger.Debug("archived result file", zap.String("uri", uri))
	}
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".html":
		return "text/html"
	default:
		return "application/octet-stream"
	}
}

// sendRun carries per-run state: pacing and the running report.
type sendRun struct {
	f      *Finalizer
	crawl  string
	sent   int
	report Report
	logger *zap.Logger
}

// send paces, publishes and records one message. Only cancellation is
// returned; publish failures are counted.
func (r *sendRun) send(ctx context.Context, msg ResultMessage) error {
	if r.sent > 0 && !r.f.sleep(ctx, r.f.cfg.ChunkDelay) {
		return ctx.Err()
	}
	r.sent++

	body, err := msg.Encode()
	if err == nil {
		err = r.f.publisher.Publish(ctx, body)
	}
	metrics.ObserveResultMessage(err)

	sum, hashErr := r.f.hasher.Hash([]byte(msg.Data))
	if hashErr != nil {
		r.logger.Warn("failed to hash result data", zap.Error(hashErr))
	}
	rec := store.ResultRecord{
		ID:          r.f.ids.MustPrefixed("result"),
		Crawl:       msg.Crawl,
		Filename:    msg.Filename,
		ChunkIndex:  msg.ChunkIndex,
		ChunkCount:  msg.ChunkCount,
		Bytes:       len(body),
		Checksum:    sum,
		Published:   err == nil,
		AttemptedAt: r.f.clock.Now(),
	}
	if err != nil {
		rec.ErrorText = err.Error()
		r.report.Failed++
		r.logger.Error("failed to publish result", zap.String("filename", msg.Filename), zap.Error(err))
	} else {
		r.report.Messages++
		r.logger.Info("result published", zap.String("filename", msg.Filename), zap.Int("bytes", len(body)))
	}
	if ledgerErr := r.f.ledger.RecordResult(ctx, rec); ledgerErr != nil {
		r.logger.Warn("failed to record result", zap.Error(ledgerErr))
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
