// Package app builds and owns the long-lived services of a crawlq process.
// Commands build one App, use it, and Close it.
package app

import (
	"context"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	gcsclient "cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-broker/internal/broker"
	"github.com/JakeFAU/crawl-broker/internal/config"
	"github.com/JakeFAU/crawl-broker/internal/crawler"
	"github.com/JakeFAU/crawl-broker/internal/finalizer"
	pubsubpublisher "github.com/JakeFAU/crawl-broker/internal/publisher/pubsub"
	"github.com/JakeFAU/crawl-broker/internal/publisher/rabbitmq"
	"github.com/JakeFAU/crawl-broker/internal/storage"
	gcsstorage "github.com/JakeFAU/crawl-broker/internal/storage/gcs"
	"github.com/JakeFAU/crawl-broker/internal/storage/local"
	memarchive "github.com/JakeFAU/crawl-broker/internal/storage/memory"
	pgstore "github.com/JakeFAU/crawl-broker/internal/storage/postgres"
	"github.com/JakeFAU/crawl-broker/internal/store"
	"github.com/JakeFAU/crawl-broker/internal/telemetry"
	"github.com/JakeFAU/crawl-broker/internal/worker"
)

// Version is reported as the service version on traces.
var Version = "dev"

// App holds the services shared by every command.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	sessions *broker.ConnectionManager
	ledger   store.RunLedger
	archive  storage.Archive

	mu       sync.Mutex
	producer *broker.Producer

	runStore        *pgstore.RunStore
	gcs             *gcsclient.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsubpublisher.Publisher
	tracer          *sdktrace.TracerProvider
}

// New builds the App. Nothing here talks to the broker; broker sessions are
// opened by the component that first needs one.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:     cfg,
		logger:  logger,
		ledger:  store.NopLedger{},
		archive: storage.NoOpArchive{},
	}
	a.logger.Info("building application dependencies",
		zap.String("broker", cfg.Endpoint().Address()),
		zap.String("transport", cfg.Finalizer.Transport),
		zap.String("archive", cfg.Finalizer.Archive),
	)

	tp, err := telemetry.InitTracerProvider(ctx, "crawl-broker", Version)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracer = tp

	a.sessions = broker.NewConnectionManager(cfg.Endpoint(), cfg.ProbePolicy(), logger.Named("broker"))

	if err := a.setupLedger(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.setupArchive(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Sessions returns the broker session factory.
func (a *App) Sessions() broker.SessionFactory {
	return a.sessions
}

// Ledger returns the run ledger, a no-op when no database is configured.
func (a *App) Ledger() store.RunLedger {
	return a.ledger
}

// Ready probes the broker port once.
func (a *App) Ready(ctx context.Context) error {
	endpoint := a.cfg.Endpoint()
	policy := a.cfg.ProbePolicy()
	if !broker.NewProber().Probe(ctx, endpoint.Host, endpoint.Port, policy.Timeout) {
		return fmt.Errorf("broker %s unreachable", endpoint.Address())
	}
	return nil
}

// Producer returns the shared producer, establishing it on first use.
func (a *App) Producer(ctx context.Context) (*broker.Producer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.producer != nil {
		return a.producer, nil
	}
	var opts []broker.ProducerOption
	if n := a.cfg.Broker.PublishRetries; n > 0 {
		opts = append(opts, broker.WithRetryPolicy(broker.NewExponentialRetryPolicy(n)))
	}
	p, err := broker.NewProducer(ctx, a.sessions, a.logger.Named("producer"), opts...)
	if err != nil {
		return nil, fmt.Errorf("producer init failed: %w", err)
	}
	a.producer = p
	return p, nil
}

// Submit publishes one task body to the task queue.
func (a *App) Submit(ctx context.Context, body []byte) error {
	p, err := a.Producer(ctx)
	if err != nil {
		return err
	}
	if err := p.Publish(ctx, a.cfg.TaskTopology(), body); err != nil {
		return fmt.Errorf("submit task: %w", err)
	}
	return nil
}

// Engine builds the crawl engine.
func (a *App) Engine() crawler.Engine {
	return crawler.NewCollyEngine(a.cfg.EngineConfig(), a.logger)
}

// Finalizer builds the result finalizer on the configured transport.
func (a *App) Finalizer(ctx context.Context) (*finalizer.Finalizer, error) {
	publisher, err := a.resultPublisher(ctx)
	if err != nil {
		return nil, err
	}
	return finalizer.New(
		a.cfg.FinalizerSettings(),
		local.NewResultStore(),
		publisher,
		a.logger,
		finalizer.WithArchive(a.archive),
		finalizer.WithLedger(a.ledger),
	), nil
}

// Worker builds a task worker. exit is the retirement hook; nil keeps os.Exit.
func (a *App) Worker(ctx context.Context, exit func(code int)) (*worker.Worker, error) {
	fin, err := a.Finalizer(ctx)
	if err != nil {
		return nil, err
	}
	opts := []worker.Option{worker.WithLedger(a.ledger), worker.WithTracerProvider(a.tracer)}
	if exit != nil {
		opts = append(opts, worker.WithExit(exit))
	}
	return worker.New(
		a.sessions,
		a.cfg.TaskTopology(),
		a.Engine(),
		fin.Set(),
		worker.Config{OutputRoot: a.cfg.Crawl.OutputRoot, LogRoot: a.cfg.Crawl.LogRoot},
		a.logger,
		opts...,
	), nil
}

func (a *App) resultPublisher(ctx context.Context) (finalizer.ResultPublisher, error) {
	switch a.cfg.Finalizer.Transport {
	case config.TransportPubSub:
		if a.pubsubPublisher != nil {
			return a.pubsubPublisher, nil
		}
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.pubsubPublisher = pubsubpublisher.New(client.Publisher(a.cfg.PubSub.TopicName), map[string]string{
			"source": "crawl-broker",
		})
		a.logger.Info("Pub/Sub result publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
		return a.pubsubPublisher, nil
	default:
		return rabbitmq.New(&lazyProducer{app: a}, a.cfg.ResultTopology()), nil
	}
}

func (a *App) setupLedger(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN specified for database, run ledger disabled")
		return nil
	}
	rs, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:         a.cfg.DB.DSN,
		TaskTable:   a.cfg.DB.TaskTable,
		ResultTable: a.cfg.DB.ResultTable,
		MaxConns:    a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("run ledger init failed: %w", err)
	}
	a.runStore = rs
	a.ledger = rs
	a.logger.Info("run ledger initialized", zap.String("task_table", a.cfg.DB.TaskTable))
	return nil
}

func (a *App) setupArchive(ctx context.Context) error {
	switch a.cfg.Finalizer.Archive {
	case config.ArchiveMemory:
		a.archive = memarchive.New()
		a.logger.Info("using in-memory result archive; archived files are dropped on exit")
	case config.ArchiveLocal:
		archive, err := local.New(local.Config{BaseDir: a.cfg.Finalizer.ArchiveDir})
		if err != nil {
			return fmt.Errorf("local archive init failed: %w", err)
		}
		a.archive = archive
		a.logger.Info("using local result archive", zap.String("path", a.cfg.Finalizer.ArchiveDir))
	case config.ArchiveGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcs = client
		archive, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Finalizer.GCSBucket,
			Prefix: a.cfg.Finalizer.ArchivePrefix,
		})
		if err != nil {
			return fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.archive = archive
		a.logger.Info("using GCS result archive", zap.String("bucket", a.cfg.Finalizer.GCSBucket))
	default:
		a.logger.Debug("result archive disabled")
	}
	return nil
}

// Close releases every service. Errors are logged.
func (a *App) Close() {
	a.mu.Lock()
	producer := a.producer
	a.producer = nil
	a.mu.Unlock()
	if producer != nil {
		producer.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.runStore != nil {
		a.runStore.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync on a terminal stderr reports EINVAL; nothing is lost.
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

// lazyProducer defers the broker connection until the first result is sent.
type lazyProducer struct {
	app *App
}

func (l *lazyProducer) Publish(ctx context.Context, topo broker.Topology, body []byte) error {
	p, err := l.app.Producer(ctx)
	if err != nil {
		return err
	}
	return p.Publish(ctx, topo, body)
}
