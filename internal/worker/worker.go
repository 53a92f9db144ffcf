// Package worker consumes crawl tasks: one task per process lifetime.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-broker/internal/broker"
	"github.com/JakeFAU/crawl-broker/internal/clock/system"
	"github.com/JakeFAU/crawl-broker/internal/crawler"
	"github.com/JakeFAU/crawl-broker/internal/id/uuid"
	"github.com/JakeFAU/crawl-broker/internal/metrics"
	"github.com/JakeFAU/crawl-broker/internal/store"
)

// Config controls where specifications without explicit directories write.
type Config struct {
	OutputRoot string
	LogRoot    string
}

// Option customises a Worker.
type Option func(*Worker)

// WithExit replaces the retirement hook. It defaults to os.Exit.
func WithExit(exit func(code int)) Option {
	return func(w *Worker) {
		w.exit = exit
	}
}

// WithLedger records task outcomes.
func WithLedger(ledger store.RunLedger) Option {
	return func(w *Worker) {
		if ledger != nil {
			w.ledger = ledger
		}
	}
}

// WithClock overrides the clock used for ledger timestamps.
func WithClock(clock broker.Clock) Option {
	return func(w *Worker) {
		w.clock = clock
	}
}

// WithTracerProvider sets where task spans are recorded. It defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(w *Worker) {
		if tp != nil {
			w.tracer = tp.Tracer(tracerName)
		}
	}
}

const tracerName = "crawl-broker/worker"

// Worker runs the crawl named by a task message, runs its finalizers and
// retires.
type Worker struct {
	consumer   *broker.Consumer
	engine     crawler.Engine
	finalizers crawler.FinalizerSet
	ledger     store.RunLedger
	cfg        Config
	clock      broker.Clock
	ids        *uuid.Generator
	exit       func(code int)
	tracer     trace.Tracer
	logger     *zap.Logger
}

// New wires a Worker to the task topology.
func New(
	sessions broker.SessionFactory,
	topo broker.Topology,
	engine crawler.Engine,
	finalizers crawler.FinalizerSet,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		engine:     engine,
		finalizers: finalizers,
		ledger:     store.NopLedger{},
		cfg:        cfg,
		clock:      system.New(),
		ids:        uuid.New(),
		exit:       os.Exit,
		tracer:     otel.Tracer(tracerName),
		logger:     logger.Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.consumer = broker.NewConsumer(sessions, topo, w.Handle, logger.Named("consumer"))
	return w
}

// Run blocks until the task has been handled, the subscription is closed or
// ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("waiting for task", zap.String("consumer", w.consumer.Tag()))
	err := w.consumer.Start(ctx, false)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker: %w", err)
	}
	return err
}

// Stop cancels the subscription and closes the broker session.
func (w *Worker) Stop() {
	w.consumer.Stop()
}

// Handle processes one task delivery. Redelivered tasks are acknowledged and
// dropped: a redelivery means an earlier worker died mid-crawl.
func (w *Worker) Handle(ctx context.Context, d amqp.Delivery) error {
	run := store.TaskRun{
		ID:          d.MessageId,
		Worker:      w.consumer.Tag(),
		Redelivered: d.Redelivered,
		StartedAt:   w.clock.Now(),
	}
	if run.ID == "" {
		run.ID = w.ids.MustPrefixed("task")
	}
	logger := w.logger.With(zap.String("task", run.ID), zap.Uint64("delivery_tag", d.DeliveryTag))

	ctx, span := w.tracer.Start(broker.ContextFromDelivery(ctx, d), "crawl.task")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", run.ID), attribute.Bool("task.redelivered", d.Redelivered))

	if d.Redelivered {
		logger.Warn("discarding redelivered task")
		if err := d.Ack(false); err != nil {
			return fmt.Errorf("ack redelivered task: %w", err)
		}
		w.record(ctx, run, store.TaskDiscarded, nil, logger)
		return nil
	}

	spec, err := w.specification(d.Body)
	if err != nil {
		w.record(ctx, run, store.TaskFailed, err, logger)
		return err
	}
	run.Crawl = spec.Name
	span.SetAttributes(attribute.String("crawl.name", spec.Name))
	logger = logger.With(zap.String("crawl", spec.Name))
	w.start(ctx, run, logger)

	ok, err := w.engine.Run(ctx, spec)
	if err != nil {
		err = fmt.Errorf("crawl %s: %w", spec.Name, err)
		w.record(ctx, run, store.TaskFailed, err, logger)
		return err
	}
	if !ok {
		logger.Warn("crawl finished without fetching any page")
	}
	w.finalize(ctx, spec, logger)

	if err := w.consumer.Cancel(); err != nil {
		err = fmt.Errorf("cancel subscription: %w", err)
		w.record(ctx, run, store.TaskFailed, err, logger)
		return err
	}
	if err := d.Ack(false); err != nil {
		err = fmt.Errorf("ack task: %w", err)
		w.record(ctx, run, store.TaskFailed, err, logger)
		return err
	}

	status := store.TaskSucceeded
	if !ok {
		status = store.TaskUnsuccessful
	}
	w.record(ctx, run, status, nil, logger)
	logger.Info("task complete, retiring worker", zap.String("status", string(status)))
	// The exit hook does not return in production, so deferred calls never run.
	span.End()
	w.exit(0)
	return nil
}

func (w *Worker) specification(body []byte) (crawler.Specification, error) {
	spec, err := crawler.ResolveSpecification(body)
	if err != nil {
		return crawler.Specification{}, fmt.Errorf("resolve task: %w", err)
	}
	spec = spec.WithDefaults(w.cfg.OutputRoot, w.cfg.LogRoot)
	if err := spec.Validate(); err != nil {
		return crawler.Specification{}, fmt.Errorf("task %s: %w", spec.Name, err)
	}
	return spec, nil
}

// finalize runs every finalizer the specification names, in name order.
// Failures are logged; the crawl itself already happened.
func (w *Worker) finalize(ctx context.Context, spec crawler.Specification, logger *zap.Logger) {
	for _, name := range spec.FinalizerNames() {
		fin, err := w.finalizers.Lookup(name)
		if err != nil {
			logger.Error("finalizer unavailable", zap.String("finalizer", name), zap.Error(err))
			continue
		}
		started := time.Now()
		if err := fin.Finalize(ctx, spec); err != nil {
			logger.Error("finalizer failed", zap.String("finalizer", name), zap.Error(err))
			continue
		}
		logger.Info("finalizer done", zap.String("finalizer", name), zap.Duration("took", time.Since(started)))
	}
}

func (w *Worker) start(ctx context.Context, run store.TaskRun, logger *zap.Logger) {
	if err := w.ledger.StartTask(ctx, run); err != nil {
		logger.Warn("failed to record task start", zap.Error(err))
	}
}

func (w *Worker) record(ctx context.Context, run store.TaskRun, status store.TaskStatus, cause error, logger *zap.Logger) {
	metrics.ObserveTask(string(status))
	if status == store.TaskDiscarded || (status == store.TaskFailed && run.Crawl == "") {
		w.start(ctx, run, logger)
	}
	var errMsg *string
	if cause != nil {
		msg := cause.Error()
		errMsg = &msg
		logger.Error("task failed", zap.Error(cause))
		span := trace.SpanFromContext(ctx)
		span.RecordError(cause)
		span.SetStatus(codes.Error, msg)
	}
	if err := w.ledger.CompleteTask(ctx, run.ID, w.clock.Now(), status, errMsg); err != nil {
		logger.Warn("failed to record task outcome", zap.Error(err))
	}
}
