package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-broker/internal/clock/system"
	"github.com/JakeFAU/crawl-broker/internal/id/uuid"
	"github.com/JakeFAU/crawl-broker/internal/metrics"
)

// ErrProducerClosed is returned by Publish after Close.
var ErrProducerClosed = errors.New("producer is closed")

// ProducerOption customises a Producer.
type ProducerOption func(*Producer)

// WithRetryPolicy wraps every Publish in policy; each retry re-establishes the session.
func WithRetryPolicy(policy RetryPolicy) ProducerOption {
	return func(p *Producer) {
		if policy != nil {
			p.retry = policy
		}
	}
}

// WithClock overrides the clock used for staleness checks.
func WithClock(clock Clock) ProducerOption {
	return func(p *Producer) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// Producer publishes messages over a session it owns.
//
// Staleness is inferred from elapsed time: once a heartbeat interval has passed
// since the session was established, the next Publish reconnects before sending.
// The broker is not probed; a connection that reports itself closed is also
// treated as stale.
type Producer struct {
	mu       sync.Mutex
	sessions SessionFactory
	session  *Session
	clock    Clock
	retry    RetryPolicy
	ids      *uuid.Generator
	logger   *zap.Logger
	closed   bool
}

// NewProducer establishes a session immediately and returns the Producer.
func NewProducer(ctx context.Context, sessions SessionFactory, logger *zap.Logger, opts ...ProducerOption) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Producer{
		sessions: sessions,
		clock:    system.New(),
		retry:    NoRetry{},
		ids:      uuid.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.connect(ctx, "initial"); err != nil {
		return nil, err
	}
	return p, nil
}

// Publish declares topo and sends body. Messages routed to a durable queue are
// persistent, everything else is transient. Broker-side nacks are not checked.
func (p *Producer) Publish(ctx context.Context, topo Topology, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for attempt := 1; ; attempt++ {
		err := p.publishOnce(ctx, topo, body)
		metrics.ObservePublish(topo.routingKey(), err)
		if err == nil {
			return nil
		}
		if !p.retry.ShouldRetry(err, attempt) {
			return err
		}
		p.logger.Warn("publish failed, retrying",
			zap.String("routing_key", topo.routingKey()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		p.dropSession()
		if !sleepContext(ctx, p.retry.Backoff(attempt)) {
			return fmt.Errorf("publish retry: %w", ctx.Err())
		}
	}
}

func (p *Producer) publishOnce(ctx context.Context, topo Topology, body []byte) error {
	if err := p.ensureSession(ctx); err != nil {
		return err
	}
	ch := p.session.Channel

	if err := declareExchange(ch, topo); err != nil {
		return err
	}
	mode := amqp.Transient
	if topo.Durable {
		if _, err := ch.QueueDeclare(topo.Queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", topo.Queue, err)
		}
		if err := bindQueue(ch, topo.Queue, topo); err != nil {
			return err
		}
		mode = amqp.Persistent
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: mode,
		MessageId:    p.ids.MustPrefixed(""),
		Timestamp:    p.clock.Now(),
		Headers:      traceHeaders(ctx),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, topo.Exchange, topo.routingKey(), false, false, msg); err != nil {
		return fmt.Errorf("publish to %s/%s: %w", topo.Exchange, topo.routingKey(), err)
	}
	p.logger.Debug("message published",
		zap.String("exchange", topo.Exchange),
		zap.String("routing_key", topo.routingKey()),
		zap.Int("bytes", len(body)),
		zap.Bool("persistent", topo.Durable),
	)
	return nil
}

func (p *Producer) ensureSession(ctx context.Context) error {
	if p.closed {
		return ErrProducerClosed
	}
	switch {
	case p.session == nil:
		return p.connect(ctx, "reconnect")
	case p.stale():
		p.dropSession()
		return p.connect(ctx, "stale")
	default:
		return nil
	}
}

func (p *Producer) stale() bool {
	if p.session.Closed() {
		return true
	}
	heartbeat := p.sessions.Endpoint().Heartbeat
	if heartbeat <= 0 {
		return false
	}
	return p.clock.Now().Sub(p.session.EstablishedAt) >= heartbeat
}

func (p *Producer) connect(ctx context.Context, reason string) error {
	session, err := p.sessions.Establish(ctx)
	if err != nil {
		return fmt.Errorf("producer session: %w", err)
	}
	p.session = session
	metrics.ObserveSession("producer", reason)
	return nil
}

func (p *Producer) dropSession() {
	if p.session == nil {
		return
	}
	if err := p.session.Close(); err != nil {
		p.logger.Warn("failed to close producer session", zap.Error(err))
	}
	p.session = nil
}

// Close closes the session. It is safe to call more than once.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.logger.Info("closing producer connection")
	p.closed = true
	p.dropSession()
}

// routingKey falls back to the queue name when publishing through the default exchange.
func (t Topology) routingKey() string {
	if t.RoutingKey == "" && t.Exchange == "" {
		return t.Queue
	}
	return t.RoutingKey
}
