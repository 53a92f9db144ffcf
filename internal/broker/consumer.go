package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-broker/internal/id/uuid"
	"github.com/JakeFAU/crawl-broker/internal/metrics"
)

// Handler processes one delivery. Returning an error stops the consumer; the
// delivery is left unacknowledged unless the handler acked it first.
type Handler func(ctx context.Context, d amqp.Delivery) error

// DefaultHandler logs and acknowledges every delivery.
func DefaultHandler(logger *zap.Logger) Handler {
	return func(_ context.Context, d amqp.Delivery) error {
		logger.Info("message received", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Int("bytes", len(d.Body)))
		if err := d.Ack(false); err != nil {
			return fmt.Errorf("ack delivery %d: %w", d.DeliveryTag, err)
		}
		logger.Info("message processed", zap.Uint64("delivery_tag", d.DeliveryTag))
		return nil
	}
}

// Consumer subscribes to one queue with at most one unacknowledged delivery.
type Consumer struct {
	mu        sync.Mutex
	sessions  SessionFactory
	topology  Topology
	handler   Handler
	tag       string
	session   *Session
	queueName string
	cancelled bool
	logger    *zap.Logger
}

// NewConsumer builds a consumer; a nil handler falls back to DefaultHandler.
func NewConsumer(sessions SessionFactory, topo Topology, handler Handler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if handler == nil {
		handler = DefaultHandler(logger)
	}
	return &Consumer{
		sessions: sessions,
		topology: topo,
		handler:  handler,
		tag:      uuid.New().MustPrefixed("crawl-consumer"),
		logger:   logger,
	}
}

// Tag returns the consumer tag used for the subscription.
func (c *Consumer) Tag() string {
	return c.tag
}

// QueueName returns the queue the consumer is bound to. For non-durable
// topologies this is the broker-generated name and is empty before Start.
func (c *Consumer) QueueName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queueName
}

// Start establishes a session, declares the topology and blocks dispatching
// deliveries to the handler one at a time. It returns nil once the
// subscription is cancelled through Cancel or Stop.
func (c *Consumer) Start(ctx context.Context, autoAck bool) error {
	deliveries, err := c.subscribe(ctx, autoAck)
	if err != nil {
		return err
	}
	c.logger.Info("consuming",
		zap.String("queue", c.QueueName()),
		zap.String("routing_key", c.topology.RoutingKey),
		zap.String("consumer_tag", c.tag),
	)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("consume %s: %w", c.QueueName(), ctx.Err())
		case d, ok := <-deliveries:
			if !ok {
				if c.isCancelled() {
					c.logger.Info("subscription cancelled", zap.String("queue", c.QueueName()))
					return nil
				}
				return fmt.Errorf("consume %s: %w", c.QueueName(), ErrDeliveriesClosed)
			}
			if err := c.handler(ctx, d); err != nil {
				return fmt.Errorf("handle delivery %d: %w", d.DeliveryTag, err)
			}
		}
	}
}

func (c *Consumer) subscribe(ctx context.Context, autoAck bool) (<-chan amqp.Delivery, error) {
	session, err := c.sessions.Establish(ctx)
	if err != nil {
		return nil, fmt.Errorf("consumer session: %w", err)
	}
	metrics.ObserveSession("consumer", "initial")

	c.mu.Lock()
	c.session = session
	c.cancelled = false
	c.mu.Unlock()

	ch := session.Channel
	if err := declareExchange(ch, c.topology); err != nil {
		return nil, err
	}
	queueName, err := c.declareQueue(ch)
	if err != nil {
		return nil, err
	}
	if err := bindQueue(ch, queueName, c.topology); err != nil {
		return nil, err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("set prefetch: %w", err)
	}

	c.mu.Lock()
	c.queueName = queueName
	c.mu.Unlock()

	deliveries, err := ch.Consume(queueName, c.tag, autoAck, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queueName, err)
	}
	return deliveries, nil
}

func (c *Consumer) declareQueue(ch Channel) (string, error) {
	if c.topology.Durable {
		q, err := ch.QueueDeclare(c.topology.Queue, true, false, false, false, nil)
		if err != nil {
			return "", fmt.Errorf("declare queue %s: %w", c.topology.Queue, err)
		}
		return q.Name, nil
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare exclusive queue: %w", err)
	}
	return q.Name, nil
}

// Cancel stops the broker from delivering further messages. Deliveries already
// received may still be acknowledged.
func (c *Consumer) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.cancelled {
		return nil
	}
	c.cancelled = true
	if err := c.session.Channel.Cancel(c.tag, false); err != nil {
		return fmt.Errorf("cancel consumer %s: %w", c.tag, err)
	}
	c.logger.Info("unsubscribed", zap.String("queue", c.queueName), zap.String("consumer_tag", c.tag))
	return nil
}

func (c *Consumer) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// Stop cancels the subscription and closes the session. The connection may
// already be broken; every failure is logged and swallowed.
func (c *Consumer) Stop() {
	c.logger.Info("stopping consumer", zap.String("queue", c.QueueName()))
	if err := c.Cancel(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		c.logger.Warn("error cancelling consumer", zap.Error(err))
	}
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()
	if err := session.Close(); err != nil {
		c.logger.Warn("error closing consumer session", zap.Error(err))
	}
}
