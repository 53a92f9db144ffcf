package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var taskTopology = Topology{
	Exchange:   "crawl",
	Queue:      "crawl.tasks",
	RoutingKey: "tasks",
	Durable:    true,
}

func runConsumer(ctx context.Context, c *Consumer) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(ctx, false) }()
	return errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not return")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestConsumerDeclaresDurableTopology(t *testing.T) {
	t.Parallel()

	sessions := &fakeSessions{}
	c := NewConsumer(sessions, taskTopology, nil, zap.NewNop())
	errCh := runConsumer(context.Background(), c)

	waitFor(t, func() bool { return c.QueueName() != "" })
	ch := sessions.channel(0)
	ch.mu.Lock()
	assert.Equal(t, []string{"crawl.tasks/true/false/false"}, ch.queues)
	assert.Equal(t, []string{"crawl.tasks<-crawl:tasks"}, ch.bindings)
	assert.Equal(t, 1, ch.prefetch)
	ch.mu.Unlock()
	assert.Equal(t, "crawl.tasks", c.QueueName())

	require.NoError(t, c.Cancel())
	require.NoError(t, waitErr(t, errCh))
}

func TestConsumerAnonymousQueuePerSession(t *testing.T) {
	t.Parallel()

	sessions := &fakeSessions{}
	topo := Topology{Exchange: "crawl", RoutingKey: "tasks", Queue: "ignored"}

	first := NewConsumer(sessions, topo, nil, zap.NewNop())
	second := NewConsumer(sessions, topo, nil, zap.NewNop())
	firstErr := runConsumer(context.Background(), first)
	waitFor(t, func() bool { return first.QueueName() != "" })
	secondErr := runConsumer(context.Background(), second)
	waitFor(t, func() bool { return second.QueueName() != "" })

	assert.NotEqual(t, "ignored", first.QueueName())
	assert.NotEqual(t, first.QueueName(), second.QueueName())
	assert.NotEqual(t, first.Tag(), second.Tag())
	ch := sessions.channel(0)
	ch.mu.Lock()
	assert.Equal(t, []string{first.QueueName() + "/false/true/true"}, ch.queues)
	assert.Equal(t, []string{first.QueueName() + "<-crawl:tasks"}, ch.bindings)
	ch.mu.Unlock()

	first.Stop()
	second.Stop()
	require.NoError(t, waitErr(t, firstErr))
	require.NoError(t, waitErr(t, secondErr))
}

func TestConsumerDefaultHandlerAcks(t *testing.T) {
	t.Parallel()

	sessions := &fakeSessions{}
	c := NewConsumer(sessions, taskTopology, nil, zap.NewNop())
	errCh := runConsumer(context.Background(), c)
	waitFor(t, func() bool { return c.QueueName() != "" })

	ack := &fakeAcknowledger{}
	deliveries := sessions.channel(0).deliveries
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("a")}
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte("b")}

	waitFor(t, func() bool { return len(ack.acked()) == 2 })
	assert.Equal(t, []uint64{1, 2}, ack.acked())

	c.Stop()
	require.NoError(t, waitErr(t, errCh))
	assert.True(t, sessions.conns[0].IsClosed())
}

func TestConsumerReturnsHandlerError(t *testing.T) {
	t.Parallel()

	sessions := &fakeSessions{}
	handler := func(context.Context, amqp.Delivery) error { return errBoom }
	c := NewConsumer(sessions, taskTopology, handler, zap.NewNop())
	errCh := runConsumer(context.Background(), c)
	waitFor(t, func() bool { return c.QueueName() != "" })

	ack := &fakeAcknowledger{}
	sessions.channel(0).deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 7}

	err := waitErr(t, errCh)
	require.ErrorIs(t, err, errBoom)
	assert.Empty(t, ack.acked())
	c.Stop()
}

func TestConsumerCancelFromHandlerReturnsNil(t *testing.T) {
	t.Parallel()

	sessions := &fakeSessions{}
	var c *Consumer
	handled := 0
	handler := func(_ context.Context, d amqp.Delivery) error {
		handled++
		if err := c.Cancel(); err != nil {
			return err
		}
		return d.Ack(false)
	}
	c = NewConsumer(sessions, taskTopology, handler, zap.NewNop())
	errCh := runConsumer(context.Background(), c)
	waitFor(t, func() bool { return c.QueueName() != "" })

	ack := &fakeAcknowledger{}
	sessions.channel(0).deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3}

	require.NoError(t, waitErr(t, errCh))
	assert.Equal(t, 1, handled)
	assert.Equal(t, []uint64{3}, ack.acked())
	assert.Equal(t, []string{c.Tag()}, sessions.channel(0).cancelled)
}

func TestConsumerBrokerClosedDeliveries(t *testing.T) {
	t.Parallel()

	sessions := &fakeSessions{}
	c := NewConsumer(sessions, taskTopology, nil, zap.NewNop())
	errCh := runConsumer(context.Background(), c)
	waitFor(t, func() bool { return c.QueueName() != "" })

	close(sessions.channel(0).deliveries)
	err := waitErr(t, errCh)
	require.True(t, errors.Is(err, ErrDeliveriesClosed))
}

func TestConsumerContextCancel(t *testing.T) {
	t.Parallel()

	sessions := &fakeSessions{}
	ctx, cancel := context.WithCancel(context.Background())
	c := NewConsumer(sessions, taskTopology, nil, zap.NewNop())
	errCh := runConsumer(ctx, c)
	waitFor(t, func() bool { return c.QueueName() != "" })

	cancel()
	require.ErrorIs(t, waitErr(t, errCh), context.Canceled)
	c.Stop()
}
