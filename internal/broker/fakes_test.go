package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type publishedMessage struct {
	Exchange string
	Key      string
	Msg      amqp.Publishing
}

type fakeChannel struct {
	mu sync.Mutex

	exchanges  []string
	queues     []string
	bindings   []string
	prefetch   int
	consumeTag string
	published  []publishedMessage
	cancelled  []string
	closed     bool

	deliveries chan amqp.Delivery
	publishErr error
	anonSeq    *int
}

func newFakeChannel(anonSeq *int) *fakeChannel {
	return &fakeChannel{
		deliveries: make(chan amqp.Delivery, 8),
		anonSeq:    anonSeq,
	}
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges = append(c.exchanges, fmt.Sprintf("%s/%s/%t", name, kind, durable))
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, _ bool, _ amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == "" {
		*c.anonSeq++
		name = fmt.Sprintf("amq.gen-%d", *c.anonSeq)
	}
	c.queues = append(c.queues, fmt.Sprintf("%s/%t/%t/%t", name, durable, autoDelete, exclusive))
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings = append(c.bindings, name+"<-"+exchange+":"+key)
	return nil
}

func (c *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefetch = prefetchCount
	return nil
}

func (c *fakeChannel) Consume(_ string, consumer string, _ bool, _ bool, _ bool, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumeTag = consumer
	return c.deliveries, nil
}

// Cancel mirrors amqp091: cancelling a consumer closes its delivery channel.
func (c *fakeChannel) Cancel(consumer string, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, consumer)
	close(c.deliveries)
	return nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, publishedMessage{Exchange: exchange, Key: key, Msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeConnection struct {
	mu     sync.Mutex
	closed bool
}

func (c *fakeConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.closed = true
	return nil
}

// fakeSessions hands out a fresh channel/connection pair per Establish.
type fakeSessions struct {
	mu         sync.Mutex
	endpoint   Endpoint
	clock      Clock
	channels   []*fakeChannel
	conns      []*fakeConnection
	anonSeq    int
	publishErr []error
	err        error
}

func (f *fakeSessions) Establish(ctx context.Context) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	ch := newFakeChannel(&f.anonSeq)
	if len(f.publishErr) > 0 {
		ch.publishErr = f.publishErr[0]
		f.publishErr = f.publishErr[1:]
	}
	conn := &fakeConnection{}
	f.channels = append(f.channels, ch)
	f.conns = append(f.conns, conn)
	now := time.Now()
	if f.clock != nil {
		now = f.clock.Now()
	}
	return &Session{Conn: conn, Channel: ch, EstablishedAt: now}, nil
}

func (f *fakeSessions) Endpoint() Endpoint {
	return f.endpoint
}

func (f *fakeSessions) established() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels)
}

func (f *fakeSessions) channel(i int) *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[i]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeAcknowledger struct {
	mu    sync.Mutex
	acks  []uint64
	nacks []uint64
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks = append(a.nacks, tag)
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, _ bool) error {
	return a.Nack(tag, false, false)
}

func (a *fakeAcknowledger) acked() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.acks...)
}

var errBoom = errors.New("boom")
