package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/JakeFAU/crawl-broker/internal/broker"
	"github.com/JakeFAU/crawl-broker/internal/crawler"
	"github.com/JakeFAU/crawl-broker/internal/store"
)

var errBoom = errors.New("boom")

type fakeEngine struct {
	mu    sync.Mutex
	specs []crawler.Specification
	ok    bool
	err   error
}

func (e *fakeEngine) Run(_ context.Context, spec crawler.Specification) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.specs = append(e.specs, spec)
	return e.ok, e.err
}

func (e *fakeEngine) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.specs)
}

type fakeAcknowledger struct {
	mu   sync.Mutex
	acks []uint64
	err  error
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.acks = append(a.acks, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(uint64, bool, bool) error { return nil }

func (a *fakeAcknowledger) Reject(uint64, bool) error { return nil }

func (a *fakeAcknowledger) acked() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.acks...)
}

type outcome struct {
	id     string
	status store.TaskStatus
	errMsg string
}

type fakeLedger struct {
	mu       sync.Mutex
	started  []store.TaskRun
	outcomes []outcome
}

func (l *fakeLedger) StartTask(_ context.Context, run store.TaskRun) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, run)
	return nil
}

func (l *fakeLedger) CompleteTask(_ context.Context, id string, _ time.Time, status store.TaskStatus, errMsg *string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	o := outcome{id: id, status: status}
	if errMsg != nil {
		o.errMsg = *errMsg
	}
	l.outcomes = append(l.outcomes, o)
	return nil
}

func (l *fakeLedger) RecordResult(context.Context, store.ResultRecord) error { return nil }

func (l *fakeLedger) last() outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.outcomes) == 0 {
		return outcome{}
	}
	return l.outcomes[len(l.outcomes)-1]
}

// fakeChannel serves a fixed set of deliveries and closes the stream on Cancel.
type fakeChannel struct {
	mu         sync.Mutex
	deliveries chan amqp.Delivery
	queues     []string
	cancelled  []string
	closed     bool
}

func newFakeChannel(ds ...amqp.Delivery) *fakeChannel {
	ch := make(chan amqp.Delivery, len(ds))
	for _, d := range ds {
		ch <- d
	}
	return &fakeChannel{deliveries: ch}
}

func (c *fakeChannel) ExchangeDeclare(string, string, bool, bool, bool, bool, amqp.Table) error {
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues = append(c.queues, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(string, string, string, bool, amqp.Table) error { return nil }

func (c *fakeChannel) Qos(int, int, bool) error { return nil }

func (c *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

func (c *fakeChannel) Cancel(consumer string, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, consumer)
	close(c.deliveries)
	return nil
}

func (c *fakeChannel) PublishWithContext(context.Context, string, string, bool, bool, amqp.Publishing) error {
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeConnection struct{ closed bool }

func (c *fakeConnection) IsClosed() bool { return c.closed }

func (c *fakeConnection) Close() error {
	c.closed = true
	return nil
}

type fakeSessions struct {
	channel *fakeChannel
}

func (f *fakeSessions) Establish(context.Context) (*broker.Session, error) {
	return &broker.Session{Conn: &fakeConnection{}, Channel: f.channel, EstablishedAt: time.Now()}, nil
}

func (f *fakeSessions) Endpoint() broker.Endpoint {
	return broker.Endpoint{Host: "localhost", Port: 5672}
}
