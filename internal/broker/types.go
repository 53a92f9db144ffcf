package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrHandshake marks a reachable broker port that refused the AMQP handshake.
	// It is a configuration problem and is never retried locally.
	ErrHandshake = errors.New("broker handshake failed")
	// ErrDeliveriesClosed is returned by Consumer.Start when the broker closes the
	// delivery stream without the subscription having been cancelled by us.
	ErrDeliveriesClosed = errors.New("broker closed the delivery stream")
)

// Endpoint identifies a broker and the heartbeat negotiated for each session.
type Endpoint struct {
	Host      string
	Port      int
	Heartbeat time.Duration
	Username  string
	Password  string
	VHost     string
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL builds the amqp:// URL for the endpoint.
func (e Endpoint) URL() string {
	uri := amqp.URI{
		Scheme:   "amqp",
		Host:     e.Host,
		Port:     e.Port,
		Username: e.Username,
		Password: e.Password,
		Vhost:    e.VHost,
	}
	if uri.Username == "" {
		uri.Username = "guest"
		uri.Password = "guest"
	}
	if uri.Vhost == "" {
		uri.Vhost = "/"
	}
	return uri.String()
}

// Topology describes where messages are routed.
//
// Durable queues are named and survive broker restarts. When Durable is false
// the queue name is ignored by consumers and replaced with a broker-generated,
// exclusive, auto-deleted queue.
type Topology struct {
	Exchange        string
	ExchangeType    string
	ExchangeDurable bool
	Queue           string
	RoutingKey      string
	Durable         bool
}

// Channel is the subset of *amqp.Channel used by producers and consumers.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Connection is the subset of *amqp.Connection a session keeps.
type Connection interface {
	IsClosed() bool
	Close() error
}

// Session is a fully established connection plus its channel.
type Session struct {
	Conn          Connection
	Channel       Channel
	EstablishedAt time.Time
}

// Close closes the channel and then the connection, returning the first error.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.Channel != nil {
		if err := s.Channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if s.Conn != nil && !s.Conn.IsClosed() {
		if err := s.Conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Closed reports whether the underlying connection is gone.
func (s *Session) Closed() bool {
	return s == nil || s.Conn == nil || s.Conn.IsClosed()
}

// SessionFactory establishes sessions against one endpoint.
type SessionFactory interface {
	Establish(ctx context.Context) (*Session, error)
	Endpoint() Endpoint
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// declareExchange declares the topology exchange. The default exchange ("") is
// predeclared by the broker and cannot be redeclared.
func declareExchange(ch Channel, topo Topology) error {
	if topo.Exchange == "" {
		return nil
	}
	kind := topo.ExchangeType
	if kind == "" {
		kind = amqp.ExchangeDirect
	}
	if err := ch.ExchangeDeclare(topo.Exchange, kind, topo.ExchangeDurable, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", topo.Exchange, err)
	}
	return nil
}

// bindQueue binds queue to the topology exchange; binding to the default
// exchange is implicit.
func bindQueue(ch Channel, queue string, topo Topology) error {
	if topo.Exchange == "" {
		return nil
	}
	if err := ch.QueueBind(queue, topo.RoutingKey, topo.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", queue, topo.Exchange, err)
	}
	return nil
}
