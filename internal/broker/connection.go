package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-broker/internal/clock/system"
	"github.com/JakeFAU/crawl-broker/internal/metrics"
)

type reachability interface {
	WaitUntilReachable(ctx context.Context, host string, port int, policy ProbePolicy) bool
}

// openFunc dials the broker and opens one channel.
type openFunc func(ctx context.Context, endpoint Endpoint) (Connection, Channel, error)

// ConnectionManager builds sessions for one broker endpoint.
type ConnectionManager struct {
	endpoint Endpoint
	policy   ProbePolicy
	prober   reachability
	open     openFunc
	clock    Clock
	logger   *zap.Logger
}

// NewConnectionManager returns a manager that dials endpoint with amqp091.
func NewConnectionManager(endpoint Endpoint, policy ProbePolicy, logger *zap.Logger) *ConnectionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionManager{
		endpoint: endpoint,
		policy:   policy,
		prober:   NewProber(),
		open:     dialAMQP,
		clock:    system.New(),
		logger:   logger,
	}
}

// Endpoint returns the endpoint sessions are opened against.
func (m *ConnectionManager) Endpoint() Endpoint {
	return m.endpoint
}

// Establish blocks until the broker port is reachable, then opens a connection
// and a channel. Unreachability is retried for as long as ctx lives; a failed
// handshake on a reachable port is returned immediately.
func (m *ConnectionManager) Establish(ctx context.Context) (*Session, error) {
	for {
		m.logger.Info("waiting for broker", zap.String("address", m.endpoint.Address()))
		if m.prober.WaitUntilReachable(ctx, m.endpoint.Host, m.endpoint.Port, m.policy) {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("establish broker session: %w", err)
		}
		metrics.ObserveProbeFailure()
		m.logger.Warn("broker unreachable, retrying",
			zap.String("address", m.endpoint.Address()),
			zap.Int("attempts", m.policy.Attempts),
		)
	}

	conn, ch, err := m.open(ctx, m.endpoint)
	if err != nil {
		return nil, err
	}
	m.logger.Info("broker session established",
		zap.String("address", m.endpoint.Address()),
		zap.Duration("heartbeat", m.endpoint.Heartbeat),
	)
	return &Session{
		Conn:          conn,
		Channel:       ch,
		EstablishedAt: m.clock.Now(),
	}, nil
}

func dialAMQP(_ context.Context, endpoint Endpoint) (Connection, Channel, error) {
	conn, err := amqp.DialConfig(endpoint.URL(), amqp.Config{
		Heartbeat: endpoint.Heartbeat,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dial %s: %v", ErrHandshake, endpoint.Address(), err)
	}
	ch, err := conn.Channel()
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			return nil, nil, fmt.Errorf("open channel: %w (close connection: %v)", err, closeErr)
		}
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, ch, nil
}
