package broker

import (
	"context"
	"net"
	"strconv"
	"time"
)

// ProbePolicy bounds one WaitUntilReachable cycle.
type ProbePolicy struct {
	Attempts int
	Delay    time.Duration
	Timeout  time.Duration
}

// DefaultProbePolicy is ten attempts, three seconds apart, three second dial timeout.
func DefaultProbePolicy() ProbePolicy {
	return ProbePolicy{
		Attempts: 10,
		Delay:    3 * time.Second,
		Timeout:  3 * time.Second,
	}
}

type dialContextFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Prober checks whether a TCP port accepts connections.
type Prober struct {
	dial dialContextFunc
}

// NewProber returns a Prober that dials with the standard net.Dialer.
func NewProber() *Prober {
	return &Prober{}
}

// Probe makes a single connection attempt. Any failure (refused, timeout, DNS)
// yields false.
func (p *Prober) Probe(ctx context.Context, host string, port int, timeout time.Duration) bool {
	dial := p.dial
	if dial == nil {
		d := &net.Dialer{Timeout: timeout}
		dial = d.DialContext
	}
	probeCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	conn, err := dial(probeCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close() //nolint:errcheck // probe only cares that the dial succeeded
	return true
}

// WaitUntilReachable probes up to policy.Attempts times, sleeping policy.Delay
// between attempts. False means "not reachable right now", not a terminal
// error; it is also returned early when ctx is done.
func (p *Prober) WaitUntilReachable(ctx context.Context, host string, port int, policy ProbePolicy) bool {
	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		if p.Probe(ctx, host, port, policy.Timeout) {
			return true
		}
		if attempt == attempts {
			break
		}
		if !sleepContext(ctx, policy.Delay) {
			return false
		}
	}
	return false
}

// sleepContext waits for d or until ctx is done; it reports whether the full
// delay elapsed.
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
