// Package rabbitmq publishes result messages through a broker producer.
package rabbitmq

import (
	"context"

	"github.com/JakeFAU/crawl-broker/internal/broker"
)

type topologyPublisher interface {
	Publish(ctx context.Context, topo broker.Topology, body []byte) error
}

// Publisher routes every body to one fixed topology.
type Publisher struct {
	producer topologyPublisher
	topology broker.Topology
}

// New binds producer to topo.
func New(producer topologyPublisher, topo broker.Topology) *Publisher {
	return &Publisher{producer: producer, topology: topo}
}

// Publish sends body to the bound topology.
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	return p.producer.Publish(ctx, p.topology, body)
}
