package events

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

type NATSPublisher struct {
	nc *nats.Conn
}

func NewNATS(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("hacpd"))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSPublisher{nc: nc}, nil
}

// Publish sends the event on topic narrowed by tier.
func (p *NATSPublisher) Publish(ctx context.Context, topic string, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := event.encode()
	if err != nil {
		return err
	}
	return p.nc.Publish(event.Subject(topic), data)
}

func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
