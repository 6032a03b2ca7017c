package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcdev12/pennyauction/go/internal/auction/events"
)

// MsgPublisher is the part of *nats.Conn the publisher uses.
type MsgPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes events to NATS on "<prefix>.<type>" or "<prefix>.<type>.<auction id>".
type NATSPublisher struct {
	conn   MsgPublisher
	prefix string
}

// NewNATSPublisher creates a publisher. An empty prefix defaults to "auction.events".
func NewNATSPublisher(conn MsgPublisher, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "auction.events"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(event events.Event) string {
	if event.AuctionID == "" {
		return fmt.Sprintf("%s.%s", p.prefix, event.Type)
	}
	return fmt.Sprintf("%s.%s.%s", p.prefix, event.Type, event.AuctionID)
}

func (p *NATSPublisher) Emit(_ context.Context, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	subject := p.Subject(event)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}
