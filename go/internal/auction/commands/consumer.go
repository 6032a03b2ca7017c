package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Config holds configuration for the command consumer
type Config struct {
	SubjectPrefix  string // e.g. "auction.commands"; subjects are prefix.<command>
	QueueGroup     string // only the instance holding the engine lock subscribes
	RequestTimeout time.Duration
}

// DefaultConfig returns default consumer configuration
func DefaultConfig() Config {
	return Config{
		SubjectPrefix:  "auction.commands",
		QueueGroup:     "auction-engine",
		RequestTimeout: 5 * time.Second,
	}
}

// Connect opens a NATS connection that reconnects forever and logs its state changes.
func Connect(url, name string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Consumer serves commands from a NATS queue subscription.
type Consumer struct {
	nc      *nats.Conn
	handler *Handler
	config  Config

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewConsumer creates a Consumer.
func NewConsumer(nc *nats.Conn, handler *Handler, config Config) *Consumer {
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = DefaultConfig().SubjectPrefix
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultConfig().RequestTimeout
	}
	return &Consumer{nc: nc, handler: handler, config: config}
}

// Subject returns the request subject for a command.
func (c *Consumer) Subject(command string) string {
	return c.config.SubjectPrefix + "." + command
}

// Start subscribes to every command. Requests are handled on ctx, so cancelling it
// aborts in-flight work.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, command := range Commands {
		command := command
		sub, err := c.nc.QueueSubscribe(c.Subject(command), c.config.QueueGroup, func(msg *nats.Msg) {
			reply := c.reply(ctx, command, msg.Data)
			if msg.Reply == "" {
				return
			}
			if err := msg.Respond(reply); err != nil {
				log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to respond to command")
			}
		})
		if err != nil {
			c.unsubscribeLocked()
			return fmt.Errorf("subscribe %s: %w", c.Subject(command), err)
		}
		c.subs = append(c.subs, sub)
	}

	log.Info().
		Str("subjects", c.config.SubjectPrefix+".>").
		Str("queue", c.config.QueueGroup).
		Msg("command consumer started")
	return nil
}

// reply handles one request and encodes the response.
func (c *Consumer) reply(ctx context.Context, command string, data []byte) []byte {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	resp := c.handler.Handle(reqCtx, command, data)
	if !resp.OK {
		log.Debug().
			Str("command", command).
			Str("reason", resp.Reason).
			Str("error", resp.Error).
			Msg("command rejected")
	}

	out, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Str("command", command).Msg("failed to encode command response")
		return []byte(`{"ok":false,"reason":"internal"}`)
	}
	return out
}

// Stop drains the subscriptions so in-flight requests still get their replies.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("drain %s: %w", sub.Subject, err))
		}
	}
	c.subs = nil
	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.Info().Msg("command consumer stopped")
	return nil
}

func (c *Consumer) unsubscribeLocked() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.subs = nil
}
