// Package broadcast pushes engine events to viewers and downstream systems.
package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/mcdev12/pennyauction/go/internal/auction/events"
	"github.com/rs/zerolog/log"
)

// Broadcaster delivers an event. Implementations must be safe for concurrent use.
type Broadcaster interface {
	Emit(ctx context.Context, event events.Event) error
}

// Fanout delivers every event to all of its targets and joins their errors.
type Fanout struct {
	mu      sync.RWMutex
	targets []Broadcaster
}

// NewFanout creates a Fanout over targets; nil targets are ignored.
func NewFanout(targets ...Broadcaster) *Fanout {
	f := &Fanout{}
	for _, t := range targets {
		f.Add(t)
	}
	return f
}

// Add appends a target.
func (f *Fanout) Add(target Broadcaster) {
	if target == nil {
		return
	}
	f.mu.Lock()
	f.targets = append(f.targets, target)
	f.mu.Unlock()
}

func (f *Fanout) Emit(ctx context.Context, event events.Event) error {
	f.mu.RLock()
	targets := f.targets
	f.mu.RUnlock()

	var errs []error
	for _, t := range targets {
		if err := t.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Filter forwards only the listed event types to Next.
type Filter struct {
	Next  Broadcaster
	Types map[events.Type]bool
}

func (f Filter) Emit(ctx context.Context, event events.Event) error {
	if !f.Types[event.Type] {
		return nil
	}
	return f.Next.Emit(ctx, event)
}

// LogBroadcaster logs events at debug level. Used when no transport is configured.
type LogBroadcaster struct{}

func (LogBroadcaster) Emit(_ context.Context, event events.Event) error {
	log.Debug().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Str("auction_id", event.AuctionID).
		Int("size", len(event.Data)).
		Msg("broadcast event")
	return nil
}
