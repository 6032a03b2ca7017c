// Package scheduler runs the engine's once-a-second housekeeping loop: a consolidated timer
// broadcast, a refresh of every live auction for clients that missed an event, and starting
// upcoming auctions whose time has come.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pennyauction/go/internal/auction/broadcast"
	"github.com/mcdev12/pennyauction/go/internal/auction/events"
	"github.com/mcdev12/pennyauction/go/internal/auction/metrics"
	"github.com/mcdev12/pennyauction/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) clockwork.Ticker
}

// Lifecycle is what the loop needs from the lifecycle service.
type Lifecycle interface {
	CheckUpcomingAuctions(ctx context.Context) (int, error)
	AllTimers() map[uuid.UUID]int
}

// AuctionReader lists live auctions and their latest bids.
type AuctionReader interface {
	GetAuctionsByStatus(ctx context.Context, status models.AuctionStatus) ([]models.Auction, error)
	GetBidsForAuction(ctx context.Context, auctionID uuid.UUID, limit int) ([]models.Bid, error)
}

// Scheduler is the periodic loop.
type Scheduler struct {
	lifecycle   Lifecycle
	reader      AuctionReader
	broadcaster broadcast.Broadcaster
	metrics     metrics.Recorder
	clock       Clock

	interval   time.Duration
	startDelay time.Duration
	recentBids int
	instanceID string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the real clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithInterval sets the loop period.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithStartDelay skips iterations until d has passed since Run, giving storage connections
// time to settle after boot.
func WithStartDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.startDelay = d }
}

// WithRecentBids sets how many bids each live auction refresh carries.
func WithRecentBids(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.recentBids = n
		}
	}
}

// New creates a Scheduler.
func New(lifecycle Lifecycle, reader AuctionReader, b broadcast.Broadcaster, opts ...Option) *Scheduler {
	s := &Scheduler{
		lifecycle:   lifecycle,
		reader:      reader,
		broadcaster: b,
		metrics:     metrics.NoOp{},
		clock:       clockwork.NewRealClock(),
		interval:    time.Second,
		recentBids:  5,
		instanceID:  uuid.New().String()[:8], // short ID for logging
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks until ctx is cancelled. A failed iteration is logged and the loop carries on.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().
		Str("instance", s.instanceID).
		Dur("interval", s.interval).
		Msg("auction scheduler started")

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	readyAt := s.clock.Now().Add(s.startDelay)
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("instance", s.instanceID).Msg("auction scheduler stopped")
			return nil
		case <-ticker.Chan():
			if s.clock.Now().Before(readyAt) {
				continue
			}
			start := s.clock.Now()
			err := s.RunOnce(ctx)
			s.metrics.RecordSchedulerIteration(s.clock.Now().Sub(start), err == nil)
			if err != nil {
				log.Error().Err(err).Str("instance", s.instanceID).Msg("scheduler iteration failed")
			}
		}
	}
}

// RunOnce performs one iteration. Every step runs even if an earlier one fails; the
// failures are joined.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error

	timers := s.lifecycle.AllTimers()
	if err := s.emit(ctx, func(now time.Time) (events.Event, error) {
		return events.NewTimersSnapshot(timers, now)
	}); err != nil {
		errs = append(errs, fmt.Errorf("timer snapshot: %w", err))
	}

	if err := s.refreshLive(ctx, timers); err != nil {
		errs = append(errs, err)
	}

	started, err := s.lifecycle.CheckUpcomingAuctions(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("check upcoming auctions: %w", err))
	}
	if started > 0 {
		log.Info().Int("started", started).Msg("started upcoming auctions")
	}

	return errors.Join(errs...)
}

// refreshLive re-sends every live auction with its latest bids and all timers.
func (s *Scheduler) refreshLive(ctx context.Context, timers map[uuid.UUID]int) error {
	live, err := s.reader.GetAuctionsByStatus(ctx, models.AuctionStatusLive)
	if err != nil {
		return fmt.Errorf("list live auctions: %w", err)
	}

	var errs []error
	for _, a := range live {
		bids, err := s.reader.GetBidsForAuction(ctx, a.ID, s.recentBids)
		if err != nil {
			errs = append(errs, fmt.Errorf("bids for auction %s: %w", a.ID, err))
			continue
		}
		auction := a
		if err := s.emit(ctx, func(now time.Time) (events.Event, error) {
			return events.NewAuctionUpdate(auction, bids, timers, now)
		}); err != nil {
			errs = append(errs, fmt.Errorf("refresh auction %s: %w", a.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) emit(ctx context.Context, build func(now time.Time) (events.Event, error)) error {
	e, err := build(s.clock.Now())
	if err != nil {
		return err
	}
	return s.broadcaster.Emit(ctx, e)
}
