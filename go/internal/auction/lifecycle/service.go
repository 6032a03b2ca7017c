// Package lifecycle owns the auction state machine: starting auctions, accepting human and
// bot bids, prebids and finalization. Every mutation of one auction is serialized through a
// per-auction lock; different auctions never wait on each other.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pennyauction/go/internal/auction/bots"
	"github.com/mcdev12/pennyauction/go/internal/auction/broadcast"
	"github.com/mcdev12/pennyauction/go/internal/auction/events"
	"github.com/mcdev12/pennyauction/go/internal/auction/metrics"
	"github.com/mcdev12/pennyauction/go/internal/auction/store"
	"github.com/mcdev12/pennyauction/go/internal/auction/timer"
	"github.com/mcdev12/pennyauction/go/internal/models"
	"github.com/rs/zerolog/log"
)

// DefaultRecentBids is how many bids accompany an auctionUpdate.
const DefaultRecentBids = 5

// Clock is the part of clockwork the service needs.
type Clock interface {
	Now() time.Time
}

// Service is the auction lifecycle service.
type Service struct {
	store       store.Store
	timers      *timer.Manager
	bots        *bots.Engine
	broadcaster broadcast.Broadcaster
	metrics     metrics.Recorder
	clock       Clock
	recentBids  int

	locks *keyedMutex

	rotMu     sync.Mutex
	rotations map[uuid.UUID]*bots.Rotation
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the real clock.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRecentBids sets how many bids an auctionUpdate carries.
func WithRecentBids(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.recentBids = n
		}
	}
}

// NewService wires the service and registers it as the bot engine's bid placer.
func NewService(st store.Store, timers *timer.Manager, engine *bots.Engine, b broadcast.Broadcaster, opts ...Option) *Service {
	s := &Service{
		store:       st,
		timers:      timers,
		bots:        engine,
		broadcaster: b,
		metrics:     metrics.NoOp{},
		clock:       clockwork.NewRealClock(),
		recentBids:  DefaultRecentBids,
		locks:       newKeyedMutex(),
		rotations:   make(map[uuid.UUID]*bots.Rotation),
	}
	for _, opt := range opts {
		opt(s)
	}
	if engine != nil {
		engine.SetPlacer(s)
	}
	return s
}

// GetTimeLeft returns the seconds left on an auction's timer, or 0 if none is running.
func (s *Service) GetTimeLeft(auctionID uuid.UUID) int {
	left, _ := s.timers.TimeLeft(auctionID)
	return left
}

// AllTimers returns a snapshot of every running timer.
func (s *Service) AllTimers() map[uuid.UUID]int {
	return s.timers.All()
}

// Shutdown stops every timer. Auctions stay live in storage and are picked up again by
// RecoverLiveAuctions on the next boot.
func (s *Service) Shutdown() {
	s.timers.StopAll()
	s.rotMu.Lock()
	s.rotations = make(map[uuid.UUID]*bots.Rotation)
	s.rotMu.Unlock()
	s.metrics.SetLiveAuctions(0)
	log.Info().Msg("auction timers stopped")
}

// startTimer creates the auction's rotation and timer. Timers outlive the request that
// started them, so they run on a context that is never cancelled.
func (s *Service) startTimer(ctx context.Context, auction models.Auction) {
	rot := bots.NewRotation()
	s.rotMu.Lock()
	s.rotations[auction.ID] = rot
	s.rotMu.Unlock()

	s.timers.Start(context.WithoutCancel(ctx), auction.ID, auction.TimerSeconds, s.onTick(rot))
	s.metrics.SetLiveAuctions(len(s.timers.All()))
}

func (s *Service) stopTimer(auctionID uuid.UUID) {
	s.timers.Stop(auctionID)
	s.rotMu.Lock()
	delete(s.rotations, auctionID)
	s.rotMu.Unlock()
	s.metrics.SetLiveAuctions(len(s.timers.All()))
}

// onTick runs once per second per live auction: bot check, timer broadcast, expiry.
func (s *Service) onTick(rot *bots.Rotation) timer.TickFunc {
	return func(ctx context.Context, auctionID uuid.UUID, timeLeft int) {
		if s.bots != nil {
			s.bots.Check(ctx, auctionID, rot, timeLeft)
		}

		// Re-read: a bid during the bot check resets the countdown.
		left, ok := s.timers.TimeLeft(auctionID)
		if !ok {
			return
		}
		s.emit(ctx, func(now time.Time) (events.Event, error) {
			return events.NewTimerTick(auctionID, left, now)
		})

		if left <= 0 {
			s.expire(ctx, auctionID)
		}
	}
}

// expire finalizes the auction unless a bid reset the timer while we waited for the lock.
func (s *Service) expire(ctx context.Context, auctionID uuid.UUID) {
	unlock := s.locks.Lock(auctionID)
	defer unlock()

	if left, ok := s.timers.TimeLeft(auctionID); ok && left > 0 {
		log.Debug().Str("auction_id", auctionID.String()).Int("time_left", left).Msg("bid landed before expiry, not finishing")
		return
	}
	if _, err := s.endLocked(ctx, auctionID); err != nil {
		// The timer keeps ticking at zero, so the next tick retries.
		log.Error().Err(err).Str("auction_id", auctionID.String()).Msg("failed to finish expired auction")
	}
}

// emit builds and sends an event. Broadcast failures never fail the caller.
func (s *Service) emit(ctx context.Context, build func(now time.Time) (events.Event, error)) {
	if s.broadcaster == nil {
		return
	}
	e, err := build(s.clock.Now())
	if err != nil {
		log.Error().Err(err).Msg("failed to build event")
		return
	}
	if err := s.broadcaster.Emit(ctx, e); err != nil {
		log.Error().Err(err).
			Str("event_type", string(e.Type)).
			Str("auction_id", e.AuctionID).
			Msg("failed to broadcast event")
	}
}

// emitAuctionUpdate sends the auction with its latest bids and all timers.
func (s *Service) emitAuctionUpdate(ctx context.Context, auction models.Auction) {
	bids, err := s.store.GetBidsForAuction(ctx, auction.ID, s.recentBids)
	if err != nil {
		log.Error().Err(err).Str("auction_id", auction.ID.String()).Msg("failed to load recent bids for broadcast")
		return
	}
	timers := s.timers.All()
	s.emit(ctx, func(now time.Time) (events.Event, error) {
		return events.NewAuctionUpdate(auction, bids, timers, now)
	})
}
