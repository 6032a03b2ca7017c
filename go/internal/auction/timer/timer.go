// Package timer owns the per-auction countdowns. A Manager is the only place that holds an
// auction's remaining seconds; each live auction gets its own ticker goroutine.
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) clockwork.Ticker
}

// TickFunc is called once per tick with the remaining seconds after the decrement.
// It runs on the auction's ticker goroutine, so ticks for one auction never overlap.
type TickFunc func(ctx context.Context, auctionID uuid.UUID, timeLeft int)

// Manager is the registry of running auction timers.
type Manager struct {
	clock    Clock
	interval time.Duration

	mu     sync.Mutex
	timers map[uuid.UUID]*auctionTimer
}

type auctionTimer struct {
	mu       sync.Mutex
	timeLeft int
	stopped  bool
	stopCh   chan struct{}
}

// NewManager creates a Manager that ticks every interval (one second in production).
func NewManager(clock Clock, interval time.Duration) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Manager{
		clock:    clock,
		interval: interval,
		timers:   make(map[uuid.UUID]*auctionTimer),
	}
}

// Start begins a countdown of seconds for the auction. A timer already running for the
// same auction is stopped and replaced.
func (m *Manager) Start(ctx context.Context, auctionID uuid.UUID, seconds int, onTick TickFunc) {
	t := &auctionTimer{
		timeLeft: seconds,
		stopCh:   make(chan struct{}),
	}

	m.mu.Lock()
	if old, ok := m.timers[auctionID]; ok {
		old.stop()
		log.Debug().Str("auction_id", auctionID.String()).Msg("replacing existing auction timer")
	}
	m.timers[auctionID] = t
	m.mu.Unlock()

	log.Info().
		Str("auction_id", auctionID.String()).
		Int("time_left", seconds).
		Msg("auction timer started")

	go m.run(ctx, auctionID, t, onTick)
}

func (m *Manager) run(ctx context.Context, auctionID uuid.UUID, t *auctionTimer, onTick TickFunc) {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.remove(auctionID, t)
			return
		case <-t.stopCh:
			return
		case <-ticker.Chan():
			left, ok := t.tick()
			if !ok {
				return
			}
			onTick(ctx, auctionID, left)
		}
	}
}

// tick decrements the countdown, holding at zero until the timer is stopped.
func (t *auctionTimer) tick() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return 0, false
	}
	if t.timeLeft > 0 {
		t.timeLeft--
	}
	return t.timeLeft, true
}

func (t *auctionTimer) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	close(t.stopCh)
}

// Reset jumps the countdown back to seconds without touching the tick cadence.
// It reports false if no timer is running for the auction.
func (m *Manager) Reset(auctionID uuid.UUID, seconds int) bool {
	m.mu.Lock()
	t, ok := m.timers[auctionID]
	m.mu.Unlock()
	if !ok {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.timeLeft = seconds
	return true
}

// Stop cancels the auction's timer and does not wait for its goroutine. A tick that was
// already past its stopped check may still deliver one callback, so callbacks re-check
// auction state before mutating it.
func (m *Manager) Stop(auctionID uuid.UUID) {
	m.mu.Lock()
	t, ok := m.timers[auctionID]
	delete(m.timers, auctionID)
	m.mu.Unlock()

	if ok {
		t.stop()
		log.Info().Str("auction_id", auctionID.String()).Msg("auction timer stopped")
	}
}

// StopAll cancels every running timer.
func (m *Manager) StopAll() {
	m.mu.Lock()
	timers := m.timers
	m.timers = make(map[uuid.UUID]*auctionTimer)
	m.mu.Unlock()

	for _, t := range timers {
		t.stop()
	}
}

func (m *Manager) remove(auctionID uuid.UUID, t *auctionTimer) {
	m.mu.Lock()
	if cur, ok := m.timers[auctionID]; ok && cur == t {
		delete(m.timers, auctionID)
	}
	m.mu.Unlock()
	t.stop()
}

// TimeLeft returns the remaining seconds for a running timer.
func (m *Manager) TimeLeft(auctionID uuid.UUID) (int, bool) {
	m.mu.Lock()
	t, ok := m.timers[auctionID]
	m.mu.Unlock()
	if !ok {
		return 0, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeLeft, !t.stopped
}

// Running reports whether a timer exists for the auction.
func (m *Manager) Running(auctionID uuid.UUID) bool {
	_, ok := m.TimeLeft(auctionID)
	return ok
}

// All returns a snapshot of every running timer.
func (m *Manager) All() map[uuid.UUID]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[uuid.UUID]int, len(m.timers))
	for id, t := range m.timers {
		t.mu.Lock()
		if !t.stopped {
			out[id] = t.timeLeft
		}
		t.mu.Unlock()
	}
	return out
}
