package bots

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/pennyauction/go/internal/models"
)

// Rotation is the per-auction bookkeeping of the bot engine. It is created when an auction's
// timer starts and dropped when the timer stops.
type Rotation struct {
	inFlight atomic.Bool

	mu        sync.Mutex
	cursor    int
	lastBotID uuid.UUID
	lastBidAt time.Time
}

// NewRotation returns an empty rotation starting at the first candidate.
func NewRotation() *Rotation {
	return &Rotation{}
}

func (r *Rotation) tryAcquire() bool {
	return r.inFlight.CompareAndSwap(false, true)
}

func (r *Rotation) release() {
	r.inFlight.Store(false)
}

// next picks the bot to bid. A single candidate always bids; with more than one, the bot
// that placed the previous bot bid is skipped.
func (r *Rotation) next(candidates []models.AuctionBot) models.AuctionBot {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(candidates) == 1 {
		return candidates[0]
	}

	var selected models.AuctionBot
	for attempts := 0; attempts <= len(candidates); attempts++ {
		selected = candidates[r.cursor%len(candidates)]
		r.cursor++
		if selected.BotID != r.lastBotID {
			break
		}
	}
	return selected
}

func (r *Rotation) recordBid(botID uuid.UUID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastBotID = botID
	r.lastBidAt = at
}

// LastBotID returns the bot that placed the previous bot bid, or uuid.Nil.
func (r *Rotation) LastBotID() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastBotID
}

// LastBidAt returns when the previous bot bid was placed.
func (r *Rotation) LastBidAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastBidAt
}
