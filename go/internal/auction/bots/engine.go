// Package bots decides, once per timer tick, whether a simulated bidder should bid in a live
// auction and which one.
package bots

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pennyauction/go/internal/auction/metrics"
	"github.com/mcdev12/pennyauction/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Trigger is a remaining-seconds checkpoint at which a bot bid fires with Probability.
type Trigger struct {
	Seconds     int     `yaml:"seconds"`
	Probability float64 `yaml:"probability"`
}

// DefaultTriggers bid at 4 seconds 70% of the time and at 2 seconds 50% of the time.
var DefaultTriggers = []Trigger{
	{Seconds: 4, Probability: 0.7},
	{Seconds: 2, Probability: 0.5},
}

// DefaultMinInterval is the minimum gap between two bot bids in one auction.
const DefaultMinInterval = time.Second

// BotSource lists the bots assigned to an auction.
type BotSource interface {
	GetAuctionBots(ctx context.Context, auctionID uuid.UUID) ([]models.AuctionBot, error)
}

// BidPlacer places a bid on behalf of a bot.
type BidPlacer interface {
	PlaceBotBid(ctx context.Context, auctionID, botID uuid.UUID) error
}

// Random is the source of trigger randomness. *rand.Rand satisfies it.
type Random interface {
	Float64() float64
}

// Clock is the part of clockwork the engine needs.
type Clock interface {
	Now() time.Time
}

// Config tunes an Engine.
type Config struct {
	Triggers    []Trigger
	MinInterval time.Duration
}

// Engine is the bot rotation engine. It is shared by all auctions; per-auction state lives
// in the Rotation passed to Check.
type Engine struct {
	source  BotSource
	placer  BidPlacer
	clock   Clock
	metrics metrics.Recorder
	cfg     Config

	rngMu sync.Mutex
	rng   Random
}

// Option configures an Engine.
type Option func(*Engine)

// WithRandom replaces the random source.
func WithRandom(r Random) Option {
	return func(e *Engine) { e.rng = r }
}

// WithClock replaces the real clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine constructs an Engine with its own seeded random source.
func NewEngine(source BotSource, placer BidPlacer, cfg Config, opts ...Option) *Engine {
	if len(cfg.Triggers) == 0 {
		cfg.Triggers = DefaultTriggers
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	e := &Engine{
		source:  source,
		placer:  placer,
		clock:   clockwork.NewRealClock(),
		metrics: metrics.NoOp{},
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetPlacer wires the bid placer after construction, since the placer usually owns the engine.
func (e *Engine) SetPlacer(p BidPlacer) {
	e.placer = p
}

func (e *Engine) roll() float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64()
}

// gateOpen reports whether timeLeft hits a trigger and its roll succeeds.
func (e *Engine) gateOpen(timeLeft int) bool {
	for _, t := range e.cfg.Triggers {
		if t.Seconds == timeLeft {
			return e.roll() < t.Probability
		}
	}
	return false
}

// Check evaluates one tick for the auction and places at most one bot bid. It returns true
// if a bid was placed.
func (e *Engine) Check(ctx context.Context, auctionID uuid.UUID, rot *Rotation, timeLeft int) bool {
	if rot == nil || !e.gateOpen(timeLeft) {
		e.metrics.RecordBotCheck(metrics.BotCheckGateClosed)
		return false
	}

	if !rot.tryAcquire() {
		log.Debug().Str("auction_id", auctionID.String()).Msg("bot evaluation already in flight, skipping")
		e.metrics.RecordBotCheck(metrics.BotCheckBusy)
		return false
	}
	defer rot.release()

	now := e.clock.Now()
	if last := rot.LastBidAt(); !last.IsZero() && now.Sub(last) < e.cfg.MinInterval {
		e.metrics.RecordBotCheck(metrics.BotCheckRateLimited)
		return false
	}

	assigned, err := e.source.GetAuctionBots(ctx, auctionID)
	if err != nil {
		log.Error().Err(err).Str("auction_id", auctionID.String()).Msg("failed to load auction bots")
		e.metrics.RecordBotCheck(metrics.BotCheckFailed)
		return false
	}

	candidates := Candidates(assigned)
	if len(candidates) == 0 {
		log.Debug().Str("auction_id", auctionID.String()).Msg("no eligible bots")
		e.metrics.RecordBotCheck(metrics.BotCheckNoCandidates)
		return false
	}

	selected := rot.next(candidates)

	log.Info().
		Str("auction_id", auctionID.String()).
		Str("bot_id", selected.BotID.String()).
		Str("bot", selected.Bot.Username).
		Int("current_bids", selected.CurrentBids+1).
		Int("bid_limit", selected.BidLimit).
		Int("time_left", timeLeft).
		Int("candidates", len(candidates)).
		Msg("bot placing bid")

	if err := e.placer.PlaceBotBid(ctx, auctionID, selected.BotID); err != nil {
		log.Warn().Err(err).
			Str("auction_id", auctionID.String()).
			Str("bot_id", selected.BotID.String()).
			Msg("bot bid rejected")
		e.metrics.RecordBotCheck(metrics.BotCheckFailed)
		return false
	}

	rot.recordBid(selected.BotID, now)
	e.metrics.RecordBotCheck(metrics.BotCheckPlaced)
	return true
}

// Candidates filters assignments down to bots that may bid and sorts them by bid limit
// ascending, breaking ties by bot id so the rotation order is stable.
func Candidates(assigned []models.AuctionBot) []models.AuctionBot {
	out := make([]models.AuctionBot, 0, len(assigned))
	for _, ab := range assigned {
		if ab.Eligible() {
			out = append(out, ab)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BidLimit != out[j].BidLimit {
			return out[i].BidLimit < out[j].BidLimit
		}
		return out[i].BotID.String() < out[j].BotID.String()
	})
	return out
}
