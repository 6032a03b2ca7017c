package bots

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pennyauction/go/internal/auction/store"
	"github.com/mcdev12/pennyauction/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedRandom always returns the same roll.
type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }

// storePlacer records bot bids and counts them against the store like the lifecycle service does.
type storePlacer struct {
	store *store.Memory

	mu   sync.Mutex
	bids []uuid.UUID
}

func (p *storePlacer) PlaceBotBid(ctx context.Context, auctionID, botID uuid.UUID) error {
	if err := p.store.IncrementAuctionBotBidCount(ctx, auctionID, botID); err != nil {
		return err
	}
	p.mu.Lock()
	p.bids = append(p.bids, botID)
	p.mu.Unlock()
	return nil
}

func (p *storePlacer) placed() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uuid.UUID(nil), p.bids...)
}

type fixture struct {
	store   *store.Memory
	placer  *storePlacer
	clock   *clockwork.FakeClock
	engine  *Engine
	auction uuid.UUID
}

func newFixture(t *testing.T, roll float64, limits ...int) *fixture {
	t.Helper()
	mem := store.NewMemory()
	auctionID := uuid.New()
	mem.CreateAuction(models.Auction{ID: auctionID, Status: models.AuctionStatusLive, TimerSeconds: 10, StartTime: time.Now()})
	for i, limit := range limits {
		bot := models.Bot{ID: uuid.New(), Username: "bot" + string(rune('a'+i)), IsActive: true}
		mem.CreateBot(bot)
		mem.AddBotToAuction(auctionID, bot.ID, limit)
	}

	placer := &storePlacer{store: mem}
	clock := clockwork.NewFakeClock()
	engine := NewEngine(mem, placer, Config{}, WithRandom(fixedRandom(roll)), WithClock(clock))
	return &fixture{store: mem, placer: placer, clock: clock, engine: engine, auction: auctionID}
}

func TestCheck_ThreeBotsRotateWithoutRepeats(t *testing.T) {
	f := newFixture(t, 0, 5, 5, 5)
	rot := NewRotation()
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		f.clock.Advance(2 * time.Second)
		f.engine.Check(ctx, f.auction, rot, 4)
	}

	bids := f.placer.placed()
	require.Len(t, bids, 15, "every bot should exhaust its limit")
	for i := 1; i < len(bids); i++ {
		assert.NotEqual(t, bids[i-1], bids[i], "consecutive bot bids from the same bot at index %d", i)
	}

	counts := map[uuid.UUID]int{}
	for _, id := range bids {
		counts[id]++
	}
	assert.Len(t, counts, 3)
	for _, n := range counts {
		assert.Equal(t, 5, n)
	}
}

func TestCheck_UnevenLimitsNoRepeatsWhileAlternativesRemain(t *testing.T) {
	f := newFixture(t, 0, 2, 4, 6)
	rot := NewRotation()
	ctx := context.Background()

	for i := 0; i < 40; i++ {
		f.clock.Advance(2 * time.Second)
		f.engine.Check(ctx, f.auction, rot, 2)
	}

	bids := f.placer.placed()
	require.Len(t, bids, 12)

	// Once only one bot has capacity, it keeps bidding alone.
	remaining := map[uuid.UUID]int{}
	bots, err := f.store.GetAuctionBots(ctx, f.auction)
	require.NoError(t, err)
	for _, ab := range bots {
		remaining[ab.BotID] = ab.BidLimit
	}
	for i, id := range bids {
		withCapacity := 0
		for _, left := range remaining {
			if left > 0 {
				withCapacity++
			}
		}
		if i > 0 && withCapacity >= 2 {
			assert.NotEqual(t, bids[i-1], id, "repeat at index %d while alternatives remained", i)
		}
		remaining[id]--
	}
}

func TestCheck_SingleBotExhaustsLimit(t *testing.T) {
	f := newFixture(t, 0, 500)
	rot := NewRotation()
	ctx := context.Background()

	for i := 0; i < 600; i++ {
		f.clock.Advance(2 * time.Second)
		f.engine.Check(ctx, f.auction, rot, 4)
	}

	assert.Len(t, f.placer.placed(), 500)
	bots, err := f.store.GetAuctionBots(ctx, f.auction)
	require.NoError(t, err)
	assert.Equal(t, 500, bots[0].CurrentBids)
}

func TestCheck_TriggerGate(t *testing.T) {
	tests := []struct {
		name     string
		roll     float64
		timeLeft int
		wantBid  bool
	}{
		{"4s under 70%", 0.69, 4, true},
		{"4s at 70%", 0.7, 4, false},
		{"2s under 50%", 0.49, 2, true},
		{"2s at 50%", 0.5, 2, false},
		{"3s never", 0, 3, false},
		{"10s never", 0, 10, false},
		{"0s never", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.roll, 0)
			got := f.engine.Check(context.Background(), f.auction, NewRotation(), tt.timeLeft)
			assert.Equal(t, tt.wantBid, got)
			assert.Len(t, f.placer.placed(), map[bool]int{true: 1, false: 0}[tt.wantBid])
		})
	}
}

func TestCheck_RateLimit(t *testing.T) {
	f := newFixture(t, 0, 0, 0)
	rot := NewRotation()
	ctx := context.Background()

	require.True(t, f.engine.Check(ctx, f.auction, rot, 4))

	f.clock.Advance(500 * time.Millisecond)
	assert.False(t, f.engine.Check(ctx, f.auction, rot, 2), "second bot bid within one second")

	f.clock.Advance(500 * time.Millisecond)
	assert.True(t, f.engine.Check(ctx, f.auction, rot, 2))
	assert.Len(t, f.placer.placed(), 2)
}

func TestCheck_NoCandidates(t *testing.T) {
	f := newFixture(t, 0)
	assert.False(t, f.engine.Check(context.Background(), f.auction, NewRotation(), 4))

	g := newFixture(t, 0, 3)
	require.NoError(t, g.store.DeactivateAuctionBots(context.Background(), g.auction))
	assert.False(t, g.engine.Check(context.Background(), g.auction, NewRotation(), 4))
}

func TestCheck_NilRotationIsNoop(t *testing.T) {
	f := newFixture(t, 0, 3)
	assert.False(t, f.engine.Check(context.Background(), f.auction, nil, 4))
}

// blockingPlacer parks the first bid until released.
type blockingPlacer struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (p *blockingPlacer) PlaceBotBid(ctx context.Context, auctionID, botID uuid.UUID) error {
	if p.calls.Add(1) == 1 {
		close(p.entered)
		<-p.release
	}
	return nil
}

func TestCheck_InFlightEvaluationSkipsOverlappingTick(t *testing.T) {
	f := newFixture(t, 0, 0, 0)
	placer := &blockingPlacer{entered: make(chan struct{}), release: make(chan struct{})}
	f.engine.SetPlacer(placer)
	rot := NewRotation()
	ctx := context.Background()

	done := make(chan bool)
	go func() { done <- f.engine.Check(ctx, f.auction, rot, 4) }()
	<-placer.entered

	f.clock.Advance(5 * time.Second)
	assert.False(t, f.engine.Check(ctx, f.auction, rot, 4), "overlapping evaluation must be skipped, not queued")

	close(placer.release)
	assert.True(t, <-done)
	assert.Equal(t, int32(1), placer.calls.Load())
}

// failingPlacer rejects every bid.
type failingPlacer struct{}

func (failingPlacer) PlaceBotBid(context.Context, uuid.UUID, uuid.UUID) error {
	return errors.New("auction not live")
}

func TestCheck_FailedBidDoesNotRecordBidder(t *testing.T) {
	f := newFixture(t, 0, 0, 0)
	f.engine.SetPlacer(failingPlacer{})
	rot := NewRotation()

	assert.False(t, f.engine.Check(context.Background(), f.auction, rot, 4))
	assert.Equal(t, uuid.Nil, rot.LastBotID())
	assert.True(t, rot.LastBidAt().IsZero())
}

func TestCandidates_FiltersAndSorts(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	active := models.Bot{IsActive: true}
	got := Candidates([]models.AuctionBot{
		{BotID: a, BidLimit: 10, IsActive: true, Bot: active},
		{BotID: b, BidLimit: 0, IsActive: true, Bot: active},
		{BotID: c, BidLimit: 5, CurrentBids: 5, IsActive: true, Bot: active},
		{BotID: d, BidLimit: 3, IsActive: true, Bot: models.Bot{IsActive: false}},
	})

	require.Len(t, got, 2)
	assert.Equal(t, b, got[0].BotID)
	assert.Equal(t, a, got[1].BotID)
}
