package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/pennyauction/go/internal/auction/auctionerrors"
	"github.com/mcdev12/pennyauction/go/internal/models"
)

// Memory is an in-process Store for tests and local development. One mutex serializes
// every auction, and nothing survives a restart.
type Memory struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	auctions    map[uuid.UUID]models.Auction
	bids        map[uuid.UUID][]models.Bid // append order per auction
	prebids     map[uuid.UUID][]models.Prebid
	bots        map[uuid.UUID]models.Bot
	auctionBots map[uuid.UUID][]models.AuctionBot
	balances    map[uuid.UUID]int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		state: memState{
			auctions:    make(map[uuid.UUID]models.Auction),
			bids:        make(map[uuid.UUID][]models.Bid),
			prebids:     make(map[uuid.UUID][]models.Prebid),
			bots:        make(map[uuid.UUID]models.Bot),
			auctionBots: make(map[uuid.UUID][]models.AuctionBot),
			balances:    make(map[uuid.UUID]int),
		},
	}
}

// CreateAuction inserts an auction. It stands in for the admin tooling that owns auction creation.
func (m *Memory) CreateAuction(a models.Auction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.auctions[a.ID] = a
}

// CreateBot inserts a bot.
func (m *Memory) CreateBot(b models.Bot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.bots[b.ID] = b
}

// SetBotActive flips a bot's global kill-switch.
func (m *Memory) SetBotActive(botID uuid.UUID, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.state.bots[botID]; ok {
		b.IsActive = active
		m.state.bots[botID] = b
	}
}

// AddBotToAuction assigns a bot to an auction with the given bid limit.
func (m *Memory) AddBotToAuction(auctionID, botID uuid.UUID, bidLimit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.auctionBots[auctionID] = append(m.state.auctionBots[auctionID], models.AuctionBot{
		AuctionID: auctionID,
		BotID:     botID,
		BidLimit:  bidLimit,
		IsActive:  true,
	})
}

// SetBalance sets a user's bid-token balance.
func (m *Memory) SetBalance(userID uuid.UUID, balance int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.balances[userID] = balance
}

func (m *Memory) view() *memTx { return &memTx{st: &m.state} }

func (m *Memory) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetAuction(ctx, id)
}

func (m *Memory) UpdateAuction(ctx context.Context, id uuid.UUID, update models.AuctionUpdate) (*models.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().UpdateAuction(ctx, id, update)
}

func (m *Memory) GetAuctionsByStatus(ctx context.Context, status models.AuctionStatus) ([]models.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetAuctionsByStatus(ctx, status)
}

func (m *Memory) CreateBid(ctx context.Context, bid models.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().CreateBid(ctx, bid)
}

func (m *Memory) GetBidsForAuction(ctx context.Context, auctionID uuid.UUID, limit int) ([]models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetBidsForAuction(ctx, auctionID, limit)
}

func (m *Memory) CreatePrebid(ctx context.Context, prebid models.Prebid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().CreatePrebid(ctx, prebid)
}

func (m *Memory) GetPrebidsForAuction(ctx context.Context, auctionID uuid.UUID) ([]models.Prebid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetPrebidsForAuction(ctx, auctionID)
}

func (m *Memory) UpdatePrebidStatus(ctx context.Context, id uuid.UUID, status models.PrebidStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().UpdatePrebidStatus(ctx, id, status)
}

func (m *Memory) GetAuctionBots(ctx context.Context, auctionID uuid.UUID) ([]models.AuctionBot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetAuctionBots(ctx, auctionID)
}

func (m *Memory) IncrementAuctionBotBidCount(ctx context.Context, auctionID, botID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().IncrementAuctionBotBidCount(ctx, auctionID, botID)
}

func (m *Memory) DeactivateAuctionBots(ctx context.Context, auctionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().DeactivateAuctionBots(ctx, auctionID)
}

func (m *Memory) SpendBidToken(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().SpendBidToken(ctx, userID)
}

func (m *Memory) GetBidBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetBidBalance(ctx, userID)
}

// WithinTx holds the store lock for the whole of fn, so transactions are fully serialized.
// Each mutation made through the view logs its inverse; a failed fn replays them newest first.
func (m *Memory) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var undo []func()
	if err := fn(&memTx{st: &m.state, undo: &undo}); err != nil {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return err
	}
	return nil
}

// memTx operates on the state without locking; the caller holds Memory.mu.
type memTx struct {
	st   *memState
	undo *[]func() // nil outside WithinTx
}

func (t *memTx) onRollback(f func()) {
	if t.undo != nil {
		*t.undo = append(*t.undo, f)
	}
}

func (t *memTx) GetAuction(_ context.Context, id uuid.UUID) (*models.Auction, error) {
	a, ok := t.st.auctions[id]
	if !ok {
		return nil, fmt.Errorf("get auction %s: %w", id, auctionerrors.ErrAuctionNotFound)
	}
	return &a, nil
}

func (t *memTx) UpdateAuction(_ context.Context, id uuid.UUID, update models.AuctionUpdate) (*models.Auction, error) {
	a, ok := t.st.auctions[id]
	if !ok {
		return nil, fmt.Errorf("update auction %s: %w", id, auctionerrors.ErrAuctionNotFound)
	}
	prev := a
	t.onRollback(func() { t.st.auctions[id] = prev })
	update.Apply(&a)
	t.st.auctions[id] = a
	return &a, nil
}

func (t *memTx) GetAuctionsByStatus(_ context.Context, status models.AuctionStatus) ([]models.Auction, error) {
	var out []models.Auction
	for _, a := range t.st.auctions {
		if a.Status == status {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

func (t *memTx) CreateBid(_ context.Context, bid models.Bid) error {
	if _, ok := t.st.auctions[bid.AuctionID]; !ok {
		return fmt.Errorf("create bid: %w", auctionerrors.ErrAuctionNotFound)
	}
	n := len(t.st.bids[bid.AuctionID])
	t.onRollback(func() { t.st.bids[bid.AuctionID] = t.st.bids[bid.AuctionID][:n] })
	t.st.bids[bid.AuctionID] = append(t.st.bids[bid.AuctionID], bid)
	return nil
}

func (t *memTx) GetBidsForAuction(_ context.Context, auctionID uuid.UUID, limit int) ([]models.Bid, error) {
	bids := t.st.bids[auctionID]
	n := len(bids)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.Bid, 0, n)
	for i := len(bids) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, bids[i])
	}
	return out, nil
}

func (t *memTx) CreatePrebid(_ context.Context, prebid models.Prebid) error {
	for _, p := range t.st.prebids[prebid.AuctionID] {
		if p.UserID == prebid.UserID {
			return fmt.Errorf("create prebid: %w", auctionerrors.ErrAlreadyPrebid)
		}
	}
	n := len(t.st.prebids[prebid.AuctionID])
	t.onRollback(func() { t.st.prebids[prebid.AuctionID] = t.st.prebids[prebid.AuctionID][:n] })
	t.st.prebids[prebid.AuctionID] = append(t.st.prebids[prebid.AuctionID], prebid)
	return nil
}

func (t *memTx) GetPrebidsForAuction(_ context.Context, auctionID uuid.UUID) ([]models.Prebid, error) {
	return append([]models.Prebid(nil), t.st.prebids[auctionID]...), nil
}

func (t *memTx) UpdatePrebidStatus(_ context.Context, id uuid.UUID, status models.PrebidStatus) error {
	for auctionID, list := range t.st.prebids {
		for i := range list {
			if list[i].ID == id {
				prev := list[i].Status
				t.onRollback(func() { t.st.prebids[auctionID][i].Status = prev })
				list[i].Status = status
				return nil
			}
		}
	}
	return fmt.Errorf("prebid %s not found", id)
}

func (t *memTx) GetAuctionBots(_ context.Context, auctionID uuid.UUID) ([]models.AuctionBot, error) {
	list := t.st.auctionBots[auctionID]
	out := make([]models.AuctionBot, 0, len(list))
	for _, ab := range list {
		ab.Bot = t.st.bots[ab.BotID]
		out = append(out, ab)
	}
	return out, nil
}

func (t *memTx) IncrementAuctionBotBidCount(_ context.Context, auctionID, botID uuid.UUID) error {
	list := t.st.auctionBots[auctionID]
	for i := range list {
		if list[i].BotID != botID {
			continue
		}
		if !list[i].IsActive || !t.st.bots[botID].IsActive {
			return fmt.Errorf("increment bot %s: %w", botID, auctionerrors.ErrBotInactive)
		}
		if !list[i].HasCapacity() {
			return fmt.Errorf("increment bot %s: %w", botID, auctionerrors.ErrBotLimitReached)
		}
		t.onRollback(func() { t.st.auctionBots[auctionID][i].CurrentBids-- })
		list[i].CurrentBids++
		return nil
	}
	return fmt.Errorf("increment bot %s: %w", botID, auctionerrors.ErrBotNotAssigned)
}

func (t *memTx) DeactivateAuctionBots(_ context.Context, auctionID uuid.UUID) error {
	list := t.st.auctionBots[auctionID]
	prev := make([]bool, len(list))
	for i := range list {
		prev[i] = list[i].IsActive
		list[i].IsActive = false
	}
	t.onRollback(func() {
		for i, active := range prev {
			t.st.auctionBots[auctionID][i].IsActive = active
		}
	})
	return nil
}

func (t *memTx) SpendBidToken(_ context.Context, userID uuid.UUID) error {
	if t.st.balances[userID] < 1 {
		return fmt.Errorf("spend bid token for %s: %w", userID, auctionerrors.ErrInsufficientBalance)
	}
	t.onRollback(func() { t.st.balances[userID]++ })
	t.st.balances[userID]--
	return nil
}

func (t *memTx) GetBidBalance(_ context.Context, userID uuid.UUID) (int, error) {
	return t.st.balances[userID], nil
}

func (t *memTx) WithinTx(_ context.Context, fn func(tx Store) error) error {
	return fn(t)
}
