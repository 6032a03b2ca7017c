package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestAuctionStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to AuctionStatus
		want     bool
	}{
		{AuctionStatusUpcoming, AuctionStatusLive, true},
		{AuctionStatusUpcoming, AuctionStatusFinished, true},
		{AuctionStatusLive, AuctionStatusFinished, true},
		{AuctionStatusLive, AuctionStatusUpcoming, false},
		{AuctionStatusLive, AuctionStatusLive, false},
		{AuctionStatusFinished, AuctionStatusLive, false},
		{AuctionStatusFinished, AuctionStatusFinished, false},
		{AuctionStatus("paused"), AuctionStatusLive, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}

	assert.True(t, AuctionStatusLive.Valid())
	assert.False(t, AuctionStatus("").Valid())
}

func TestAuctionUpdate_ApplyOnlySetFields(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := Auction{
		ID:           uuid.New(),
		Status:       AuctionStatusLive,
		CurrentPrice: decimal.RequireFromString("1.23"),
		StartTime:    start,
	}

	price := decimal.RequireFromString("1.24")
	AuctionUpdate{CurrentPrice: &price}.Apply(&a)
	assert.Equal(t, "1.24", a.CurrentPrice.StringFixed(2))
	assert.Equal(t, AuctionStatusLive, a.Status)
	assert.Equal(t, start, a.StartTime)
	assert.Nil(t, a.WinnerID)

	finished := AuctionStatusFinished
	end := start.Add(time.Hour)
	winner := uuid.New()
	isBot := true
	u := AuctionUpdate{Status: &finished, EndTime: &end, WinnerID: &winner, WinnerIsBot: &isBot}
	u.Apply(&a)

	// Apply copies, so later changes to the update's values do not leak into the auction.
	winner = uuid.New()
	assert.Equal(t, AuctionStatusFinished, a.Status)
	assert.Equal(t, end, *a.EndTime)
	assert.NotEqual(t, winner, *a.WinnerID)
	assert.True(t, a.WinnerIsBot)
}

func TestBid_BidderID(t *testing.T) {
	user, bot := uuid.New(), uuid.New()
	assert.Equal(t, user, Bid{UserID: &user}.BidderID())
	assert.Equal(t, bot, Bid{BotID: &bot, IsBot: true}.BidderID())
	assert.Equal(t, uuid.Nil, Bid{}.BidderID())
}

func TestAuctionBot_Eligible(t *testing.T) {
	tests := []struct {
		name string
		ab   AuctionBot
		want bool
	}{
		{"unlimited", AuctionBot{IsActive: true, Bot: Bot{IsActive: true}, CurrentBids: 1000}, true},
		{"under limit", AuctionBot{IsActive: true, Bot: Bot{IsActive: true}, BidLimit: 3, CurrentBids: 2}, true},
		{"at limit", AuctionBot{IsActive: true, Bot: Bot{IsActive: true}, BidLimit: 3, CurrentBids: 3}, false},
		{"assignment inactive", AuctionBot{IsActive: false, Bot: Bot{IsActive: true}}, false},
		{"bot disabled globally", AuctionBot{IsActive: true, Bot: Bot{IsActive: false}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ab.Eligible())
		})
	}
}
