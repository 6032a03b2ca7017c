package models

import (
	"time"

	"github.com/google/uuid"
)

// Bot is a simulated bidder. IsActive is the global kill-switch.
type Bot struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// AuctionBot assigns a bot to an auction with a bid limit (0 = unlimited).
type AuctionBot struct {
	AuctionID   uuid.UUID `json:"auction_id"`
	BotID       uuid.UUID `json:"bot_id"`
	BidLimit    int       `json:"bid_limit"`
	CurrentBids int       `json:"current_bids"`
	IsActive    bool      `json:"is_active"`
	Bot         Bot       `json:"bot"`
}

// HasCapacity reports whether the assignment may place another bid.
func (ab AuctionBot) HasCapacity() bool {
	return ab.BidLimit == 0 || ab.CurrentBids < ab.BidLimit
}

// Eligible reports whether the bot may bid in this auction right now.
func (ab AuctionBot) Eligible() bool {
	return ab.IsActive && ab.Bot.IsActive && ab.HasCapacity()
}
