package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bid is an accepted bid. Bids are append-only; CreatedAt order is the canonical history.
type Bid struct {
	ID        uuid.UUID       `json:"id"`
	AuctionID uuid.UUID       `json:"auction_id"`
	UserID    *uuid.UUID      `json:"user_id,omitempty"` // set for human bids
	BotID     *uuid.UUID      `json:"bot_id,omitempty"`  // set for bot bids
	Amount    decimal.Decimal `json:"amount"`            // auction price right after this bid
	IsPrebid  bool            `json:"is_prebid"`
	IsBot     bool            `json:"is_bot"`
	CreatedAt time.Time       `json:"created_at"`
}

// BidderID returns whichever of UserID or BotID is set.
func (b Bid) BidderID() uuid.UUID {
	if b.BotID != nil {
		return *b.BotID
	}
	if b.UserID != nil {
		return *b.UserID
	}
	return uuid.Nil
}

// PrebidStatus tracks what happened to a prebid once its auction opened.
type PrebidStatus string

const (
	PrebidStatusPending   PrebidStatus = "pending"
	PrebidStatusConverted PrebidStatus = "converted" // became the opening bid
	PrebidStatusHeld      PrebidStatus = "held"      // kept for count/reference, no token spent
)

// Prebid is a user's commitment to bid as soon as an upcoming auction opens.
type Prebid struct {
	ID        uuid.UUID    `json:"id"`
	AuctionID uuid.UUID    `json:"auction_id"`
	UserID    uuid.UUID    `json:"user_id"`
	Status    PrebidStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}
