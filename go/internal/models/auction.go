package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionStatus defines the lifecycle status of an auction.
type AuctionStatus string

const (
	AuctionStatusUpcoming AuctionStatus = "upcoming"
	AuctionStatusLive     AuctionStatus = "live"
	AuctionStatusFinished AuctionStatus = "finished"
)

// Valid reports whether s is a known status.
func (s AuctionStatus) Valid() bool {
	switch s {
	case AuctionStatusUpcoming, AuctionStatusLive, AuctionStatusFinished:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Transitions are monotonic: upcoming -> live -> finished, plus upcoming -> finished for admin overrides.
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	switch s {
	case AuctionStatusUpcoming:
		return next == AuctionStatusLive || next == AuctionStatusFinished
	case AuctionStatusLive:
		return next == AuctionStatusFinished
	}
	return false
}

// Auction represents a single penny auction.
type Auction struct {
	ID           uuid.UUID       `json:"id"`
	DisplayID    string          `json:"display_id"`
	Title        string          `json:"title"`
	Status       AuctionStatus   `json:"status"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	BidIncrement decimal.Decimal `json:"bid_increment"`
	TimerSeconds int             `json:"timer_seconds"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      *time.Time      `json:"end_time,omitempty"`
	WinnerID     *uuid.UUID      `json:"winner_id,omitempty"` // user or bot id of the final bidder
	WinnerIsBot  bool            `json:"winner_is_bot"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// AuctionUpdate carries the fields the lifecycle service mutates. Nil fields are left untouched.
type AuctionUpdate struct {
	Status       *AuctionStatus
	CurrentPrice *decimal.Decimal
	StartTime    *time.Time
	EndTime      *time.Time
	WinnerID     *uuid.UUID
	WinnerIsBot  *bool
}

// Apply copies the set fields of u onto a.
func (u AuctionUpdate) Apply(a *Auction) {
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.CurrentPrice != nil {
		a.CurrentPrice = *u.CurrentPrice
	}
	if u.StartTime != nil {
		a.StartTime = *u.StartTime
	}
	if u.EndTime != nil {
		t := *u.EndTime
		a.EndTime = &t
	}
	if u.WinnerID != nil {
		id := *u.WinnerID
		a.WinnerID = &id
	}
	if u.WinnerIsBot != nil {
		a.WinnerIsBot = *u.WinnerIsBot
	}
}
