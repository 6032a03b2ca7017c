// Package events defines the messages the engine emits to viewers and downstream consumers.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/pennyauction/go/internal/models"
	"github.com/shopspring/decimal"
)

// Type represents the kind of auction event
type Type string

const (
	TypeTimerUpdate     Type = "timerUpdate"
	TypeAuctionUpdate   Type = "auctionUpdate"
	TypeAuctionFinished Type = "auctionFinished"
	TypeAuctionStarted  Type = "auctionStarted"
)

// Event is the envelope for everything on the broadcast channel.
type Event struct {
	ID        string          `json:"id"`                   // Event UUID
	AuctionID string          `json:"auction_id,omitempty"` // empty for consolidated snapshots
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// TimerTickPayload is one auction's countdown after a tick.
type TimerTickPayload struct {
	AuctionID string `json:"auction_id"`
	TimeLeft  int    `json:"time_left"`
}

// TimerUpdatePayload maps auction ids to seconds left for every running timer.
type TimerUpdatePayload struct {
	Timers map[string]int `json:"timers"`
}

// AuctionUpdatePayload is the auction state right after a change, plus its latest bids.
type AuctionUpdatePayload struct {
	Auction models.Auction `json:"auction"`
	Bids    []models.Bid   `json:"bids"`
	Timers  map[string]int `json:"timers"`
}

// AuctionFinishedPayload is the terminal state of an auction.
type AuctionFinishedPayload struct {
	Auction     models.Auction  `json:"auction"`
	WinnerID    *string         `json:"winner_id"`
	WinnerIsBot bool            `json:"winner_is_bot"`
	FinalPrice  decimal.Decimal `json:"final_price"`
	EndedAt     time.Time       `json:"ended_at"`
}

// AuctionStartedPayload announces an auction going live.
type AuctionStartedPayload struct {
	Auction    models.Auction `json:"auction"`
	StartedAt  time.Time      `json:"started_at"`
	TimeLeft   int            `json:"time_left"`
	OpeningBid *models.Bid    `json:"opening_bid,omitempty"` // converted prebid, if any
	Prebids    int            `json:"prebids"`
}

func newEvent(typ Type, auctionID uuid.UUID, at time.Time, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	e := Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: at.UTC(),
		Data:      data,
	}
	if auctionID != uuid.Nil {
		e.AuctionID = auctionID.String()
	}
	return e, nil
}

// StringTimers converts a timer snapshot into its wire form.
func StringTimers(timers map[uuid.UUID]int) map[string]int {
	out := make(map[string]int, len(timers))
	for id, left := range timers {
		out[id.String()] = left
	}
	return out
}

// NewTimerTick is the per-second update for one auction.
func NewTimerTick(auctionID uuid.UUID, timeLeft int, at time.Time) (Event, error) {
	return newEvent(TypeTimerUpdate, auctionID, at, TimerTickPayload{
		AuctionID: auctionID.String(),
		TimeLeft:  timeLeft,
	})
}

// NewTimersSnapshot is the consolidated update covering every running timer.
func NewTimersSnapshot(timers map[uuid.UUID]int, at time.Time) (Event, error) {
	return newEvent(TypeTimerUpdate, uuid.Nil, at, TimerUpdatePayload{Timers: StringTimers(timers)})
}

// NewAuctionUpdate carries the auction, its most recent bids (newest first) and all timers.
func NewAuctionUpdate(auction models.Auction, bids []models.Bid, timers map[uuid.UUID]int, at time.Time) (Event, error) {
	if bids == nil {
		bids = []models.Bid{}
	}
	return newEvent(TypeAuctionUpdate, auction.ID, at, AuctionUpdatePayload{
		Auction: auction,
		Bids:    bids,
		Timers:  StringTimers(timers),
	})
}

// NewAuctionFinished carries the finished auction and its winner.
func NewAuctionFinished(auction models.Auction, at time.Time) (Event, error) {
	p := AuctionFinishedPayload{
		Auction:     auction,
		WinnerIsBot: auction.WinnerIsBot,
		FinalPrice:  auction.CurrentPrice,
		EndedAt:     at.UTC(),
	}
	if auction.WinnerID != nil {
		s := auction.WinnerID.String()
		p.WinnerID = &s
	}
	if auction.EndTime != nil {
		p.EndedAt = auction.EndTime.UTC()
	}
	return newEvent(TypeAuctionFinished, auction.ID, at, p)
}

// NewAuctionStarted announces the auction going live.
func NewAuctionStarted(auction models.Auction, timeLeft int, opening *models.Bid, prebids int, at time.Time) (Event, error) {
	return newEvent(TypeAuctionStarted, auction.ID, at, AuctionStartedPayload{
		Auction:    auction,
		StartedAt:  auction.StartTime.UTC(),
		TimeLeft:   timeLeft,
		OpeningBid: opening,
		Prebids:    prebids,
	})
}

// ParsePayload decodes event data into the payload struct for its type. A timerUpdate
// addressed to one auction is a TimerTickPayload; the consolidated one is a TimerUpdatePayload.
func ParsePayload(e Event) (any, error) {
	switch e.Type {
	case TypeTimerUpdate:
		if e.AuctionID != "" {
			var p TimerTickPayload
			if err := json.Unmarshal(e.Data, &p); err != nil {
				return nil, err
			}
			return p, nil
		}
		var p TimerUpdatePayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeAuctionUpdate:
		var p AuctionUpdatePayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeAuctionFinished:
		var p AuctionFinishedPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeAuctionStarted:
		var p AuctionStartedPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}
