// Package commands is the engine's inbound side: bid, prebid and admin start/end requests
// arrive as NATS request/reply messages and are applied through the lifecycle service.
package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/pennyauction/go/internal/auction/auctionerrors"
	"github.com/mcdev12/pennyauction/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Command names, also the last token of the request subject.
const (
	CommandBid    = "bid"
	CommandPrebid = "prebid"
	CommandStart  = "start"
	CommandEnd    = "end"
)

// Commands lists every command the consumer subscribes to.
var Commands = []string{CommandBid, CommandPrebid, CommandStart, CommandEnd}

// Lifecycle is the part of the lifecycle service commands drive.
type Lifecycle interface {
	PlaceBid(ctx context.Context, auctionID, userID uuid.UUID) (*models.Bid, error)
	PlacePrebid(ctx context.Context, auctionID, userID uuid.UUID) (*models.Prebid, error)
	StartAuction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error)
	EndAuction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error)
}

// Request is the body of every command.
type Request struct {
	AuctionID string `json:"auction_id"`
	UserID    string `json:"user_id,omitempty"` // bid and prebid only
}

// Response is the reply to every command. Reason is a stable machine-readable code for
// rejections; "internal" means the engine failed, not the request.
type Response struct {
	OK      bool            `json:"ok"`
	Reason  string          `json:"reason,omitempty"`
	Error   string          `json:"error,omitempty"`
	Bid     *models.Bid     `json:"bid,omitempty"`
	Prebid  *models.Prebid  `json:"prebid,omitempty"`
	Auction *models.Auction `json:"auction,omitempty"`
}

// Handler decodes commands and applies them.
type Handler struct {
	lifecycle Lifecycle
}

// NewHandler creates a Handler.
func NewHandler(lc Lifecycle) *Handler {
	return &Handler{lifecycle: lc}
}

// Handle applies one command and never fails: every outcome is a Response.
func (h *Handler) Handle(ctx context.Context, command string, data []byte) Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return failure(fmt.Errorf("decode %s request: %v: %w", command, err, auctionerrors.ErrInvalidRequest))
	}

	auctionID, err := uuid.Parse(req.AuctionID)
	if err != nil {
		return failure(fmt.Errorf("auction_id %q: %w", req.AuctionID, auctionerrors.ErrInvalidRequest))
	}

	switch command {
	case CommandBid:
		userID, err := parseUser(req.UserID)
		if err != nil {
			return failure(err)
		}
		bid, err := h.lifecycle.PlaceBid(ctx, auctionID, userID)
		if err != nil {
			return failure(err)
		}
		return Response{OK: true, Bid: bid}

	case CommandPrebid:
		userID, err := parseUser(req.UserID)
		if err != nil {
			return failure(err)
		}
		prebid, err := h.lifecycle.PlacePrebid(ctx, auctionID, userID)
		if err != nil {
			return failure(err)
		}
		return Response{OK: true, Prebid: prebid}

	case CommandStart:
		a, err := h.lifecycle.StartAuction(ctx, auctionID)
		if err != nil {
			return failure(err)
		}
		log.Info().Str("auction_id", auctionID.String()).Msg("auction started by command")
		return Response{OK: true, Auction: a}

	case CommandEnd:
		a, err := h.lifecycle.EndAuction(ctx, auctionID)
		if err != nil {
			return failure(err)
		}
		log.Info().Str("auction_id", auctionID.String()).Msg("auction ended by command")
		return Response{OK: true, Auction: a}
	}

	return failure(fmt.Errorf("unknown command %q: %w", command, auctionerrors.ErrInvalidRequest))
}

func parseUser(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("user_id %q: %w", raw, auctionerrors.ErrInvalidRequest)
	}
	return id, nil
}

func failure(err error) Response {
	return Response{Reason: auctionerrors.Reason(err), Error: err.Error()}
}
