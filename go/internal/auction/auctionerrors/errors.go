// Package auctionerrors holds the failure taxonomy shared by the auction engine.
package auctionerrors

import "errors"

// Storage-level errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrBotNotAssigned  = errors.New("bot not assigned to auction")
)

// Validation failures. Returned to callers as rejections; they never mutate state.
var (
	ErrAuctionNotLive      = errors.New("auction is not live")
	ErrAuctionNotUpcoming  = errors.New("auction is not upcoming")
	ErrInsufficientBalance = errors.New("insufficient bid balance")
	ErrAlreadyPrebid       = errors.New("prebid already placed")
	ErrBotInactive         = errors.New("bot is inactive")
	ErrBotLimitReached     = errors.New("bot bid limit reached")
	ErrInvalidRequest      = errors.New("invalid request")
)

// Concurrency conflicts surface to callers as validation failures.
var (
	ErrAuctionFinished = errors.New("auction already finished")
)

var validation = []error{
	ErrAuctionNotFound,
	ErrBotNotAssigned,
	ErrAuctionNotLive,
	ErrAuctionNotUpcoming,
	ErrInsufficientBalance,
	ErrAlreadyPrebid,
	ErrBotInactive,
	ErrBotLimitReached,
	ErrInvalidRequest,
	ErrAuctionFinished,
}

// IsValidation reports whether err is a rejection (validation failure or lost race)
// rather than an infrastructure failure.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range validation {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Reason returns a short machine-readable reason for a rejection, or "internal".
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuctionNotFound):
		return "auction_not_found"
	case errors.Is(err, ErrAuctionFinished):
		return "auction_finished"
	case errors.Is(err, ErrAuctionNotLive):
		return "auction_not_live"
	case errors.Is(err, ErrAuctionNotUpcoming):
		return "auction_not_upcoming"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrAlreadyPrebid):
		return "already_prebid"
	case errors.Is(err, ErrBotInactive):
		return "bot_inactive"
	case errors.Is(err, ErrBotLimitReached):
		return "bot_limit_reached"
	case errors.Is(err, ErrBotNotAssigned):
		return "bot_not_assigned"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	}
	return "internal"
}
