package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a bidder account. BidBalance counts the tokens left; each user bid spends one.
type User struct {
	ID         uuid.UUID `json:"id"`
	Username   string    `json:"username"`
	BidBalance int       `json:"bid_balance"`
	CreatedAt  time.Time `json:"created_at"`
}
