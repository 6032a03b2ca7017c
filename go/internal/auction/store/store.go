// Package store is the persistence boundary of the auction engine. The engine only ever
// talks to the Store interface; Memory, Postgres and the Redis token ledger implement it.
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcdev12/pennyauction/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Store defines what the auction engine needs from persistence.
type Store interface {
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	UpdateAuction(ctx context.Context, id uuid.UUID, update models.AuctionUpdate) (*models.Auction, error)
	GetAuctionsByStatus(ctx context.Context, status models.AuctionStatus) ([]models.Auction, error)

	CreateBid(ctx context.Context, bid models.Bid) error
	// GetBidsForAuction returns bids newest first. limit <= 0 returns all of them.
	GetBidsForAuction(ctx context.Context, auctionID uuid.UUID, limit int) ([]models.Bid, error)

	CreatePrebid(ctx context.Context, prebid models.Prebid) error
	// GetPrebidsForAuction returns prebids in submission order.
	GetPrebidsForAuction(ctx context.Context, auctionID uuid.UUID) ([]models.Prebid, error)
	UpdatePrebidStatus(ctx context.Context, id uuid.UUID, status models.PrebidStatus) error

	GetAuctionBots(ctx context.Context, auctionID uuid.UUID) ([]models.AuctionBot, error)
	// IncrementAuctionBotBidCount fails with ErrBotLimitReached or ErrBotInactive instead of exceeding the limit.
	IncrementAuctionBotBidCount(ctx context.Context, auctionID, botID uuid.UUID) error
	DeactivateAuctionBots(ctx context.Context, auctionID uuid.UUID) error

	// SpendBidToken atomically checks and decrements a user's balance; ErrInsufficientBalance when empty.
	SpendBidToken(ctx context.Context, userID uuid.UUID) error
	GetBidBalance(ctx context.Context, userID uuid.UUID) (int, error)

	// WithinTx runs fn against a transactional view of the store. If fn returns an error
	// every mutation made through the view is rolled back.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// TokenLedger keeps bid-token balances outside the record store.
type TokenLedger interface {
	Spend(ctx context.Context, userID uuid.UUID) error
	Refund(ctx context.Context, userID uuid.UUID) error
	Balance(ctx context.Context, userID uuid.UUID) (int, error)
}

// WithLedger returns a Store whose token operations go to ledger. Spends made inside a
// failed WithinTx are refunded, since the ledger cannot join the record transaction.
func WithLedger(base Store, ledger TokenLedger) Store {
	return &ledgerStore{Store: base, ledger: ledger}
}

type ledgerStore struct {
	Store
	ledger TokenLedger
	spent  *[]uuid.UUID // non-nil inside WithinTx
}

func (s *ledgerStore) SpendBidToken(ctx context.Context, userID uuid.UUID) error {
	if err := s.ledger.Spend(ctx, userID); err != nil {
		return err
	}
	if s.spent != nil {
		*s.spent = append(*s.spent, userID)
	}
	return nil
}

func (s *ledgerStore) GetBidBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.ledger.Balance(ctx, userID)
}

func (s *ledgerStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.spent != nil {
		return fn(s)
	}

	var spent []uuid.UUID
	err := s.Store.WithinTx(ctx, func(tx Store) error {
		return fn(&ledgerStore{Store: tx, ledger: s.ledger, spent: &spent})
	})
	if err != nil {
		for _, userID := range spent {
			// Refund with a fresh context so a cancelled request still gives the token back.
			if rerr := s.ledger.Refund(context.WithoutCancel(ctx), userID); rerr != nil {
				log.Error().Err(rerr).Str("user_id", userID.String()).Msg("failed to refund bid token after rollback")
			}
		}
	}
	return err
}
