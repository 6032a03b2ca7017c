package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/pennyauction/go/internal/auction/auctionerrors"
	"github.com/mcdev12/pennyauction/go/internal/auction/store"
	"github.com/mcdev12/pennyauction/go/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PlaceBid spends one of the user's bid tokens to raise the price by one increment and reset
// the auction's timer.
func (s *Service) PlaceBid(ctx context.Context, auctionID, userID uuid.UUID) (*models.Bid, error) {
	return s.placeBid(ctx, auctionID, userID, false)
}

// PlaceBotBid bids on behalf of a bot. It spends no user token; the bot's per-auction
// counter is incremented in the same transaction instead.
func (s *Service) PlaceBotBid(ctx context.Context, auctionID, botID uuid.UUID) error {
	_, err := s.placeBid(ctx, auctionID, botID, true)
	return err
}

func (s *Service) placeBid(ctx context.Context, auctionID, bidderID uuid.UUID, isBot bool) (*models.Bid, error) {
	if bidderID == uuid.Nil {
		return nil, fmt.Errorf("place bid: missing bidder: %w", auctionerrors.ErrInvalidRequest)
	}

	unlock := s.locks.Lock(auctionID)
	defer unlock()

	var (
		auction *models.Auction
		bid     models.Bid
	)
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		a, err := tx.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if err := requireLive(a); err != nil {
			return err
		}

		if isBot {
			if err := tx.IncrementAuctionBotBidCount(ctx, auctionID, bidderID); err != nil {
				return err
			}
		} else {
			if err := tx.SpendBidToken(ctx, bidderID); err != nil {
				return err
			}
		}

		price := a.CurrentPrice.Add(a.BidIncrement)
		a, err = tx.UpdateAuction(ctx, auctionID, models.AuctionUpdate{CurrentPrice: &price})
		if err != nil {
			return err
		}

		bid = models.Bid{
			ID:        uuid.New(),
			AuctionID: auctionID,
			Amount:    price,
			IsBot:     isBot,
			CreatedAt: s.clock.Now().UTC(),
		}
		id := bidderID
		if isBot {
			bid.BotID = &id
		} else {
			bid.UserID = &id
		}
		if err := tx.CreateBid(ctx, bid); err != nil {
			return err
		}
		auction = a
		return nil
	})
	if err != nil {
		s.metrics.RecordBid(isBot, auctionerrors.Reason(err))
		level := zerolog.WarnLevel
		if !auctionerrors.IsValidation(err) {
			level = zerolog.ErrorLevel
		}
		log.WithLevel(level).Err(err).
			Str("auction_id", auctionID.String()).
			Str("bidder_id", bidderID.String()).
			Bool("is_bot", isBot).
			Msg("bid rejected")
		return nil, err
	}

	// Reset happens before the broadcast so viewers see the full countdown with the new price.
	if !s.timers.Reset(auctionID, auction.TimerSeconds) {
		log.Warn().Str("auction_id", auctionID.String()).Msg("live auction had no timer, starting one")
		s.startTimer(ctx, *auction)
	}

	s.metrics.RecordBid(isBot, "")
	log.Info().
		Str("auction_id", auctionID.String()).
		Str("bidder_id", bidderID.String()).
		Bool("is_bot", isBot).
		Str("price", bid.Amount.StringFixed(2)).
		Msg("bid accepted")

	s.emitAuctionUpdate(ctx, *auction)
	return &bid, nil
}

func requireLive(a *models.Auction) error {
	switch a.Status {
	case models.AuctionStatusLive:
		return nil
	case models.AuctionStatusFinished:
		return fmt.Errorf("auction %s: %w", a.ID, auctionerrors.ErrAuctionFinished)
	default:
		return fmt.Errorf("auction %s is %s: %w", a.ID, a.Status, auctionerrors.ErrAuctionNotLive)
	}
}

// PlacePrebid records a user's commitment to bid when the auction opens. The user must hold
// at least one token, but none is spent until the auction starts.
func (s *Service) PlacePrebid(ctx context.Context, auctionID, userID uuid.UUID) (*models.Prebid, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("place prebid: missing user: %w", auctionerrors.ErrInvalidRequest)
	}

	unlock := s.locks.Lock(auctionID)
	defer unlock()

	prebid := models.Prebid{
		ID:        uuid.New(),
		AuctionID: auctionID,
		UserID:    userID,
		Status:    models.PrebidStatusPending,
		CreatedAt: s.clock.Now().UTC(),
	}
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		a, err := tx.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if a.Status != models.AuctionStatusUpcoming {
			return fmt.Errorf("auction %s is %s: %w", a.ID, a.Status, auctionerrors.ErrAuctionNotUpcoming)
		}

		balance, err := tx.GetBidBalance(ctx, userID)
		if err != nil {
			return err
		}
		if balance < 1 {
			return fmt.Errorf("prebid for %s: %w", userID, auctionerrors.ErrInsufficientBalance)
		}
		return tx.CreatePrebid(ctx, prebid)
	})
	if err != nil {
		log.Warn().Err(err).
			Str("auction_id", auctionID.String()).
			Str("user_id", userID.String()).
			Msg("prebid rejected")
		return nil, err
	}

	log.Info().
		Str("auction_id", auctionID.String()).
		Str("user_id", userID.String()).
		Msg("prebid placed")
	return &prebid, nil
}

// PrebidCount returns how many prebids an auction has collected.
func (s *Service) PrebidCount(ctx context.Context, auctionID uuid.UUID) (int, error) {
	prebids, err := s.store.GetPrebidsForAuction(ctx, auctionID)
	if err != nil {
		return 0, fmt.Errorf("failed to count prebids: %w", err)
	}
	return len(prebids), nil
}
