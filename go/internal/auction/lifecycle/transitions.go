package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/pennyauction/go/internal/auction/auctionerrors"
	"github.com/mcdev12/pennyauction/go/internal/auction/events"
	"github.com/mcdev12/pennyauction/go/internal/auction/store"
	"github.com/mcdev12/pennyauction/go/internal/models"
	"github.com/rs/zerolog/log"
)

// StartAuction moves an upcoming auction to live, converts its first fundable prebid into
// the opening bid and starts its timer with the auction's own timerSeconds.
func (s *Service) StartAuction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	unlock := s.locks.Lock(auctionID)
	defer unlock()

	var (
		started *models.Auction
		opening *models.Bid
		prebids int
	)
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		a, err := tx.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if !a.Status.CanTransitionTo(models.AuctionStatusLive) {
			return fmt.Errorf("auction %s is %s: %w", a.ID, a.Status, auctionerrors.ErrAuctionNotUpcoming)
		}

		now := s.clock.Now().UTC()
		live := models.AuctionStatusLive
		update := models.AuctionUpdate{Status: &live}
		if a.StartTime.After(now) {
			update.StartTime = &now
		}
		if a, err = tx.UpdateAuction(ctx, auctionID, update); err != nil {
			return err
		}

		if a, opening, prebids, err = s.convertPrebids(ctx, tx, a, now); err != nil {
			return err
		}
		started = a
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("auction_id", auctionID.String()).Msg("failed to start auction")
		return nil, err
	}

	s.startTimer(ctx, *started)
	s.metrics.RecordAuctionTransition(string(models.AuctionStatusLive))

	logger := log.Info().
		Str("auction_id", auctionID.String()).
		Int("timer_seconds", started.TimerSeconds).
		Int("prebids", prebids)
	if opening != nil {
		logger = logger.Str("opening_bidder", opening.BidderID().String())
	}
	logger.Msg("auction started")

	s.emit(ctx, func(now time.Time) (events.Event, error) {
		return events.NewAuctionStarted(*started, started.TimerSeconds, opening, prebids, now)
	})
	s.emitAuctionUpdate(ctx, *started)
	return started, nil
}

// convertPrebids walks prebids in submission order. The first whose user can still spend a
// token becomes the opening bid; the rest are held without spending anything.
func (s *Service) convertPrebids(ctx context.Context, tx store.Store, a *models.Auction, now time.Time) (*models.Auction, *models.Bid, int, error) {
	prebids, err := tx.GetPrebidsForAuction(ctx, a.ID)
	if err != nil {
		return nil, nil, 0, err
	}

	var opening *models.Bid
	for _, pb := range prebids {
		if opening == nil {
			err := tx.SpendBidToken(ctx, pb.UserID)
			switch {
			case err == nil:
				price := a.CurrentPrice.Add(a.BidIncrement)
				if a, err = tx.UpdateAuction(ctx, a.ID, models.AuctionUpdate{CurrentPrice: &price}); err != nil {
					return nil, nil, 0, err
				}
				userID := pb.UserID
				bid := models.Bid{
					ID:        uuid.New(),
					AuctionID: a.ID,
					UserID:    &userID,
					Amount:    price,
					IsPrebid:  true,
					CreatedAt: now,
				}
				if err := tx.CreateBid(ctx, bid); err != nil {
					return nil, nil, 0, err
				}
				if err := tx.UpdatePrebidStatus(ctx, pb.ID, models.PrebidStatusConverted); err != nil {
					return nil, nil, 0, err
				}
				opening = &bid
				continue
			case errors.Is(err, auctionerrors.ErrInsufficientBalance):
				log.Debug().Str("auction_id", a.ID.String()).Str("user_id", pb.UserID.String()).Msg("prebid user has no tokens left, holding")
			default:
				return nil, nil, 0, err
			}
		}
		if err := tx.UpdatePrebidStatus(ctx, pb.ID, models.PrebidStatusHeld); err != nil {
			return nil, nil, 0, err
		}
	}
	return a, opening, len(prebids), nil
}

// EndAuction finalizes an auction. Calling it on an already finished auction is a no-op
// that returns the stored terminal state.
func (s *Service) EndAuction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	unlock := s.locks.Lock(auctionID)
	defer unlock()
	return s.endLocked(ctx, auctionID)
}

// endLocked requires the auction's lock.
func (s *Service) endLocked(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	var (
		finished *models.Auction
		already  bool
	)
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		a, err := tx.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if a.Status == models.AuctionStatusFinished {
			already = true
			finished = a
			return nil
		}

		now := s.clock.Now().UTC()
		status := models.AuctionStatusFinished
		update := models.AuctionUpdate{Status: &status, EndTime: &now}

		last, err := tx.GetBidsForAuction(ctx, auctionID, 1)
		if err != nil {
			return err
		}
		if len(last) > 0 {
			winner := last[0].BidderID()
			isBot := last[0].IsBot
			update.WinnerID = &winner
			update.WinnerIsBot = &isBot
		}

		if a, err = tx.UpdateAuction(ctx, auctionID, update); err != nil {
			return err
		}
		if err := tx.DeactivateAuctionBots(ctx, auctionID); err != nil {
			return err
		}
		finished = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.stopTimer(auctionID)
	if already {
		log.Debug().Str("auction_id", auctionID.String()).Msg("auction already finished")
		return finished, nil
	}

	s.metrics.RecordAuctionTransition(string(models.AuctionStatusFinished))
	logger := log.Info().
		Str("auction_id", auctionID.String()).
		Str("final_price", finished.CurrentPrice.StringFixed(2))
	if finished.WinnerID != nil {
		logger = logger.Str("winner_id", finished.WinnerID.String()).Bool("winner_is_bot", finished.WinnerIsBot)
	}
	logger.Msg("auction finished")

	s.emit(ctx, func(now time.Time) (events.Event, error) {
		return events.NewAuctionFinished(*finished, now)
	})
	return finished, nil
}

// CheckUpcomingAuctions starts every upcoming auction whose start time has arrived and
// returns how many were started.
func (s *Service) CheckUpcomingAuctions(ctx context.Context) (int, error) {
	upcoming, err := s.store.GetAuctionsByStatus(ctx, models.AuctionStatusUpcoming)
	if err != nil {
		return 0, fmt.Errorf("failed to list upcoming auctions: %w", err)
	}

	now := s.clock.Now()
	started := 0
	var errs []error
	for _, a := range upcoming {
		if a.StartTime.After(now) {
			continue
		}
		if _, err := s.StartAuction(ctx, a.ID); err != nil {
			if errors.Is(err, auctionerrors.ErrAuctionNotUpcoming) {
				// Started or ended by someone else since the scan.
				continue
			}
			errs = append(errs, fmt.Errorf("start auction %s: %w", a.ID, err))
			continue
		}
		started++
	}
	return started, errors.Join(errs...)
}

// RecoverLiveAuctions restarts timers for auctions that are live in storage but have no
// timer in this process, e.g. after a restart.
func (s *Service) RecoverLiveAuctions(ctx context.Context) (int, error) {
	live, err := s.store.GetAuctionsByStatus(ctx, models.AuctionStatusLive)
	if err != nil {
		return 0, fmt.Errorf("failed to list live auctions: %w", err)
	}

	recovered := 0
	for _, a := range live {
		unlock := s.locks.Lock(a.ID)
		if !s.timers.Running(a.ID) {
			s.startTimer(ctx, a)
			recovered++
			log.Info().
				Str("auction_id", a.ID.String()).
				Int("timer_seconds", a.TimerSeconds).
				Msg("recovered live auction timer")
		}
		unlock()
	}
	return recovered, nil
}
