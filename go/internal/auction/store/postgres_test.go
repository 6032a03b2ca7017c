package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/pennyauction/go/internal/auction/auctionerrors"
	"github.com/mcdev12/pennyauction/go/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres runs a throwaway Postgres container with the schema applied.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping Postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "pennyauction",
			},
			// The server restarts once after initdb, so wait for the second ready line.
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, fmt.Sprintf("postgres://test:test@%s:%s/pennyauction?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	return pool
}

func createLiveAuction(t *testing.T, pg *Postgres) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, pg.CreateAuction(context.Background(), models.Auction{
		ID:           id,
		DisplayID:    "PG-" + id.String()[:8],
		Title:        "Headphones",
		Status:       models.AuctionStatusLive,
		CurrentPrice: decimal.Zero,
		BidIncrement: decimal.RequireFromString("0.01"),
		TimerSeconds: 10,
		StartTime:    time.Now().UTC(),
	}))
	return id
}

func createUser(t *testing.T, pg *Postgres, balance int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, pg.UpsertUser(context.Background(), models.User{ID: id, Username: "user-" + id.String(), BidBalance: balance}))
	return id
}

func TestPostgres(t *testing.T) {
	pool := startPostgres(t)
	pg := NewPostgres(pool)
	ctx := context.Background()

	t.Run("migrate is repeatable", func(t *testing.T) {
		require.NoError(t, Migrate(ctx, pool))
	})

	t.Run("unknown auction", func(t *testing.T) {
		_, err := pg.GetAuction(ctx, uuid.New())
		assert.ErrorIs(t, err, auctionerrors.ErrAuctionNotFound)
		price := decimal.RequireFromString("1.00")
		_, err = pg.UpdateAuction(ctx, uuid.New(), models.AuctionUpdate{CurrentPrice: &price})
		assert.ErrorIs(t, err, auctionerrors.ErrAuctionNotFound)
	})

	t.Run("update applies only set fields", func(t *testing.T) {
		id := createLiveAuction(t, pg)
		price := decimal.RequireFromString("0.42")
		a, err := pg.UpdateAuction(ctx, id, models.AuctionUpdate{CurrentPrice: &price})
		require.NoError(t, err)
		assert.Equal(t, "0.42", a.CurrentPrice.StringFixed(2))
		assert.Equal(t, models.AuctionStatusLive, a.Status)
		assert.Nil(t, a.WinnerID)

		winner := uuid.New()
		finished := models.AuctionStatusFinished
		end := time.Now().UTC()
		a, err = pg.UpdateAuction(ctx, id, models.AuctionUpdate{Status: &finished, EndTime: &end, WinnerID: &winner})
		require.NoError(t, err)
		assert.Equal(t, models.AuctionStatusFinished, a.Status)
		assert.Equal(t, winner, *a.WinnerID)
		assert.Equal(t, "0.42", a.CurrentPrice.StringFixed(2))
	})

	t.Run("rollback leaves no partial mutation", func(t *testing.T) {
		id := createLiveAuction(t, pg)
		user := createUser(t, pg, 1)

		boom := errors.New("boom")
		err := pg.WithinTx(ctx, func(tx Store) error {
			require.NoError(t, tx.SpendBidToken(ctx, user))
			price := decimal.RequireFromString("0.01")
			_, err := tx.UpdateAuction(ctx, id, models.AuctionUpdate{CurrentPrice: &price})
			require.NoError(t, err)
			require.NoError(t, tx.CreateBid(ctx, models.Bid{ID: uuid.New(), AuctionID: id, UserID: &user, Amount: price, CreatedAt: time.Now().UTC()}))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		a, err := pg.GetAuction(ctx, id)
		require.NoError(t, err)
		assert.True(t, a.CurrentPrice.IsZero())
		balance, err := pg.GetBidBalance(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 1, balance)
		bids, err := pg.GetBidsForAuction(ctx, id, 0)
		require.NoError(t, err)
		assert.Empty(t, bids)
	})

	t.Run("spend bid token", func(t *testing.T) {
		user := createUser(t, pg, 1)
		require.NoError(t, pg.SpendBidToken(ctx, user))
		assert.ErrorIs(t, pg.SpendBidToken(ctx, user), auctionerrors.ErrInsufficientBalance)

		balance, err := pg.GetBidBalance(ctx, user)
		require.NoError(t, err)
		assert.Zero(t, balance)

		balance, err = pg.GetBidBalance(ctx, uuid.New())
		require.NoError(t, err)
		assert.Zero(t, balance)
		assert.ErrorIs(t, pg.SpendBidToken(ctx, uuid.New()), auctionerrors.ErrInsufficientBalance)
	})

	t.Run("bot limit and kill switches", func(t *testing.T) {
		id := createLiveAuction(t, pg)
		bot := models.Bot{ID: uuid.New(), Username: "bot-" + uuid.NewString(), IsActive: true}
		require.NoError(t, pg.UpsertBot(ctx, bot))
		require.NoError(t, pg.AddBotToAuction(ctx, id, bot.Username, 2))

		require.NoError(t, pg.IncrementAuctionBotBidCount(ctx, id, bot.ID))
		require.NoError(t, pg.IncrementAuctionBotBidCount(ctx, id, bot.ID))
		assert.ErrorIs(t, pg.IncrementAuctionBotBidCount(ctx, id, bot.ID), auctionerrors.ErrBotLimitReached)
		assert.ErrorIs(t, pg.IncrementAuctionBotBidCount(ctx, id, uuid.New()), auctionerrors.ErrBotNotAssigned)

		bots, err := pg.GetAuctionBots(ctx, id)
		require.NoError(t, err)
		require.Len(t, bots, 1)
		assert.Equal(t, 2, bots[0].CurrentBids)
		assert.Equal(t, bot.Username, bots[0].Bot.Username)

		unlimited := createLiveAuction(t, pg)
		require.NoError(t, pg.AddBotToAuction(ctx, unlimited, bot.Username, 0))
		require.NoError(t, pg.IncrementAuctionBotBidCount(ctx, unlimited, bot.ID))
		require.NoError(t, pg.DeactivateAuctionBots(ctx, unlimited))
		assert.ErrorIs(t, pg.IncrementAuctionBotBidCount(ctx, unlimited, bot.ID), auctionerrors.ErrBotInactive)
	})

	t.Run("duplicate prebid", func(t *testing.T) {
		id := createLiveAuction(t, pg)
		first, second := uuid.New(), uuid.New()
		now := time.Now().UTC()

		require.NoError(t, pg.CreatePrebid(ctx, models.Prebid{ID: uuid.New(), AuctionID: id, UserID: first, Status: models.PrebidStatusPending, CreatedAt: now}))
		require.NoError(t, pg.CreatePrebid(ctx, models.Prebid{ID: uuid.New(), AuctionID: id, UserID: second, Status: models.PrebidStatusPending, CreatedAt: now.Add(time.Second)}))
		err := pg.CreatePrebid(ctx, models.Prebid{ID: uuid.New(), AuctionID: id, UserID: first, Status: models.PrebidStatusPending, CreatedAt: now})
		assert.ErrorIs(t, err, auctionerrors.ErrAlreadyPrebid)

		prebids, err := pg.GetPrebidsForAuction(ctx, id)
		require.NoError(t, err)
		require.Len(t, prebids, 2)
		assert.Equal(t, first, prebids[0].UserID)

		require.NoError(t, pg.UpdatePrebidStatus(ctx, prebids[0].ID, models.PrebidStatusConverted))
		prebids, err = pg.GetPrebidsForAuction(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.PrebidStatusConverted, prebids[0].Status)
		assert.Equal(t, models.PrebidStatusPending, prebids[1].Status)
	})

	t.Run("bids newest first", func(t *testing.T) {
		id := createLiveAuction(t, pg)
		user := uuid.New()
		base := time.Now().UTC().Truncate(time.Millisecond)
		for i := 1; i <= 3; i++ {
			require.NoError(t, pg.CreateBid(ctx, models.Bid{
				ID:        uuid.New(),
				AuctionID: id,
				UserID:    &user,
				Amount:    decimal.New(int64(i), -2),
				CreatedAt: base.Add(time.Duration(i) * time.Second),
			}))
		}

		bids, err := pg.GetBidsForAuction(ctx, id, 2)
		require.NoError(t, err)
		require.Len(t, bids, 2)
		assert.Equal(t, "0.03", bids[0].Amount.StringFixed(2))
		assert.Equal(t, "0.02", bids[1].Amount.StringFixed(2))

		all, err := pg.GetBidsForAuction(ctx, id, 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("concurrent transactions never lose an increment", func(t *testing.T) {
		id := createLiveAuction(t, pg)
		const bidders = 12

		var wg sync.WaitGroup
		errs := make(chan error, bidders)
		for range bidders {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- pg.WithinTx(ctx, func(tx Store) error {
					a, err := tx.GetAuction(ctx, id)
					if err != nil {
						return err
					}
					price := a.CurrentPrice.Add(a.BidIncrement)
					if _, err := tx.UpdateAuction(ctx, id, models.AuctionUpdate{CurrentPrice: &price}); err != nil {
						return err
					}
					user := uuid.New()
					return tx.CreateBid(ctx, models.Bid{ID: uuid.New(), AuctionID: id, UserID: &user, Amount: price, CreatedAt: time.Now().UTC()})
				})
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		a, err := pg.GetAuction(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "0.12", a.CurrentPrice.StringFixed(2))

		bids, err := pg.GetBidsForAuction(ctx, id, 0)
		require.NoError(t, err)
		amounts := make(map[string]bool, len(bids))
		for _, b := range bids {
			amounts[b.Amount.StringFixed(2)] = true
		}
		assert.Len(t, amounts, bidders, "every bid must carry its own price")
	})

	t.Run("bid increment must be whole cents", func(t *testing.T) {
		for _, inc := range []string{"0.005", "0", "-0.01"} {
			err := pg.CreateAuction(ctx, models.Auction{
				ID:           uuid.New(),
				DisplayID:    "PG-bad",
				Status:       models.AuctionStatusUpcoming,
				BidIncrement: decimal.RequireFromString(inc),
				TimerSeconds: 10,
				StartTime:    time.Now().UTC(),
			})
			assert.ErrorIs(t, err, auctionerrors.ErrInvalidRequest, inc)
		}

		_, err := pool.Exec(ctx, `
			INSERT INTO auctions (id, display_id, title, bid_increment, start_time)
			VALUES ($1, 'PG-zero', 'x', 0, now())`, uuid.New())
		assert.Error(t, err, "schema must reject a zero increment")
	})

	t.Run("engine lock admits one holder", func(t *testing.T) {
		first, err := AcquireEngineLock(ctx, pool)
		require.NoError(t, err)

		waitCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		_, err = AcquireEngineLock(waitCtx, pool)
		cancel()
		require.Error(t, err, "a second instance must wait while the lock is held")

		require.NoError(t, first.Release(ctx))

		second, err := AcquireEngineLock(ctx, pool)
		require.NoError(t, err)
		require.NoError(t, second.Release(ctx))
	})
}
