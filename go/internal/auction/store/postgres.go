package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/pennyauction/go/internal/auction/auctionerrors"
	"github.com/mcdev12/pennyauction/go/internal/models"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

// priceScale matches the NUMERIC(12, 2) price columns.
const priceScale = 2

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the production Store backed by a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool // nil inside a transaction
	db   dbtx
}

// NewPostgres wraps a pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, db: pool}
}

// Migrate creates the engine's tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// engineLockKey identifies the advisory lock held by the active engine instance.
const engineLockKey int64 = 0x70656e6e79

// EngineLock is a session-level advisory lock. Timers and bot rotations live in process
// memory, so exactly one engine instance may drive auctions against a database.
type EngineLock struct {
	conn *pgxpool.Conn
}

// AcquireEngineLock blocks until this process holds the engine lock or ctx is done.
// Other instances wait here as standbys and take over when the holder's session ends.
func AcquireEngineLock(ctx context.Context, pool *pgxpool.Pool) (*EngineLock, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for engine lock: %w", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, engineLockKey); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to take engine lock: %w", err)
	}
	return &EngineLock{conn: conn}, nil
}

// Release closes the lock's session; Postgres drops session-level advisory locks with it.
func (l *EngineLock) Release(ctx context.Context) error {
	conn := l.conn.Hijack()
	if err := conn.Close(ctx); err != nil {
		return fmt.Errorf("failed to release engine lock: %w", err)
	}
	return nil
}

// WithinTx runs fn inside a single database transaction. Nested calls reuse the outer one.
func (p *Postgres) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if p.pool == nil {
		return fn(p)
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(&Postgres{db: tx})
	})
}

const auctionColumns = `id, display_id, title, status, current_price::text, bid_increment::text,
	timer_seconds, start_time, end_time, winner_id, winner_is_bot, created_at, updated_at`

func scanAuction(row pgx.Row) (*models.Auction, error) {
	var (
		a         models.Auction
		status    string
		price     string
		increment string
	)
	if err := row.Scan(
		&a.ID, &a.DisplayID, &a.Title, &status, &price, &increment,
		&a.TimerSeconds, &a.StartTime, &a.EndTime, &a.WinnerID, &a.WinnerIsBot, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	a.Status = models.AuctionStatus(status)
	if a.CurrentPrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse current_price %q: %w", price, err)
	}
	if a.BidIncrement, err = decimal.NewFromString(increment); err != nil {
		return nil, fmt.Errorf("parse bid_increment %q: %w", increment, err)
	}
	return &a, nil
}

// GetAuction reads one auction. Inside WithinTx the row stays locked until commit, so a
// concurrent bid or transition on the same auction waits and then sees the committed price.
func (p *Postgres) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`
	if p.pool == nil {
		query += ` FOR UPDATE`
	}
	a, err := scanAuction(p.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get auction %s: %w", id, auctionerrors.ErrAuctionNotFound)
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return a, nil
}

func (p *Postgres) UpdateAuction(ctx context.Context, id uuid.UUID, u models.AuctionUpdate) (*models.Auction, error) {
	var status, price *string
	if u.Status != nil {
		s := string(*u.Status)
		status = &s
	}
	if u.CurrentPrice != nil {
		s := u.CurrentPrice.String()
		price = &s
	}

	a, err := scanAuction(p.db.QueryRow(ctx, `
		UPDATE auctions SET
			status        = COALESCE($2, status),
			current_price = COALESCE($3::numeric, current_price),
			start_time    = COALESCE($4, start_time),
			end_time      = COALESCE($5, end_time),
			winner_id     = COALESCE($6, winner_id),
			winner_is_bot = COALESCE($7, winner_is_bot),
			updated_at    = now()
		WHERE id = $1
		RETURNING `+auctionColumns,
		id, status, price, u.StartTime, u.EndTime, u.WinnerID, u.WinnerIsBot,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("update auction %s: %w", id, auctionerrors.ErrAuctionNotFound)
		}
		return nil, fmt.Errorf("failed to update auction: %w", err)
	}
	return a, nil
}

func (p *Postgres) GetAuctionsByStatus(ctx context.Context, status models.AuctionStatus) ([]models.Auction, error) {
	rows, err := p.db.Query(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE status = $1 ORDER BY start_time, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	defer rows.Close()

	var out []models.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateBid(ctx context.Context, bid models.Bid) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO bids (id, auction_id, user_id, bot_id, amount, is_prebid, is_bot, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)`,
		bid.ID, bid.AuctionID, bid.UserID, bid.BotID, bid.Amount.String(), bid.IsPrebid, bid.IsBot, bid.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create bid: %w", err)
	}
	return nil
}

func (p *Postgres) GetBidsForAuction(ctx context.Context, auctionID uuid.UUID, limit int) ([]models.Bid, error) {
	query := `SELECT id, auction_id, user_id, bot_id, amount::text, is_prebid, is_bot, created_at
		FROM bids WHERE auction_id = $1 ORDER BY created_at DESC, amount DESC`
	args := []any{auctionID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	defer rows.Close()

	var out []models.Bid
	for rows.Next() {
		var (
			b      models.Bid
			amount string
		)
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.UserID, &b.BotID, &amount, &b.IsPrebid, &b.IsBot, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		if b.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse bid amount %q: %w", amount, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *Postgres) CreatePrebid(ctx context.Context, prebid models.Prebid) error {
	tag, err := p.db.Exec(ctx, `
		INSERT INTO prebids (id, auction_id, user_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (auction_id, user_id) DO NOTHING`,
		prebid.ID, prebid.AuctionID, prebid.UserID, string(prebid.Status), prebid.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create prebid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create prebid: %w", auctionerrors.ErrAlreadyPrebid)
	}
	return nil
}

func (p *Postgres) GetPrebidsForAuction(ctx context.Context, auctionID uuid.UUID) ([]models.Prebid, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, auction_id, user_id, status, created_at
		FROM prebids WHERE auction_id = $1 ORDER BY created_at, id`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prebids: %w", err)
	}
	defer rows.Close()

	var out []models.Prebid
	for rows.Next() {
		var (
			pb     models.Prebid
			status string
		)
		if err := rows.Scan(&pb.ID, &pb.AuctionID, &pb.UserID, &status, &pb.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan prebid: %w", err)
		}
		pb.Status = models.PrebidStatus(status)
		out = append(out, pb)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdatePrebidStatus(ctx context.Context, id uuid.UUID, status models.PrebidStatus) error {
	if _, err := p.db.Exec(ctx, `UPDATE prebids SET status = $2 WHERE id = $1`, id, string(status)); err != nil {
		return fmt.Errorf("failed to update prebid status: %w", err)
	}
	return nil
}

func (p *Postgres) GetAuctionBots(ctx context.Context, auctionID uuid.UUID) ([]models.AuctionBot, error) {
	rows, err := p.db.Query(ctx, `
		SELECT ab.auction_id, ab.bot_id, ab.bid_limit, ab.current_bids, ab.is_active,
		       b.id, b.username, b.first_name, b.last_name, b.is_active, b.created_at
		FROM auction_bots ab
		JOIN bots b ON b.id = ab.bot_id
		WHERE ab.auction_id = $1`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list auction bots: %w", err)
	}
	defer rows.Close()

	var out []models.AuctionBot
	for rows.Next() {
		var ab models.AuctionBot
		if err := rows.Scan(
			&ab.AuctionID, &ab.BotID, &ab.BidLimit, &ab.CurrentBids, &ab.IsActive,
			&ab.Bot.ID, &ab.Bot.Username, &ab.Bot.FirstName, &ab.Bot.LastName, &ab.Bot.IsActive, &ab.Bot.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan auction bot: %w", err)
		}
		out = append(out, ab)
	}
	return out, rows.Err()
}

func (p *Postgres) IncrementAuctionBotBidCount(ctx context.Context, auctionID, botID uuid.UUID) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE auction_bots ab SET current_bids = ab.current_bids + 1
		FROM bots b
		WHERE ab.auction_id = $1 AND ab.bot_id = $2 AND b.id = ab.bot_id
		  AND ab.is_active AND b.is_active
		  AND (ab.bid_limit = 0 OR ab.current_bids < ab.bid_limit)`, auctionID, botID)
	if err != nil {
		return fmt.Errorf("failed to increment bot bid count: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Nothing updated: find out why.
	var (
		limit, current    int
		active, botActive bool
	)
	err = p.db.QueryRow(ctx, `
		SELECT ab.bid_limit, ab.current_bids, ab.is_active, b.is_active
		FROM auction_bots ab JOIN bots b ON b.id = ab.bot_id
		WHERE ab.auction_id = $1 AND ab.bot_id = $2`, auctionID, botID).Scan(&limit, &current, &active, &botActive)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("increment bot %s: %w", botID, auctionerrors.ErrBotNotAssigned)
	case err != nil:
		return fmt.Errorf("failed to inspect auction bot: %w", err)
	case !active || !botActive:
		return fmt.Errorf("increment bot %s: %w", botID, auctionerrors.ErrBotInactive)
	default:
		return fmt.Errorf("increment bot %s: %w", botID, auctionerrors.ErrBotLimitReached)
	}
}

func (p *Postgres) DeactivateAuctionBots(ctx context.Context, auctionID uuid.UUID) error {
	if _, err := p.db.Exec(ctx, `UPDATE auction_bots SET is_active = FALSE WHERE auction_id = $1`, auctionID); err != nil {
		return fmt.Errorf("failed to deactivate auction bots: %w", err)
	}
	return nil
}

func (p *Postgres) SpendBidToken(ctx context.Context, userID uuid.UUID) error {
	tag, err := p.db.Exec(ctx, `UPDATE users SET bid_balance = bid_balance - 1 WHERE id = $1 AND bid_balance >= 1`, userID)
	if err != nil {
		return fmt.Errorf("failed to spend bid token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("spend bid token for %s: %w", userID, auctionerrors.ErrInsufficientBalance)
	}
	return nil
}

func (p *Postgres) GetBidBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	var balance int
	err := p.db.QueryRow(ctx, `SELECT bid_balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get bid balance: %w", err)
	}
	return balance, nil
}

// CreateAuction inserts an auction; used by the seed tool. Prices are stored in cents, so an
// increment with more precision would be rounded and is rejected instead.
func (p *Postgres) CreateAuction(ctx context.Context, a models.Auction) error {
	if !a.BidIncrement.IsPositive() || !a.BidIncrement.Equal(a.BidIncrement.Round(priceScale)) {
		return fmt.Errorf("create auction %s: bid increment %s: %w", a.DisplayID, a.BidIncrement, auctionerrors.ErrInvalidRequest)
	}
	now := time.Now().UTC()
	_, err := p.db.Exec(ctx, `
		INSERT INTO auctions (id, display_id, title, status, current_price, bid_increment, timer_seconds, start_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $9)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.DisplayID, a.Title, string(a.Status), a.CurrentPrice.String(), a.BidIncrement.String(), a.TimerSeconds, a.StartTime, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create auction: %w", err)
	}
	return nil
}

// UpsertBot inserts or refreshes a bot profile; used by the seed tool.
func (p *Postgres) UpsertBot(ctx context.Context, b models.Bot) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO bots (id, username, first_name, last_name, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username) DO UPDATE SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name, is_active = EXCLUDED.is_active`,
		b.ID, b.Username, b.FirstName, b.LastName, b.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert bot: %w", err)
	}
	return nil
}

// AddBotToAuction assigns a bot to an auction by username; used by the seed tool.
func (p *Postgres) AddBotToAuction(ctx context.Context, auctionID uuid.UUID, botUsername string, bidLimit int) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO auction_bots (auction_id, bot_id, bid_limit)
		SELECT $1, id, $3 FROM bots WHERE username = $2
		ON CONFLICT (auction_id, bot_id) DO UPDATE SET bid_limit = EXCLUDED.bid_limit`,
		auctionID, botUsername, bidLimit,
	)
	if err != nil {
		return fmt.Errorf("failed to add bot to auction: %w", err)
	}
	return nil
}

// UpsertUser creates a user or resets their bid balance; used by the seed tool.
func (p *Postgres) UpsertUser(ctx context.Context, u models.User) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO users (id, username, bid_balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (username) DO UPDATE SET bid_balance = EXCLUDED.bid_balance`,
		u.ID, u.Username, u.BidBalance,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}
