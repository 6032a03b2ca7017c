package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/mcdev12/pennyauction/go/internal/auction/store"
	"github.com/mcdev12/pennyauction/go/internal/dbconfig"
	"github.com/mcdev12/pennyauction/go/internal/models"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// seedNamespace makes ids stable across runs, so reseeding skips existing rows.
var seedNamespace = uuid.MustParse("5b0f5a1e-3c35-4c8e-9a55-7f1c7d0b6a21")

// SeedFile mirrors the YAML fixture.
type SeedFile struct {
	Bots     []SeedBot     `yaml:"bots"`
	Users    []SeedUser    `yaml:"users"`
	Auctions []SeedAuction `yaml:"auctions"`
}

type SeedBot struct {
	Username  string `yaml:"username"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
}

type SeedUser struct {
	Username   string `yaml:"username"`
	BidBalance int    `yaml:"bid_balance"`
}

type SeedAuction struct {
	DisplayID    string        `yaml:"display_id"`
	Title        string        `yaml:"title"`
	Status       string        `yaml:"status"`        // default upcoming
	StartIn      time.Duration `yaml:"start_in"`      // relative to now; negative for the past
	TimerSeconds int           `yaml:"timer_seconds"` // default 10
	BidIncrement string        `yaml:"bid_increment"` // default 0.01
	Bots         []struct {
		Username string `yaml:"username"`
		BidLimit int    `yaml:"bid_limit"`
	} `yaml:"bots"`
}

func main() {
	path := flag.String("f", "go/internal/tools/seed_auctions/auctions.yaml", "seed fixture")
	flag.Parse()

	_ = godotenv.Load()

	// 1) Load the YAML fixture
	seed, err := loadSeed(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load seed: %v\n", err)
		os.Exit(1)
	}
	auctions, err := buildAuctions(seed, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "build auctions: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := store.Migrate(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	pg := store.NewPostgres(pool)

	// 3) Insert and count
	var errs int
	for _, b := range seed.Bots {
		bot := models.Bot{
			ID:        seedID("bot", b.Username),
			Username:  b.Username,
			FirstName: b.FirstName,
			LastName:  b.LastName,
			IsActive:  true,
		}
		if err := pg.UpsertBot(ctx, bot); err != nil {
			fmt.Fprintf(os.Stderr, "error upserting bot %s: %v\n", b.Username, err)
			errs++
		}
	}

	for _, u := range seed.Users {
		user := models.User{ID: seedID("user", u.Username), Username: u.Username, BidBalance: u.BidBalance}
		if err := pg.UpsertUser(ctx, user); err != nil {
			fmt.Fprintf(os.Stderr, "error upserting user %s: %v\n", u.Username, err)
			errs++
		}
	}

	assignments := 0
	for i, a := range auctions {
		if err := pg.CreateAuction(ctx, a); err != nil {
			fmt.Fprintf(os.Stderr, "error inserting auction %s: %v\n", a.DisplayID, err)
			errs++
			continue
		}
		for _, b := range seed.Auctions[i].Bots {
			if err := pg.AddBotToAuction(ctx, a.ID, b.Username, b.BidLimit); err != nil {
				fmt.Fprintf(os.Stderr, "error assigning bot %s to %s: %v\n", b.Username, a.DisplayID, err)
				errs++
				continue
			}
			assignments++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Auction seed complete: %d auctions, %d bots, %d users, %d bot assignments, %d errors\n",
		len(auctions), len(seed.Bots), len(seed.Users), assignments, errs,
	)
	if errs > 0 {
		os.Exit(1)
	}
}

func loadSeed(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return &seed, nil
}

// buildAuctions turns fixture entries into auctions priced at 0.00, applying defaults.
func buildAuctions(seed *SeedFile, now time.Time) ([]models.Auction, error) {
	out := make([]models.Auction, 0, len(seed.Auctions))
	for _, sa := range seed.Auctions {
		if sa.DisplayID == "" {
			return nil, fmt.Errorf("auction %q: display_id is required", sa.Title)
		}

		status := models.AuctionStatusUpcoming
		if sa.Status != "" {
			status = models.AuctionStatus(sa.Status)
		}
		if !status.Valid() {
			return nil, fmt.Errorf("auction %s: unknown status %q", sa.DisplayID, sa.Status)
		}

		increment := decimal.RequireFromString("0.01")
		if sa.BidIncrement != "" {
			d, err := decimal.NewFromString(sa.BidIncrement)
			if err != nil || !d.IsPositive() || !d.Equal(d.Round(2)) {
				return nil, fmt.Errorf("auction %s: invalid bid_increment %q", sa.DisplayID, sa.BidIncrement)
			}
			increment = d
		}

		timerSeconds := sa.TimerSeconds
		if timerSeconds == 0 {
			timerSeconds = 10
		}
		if timerSeconds < 0 {
			return nil, fmt.Errorf("auction %s: timer_seconds must be positive", sa.DisplayID)
		}

		out = append(out, models.Auction{
			ID:           seedID("auction", sa.DisplayID),
			DisplayID:    sa.DisplayID,
			Title:        sa.Title,
			Status:       status,
			CurrentPrice: decimal.Zero,
			BidIncrement: increment,
			TimerSeconds: timerSeconds,
			StartTime:    now.Add(sa.StartIn),
		})
	}
	return out, nil
}

func seedID(kind, key string) uuid.UUID {
	return uuid.NewSHA1(seedNamespace, []byte(kind+":"+key))
}
