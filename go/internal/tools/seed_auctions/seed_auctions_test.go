package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcdev12/pennyauction/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundledFixture(t *testing.T) {
	seed, err := loadSeed("auctions.yaml")
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	auctions, err := buildAuctions(seed, now)
	require.NoError(t, err)
	require.Len(t, auctions, 5)

	live := 0
	for _, a := range auctions {
		assert.True(t, a.CurrentPrice.IsZero())
		assert.Equal(t, "0.01", a.BidIncrement.StringFixed(2))
		if a.Status == models.AuctionStatusLive {
			live++
			assert.True(t, a.StartTime.Before(now))
		}
	}
	assert.Equal(t, 1, live)
	assert.Equal(t, 15, auctions[4].TimerSeconds)
	assert.Equal(t, 10, auctions[0].TimerSeconds)
	assert.Equal(t, now.Add(5*time.Minute), auctions[0].StartTime)
}

func TestBuildAuctions_StableIDs(t *testing.T) {
	seed := &SeedFile{Auctions: []SeedAuction{{DisplayID: "QB/1", Title: "Thing"}}}
	first, err := buildAuctions(seed, time.Now())
	require.NoError(t, err)
	second, err := buildAuctions(seed, time.Now())
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.NotEqual(t, seedID("bot", "QB/1"), first[0].ID)
}

func TestBuildAuctions_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		auction SeedAuction
		want    string
	}{
		{"missing display id", SeedAuction{Title: "x"}, "display_id is required"},
		{"bad status", SeedAuction{DisplayID: "A", Status: "paused"}, "unknown status"},
		{"bad increment", SeedAuction{DisplayID: "A", BidIncrement: "-1"}, "invalid bid_increment"},
		{"zero increment", SeedAuction{DisplayID: "A", BidIncrement: "0.00"}, "invalid bid_increment"},
		{"sub-cent increment", SeedAuction{DisplayID: "A", BidIncrement: "0.005"}, "invalid bid_increment"},
		{"negative timer", SeedAuction{DisplayID: "A", TimerSeconds: -5}, "timer_seconds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildAuctions(&SeedFile{Auctions: []SeedAuction{tt.auction}}, time.Now())
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadSeed_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auctions: [\n"), 0o600))
	_, err := loadSeed(path)
	assert.ErrorContains(t, err, "parse fixture")
}
