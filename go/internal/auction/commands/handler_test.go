package commands

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/mcdev12/pennyauction/go/internal/auction/auctionerrors"
	"github.com/mcdev12/pennyauction/go/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	method    string
	auctionID uuid.UUID
	userID    uuid.UUID
}

type fakeLifecycle struct {
	calls []call
	err   error
}

func (f *fakeLifecycle) PlaceBid(_ context.Context, auctionID, userID uuid.UUID) (*models.Bid, error) {
	f.calls = append(f.calls, call{"bid", auctionID, userID})
	if f.err != nil {
		return nil, f.err
	}
	return &models.Bid{ID: uuid.New(), AuctionID: auctionID, UserID: &userID, Amount: decimal.RequireFromString("0.01")}, nil
}

func (f *fakeLifecycle) PlacePrebid(_ context.Context, auctionID, userID uuid.UUID) (*models.Prebid, error) {
	f.calls = append(f.calls, call{"prebid", auctionID, userID})
	if f.err != nil {
		return nil, f.err
	}
	return &models.Prebid{ID: uuid.New(), AuctionID: auctionID, UserID: userID, Status: models.PrebidStatusPending}, nil
}

func (f *fakeLifecycle) StartAuction(_ context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	f.calls = append(f.calls, call{"start", auctionID, uuid.Nil})
	if f.err != nil {
		return nil, f.err
	}
	return &models.Auction{ID: auctionID, Status: models.AuctionStatusLive}, nil
}

func (f *fakeLifecycle) EndAuction(_ context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	f.calls = append(f.calls, call{"end", auctionID, uuid.Nil})
	if f.err != nil {
		return nil, f.err
	}
	return &models.Auction{ID: auctionID, Status: models.AuctionStatusFinished}, nil
}

func encode(t *testing.T, req Request) []byte {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return data
}

func TestHandle_Dispatch(t *testing.T) {
	auctionID, userID := uuid.New(), uuid.New()
	req := Request{AuctionID: auctionID.String(), UserID: userID.String()}

	tests := []struct {
		command string
		check   func(t *testing.T, resp Response)
	}{
		{CommandBid, func(t *testing.T, resp Response) {
			require.NotNil(t, resp.Bid)
			assert.Equal(t, userID, *resp.Bid.UserID)
		}},
		{CommandPrebid, func(t *testing.T, resp Response) {
			require.NotNil(t, resp.Prebid)
			assert.Equal(t, models.PrebidStatusPending, resp.Prebid.Status)
		}},
		{CommandStart, func(t *testing.T, resp Response) {
			require.NotNil(t, resp.Auction)
			assert.Equal(t, models.AuctionStatusLive, resp.Auction.Status)
		}},
		{CommandEnd, func(t *testing.T, resp Response) {
			require.NotNil(t, resp.Auction)
			assert.Equal(t, models.AuctionStatusFinished, resp.Auction.Status)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			lc := &fakeLifecycle{}
			resp := NewHandler(lc).Handle(context.Background(), tt.command, encode(t, req))
			assert.True(t, resp.OK)
			assert.Empty(t, resp.Reason)
			require.Len(t, lc.calls, 1)
			assert.Equal(t, tt.command, lc.calls[0].method)
			assert.Equal(t, auctionID, lc.calls[0].auctionID)
			tt.check(t, resp)
		})
	}
}

func TestHandle_InvalidRequests(t *testing.T) {
	auctionID := uuid.New().String()

	tests := []struct {
		name    string
		command string
		data    []byte
	}{
		{"malformed json", CommandBid, []byte("{")},
		{"missing auction", CommandEnd, []byte(`{}`)},
		{"bad auction id", CommandStart, []byte(`{"auction_id":"abc"}`)},
		{"bid without user", CommandBid, []byte(`{"auction_id":"` + auctionID + `"}`)},
		{"prebid with nil user", CommandPrebid, []byte(`{"auction_id":"` + auctionID + `","user_id":"` + uuid.Nil.String() + `"}`)},
		{"unknown command", "refund", []byte(`{"auction_id":"` + auctionID + `"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := &fakeLifecycle{}
			resp := NewHandler(lc).Handle(context.Background(), tt.command, tt.data)
			assert.False(t, resp.OK)
			assert.Equal(t, "invalid_request", resp.Reason)
			assert.NotEmpty(t, resp.Error)
			assert.Empty(t, lc.calls)
		})
	}
}

func TestHandle_LifecycleErrorsBecomeReasons(t *testing.T) {
	req := Request{AuctionID: uuid.NewString(), UserID: uuid.NewString()}

	tests := []struct {
		err    error
		reason string
	}{
		{auctionerrors.ErrInsufficientBalance, "insufficient_balance"},
		{auctionerrors.ErrAuctionFinished, "auction_finished"},
		{auctionerrors.ErrAuctionNotLive, "auction_not_live"},
		{errors.New("connection reset"), "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			resp := NewHandler(&fakeLifecycle{err: tt.err}).Handle(context.Background(), CommandBid, encode(t, req))
			assert.False(t, resp.OK)
			assert.Equal(t, tt.reason, resp.Reason)
			assert.Nil(t, resp.Bid)
		})
	}
}

func TestConsumer_ReplyEncodesResponse(t *testing.T) {
	lc := &fakeLifecycle{err: auctionerrors.ErrAlreadyPrebid}
	c := NewConsumer(nil, NewHandler(lc), Config{})
	assert.Equal(t, "auction.commands.prebid", c.Subject(CommandPrebid))

	out := c.reply(context.Background(), CommandPrebid, encode(t, Request{AuctionID: uuid.NewString(), UserID: uuid.NewString()}))

	var resp Response
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.False(t, resp.OK)
	assert.Equal(t, "already_prebid", resp.Reason)
}
