package auctionerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "bare sentinel", err: ErrAuctionNotLive, want: true},
		{name: "wrapped sentinel", err: fmt.Errorf("lifecycle: %w", ErrInsufficientBalance), want: true},
		{name: "lost race", err: fmt.Errorf("place bid: %w", ErrAuctionFinished), want: true},
		{name: "infrastructure", err: errors.New("connection refused"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidation(tt.err))
		})
	}
}

func TestReason(t *testing.T) {
	assert.Equal(t, "", Reason(nil))
	assert.Equal(t, "insufficient_balance", Reason(fmt.Errorf("x: %w", ErrInsufficientBalance)))
	assert.Equal(t, "bot_limit_reached", Reason(ErrBotLimitReached))
	assert.Equal(t, "internal", Reason(errors.New("boom")))
}
