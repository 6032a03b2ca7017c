package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/mcdev12/pennyauction/go/internal/auction/auctionerrors"
)

// spendScript decrements a balance only if at least one token is left.
var spendScript = redis.NewScript(`
local balance = tonumber(redis.call("GET", KEYS[1]) or "0")
if balance < 1 then
	return -1
end
return redis.call("DECR", KEYS[1])
`)

// RedisLedger keeps bid-token balances in Redis under "<prefix>:<user id>".
type RedisLedger struct {
	client *redis.Client
	prefix string
}

// NewRedisLedger creates a ledger. An empty prefix defaults to "bid_balance".
func NewRedisLedger(client *redis.Client, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "bid_balance"
	}
	return &RedisLedger{client: client, prefix: prefix}
}

func (l *RedisLedger) key(userID uuid.UUID) string {
	return l.prefix + ":" + userID.String()
}

// Spend atomically takes one token from the user.
func (l *RedisLedger) Spend(ctx context.Context, userID uuid.UUID) error {
	left, err := spendScript.Run(ctx, l.client, []string{l.key(userID)}).Int()
	if err != nil {
		return fmt.Errorf("failed to spend bid token: %w", err)
	}
	if left < 0 {
		return fmt.Errorf("spend bid token for %s: %w", userID, auctionerrors.ErrInsufficientBalance)
	}
	return nil
}

// Refund gives one token back.
func (l *RedisLedger) Refund(ctx context.Context, userID uuid.UUID) error {
	if err := l.client.Incr(ctx, l.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to refund bid token: %w", err)
	}
	return nil
}

// Balance returns the user's token count; unknown users have zero.
func (l *RedisLedger) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	n, err := l.client.Get(ctx, l.key(userID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get bid balance: %w", err)
	}
	return n, nil
}

// SetBalance overwrites a balance; used when topping up accounts.
func (l *RedisLedger) SetBalance(ctx context.Context, userID uuid.UUID, balance int) error {
	if err := l.client.Set(ctx, l.key(userID), balance, 0).Err(); err != nil {
		return fmt.Errorf("failed to set bid balance: %w", err)
	}
	return nil
}
