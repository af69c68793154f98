package redisx

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const idemPending = "pending"

// ErrInFlight means another request with the same idempotency key has not finished yet.
var ErrInFlight = errors.New("request with this idempotency key is in progress")

// Idempotency guards checkout replays. The database stays the source of truth; this
// only short-circuits retries of a request that already produced an order.
type Idempotency struct {
	rdb redis.Cmdable
}

func NewIdempotency(rdb redis.Cmdable) *Idempotency {
	return &Idempotency{rdb: rdb}
}

// Begin claims key for customerID. When a previous request already completed it
// returns that order id; when one is still running it returns ErrInFlight.
func (i *Idempotency) Begin(ctx context.Context, customerID, key string) (string, error) {
	k := fmt.Sprintf(KeyIdemOrderCreate, customerID, key)
	ok, err := i.rdb.SetNX(ctx, k, idemPending, TTLIdempotency).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return "", nil
	}
	v, err := i.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; treat as in flight rather than racing
		return "", ErrInFlight
	}
	if err != nil {
		return "", err
	}
	if v == idemPending {
		return "", ErrInFlight
	}
	return v, nil
}

func (i *Idempotency) Complete(ctx context.Context, customerID, key, orderID string) error {
	return i.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, customerID, key), orderID, TTLIdempotency).Err()
}

// Abort frees the key so the client can retry after a failure.
func (i *Idempotency) Abort(ctx context.Context, customerID, key string) error {
	return i.rdb.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, customerID, key)).Err()
}
