package prices

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Client is the part of redis.UniversalClient the feed needs.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Redis reads prices written by an external feeder under
// "price:<source>:<pair>". Hits are memoised locally for the memo TTL so the
// matching path does not hit the network on every check.
type Redis struct {
	client Client
	source string
	ttl    time.Duration
	memo   *Memory
	log    *zap.Logger
}

func NewRedis(client Client, source string, ttl time.Duration, log *zap.Logger) *Redis {
	return &Redis{
		client: client,
		source: source,
		ttl:    ttl,
		memo:   NewMemory(ttl),
		log:    log.Named("prices").With(zap.String("source", source)),
	}
}

func (r *Redis) key(pair string) string {
	return "price:" + r.source + ":" + pair
}

func (r *Redis) Price(ctx context.Context, pair string) (decimal.Decimal, bool) {
	if p, ok := r.memo.Price(ctx, pair); ok {
		return p, true
	}
	raw, err := r.client.Get(ctx, r.key(pair)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn("price lookup failed", zap.String("pair", pair), zap.Error(err))
		}
		return decimal.Zero, false
	}
	p, err := decimal.NewFromString(raw)
	if err != nil || p.Sign() <= 0 {
		r.log.Warn("bad price value", zap.String("pair", pair), zap.String("value", raw))
		return decimal.Zero, false
	}
	r.memo.Set(pair, p)
	return p, true
}

// Store writes a price for other instances to read.
func (r *Redis) Store(ctx context.Context, pair string, price decimal.Decimal) error {
	if err := r.client.Set(ctx, r.key(pair), price.String(), 0).Err(); err != nil {
		return err
	}
	r.memo.Set(pair, price)
	return nil
}
