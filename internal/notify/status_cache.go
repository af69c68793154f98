package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-pipeline/internal/orders"
	"github.com/ariefcatur/go-order-pipeline/internal/redisx"
)

type CachedStatus struct {
	OrderID   string        `json:"order_id"`
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
	Version   int64         `json:"version"`
}

// putIfNewer keeps the entry with the highest version; events may arrive out of order.
var putIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local ok, c = pcall(cjson.decode, cur)
	if ok and c.version and tonumber(c.version) > tonumber(ARGV[2]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// DefaultSinkTimeout bounds the cache write made from StatusChanged. The worker
// refreshes the entry again from the status topic, so a slow Redis only costs freshness.
const DefaultSinkTimeout = 150 * time.Millisecond

// StatusCache keeps order_status:{id} warm for the status endpoint. It is also a Sink
// so the API can refresh it right after commit.
type StatusCache struct {
	rdb         redis.Cmdable
	sinkTimeout time.Duration
	logger      *zap.Logger
}

func NewStatusCache(rdb redis.Cmdable, logger *zap.Logger) *StatusCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusCache{rdb: rdb, sinkTimeout: DefaultSinkTimeout, logger: logger}
}

// Get returns false on a miss or when Redis is unavailable.
func (c *StatusCache) Get(ctx context.Context, orderID string) (CachedStatus, bool) {
	s, err := c.rdb.Get(ctx, fmt.Sprintf(redisx.KeyOrderStatus, orderID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("status cache read", zap.String("order_id", orderID), zap.Error(err))
		}
		return CachedStatus{}, false
	}
	var cs CachedStatus
	if err := json.Unmarshal([]byte(s), &cs); err != nil {
		return CachedStatus{}, false
	}
	return cs, true
}

func (c *StatusCache) Put(ctx context.Context, cs CachedStatus) {
	cs.Version = cs.UpdatedAt.UnixNano()
	b, err := json.Marshal(cs)
	if err != nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, cs.OrderID)
	ttl := redisx.TTLStatusCache.Milliseconds()
	if err := putIfNewer.Run(ctx, c.rdb, []string{key}, string(b), cs.Version, ttl).Err(); err != nil {
		c.logger.Warn("status cache write", zap.String("order_id", cs.OrderID), zap.Error(err))
	}
}

// StatusChanged writes the new status under a short deadline; it runs on the request path.
func (c *StatusCache) StatusChanged(ctx context.Context, ev orders.StatusEvent) {
	ctx, cancel := context.WithTimeout(ctx, c.sinkTimeout)
	defer cancel()
	c.Put(ctx, CachedStatus{OrderID: ev.OrderID, Status: ev.To, UpdatedAt: ev.OccurredAt})
}
