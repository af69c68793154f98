package redisx

import "time"

const (
	// idem:order:create:{customer_id}:{key} -> "pending" | order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// order_status:{order_id} -> {"order_id": "...", "status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
