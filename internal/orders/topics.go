package orders

const (
	TopicOrderStatusChanged = "order.status.changed"
	TopicInventoryHistory   = "inventory.history"
)

// Partition key = order_id so every event of one order stays ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
