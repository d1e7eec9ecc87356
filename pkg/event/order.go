package event

import "time"

const (
	OrderLifecycleTopic         = "orders.lifecycle"
	EventOrderTracked           = "order.tracked"
	EventOrderStatusChanged     = "order.status_changed"
	EventOrderItemStatusChanged = "order.item.status_changed"
	EventOrderUpdated           = "order.updated"
)

type OrderEventMetadata struct {
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	OrderID    string    `json:"order_id"`
	TableID    string    `json:"table_id,omitempty"`
	Version    uint64    `json:"version"`
}

// OrderTrackedEvent announces an order that entered the active set.
type OrderTrackedEvent struct {
	OrderEventMetadata
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	ItemCount     int    `json:"item_count"`
	Total         string `json:"total"`
}

// OrderStatusChangedEvent carries both halves of the state pair so that a
// terminal never has to combine two events to render an order.
type OrderStatusChangedEvent struct {
	OrderEventMetadata
	Trigger               string `json:"trigger"`
	NewStatus             string `json:"new_status"`
	PreviousStatus        string `json:"previous_status"`
	PaymentStatus         string `json:"payment_status"`
	PreviousPaymentStatus string `json:"previous_payment_status"`
	ActorID               string `json:"actor_id,omitempty"`
	Optimistic            bool   `json:"optimistic,omitempty"`
	RolledBack            bool   `json:"rolled_back,omitempty"`
}

type OrderItemStatusChangedEvent struct {
	OrderEventMetadata
	OrderItemID    string `json:"order_item_id"`
	ProductID      string `json:"product_id"`
	Station        string `json:"station"`
	NewStatus      string `json:"new_status"`
	PreviousStatus string `json:"previous_status"`
}

// OrderUpdatedEvent is sent when items were removed or replaced.
type OrderUpdatedEvent struct {
	OrderEventMetadata
	Status       string   `json:"status"`
	RemovedItems []string `json:"removed_items,omitempty"`
	Total        string   `json:"total"`
}
