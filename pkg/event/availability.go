package event

import "time"

const (
	ProductAvailabilityTopic    = "menu.availability"
	EventProductAvailability    = "menu.product.availability_changed"
	EventProductStockAdjustment = "menu.product.stock_adjusted"
)

// ProductAvailabilityEvent is published by the menu/inventory side whenever
// a product is switched on or off, or its stock counter moves.
type ProductAvailabilityEvent struct {
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	ProductID  string    `json:"product_id"`
	Available  bool      `json:"available"`
	Delta      int       `json:"delta,omitempty"`
	Source     string    `json:"source,omitempty"`
}
