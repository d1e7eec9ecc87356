package event

import "time"

const (
	ClaimsTopic        = "orders.claims"
	EventClaimAlert    = "claim.alert"
	EventClaimTaken    = "claim.taken"
	EventClaimReleased = "claim.released"
	EventClaimResolved = "claim.resolved"
	EventClaimUpdated  = "claim.updated"
)

type AffectedProduct struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// ClaimEvent describes every step of the out-of-stock claim protocol.
type ClaimEvent struct {
	EventType      string            `json:"event_type"`
	OccurredAt     time.Time         `json:"occurred_at"`
	OrderID        string            `json:"order_id"`
	TableID        string            `json:"table_id,omitempty"`
	OwnerID        string            `json:"owner_id,omitempty"`
	OwnerName      string            `json:"owner_name,omitempty"`
	PreviousStatus string            `json:"previous_status,omitempty"`
	Resolution     string            `json:"resolution,omitempty"`
	Affected       []AffectedProduct `json:"affected"`
}
