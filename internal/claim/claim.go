// Package claim coordinates who handles an order that lost a product to an
// out-of-stock event. At most one staff member owns a claim at a time.
package claim

import (
	"errors"
	"strings"
	"time"

	"github.com/appetiteclub/orderflow/internal/order"
	"github.com/appetiteclub/orderflow/pkg/event"
)

var (
	ErrAlreadyClaimed    = errors.New("claim already taken")
	ErrNotClaimed        = errors.New("claim has no owner")
	ErrNoClaim           = errors.New("no claim for order")
	ErrInvalidResolution = errors.New("invalid resolution")
)

type Resolution string

const (
	// ResolutionSplit drops the affected items and lets the rest continue.
	ResolutionSplit Resolution = "split"
	// ResolutionBlock keeps the whole order frozen until it is edited by hand.
	ResolutionBlock Resolution = "block"
)

func ParseResolution(name string) (Resolution, error) {
	switch r := Resolution(strings.ToLower(strings.TrimSpace(name))); r {
	case ResolutionSplit, ResolutionBlock:
		return r, nil
	}
	return "", ErrInvalidResolution
}

type AffectedProduct struct {
	ProductID order.ProductID `json:"product_id"`
	Quantity  int             `json:"quantity"`
}

// Claim exists while an order has at least one unresolved affected item.
// A nil Owner means nobody took charge yet.
type Claim struct {
	OrderID        order.OrderID     `json:"order_id"`
	TableID        string            `json:"table_id,omitempty"`
	Owner          *order.Actor      `json:"owner,omitempty"`
	ClaimedAt      *time.Time        `json:"claimed_at,omitempty"`
	Affected       []AffectedProduct `json:"affected"`
	PreviousStatus string            `json:"previous_status"`
	AlertID        string            `json:"alert_id"`
	CreatedAt      time.Time         `json:"created_at"`
}

func (c *Claim) Claimed() bool {
	return c.Owner != nil
}

func (c *Claim) affects(productID order.ProductID) int {
	for i := range c.Affected {
		if c.Affected[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Claim) setAffected(productID order.ProductID, qty int) {
	if i := c.affects(productID); i >= 0 {
		c.Affected[i].Quantity = qty
		return
	}
	c.Affected = append(c.Affected, AffectedProduct{ProductID: productID, Quantity: qty})
}

func (c *Claim) dropAffected(productID order.ProductID) bool {
	i := c.affects(productID)
	if i < 0 {
		return false
	}
	c.Affected = append(c.Affected[:i], c.Affected[i+1:]...)
	return true
}

func (c *Claim) clone() Claim {
	out := *c
	if c.Owner != nil {
		owner := *c.Owner
		out.Owner = &owner
	}
	if c.ClaimedAt != nil {
		at := *c.ClaimedAt
		out.ClaimedAt = &at
	}
	out.Affected = make([]AffectedProduct, len(c.Affected))
	copy(out.Affected, c.Affected)
	return out
}

func (c *Claim) toEvent(eventType string) event.ClaimEvent {
	e := event.ClaimEvent{
		EventType:      eventType,
		OccurredAt:     time.Now().UTC(),
		OrderID:        c.OrderID.String(),
		TableID:        c.TableID,
		PreviousStatus: c.PreviousStatus,
		Affected:       make([]event.AffectedProduct, 0, len(c.Affected)),
	}
	if c.Owner != nil {
		e.OwnerID = c.Owner.ID
		e.OwnerName = c.Owner.Name
	}
	for _, a := range c.Affected {
		e.Affected = append(e.Affected, event.AffectedProduct{
			ProductID: a.ProductID.String(),
			Quantity:  a.Quantity,
		})
	}
	return e
}
