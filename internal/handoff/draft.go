package handoff

import (
	"time"

	"github.com/appetiteclub/orderflow/internal/order"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DraftItem is a line item that has no identity yet.
type DraftItem struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Station   string          `json:"station,omitempty"`
	Notes     string          `json:"notes,omitempty"`
}

// Draft is an order assembled on one device and picked up on another.
type Draft struct {
	Code        string      `json:"code"`
	Items       []DraftItem `json:"items"`
	TableID     *uuid.UUID  `json:"table_id,omitempty"`
	CustomerRef string      `json:"customer_ref,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

func (d Draft) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

// Order turns the draft into a fresh order in the initial state.
func (d Draft) Order() *order.Order {
	items := make([]order.LineItem, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, order.LineItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Station:   it.Station,
			Notes:     it.Notes,
		})
	}
	o := order.New(d.TableID, items)
	o.CustomerRef = d.CustomerRef
	return o
}

func (d Draft) clone() Draft {
	out := d
	out.Items = make([]DraftItem, len(d.Items))
	copy(out.Items, d.Items)
	if d.TableID != nil {
		id := *d.TableID
		out.TableID = &id
	}
	return out
}
