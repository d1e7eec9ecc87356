package order

import (
	"time"

	"github.com/appetiteclub/orderflow/pkg/enums/itemstatus"
	"github.com/appetiteclub/orderflow/pkg/enums/orderstatus"
	"github.com/appetiteclub/orderflow/pkg/enums/paymentstatus"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderID = uuid.UUID
type LineItemID = uuid.UUID
type ProductID = uuid.UUID

// Order is the in-memory snapshot of an order. The authoritative record
// lives in the persistence collaborator.
type Order struct {
	ID            OrderID         `json:"id"`
	TableID       *uuid.UUID      `json:"table_id,omitempty"`
	CustomerRef   string          `json:"customer_ref,omitempty"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	Items         []LineItem      `json:"items"`
	Total         decimal.Decimal `json:"total"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type LineItem struct {
	ID              LineItemID      `json:"id"`
	ProductID       ProductID       `json:"product_id"`
	Name            string          `json:"name"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Status          string          `json:"status"`
	Station         string          `json:"station"`
	Notes           string          `json:"notes,omitempty"`
	StatusChangedAt time.Time       `json:"status_changed_at"`
}

// Actor identifies the staff member behind an action.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// New builds an order in the Ordered/Unpaid pair with fresh item ids.
func New(tableID *uuid.UUID, items []LineItem) *Order {
	now := time.Now()
	o := &Order{
		ID:            uuid.New(),
		TableID:       tableID,
		Status:        orderstatus.Statuses.Ordered.Code(),
		PaymentStatus: paymentstatus.Statuses.Unpaid.Code(),
		Items:         make([]LineItem, 0, len(items)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, item := range items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		if item.Status == "" {
			item.Status = itemstatus.Statuses.Inserted.Code()
		}
		item.StatusChangedAt = now
		o.Items = append(o.Items, item)
	}
	o.RecalculateTotal()
	return o
}

func (i LineItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// RecalculateTotal sums every non-cancelled item.
func (o *Order) RecalculateTotal() {
	total := decimal.Zero
	for _, item := range o.Items {
		if item.Status == itemstatus.Statuses.Cancelled.Code() {
			continue
		}
		total = total.Add(item.Subtotal())
	}
	o.Total = total
}

func (o *Order) Fulfillment() orderstatus.Status {
	if s := orderstatus.ByName(o.Status); s != nil {
		return *s
	}
	return orderstatus.Status{Name: o.Status}
}

func (o *Order) Payment() paymentstatus.Status {
	if s := paymentstatus.ByName(o.PaymentStatus); s != nil {
		return *s
	}
	return paymentstatus.Status{Name: o.PaymentStatus}
}

// ItemIndex returns the position of the item or -1.
func (o *Order) ItemIndex(itemID LineItemID) int {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}

// OutstandingQuantity sums the quantity of items for the product that still
// have to be produced.
func (o *Order) OutstandingQuantity(productID ProductID) int {
	var qty int
	for _, item := range o.Items {
		if item.ProductID != productID {
			continue
		}
		if s := itemstatus.ByName(item.Status); s != nil && s.Outstanding() {
			qty += item.Quantity
		}
	}
	return qty
}

// Contains reports whether the product appears in a non-terminal item.
func (o *Order) Contains(productID ProductID) bool {
	for _, item := range o.Items {
		if item.ProductID != productID {
			continue
		}
		if s := itemstatus.ByName(item.Status); s != nil && !s.IsTerminal() {
			return true
		}
	}
	return false
}

func (o *Order) TableRef() string {
	if o.TableID == nil {
		return ""
	}
	return o.TableID.String()
}

// Clone returns a deep copy; cache readers never share item slices.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.TableID != nil {
		id := *o.TableID
		c.TableID = &id
	}
	if o.Items != nil {
		c.Items = make([]LineItem, len(o.Items))
		copy(c.Items, o.Items)
	}
	return &c
}
