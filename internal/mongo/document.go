package mongo

import (
	"fmt"
	"time"

	"github.com/appetiteclub/orderflow/internal/order"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// orderDoc is the stored shape of an order. Money is kept as decimal
// strings so no precision is lost in BSON doubles.
type orderDoc struct {
	ID            uuid.UUID  `bson:"_id"`
	TableID       *uuid.UUID `bson:"table_id,omitempty"`
	CustomerRef   string     `bson:"customer_ref,omitempty"`
	Status        string     `bson:"status"`
	PaymentStatus string     `bson:"payment_status"`
	Items         []itemDoc  `bson:"items"`
	Total         string     `bson:"total"`
	CreatedAt     time.Time  `bson:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at"`
}

type itemDoc struct {
	ID              uuid.UUID `bson:"id"`
	ProductID       uuid.UUID `bson:"product_id"`
	Name            string    `bson:"name"`
	Quantity        int       `bson:"quantity"`
	UnitPrice       string    `bson:"unit_price"`
	Status          string    `bson:"status"`
	Station         string    `bson:"station"`
	Notes           string    `bson:"notes,omitempty"`
	StatusChangedAt time.Time `bson:"status_changed_at"`
}

func toDoc(o *order.Order) orderDoc {
	items := make([]itemDoc, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, itemDoc{
			ID:              it.ID,
			ProductID:       it.ProductID,
			Name:            it.Name,
			Quantity:        it.Quantity,
			UnitPrice:       it.UnitPrice.String(),
			Status:          it.Status,
			Station:         it.Station,
			Notes:           it.Notes,
			StatusChangedAt: it.StatusChangedAt,
		})
	}
	return orderDoc{
		ID:            o.ID,
		TableID:       o.TableID,
		CustomerRef:   o.CustomerRef,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Items:         items,
		Total:         o.Total.String(),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func (d orderDoc) toOrder() (*order.Order, error) {
	total, err := parseMoney(d.Total)
	if err != nil {
		return nil, fmt.Errorf("order %s total: %w", d.ID, err)
	}
	o := &order.Order{
		ID:            d.ID,
		TableID:       d.TableID,
		CustomerRef:   d.CustomerRef,
		Status:        d.Status,
		PaymentStatus: d.PaymentStatus,
		Items:         make([]order.LineItem, 0, len(d.Items)),
		Total:         total,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	for _, it := range d.Items {
		price, err := parseMoney(it.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("order %s item %s price: %w", d.ID, it.ID, err)
		}
		o.Items = append(o.Items, order.LineItem{
			ID:              it.ID,
			ProductID:       it.ProductID,
			Name:            it.Name,
			Quantity:        it.Quantity,
			UnitPrice:       price,
			Status:          it.Status,
			Station:         it.Station,
			Notes:           it.Notes,
			StatusChangedAt: it.StatusChangedAt,
		})
	}
	return o, nil
}

func parseMoney(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
