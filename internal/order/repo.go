package order

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("order not found")

// Repo is the persistence collaborator. Get returns nil, nil when the order
// does not exist.
type Repo interface {
	Get(ctx context.Context, id OrderID) (*Order, error)
	ListOpenByProduct(ctx context.Context, productID ProductID) ([]*Order, error)
	SaveState(ctx context.Context, id OrderID, status, paymentStatus string) error
	SaveItemStatus(ctx context.Context, id OrderID, itemID LineItemID, status string) error
	SaveOrder(ctx context.Context, o *Order) error
}

// StockRepo keeps the per-product available-quantity counter.
type StockRepo interface {
	AdjustAvailable(ctx context.Context, productID ProductID, delta int) (int, error)
}
