package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/orderflow/internal/order"
	"github.com/appetiteclub/orderflow/pkg/enums/itemstatus"
	"github.com/appetiteclub/orderflow/pkg/enums/orderstatus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type OrderRepo struct {
	collection *mongo.Collection
}

func NewOrderRepo(db *mongo.Database) *OrderRepo {
	return &OrderRepo{
		collection: db.Collection("orders"),
	}
}

func (r *OrderRepo) Get(ctx context.Context, id order.OrderID) (*order.Order, error) {
	var doc orderDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get order: %w", err)
	}
	return doc.toOrder()
}

// ListOpenByProduct returns non-terminal orders holding at least one
// outstanding line of the product.
func (r *OrderRepo) ListOpenByProduct(ctx context.Context, productID order.ProductID) ([]*order.Order, error) {
	filter := bson.M{
		"status": bson.M{"$nin": bson.A{
			orderstatus.Statuses.Paid.Code(),
			orderstatus.Statuses.Cancelled.Code(),
		}},
		"items": bson.M{"$elemMatch": bson.M{
			"product_id": productID,
			"status": bson.M{"$nin": bson.A{
				itemstatus.Statuses.Delivered.Code(),
				itemstatus.Statuses.Cancelled.Code(),
			}},
		}},
	}

	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("cannot list open orders by product: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("cannot decode orders: %w", err)
	}

	result := make([]*order.Order, 0, len(docs))
	for _, d := range docs {
		o, err := d.toOrder()
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, nil
}

// SaveState writes both halves of the state pair in one update.
func (r *OrderRepo) SaveState(ctx context.Context, id order.OrderID, status, paymentStatus string) error {
	update := bson.M{"$set": bson.M{
		"status":         status,
		"payment_status": paymentStatus,
		"updated_at":     time.Now(),
	}}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("cannot update order state: %w", err)
	}
	if result.MatchedCount == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (r *OrderRepo) SaveItemStatus(ctx context.Context, id order.OrderID, itemID order.LineItemID, status string) error {
	now := time.Now()
	filter := bson.M{"_id": id, "items.id": itemID}
	update := bson.M{"$set": bson.M{
		"items.$.status":            status,
		"items.$.status_changed_at": now,
		"updated_at":                now,
	}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("cannot update order item status: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("order item %s: %w", itemID, order.ErrNotFound)
	}
	return nil
}

// SaveOrder replaces the whole document, inserting it when new.
func (r *OrderRepo) SaveOrder(ctx context.Context, o *order.Order) error {
	if o == nil {
		return fmt.Errorf("order is nil")
	}

	doc := toDoc(o)
	doc.UpdatedAt = time.Now()
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": o.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("cannot save order: %w", err)
	}
	return nil
}

// DeleteByCustomerRef removes every order tagged with ref.
func (r *OrderRepo) DeleteByCustomerRef(ctx context.Context, ref string) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"customer_ref": ref})
	if err != nil {
		return 0, fmt.Errorf("cannot delete orders: %w", err)
	}
	return result.DeletedCount, nil
}
