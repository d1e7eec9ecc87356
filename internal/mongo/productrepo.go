package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/orderflow/internal/order"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ProductRepo holds the available-quantity counter per product.
type ProductRepo struct {
	collection *mongo.Collection
}

func NewProductRepo(db *mongo.Database) *ProductRepo {
	return &ProductRepo{
		collection: db.Collection("products"),
	}
}

type stockDoc struct {
	ID        order.ProductID `bson:"_id"`
	Available int             `bson:"available"`
	UpdatedAt time.Time       `bson:"updated_at"`
}

// AdjustAvailable moves the counter atomically and returns the new value.
// Unknown products start at zero.
func (r *ProductRepo) AdjustAvailable(ctx context.Context, productID order.ProductID, delta int) (int, error) {
	update := bson.M{
		"$inc": bson.M{"available": delta},
		"$set": bson.M{"updated_at": time.Now()},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc stockDoc
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": productID}, update, opts).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("cannot adjust product stock: %w", err)
	}
	return doc.Available, nil
}

// DeleteAll clears every stock counter.
func (r *ProductRepo) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("cannot delete product stock: %w", err)
	}
	return result.DeletedCount, nil
}
