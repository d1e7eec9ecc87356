package commands

import (
	"context"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/orderflow/internal/mongo"
)

// ClearDemo removes the orders created by SeedDemo.
func ClearDemo(ctx context.Context, config *apt.Config, logger apt.Logger) error {
	base, err := connect(ctx, config, logger)
	if err != nil {
		return err
	}
	defer base.Stop(ctx)

	deleted, err := mongo.NewOrderRepo(base.GetDatabase()).DeleteByCustomerRef(ctx, DemoRef)
	if err != nil {
		return fmt.Errorf("clear demo orders: %w", err)
	}
	logger.Info("Deleted demo orders", "count", deleted)
	return nil
}
