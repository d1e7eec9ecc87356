package commands

import (
	"context"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/orderflow/internal/mongo"
)

// ResetDB drops the orderflow database. Use with caution.
func ResetDB(ctx context.Context, config *apt.Config, logger apt.Logger) error {
	logger.Infof("DANGER: this drops the orderflow database and cannot be undone")

	base, err := connect(ctx, config, logger)
	if err != nil {
		return err
	}
	defer base.Stop(ctx)

	db := base.GetDatabase()
	deleted, err := mongo.NewProductRepo(db).DeleteAll(ctx)
	if err != nil {
		return err
	}
	logger.Info("Cleared product stock", "count", deleted)

	if err := db.Drop(ctx); err != nil {
		return fmt.Errorf("drop database %s: %w", db.Name(), err)
	}
	logger.Infof("Dropped database %s", db.Name())
	return nil
}
