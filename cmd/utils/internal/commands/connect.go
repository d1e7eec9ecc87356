package commands

import (
	"context"
	"errors"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/orderflow/internal/mongo"
)

// DemoRef tags every order created by seed-demo.
const DemoRef = "demo-seed"

func connect(ctx context.Context, config *apt.Config, logger apt.Logger) (*mongo.BaseRepo, error) {
	repo := mongo.NewBaseRepo(config, logger)
	if err := repo.Start(ctx); err != nil {
		return nil, err
	}
	if repo.GetDatabase() == nil {
		_ = repo.Stop(ctx)
		return nil, errors.New("repository database is nil")
	}
	return repo, nil
}
