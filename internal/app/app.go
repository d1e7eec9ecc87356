package app

import (
	"context"
	"errors"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/middleware"
	"github.com/appetiteclub/orderflow/internal/cache"
	"github.com/appetiteclub/orderflow/internal/claim"
	"github.com/appetiteclub/orderflow/internal/delivery"
	"github.com/appetiteclub/orderflow/internal/engine"
	"github.com/appetiteclub/orderflow/internal/handoff"
	"github.com/appetiteclub/orderflow/internal/mongo"
	"github.com/appetiteclub/orderflow/internal/order"
	"github.com/appetiteclub/orderflow/pkg"
	"github.com/appetiteclub/orderflow/pkg/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	AppName    = "orderflow"
	AppVersion = "0.1.0"
)

// App wires the engine, its collaborators and the HTTP surface into one
// apt.Micro.
type App struct {
	config   *apt.Config
	logger   apt.Logger
	settings Settings
	micro    *apt.Micro
	baseRepo *mongo.BaseRepo
}

func New(config *apt.Config, logger apt.Logger) (*App, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &App{
		config:   config,
		logger:   logger,
		settings: LoadSettings(config),
	}, nil
}

// Initialize connects storage and transport and builds every component.
func (a *App) Initialize(ctx context.Context) error {
	a.baseRepo = mongo.NewBaseRepo(a.config, a.logger)
	if err := a.baseRepo.Start(ctx); err != nil {
		return err
	}
	db := a.baseRepo.GetDatabase()
	if db == nil {
		return errors.New("repository database is nil")
	}
	orderRepo := mongo.NewOrderRepo(db)
	productRepo := mongo.NewProductRepo(db)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics := delivery.NewMetrics(registry, a.settings.HistorySize)
	broadcaster := delivery.NewBroadcaster(a.settings.Delivery, metrics, a.logger)

	lifecycles := []interface{}{
		apt.LifecycleHooks{OnStop: a.baseRepo.Stop},
	}

	if a.settings.RelayEnabled {
		publisher, err := pkg.NewNATSPublisher(a.settings.NATSURL)
		if err != nil {
			return err
		}
		broadcaster.SetRelay(publisher)
		a.logger.Info("terminal relay enabled", "topic", event.TerminalEventsTopic)
		lifecycles = append(lifecycles, apt.LifecycleHooks{
			OnStop: func(context.Context) error { return publisher.Close() },
		})
	}

	locks := order.NewLocks()
	ordersCache := cache.NewOrdersCache(a.settings.Cache, a.logger)
	handoffs := handoff.NewStore(a.settings.Handoff, a.logger)
	claims := claim.NewCoordinator(locks, ordersCache, orderRepo, broadcaster, a.logger)

	eng := engine.New(engine.Deps{
		Locks:    locks,
		Cache:    ordersCache,
		Claims:   claims,
		Handoffs: handoffs,
		Repo:     orderRepo,
		Stock:    productRepo,
		Emitter:  broadcaster,
	}, a.logger)

	lifecycles = append(lifecycles,
		ordersCache,
		handoffs,
		broadcaster,
		apt.LifecycleHooks{
			OnStart: func(ctx context.Context) error { return metrics.Run(ctx, a.settings.HistoryInterval) },
			OnStop:  metrics.Stop,
		},
	)

	if a.settings.AvailabilitySub {
		subscriber, err := pkg.NewNATSSubscriber(a.settings.NATSURL, a.logger)
		if err != nil {
			return err
		}
		lifecycles = append(lifecycles,
			engine.NewAvailabilitySubscriber(subscriber, eng, a.logger),
			apt.LifecycleHooks{
				OnStop: func(context.Context) error { return subscriber.Close() },
			},
		)
	}

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:      a.logger,
		DisableCORS: true,
	})
	stack = append(stack, middleware.InternalOnly())

	options := []apt.Option{
		apt.WithConfig(a.config),
		apt.WithLogger(a.logger),
		apt.WithHTTPMiddleware(stack...),
		apt.WithHTTPServerModules("web.port",
			engine.NewHandler(eng, a.logger),
			delivery.NewHandler(broadcaster, registry, a.logger),
		),
		apt.WithLifecycle(lifecycles...),
		apt.WithHealthChecks(AppName),
	}

	a.micro = apt.NewMicro(options...)
	return nil
}

// Run blocks until ctx is cancelled or the micro stops on its own.
func (a *App) Run(ctx context.Context) error {
	if a.micro == nil {
		return errors.New("app not initialized")
	}
	a.logger.Infof("Starting %s(%s)", AppName, AppVersion)
	if err := a.micro.Run(ctx); err != nil {
		return err
	}
	a.logger.Infof("%s(%s) stopped", AppName, AppVersion)
	return nil
}

// Shutdown releases what Initialize opened when Run never took over.
func (a *App) Shutdown(ctx context.Context) error {
	if a.baseRepo == nil {
		return nil
	}
	return a.baseRepo.Stop(ctx)
}
