package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/orderflow/pkg/event"
	"github.com/google/uuid"
)

// AvailabilitySubscriber feeds menu availability events into the engine.
type AvailabilitySubscriber struct {
	subscriber events.Subscriber
	engine     *Engine
	logger     apt.Logger
}

func NewAvailabilitySubscriber(sub events.Subscriber, engine *Engine, logger apt.Logger) *AvailabilitySubscriber {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &AvailabilitySubscriber{
		subscriber: sub,
		engine:     engine,
		logger:     logger,
	}
}

func (s *AvailabilitySubscriber) Start(ctx context.Context) error {
	s.logger.Info("starting availability subscriber", "topic", event.ProductAvailabilityTopic)
	if s.subscriber == nil {
		return fmt.Errorf("availability subscriber not configured")
	}
	return s.subscriber.Subscribe(ctx, event.ProductAvailabilityTopic, s.handleEvent)
}

func (s *AvailabilitySubscriber) handleEvent(ctx context.Context, msg []byte) error {
	var evt event.ProductAvailabilityEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		s.logger.Info("invalid availability event", "error", err)
		return nil
	}

	productID, err := uuid.Parse(evt.ProductID)
	if err != nil {
		s.logger.Info("invalid product id in availability event", "product_id", evt.ProductID)
		return nil
	}

	switch evt.EventType {
	case event.EventProductAvailability:
		claims, err := s.engine.SetAvailability(ctx, productID, evt.Available)
		if err != nil {
			return fmt.Errorf("cannot apply availability for %s: %w", productID, err)
		}
		s.logger.Debug("availability applied", "product_id", productID.String(), "available", evt.Available, "claims", len(claims))
	case event.EventProductStockAdjustment:
		remaining, err := s.engine.AdjustStock(ctx, productID, evt.Delta)
		if err != nil {
			return fmt.Errorf("cannot adjust stock for %s: %w", productID, err)
		}
		s.logger.Debug("stock adjusted", "product_id", productID.String(), "delta", evt.Delta, "remaining", remaining)
	default:
		s.logger.Info("unknown availability event", "event_type", evt.EventType)
	}
	return nil
}
