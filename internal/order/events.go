package order

import (
	"time"

	"github.com/appetiteclub/orderflow/pkg/event"
)

func (o *Order) metadata(eventType string, version uint64) event.OrderEventMetadata {
	return event.OrderEventMetadata{
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		OrderID:    o.ID.String(),
		TableID:    o.TableRef(),
		Version:    version,
	}
}

// StatusChanged describes a move of the state pair from the given previous
// pair to the order's current one.
func (o *Order) StatusChanged(trigger, prevStatus, prevPayment string, actor *Actor, version uint64) event.OrderStatusChangedEvent {
	e := event.OrderStatusChangedEvent{
		OrderEventMetadata:    o.metadata(event.EventOrderStatusChanged, version),
		Trigger:               trigger,
		NewStatus:             o.Status,
		PreviousStatus:        prevStatus,
		PaymentStatus:         o.PaymentStatus,
		PreviousPaymentStatus: prevPayment,
	}
	if actor != nil {
		e.ActorID = actor.ID
	}
	return e
}

func (o *Order) ItemStatusChanged(item LineItem, prevStatus string, version uint64) event.OrderItemStatusChangedEvent {
	return event.OrderItemStatusChangedEvent{
		OrderEventMetadata: o.metadata(event.EventOrderItemStatusChanged, version),
		OrderItemID:        item.ID.String(),
		ProductID:          item.ProductID.String(),
		Station:            item.Station,
		NewStatus:          item.Status,
		PreviousStatus:     prevStatus,
	}
}

func (o *Order) Tracked(version uint64) event.OrderTrackedEvent {
	return event.OrderTrackedEvent{
		OrderEventMetadata: o.metadata(event.EventOrderTracked, version),
		Status:             o.Status,
		PaymentStatus:      o.PaymentStatus,
		ItemCount:          len(o.Items),
		Total:              o.Total.StringFixed(2),
	}
}

func (o *Order) Updated(removed []LineItemID, version uint64) event.OrderUpdatedEvent {
	ids := make([]string, 0, len(removed))
	for _, id := range removed {
		ids = append(ids, id.String())
	}
	return event.OrderUpdatedEvent{
		OrderEventMetadata: o.metadata(event.EventOrderUpdated, version),
		Status:             o.Status,
		RemovedItems:       ids,
		Total:              o.Total.StringFixed(2),
	}
}
