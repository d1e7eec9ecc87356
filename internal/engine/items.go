package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/orderflow/internal/cache"
	"github.com/appetiteclub/orderflow/internal/delivery"
	"github.com/appetiteclub/orderflow/internal/order"
	"github.com/appetiteclub/orderflow/internal/statemachine"
	"github.com/appetiteclub/orderflow/pkg/enums/itemstatus"
	"github.com/appetiteclub/orderflow/pkg/enums/orderstatus"
	"github.com/appetiteclub/orderflow/pkg/enums/role"
	"github.com/appetiteclub/orderflow/pkg/event"
)

// waiterRoles receive every item change on top of the item's station.
var waiterRoles = []string{role.Roles.Waiter.Code()}

// UpdateItemStatus advances one line item and then rolls the order forward
// when its items allow it. Order-level overrides (cancel, out of stock) are
// never derived from items.
func (e *Engine) UpdateItemStatus(ctx context.Context, orderID order.OrderID, itemID order.LineItemID, status string, actor *order.Actor) (*order.Order, error) {
	next := itemstatus.ByName(status)
	if next == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStatus, status)
	}

	unlock := e.locks.Lock(orderID)
	defer unlock()

	entry, err := e.entry(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o := entry.Order

	idx := o.ItemIndex(itemID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s in order %s", ErrItemNotFound, itemID, orderID)
	}
	item := o.Items[idx]
	prev := item.Status
	if cur := itemstatus.ByName(prev); cur != nil && cur.IsTerminal() && *cur != *next {
		return nil, fmt.Errorf("%w: item is %s", statemachine.ErrInvalidTransition, prev)
	}
	if prev == next.Code() {
		return o, nil
	}

	o.Items[idx].Status = next.Code()
	o.Items[idx].StatusChangedAt = time.Now()

	var version uint64
	if *next == itemstatus.Statuses.Cancelled {
		o.RecalculateTotal()
		if err := e.repo.SaveOrder(ctx, o); err != nil {
			return nil, fmt.Errorf("cannot persist order %s: %w", orderID, err)
		}
		v, ok := e.cache.Update(orderID, cache.Patch{Items: o.Items, Total: &o.Total})
		if !ok {
			v = e.cache.Set(orderID, o)
		}
		version = v
	} else {
		if err := e.repo.SaveItemStatus(ctx, orderID, itemID, next.Code()); err != nil {
			return nil, fmt.Errorf("cannot persist item %s status: %w", itemID, err)
		}
		if !e.cache.UpdateItemStatus(orderID, itemID, next.Code()) {
			e.cache.Set(orderID, o)
		}
		if cached, ok := e.cache.GetEntry(orderID); ok {
			version = cached.Version
		}
	}

	item = o.Items[idx]
	opts := delivery.Targeted(delivery.PriorityNormal, []string{item.Station}, waiterRoles)
	opts.QueueIfOffline = true
	e.emitter.Emit(delivery.Event{
		Name:    event.EventOrderItemStatusChanged,
		Payload: o.ItemStatusChanged(item, prev, version),
	}, opts)

	if e.claims != nil {
		if err := e.claims.ItemsChanged(ctx, o); err != nil {
			e.logger.Error("cannot settle claim after item change", "order_id", orderID.String(), "error", err)
		}
		if cached, ok := e.cache.Get(orderID); ok {
			o = cached
		}
	}

	for {
		ev, ok := rollup(o)
		if !ok {
			break
		}
		if _, err := e.applyLocked(ctx, o, ev, actor); err != nil {
			e.logger.Error("order rollup failed", "order_id", orderID.String(), "event", string(ev), "error", err)
			break
		}
	}
	return o.Clone(), nil
}

// rollup derives the next order event from the item states.
func rollup(o *order.Order) (statemachine.Event, bool) {
	var live, started, ready, delivered int
	for _, item := range o.Items {
		s := itemstatus.ByName(item.Status)
		if s == nil || *s == itemstatus.Statuses.Cancelled {
			continue
		}
		live++
		switch *s {
		case itemstatus.Statuses.InProgress:
			started++
		case itemstatus.Statuses.Ready:
			started++
			ready++
		case itemstatus.Statuses.Delivered:
			started++
			ready++
			delivered++
		}
	}
	if live == 0 {
		return "", false
	}

	switch o.Fulfillment() {
	case orderstatus.Statuses.Ordered:
		if started > 0 {
			return statemachine.EventStartPreparation, true
		}
	case orderstatus.Statuses.Preparing:
		if ready == live {
			return statemachine.EventMarkReady, true
		}
	case orderstatus.Statuses.Ready:
		if delivered == live {
			return statemachine.EventDeliver, true
		}
	}
	return "", false
}
