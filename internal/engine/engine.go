// Package engine is the entry point for order writes. It runs events through
// the state machine, persists the result, mirrors it into the cache and hands
// the change to delivery, all inside the order's critical section.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/orderflow/internal/cache"
	"github.com/appetiteclub/orderflow/internal/claim"
	"github.com/appetiteclub/orderflow/internal/delivery"
	"github.com/appetiteclub/orderflow/internal/handoff"
	"github.com/appetiteclub/orderflow/internal/order"
	"github.com/appetiteclub/orderflow/internal/statemachine"
	"github.com/appetiteclub/orderflow/pkg/enums/orderstatus"
	"github.com/appetiteclub/orderflow/pkg/event"
)

var (
	ErrStale         = errors.New("order changed since the optimistic update")
	ErrItemNotFound  = errors.New("line item not found")
	ErrUnknownStatus = errors.New("unknown status")
	ErrNoHandoff     = errors.New("handoff store not configured")
)

type Deps struct {
	Locks    *order.Locks
	Cache    *cache.OrdersCache
	Claims   *claim.Coordinator
	Handoffs *handoff.Store
	Repo     order.Repo
	Stock    order.StockRepo
	Emitter  claim.Emitter
}

type Engine struct {
	locks    *order.Locks
	cache    *cache.OrdersCache
	claims   *claim.Coordinator
	handoffs *handoff.Store
	repo     order.Repo
	stock    order.StockRepo
	emitter  claim.Emitter
	logger   apt.Logger
}

func New(deps Deps, logger apt.Logger) *Engine {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	locks := deps.Locks
	if locks == nil {
		locks = order.NewLocks()
	}
	return &Engine{
		locks:    locks,
		cache:    deps.Cache,
		claims:   deps.Claims,
		handoffs: deps.Handoffs,
		repo:     deps.Repo,
		stock:    deps.Stock,
		emitter:  deps.Emitter,
		logger:   logger,
	}
}

func statusOptions() delivery.Options {
	opts := delivery.Broadcast(delivery.PriorityNormal)
	opts.QueueIfOffline = true
	return opts
}

// Get reads through the cache. A miss or an expired entry is repopulated
// from persistence; loaded orders that break the state invariants are
// reported and never cached.
func (e *Engine) Get(ctx context.Context, id order.OrderID) (*order.Order, error) {
	entry, err := e.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	return entry.Order, nil
}

func (e *Engine) entry(ctx context.Context, id order.OrderID) (cache.Entry, error) {
	if entry, ok := e.cache.GetEntry(id); ok {
		return entry, nil
	}

	o, err := e.repo.Get(ctx, id)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("cannot load order %s: %w", id, err)
	}
	if o == nil {
		return cache.Entry{}, fmt.Errorf("order %s: %w", id, order.ErrNotFound)
	}
	state, err := statemachine.ParseState(o.Status, o.PaymentStatus)
	if err == nil {
		err = statemachine.IsConsistent(state)
	}
	if err != nil {
		e.logger.Error("inconsistent order loaded from storage", "order_id", id.String(), "status", o.Status, "payment_status", o.PaymentStatus, "error", err)
		return cache.Entry{}, err
	}

	version := e.cache.Set(id, o)
	return cache.Entry{Order: o, Version: version}, nil
}

// Track persists a new order and makes it visible to terminals.
func (e *Engine) Track(ctx context.Context, o *order.Order) (uint64, error) {
	if o == nil {
		return 0, order.ErrNotFound
	}
	state, err := statemachine.ParseState(o.Status, o.PaymentStatus)
	if err == nil {
		err = statemachine.IsConsistent(state)
	}
	if err != nil {
		return 0, err
	}

	unlock := e.locks.Lock(o.ID)
	defer unlock()

	if err := e.repo.SaveOrder(ctx, o); err != nil {
		return 0, fmt.Errorf("cannot persist order %s: %w", o.ID, err)
	}
	version := e.cache.Set(o.ID, o)

	e.emitter.Emit(delivery.Event{Name: event.EventOrderTracked, Payload: o.Tracked(version)}, statusOptions())
	e.logger.Info("order tracked", "order_id", o.ID.String(), "items", len(o.Items))
	return version, nil
}

// ConvertHandoff turns the draft behind code into a tracked order and
// retires the code.
func (e *Engine) ConvertHandoff(ctx context.Context, code string) (*order.Order, error) {
	if e.handoffs == nil {
		return nil, ErrNoHandoff
	}
	d, err := e.handoffs.Resolve(code)
	if err != nil {
		return nil, err
	}
	o := d.Order()
	if _, err := e.Track(ctx, o); err != nil {
		return nil, err
	}
	e.handoffs.Discard(code)
	return o.Clone(), nil
}

// ApplyEvent moves the order one step. Invalid events leave the order and
// the cache untouched.
func (e *Engine) ApplyEvent(ctx context.Context, id order.OrderID, ev statemachine.Event, actor *order.Actor) (statemachine.Step, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	entry, err := e.entry(ctx, id)
	if err != nil {
		return statemachine.Step{}, err
	}
	return e.applyLocked(ctx, entry.Order, ev, actor)
}

func (e *Engine) applyLocked(ctx context.Context, o *order.Order, ev statemachine.Event, actor *order.Actor) (statemachine.Step, error) {
	from, err := statemachine.ParseState(o.Status, o.PaymentStatus)
	if err != nil {
		e.logger.Error("inconsistent cached order", "order_id", o.ID.String(), "error", err)
		return statemachine.Step{}, err
	}
	step, err := statemachine.Transition(from, ev)
	if err != nil {
		return statemachine.Step{}, err
	}

	status, pay := step.To.Fulfillment.Code(), step.To.Payment.Code()
	if err := e.repo.SaveState(ctx, o.ID, status, pay); err != nil {
		return statemachine.Step{}, fmt.Errorf("cannot persist order %s state: %w", o.ID, err)
	}
	o.Status, o.PaymentStatus = status, pay

	version, ok := e.cache.Update(o.ID, cache.Patch{Status: &status, PaymentStatus: &pay, Applied: &step})
	if !ok {
		version = e.cache.Set(o.ID, o)
	}

	if e.claims != nil {
		switch {
		case step.To.Fulfillment == orderstatus.Statuses.Cancelled:
			if e.claims.Discard(o.ID) {
				e.logger.Info("claim discarded for cancelled order", "order_id", o.ID.String())
			}
		case from.Fulfillment == orderstatus.Statuses.OrderedOutOfStock && step.To.Fulfillment != from.Fulfillment:
			e.claims.Unblock(o.ID)
		}
	}

	e.emitter.Emit(delivery.Event{
		Name:    event.EventOrderStatusChanged,
		Payload: o.StatusChanged(string(ev), from.Fulfillment.Code(), from.Payment.Code(), actor, version),
	}, statusOptions())

	e.logger.Debug("order transitioned", "order_id", o.ID.String(), "event", string(ev), "from", from.String(), "to", step.To.String())
	return step, nil
}

// History lists the transitions applied to the order since it entered the
// cache, oldest first.
func (e *Engine) History(ctx context.Context, id order.OrderID) ([]statemachine.Step, error) {
	entry, err := e.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	return entry.History.Steps(), nil
}

// ApplyBatch applies ev to every order independently. One failure never
// stops the rest.
func (e *Engine) ApplyBatch(ctx context.Context, ids []order.OrderID, ev statemachine.Event, actor *order.Actor) (applied, failed []statemachine.BatchResult) {
	for _, id := range ids {
		step, err := e.ApplyEvent(ctx, id, ev, actor)
		r := statemachine.BatchResult{OrderID: id, Step: step, Err: err}
		if err != nil {
			failed = append(failed, r)
			continue
		}
		applied = append(applied, r)
	}
	return applied, failed
}

// ValidateBatch checks ev against every order without applying it.
func (e *Engine) ValidateBatch(ctx context.Context, ids []order.OrderID, ev statemachine.Event) (valid, invalid []statemachine.BatchResult) {
	items := make([]statemachine.BatchItem, 0, len(ids))
	for _, id := range ids {
		o, err := e.Get(ctx, id)
		if err != nil {
			invalid = append(invalid, statemachine.BatchResult{OrderID: id, Err: err})
			continue
		}
		state, err := statemachine.ParseState(o.Status, o.PaymentStatus)
		if err != nil {
			invalid = append(invalid, statemachine.BatchResult{OrderID: id, Err: err})
			continue
		}
		items = append(items, statemachine.BatchItem{OrderID: id, State: state, Event: ev})
	}

	ok, bad := statemachine.Partition(items)
	return ok, append(invalid, bad...)
}

// ActiveOrders lists cached orders in non-terminal states.
func (e *Engine) ActiveOrders() []*order.Order {
	return e.cache.GetActiveOrders()
}

// OrdersByState lists cached orders in the named state, oldest first.
func (e *Engine) OrdersByState(name string) ([]*order.Order, error) {
	s := orderstatus.ByName(name)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStatus, name)
	}
	return e.cache.GetByState(*s), nil
}

// SetAvailability switches a product on or off for every open order.
func (e *Engine) SetAvailability(ctx context.Context, productID order.ProductID, available bool) ([]claim.Claim, error) {
	if available {
		return nil, e.claims.MarkAvailable(ctx, productID)
	}
	return e.claims.MarkUnavailable(ctx, productID)
}

// AdjustStock moves the product counter and flips availability when it
// crosses zero.
func (e *Engine) AdjustStock(ctx context.Context, productID order.ProductID, delta int) (int, error) {
	if e.stock == nil {
		return 0, errors.New("stock repository not configured")
	}
	remaining, err := e.stock.AdjustAvailable(ctx, productID, delta)
	if err != nil {
		return 0, fmt.Errorf("cannot adjust stock for %s: %w", productID, err)
	}

	before := remaining - delta
	switch {
	case remaining <= 0 && before > 0:
		_, err = e.claims.MarkUnavailable(ctx, productID)
	case remaining > 0 && before <= 0:
		err = e.claims.MarkAvailable(ctx, productID)
	}
	return remaining, err
}
