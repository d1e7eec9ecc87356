package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/appetiteclub/orderflow/internal/cache"
	"github.com/appetiteclub/orderflow/internal/delivery"
	"github.com/appetiteclub/orderflow/internal/order"
	"github.com/appetiteclub/orderflow/internal/statemachine"
	"github.com/appetiteclub/orderflow/pkg/event"
)

// Pending is an optimistic transition already visible in the cache but not
// yet persisted. Exactly one of Commit or Rollback takes effect.
type Pending struct {
	e       *Engine
	orderID order.OrderID
	step    statemachine.Step
	version uint64
	actor   *order.Actor

	once sync.Once
	err  error
}

func (p *Pending) Step() statemachine.Step {
	return p.step
}

// ApplyOptimistic applies ev to the cached order only and returns the handle
// that either persists or undoes it.
func (e *Engine) ApplyOptimistic(ctx context.Context, id order.OrderID, ev statemachine.Event, actor *order.Actor) (*Pending, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	entry, err := e.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	o := entry.Order
	from, err := statemachine.ParseState(o.Status, o.PaymentStatus)
	if err != nil {
		return nil, err
	}
	step, err := statemachine.Transition(from, ev)
	if err != nil {
		return nil, err
	}

	status, pay := step.To.Fulfillment.Code(), step.To.Payment.Code()
	version, ok := e.cache.CompareAndUpdate(id, entry.Version, cache.Patch{Status: &status, PaymentStatus: &pay, Applied: &step})
	if !ok {
		return nil, ErrStale
	}
	o.Status, o.PaymentStatus = status, pay

	payload := o.StatusChanged(string(ev), from.Fulfillment.Code(), from.Payment.Code(), actor, version)
	payload.Optimistic = true
	e.emitter.Emit(delivery.Event{Name: event.EventOrderStatusChanged, Payload: payload}, statusOptions())

	return &Pending{e: e, orderID: id, step: step, version: version, actor: actor}, nil
}

// Commit persists the transition. A persistence failure rolls the cache back
// and returns the failure. When another writer moved the order in between,
// Commit persists nothing and returns ErrStale.
func (p *Pending) Commit(ctx context.Context) error {
	p.once.Do(func() {
		unlock := p.e.locks.Lock(p.orderID)
		defer unlock()

		if entry, ok := p.e.cache.GetEntry(p.orderID); !ok || entry.Version != p.version {
			p.err = ErrStale
			return
		}

		to := p.step.To
		if err := p.e.repo.SaveState(ctx, p.orderID, to.Fulfillment.Code(), to.Payment.Code()); err != nil {
			p.err = fmt.Errorf("cannot persist order %s state: %w", p.orderID, err)
			if rerr := p.rollbackLocked(); rerr != nil {
				p.e.logger.Error("optimistic rollback failed", "order_id", p.orderID.String(), "error", rerr)
			}
		}
	})
	return p.err
}

// Rollback restores the pair the transition started from. It fails with
// ErrStale when another writer touched the order in between.
func (p *Pending) Rollback() error {
	p.once.Do(func() {
		unlock := p.e.locks.Lock(p.orderID)
		defer unlock()
		p.err = p.rollbackLocked()
	})
	return p.err
}

func (p *Pending) rollbackLocked() error {
	entry, ok := p.e.cache.GetEntry(p.orderID)
	if !ok || entry.Version != p.version {
		return ErrStale
	}
	from, _, ok := entry.History.Rollback()
	if !ok {
		from = p.step.Undo()
	}

	status, pay := from.Fulfillment.Code(), from.Payment.Code()
	version, ok := p.e.cache.CompareAndUpdate(p.orderID, p.version, cache.Patch{Status: &status, PaymentStatus: &pay, Undo: true})
	if !ok {
		return ErrStale
	}

	if o, found := p.e.cache.Get(p.orderID); found {
		to := p.step.To
		payload := o.StatusChanged(string(p.step.Event), to.Fulfillment.Code(), to.Payment.Code(), p.actor, version)
		payload.RolledBack = true
		p.e.emitter.Emit(delivery.Event{Name: event.EventOrderStatusChanged, Payload: payload}, statusOptions())
	}
	return nil
}
