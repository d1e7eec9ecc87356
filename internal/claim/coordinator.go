package claim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/orderflow/internal/cache"
	"github.com/appetiteclub/orderflow/internal/delivery"
	"github.com/appetiteclub/orderflow/internal/order"
	"github.com/appetiteclub/orderflow/internal/statemachine"
	"github.com/appetiteclub/orderflow/pkg/enums/itemstatus"
	"github.com/appetiteclub/orderflow/pkg/enums/orderstatus"
	"github.com/appetiteclub/orderflow/pkg/event"
	"github.com/google/uuid"
)

// DefaultTakeDelay lets the acting terminal settle its own optimistic view
// before the echo arrives.
const DefaultTakeDelay = 200 * time.Millisecond

// DefaultReemitDelays reach terminals that reconnect shortly after a release.
var DefaultReemitDelays = []time.Duration{
	0,
	500 * time.Millisecond,
	1500 * time.Millisecond,
	3 * time.Second,
}

var ErrInvalidActor = errors.New("actor id is required")

// Emitter is the fire-and-forget side of the delivery layer.
type Emitter interface {
	Emit(evt delivery.Event, opts delivery.Options) string
}

type Coordinator struct {
	mu     sync.Mutex
	claims map[order.OrderID]*Claim

	// blocked keeps the pre-claim status of orders a block resolution left
	// in OrderedOutOfStock.
	blocked map[order.OrderID]string

	locks   *order.Locks
	cache   *cache.OrdersCache
	repo    order.Repo
	emitter Emitter
	logger  apt.Logger

	takeDelay    time.Duration
	reemitDelays []time.Duration
	after        func(time.Duration, func())
	now          func() time.Time
}

// NewCoordinator shares locks with the engine so that claim and state
// changes on one order never interleave.
func NewCoordinator(locks *order.Locks, c *cache.OrdersCache, repo order.Repo, emitter Emitter, logger apt.Logger) *Coordinator {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Coordinator{
		claims:       make(map[order.OrderID]*Claim),
		blocked:      make(map[order.OrderID]string),
		locks:        locks,
		cache:        c,
		repo:         repo,
		emitter:      emitter,
		logger:       logger,
		takeDelay:    DefaultTakeDelay,
		reemitDelays: DefaultReemitDelays,
		after:        func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		now:          time.Now,
	}
}

func alertOptions() delivery.Options {
	return delivery.Options{
		Broadcast:      true,
		SkipRateLimit:  true,
		QueueIfOffline: true,
		Priority:       delivery.PriorityHigh,
		AckRequired:    true,
	}
}

func noticeOptions() delivery.Options {
	opts := delivery.Broadcast(delivery.PriorityNormal)
	opts.QueueIfOffline = true
	return opts
}

// MarkUnavailable drives every open order that still has to produce the
// product into OrderedOutOfStock and opens or refreshes its claim. Orders
// holding the product only in finished items keep their state.
func (c *Coordinator) MarkUnavailable(ctx context.Context, productID order.ProductID) ([]Claim, error) {
	ids, err := c.candidates(ctx, productID)
	if err != nil {
		return nil, err
	}

	var claims []Claim
	var errs []error
	for _, id := range ids {
		cl, ok, err := c.markOrder(ctx, id, productID)
		if err != nil {
			c.logger.Error("cannot mark order out of stock", "order_id", id.String(), "product_id", productID.String(), "error", err)
			errs = append(errs, err)
			continue
		}
		if ok {
			claims = append(claims, cl)
		}
	}

	c.logger.Info("product marked unavailable", "product_id", productID.String(), "claims", len(claims))
	return claims, errors.Join(errs...)
}

func (c *Coordinator) candidates(ctx context.Context, productID order.ProductID) ([]order.OrderID, error) {
	stored, err := c.repo.ListOpenByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("cannot list orders for product %s: %w", productID, err)
	}

	seen := make(map[order.OrderID]struct{})
	var ids []order.OrderID
	add := func(id order.OrderID) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, o := range c.cache.GetActiveOrders() {
		if o.Contains(productID) {
			add(o.ID)
		}
	}
	for _, o := range stored {
		add(o.ID)
	}
	return ids, nil
}

func (c *Coordinator) markOrder(ctx context.Context, id order.OrderID, productID order.ProductID) (Claim, bool, error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	o, err := c.load(ctx, id)
	if err != nil {
		return Claim{}, false, err
	}
	if !o.Contains(productID) {
		return Claim{}, false, nil
	}
	qty := o.OutstandingQuantity(productID)
	if qty == 0 {
		return Claim{}, false, nil
	}

	oos := orderstatus.Statuses.OrderedOutOfStock.Code()
	prev := o.Status

	if o.Status != oos {
		if err := c.applyState(ctx, o, statemachine.EventMarkOutOfStock, nil); err != nil {
			return Claim{}, false, err
		}
	}

	c.mu.Lock()
	cl := c.claims[id]
	switch {
	case cl == nil:
		if prev == oos {
			prev = orderstatus.Statuses.Ordered.Code()
			if held, ok := c.blocked[id]; ok {
				prev = held
			}
		}
		delete(c.blocked, id)
		cl = &Claim{
			OrderID:        id,
			TableID:        o.TableRef(),
			PreviousStatus: prev,
			AlertID:        uuid.NewString(),
			CreatedAt:      c.now(),
		}
		c.claims[id] = cl
	case cl.affects(productID) < 0:
		// a new product changes the alert content
		cl.AlertID = uuid.NewString()
	}
	cl.setAffected(productID, qty)
	snapshot := cl.clone()
	c.mu.Unlock()

	c.emitAlert(snapshot)
	return snapshot, true, nil
}

// MarkAvailable undoes MarkUnavailable for claims nobody took. A claim left
// without affected products is dropped and the order goes back to where it
// was; owned claims stay with their owner.
func (c *Coordinator) MarkAvailable(ctx context.Context, productID order.ProductID) error {
	c.mu.Lock()
	var ids []order.OrderID
	for id, cl := range c.claims {
		if cl.affects(productID) >= 0 {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := c.restock(ctx, id, productID); err != nil {
			c.logger.Error("cannot restore order after restock", "order_id", id.String(), "product_id", productID.String(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) restock(ctx context.Context, id order.OrderID, productID order.ProductID) error {
	unlock := c.locks.Lock(id)
	defer unlock()

	c.mu.Lock()
	cl := c.claims[id]
	if cl == nil || !cl.dropAffected(productID) {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.settle(ctx, id)
}

// ItemsChanged re-reads the affected quantities after o was edited. Products
// with nothing left to produce leave the claim. Callers hold the order lock
// and have already stored o.
func (c *Coordinator) ItemsChanged(ctx context.Context, o *order.Order) error {
	c.mu.Lock()
	cl := c.claims[o.ID]
	if cl == nil {
		c.mu.Unlock()
		return nil
	}
	var changed bool
	for _, a := range cl.clone().Affected {
		qty := o.OutstandingQuantity(a.ProductID)
		if qty == a.Quantity {
			continue
		}
		changed = true
		if qty == 0 {
			cl.dropAffected(a.ProductID)
		} else {
			cl.setAffected(a.ProductID, qty)
		}
	}
	c.mu.Unlock()

	if !changed {
		return nil
	}
	return c.settle(ctx, o.ID)
}

// settle runs after the affected list of a claim changed. A claim that still
// lists products, or that somebody owns, is announced again with its new
// content. An untaken empty claim is dropped and the order goes back to its
// pre-claim state. Callers hold the order lock.
func (c *Coordinator) settle(ctx context.Context, id order.OrderID) error {
	c.mu.Lock()
	cl := c.claims[id]
	if cl == nil {
		c.mu.Unlock()
		return nil
	}
	if cl.Claimed() || len(cl.Affected) > 0 {
		snapshot := cl.clone()
		c.mu.Unlock()
		c.emitter.Emit(delivery.Event{
			Name:    event.EventClaimUpdated,
			Payload: snapshot.toEvent(event.EventClaimUpdated),
		}, noticeOptions())
		return nil
	}
	prev := cl.PreviousStatus
	c.mu.Unlock()

	o, err := c.load(ctx, id)
	if err != nil {
		return err
	}
	if o.Status == orderstatus.Statuses.OrderedOutOfStock.Code() {
		if err := c.applyState(ctx, o, restoreEvent(prev), nil); err != nil {
			return err
		}
	}

	c.mu.Lock()
	delete(c.claims, id)
	c.mu.Unlock()
	c.logger.Debug("empty claim discarded", "order_id", id.String())
	return nil
}

// TakeCharge makes actor the single owner of the claim.
func (c *Coordinator) TakeCharge(ctx context.Context, orderID order.OrderID, actor order.Actor) (Claim, error) {
	if actor.ID == "" {
		return Claim{}, ErrInvalidActor
	}

	unlock := c.locks.Lock(orderID)
	c.mu.Lock()
	cl, ok := c.claims[orderID]
	if !ok {
		c.mu.Unlock()
		unlock()
		return Claim{}, ErrNoClaim
	}
	if cl.Owner != nil {
		owner := cl.Owner.ID
		c.mu.Unlock()
		unlock()
		return Claim{}, fmt.Errorf("%w by %s", ErrAlreadyClaimed, owner)
	}
	now := c.now()
	cl.Owner = &actor
	cl.ClaimedAt = &now
	snapshot := cl.clone()
	c.mu.Unlock()
	unlock()

	c.logger.Info("claim taken", "order_id", orderID.String(), "owner_id", actor.ID)
	c.after(c.takeDelay, func() {
		opts := noticeOptions()
		opts.Priority = delivery.PriorityHigh
		c.emitter.Emit(delivery.Event{
			Name:    event.EventClaimTaken,
			Payload: snapshot.toEvent(event.EventClaimTaken),
		}, opts)
	})
	return snapshot, nil
}

// Release reopens the claim and repeats the original alert so that any
// terminal, including those reconnecting right now, can take it.
func (c *Coordinator) Release(ctx context.Context, orderID order.OrderID) (Claim, error) {
	unlock := c.locks.Lock(orderID)
	c.mu.Lock()
	cl, ok := c.claims[orderID]
	if !ok {
		c.mu.Unlock()
		unlock()
		return Claim{}, ErrNoClaim
	}
	if cl.Owner == nil {
		c.mu.Unlock()
		unlock()
		return Claim{}, ErrNotClaimed
	}
	previous := *cl.Owner
	cl.Owner = nil
	cl.ClaimedAt = nil
	snapshot := cl.clone()
	c.mu.Unlock()
	unlock()

	released := snapshot.toEvent(event.EventClaimReleased)
	released.OwnerID = previous.ID
	released.OwnerName = previous.Name
	c.emitter.Emit(delivery.Event{Name: event.EventClaimReleased, Payload: released}, noticeOptions())

	for _, d := range c.reemitDelays {
		c.after(d, func() { c.reemit(orderID, snapshot.AlertID) })
	}

	c.logger.Info("claim released", "order_id", orderID.String(), "previous_owner", previous.ID)
	return snapshot, nil
}

// reemit repeats the alert unless the claim was taken, resolved or its
// content changed in the meantime.
func (c *Coordinator) reemit(orderID order.OrderID, alertID string) {
	c.mu.Lock()
	cl, ok := c.claims[orderID]
	if !ok || cl.Owner != nil || cl.AlertID != alertID {
		c.mu.Unlock()
		return
	}
	snapshot := cl.clone()
	c.mu.Unlock()
	c.emitAlert(snapshot)
}

func (c *Coordinator) emitAlert(cl Claim) {
	c.emitter.Emit(delivery.Event{
		ID:      cl.AlertID,
		Name:    event.EventClaimAlert,
		Payload: cl.toEvent(event.EventClaimAlert),
	}, alertOptions())
}

// Resolve closes the claim. Only the owner may resolve a taken claim; an
// untaken one may be resolved by anyone.
func (c *Coordinator) Resolve(ctx context.Context, orderID order.OrderID, res Resolution, actor order.Actor) (*order.Order, error) {
	if res != ResolutionSplit && res != ResolutionBlock {
		return nil, ErrInvalidResolution
	}

	unlock := c.locks.Lock(orderID)
	defer unlock()

	c.mu.Lock()
	cl, ok := c.claims[orderID]
	if !ok {
		c.mu.Unlock()
		return nil, ErrNoClaim
	}
	if cl.Owner != nil && cl.Owner.ID != actor.ID {
		owner := cl.Owner.ID
		c.mu.Unlock()
		return nil, fmt.Errorf("%w by %s", ErrAlreadyClaimed, owner)
	}
	snapshot := cl.clone()
	c.mu.Unlock()

	o, err := c.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if res == ResolutionSplit {
		if err := c.split(ctx, o, snapshot, actor); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	delete(c.claims, orderID)
	if res == ResolutionBlock {
		c.blocked[orderID] = snapshot.PreviousStatus
	}
	c.mu.Unlock()

	resolved := snapshot.toEvent(event.EventClaimResolved)
	resolved.Resolution = string(res)
	resolved.OwnerID = actor.ID
	resolved.OwnerName = actor.Name
	c.emitter.Emit(delivery.Event{Name: event.EventClaimResolved, Payload: resolved}, noticeOptions())

	c.logger.Info("claim resolved", "order_id", orderID.String(), "resolution", string(res), "actor_id", actor.ID)
	return o, nil
}

// split removes the outstanding items of the affected products and moves
// the order back to its pre-claim state, or cancels it when nothing is left.
func (c *Coordinator) split(ctx context.Context, o *order.Order, cl Claim, actor order.Actor) error {
	affected := make(map[order.ProductID]struct{}, len(cl.Affected))
	for _, a := range cl.Affected {
		affected[a.ProductID] = struct{}{}
	}

	kept := make([]order.LineItem, 0, len(o.Items))
	var removed []order.LineItemID
	for _, item := range o.Items {
		if _, hit := affected[item.ProductID]; hit {
			if s := itemstatus.ByName(item.Status); s != nil && s.Outstanding() {
				removed = append(removed, item.ID)
				continue
			}
		}
		kept = append(kept, item)
	}

	prevStatus, prevPayment := o.Status, o.PaymentStatus
	o.Items = kept
	o.RecalculateTotal()

	var applied *statemachine.Step
	if o.Status == orderstatus.Statuses.OrderedOutOfStock.Code() {
		ev := restoreEvent(cl.PreviousStatus)
		if !hasLiveItems(kept) {
			ev = statemachine.EventCancel
		}
		from, err := statemachine.ParseState(o.Status, o.PaymentStatus)
		if err != nil {
			return err
		}
		step, err := statemachine.Transition(from, ev)
		if err != nil {
			return err
		}
		o.Status = step.To.Fulfillment.Code()
		o.PaymentStatus = step.To.Payment.Code()
		applied = &step
	}
	o.UpdatedAt = c.now()

	if err := c.repo.SaveOrder(ctx, o); err != nil {
		return fmt.Errorf("cannot persist split order %s: %w", o.ID, err)
	}

	version, ok := c.cache.Update(o.ID, cache.Patch{
		Status:        &o.Status,
		PaymentStatus: &o.PaymentStatus,
		Total:         &o.Total,
		Items:         o.Items,
		Applied:       applied,
	})
	if !ok {
		version = c.cache.Set(o.ID, o)
	}

	c.emitter.Emit(delivery.Event{Name: event.EventOrderUpdated, Payload: o.Updated(removed, version)}, noticeOptions())
	if o.Status != prevStatus {
		c.emitter.Emit(delivery.Event{
			Name:    event.EventOrderStatusChanged,
			Payload: o.StatusChanged("SPLIT", prevStatus, prevPayment, &actor, version),
		}, noticeOptions())
	}
	return nil
}

func hasLiveItems(items []order.LineItem) bool {
	for _, item := range items {
		if item.Status != itemstatus.Statuses.Cancelled.Code() {
			return true
		}
	}
	return false
}

// Discard drops the claim without touching the order. Callers already hold
// the order lock.
func (c *Coordinator) Discard(orderID order.OrderID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.blocked, orderID)
	if _, ok := c.claims[orderID]; !ok {
		return false
	}
	delete(c.claims, orderID)
	return true
}

// Unblock forgets the pre-claim status kept for an order that left
// OrderedOutOfStock by hand.
func (c *Coordinator) Unblock(orderID order.OrderID) {
	c.mu.Lock()
	delete(c.blocked, orderID)
	c.mu.Unlock()
}

func (c *Coordinator) Get(orderID order.OrderID) (Claim, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl, ok := c.claims[orderID]
	if !ok {
		return Claim{}, false
	}
	return cl.clone(), true
}

// List returns every open claim, oldest first.
func (c *Coordinator) List() []Claim {
	c.mu.Lock()
	out := make([]Claim, 0, len(c.claims))
	for _, cl := range c.claims {
		out = append(out, cl.clone())
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderID.String() < out[j].OrderID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (c *Coordinator) load(ctx context.Context, id order.OrderID) (*order.Order, error) {
	if o, ok := c.cache.Get(id); ok {
		return o, nil
	}
	o, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("cannot load order %s: %w", id, err)
	}
	if o == nil {
		return nil, fmt.Errorf("order %s: %w", id, order.ErrNotFound)
	}
	c.cache.Set(id, o)
	return o.Clone(), nil
}

// applyState runs ev through the state machine, persists the result and
// mirrors it into the cache.
func (c *Coordinator) applyState(ctx context.Context, o *order.Order, ev statemachine.Event, actor *order.Actor) error {
	from, err := statemachine.ParseState(o.Status, o.PaymentStatus)
	if err != nil {
		return err
	}
	step, err := statemachine.Transition(from, ev)
	if err != nil {
		return err
	}

	status, pay := step.To.Fulfillment.Code(), step.To.Payment.Code()
	if err := c.repo.SaveState(ctx, o.ID, status, pay); err != nil {
		return fmt.Errorf("cannot persist order %s state: %w", o.ID, err)
	}
	o.Status, o.PaymentStatus = status, pay

	version, ok := c.cache.Update(o.ID, cache.Patch{Status: &status, PaymentStatus: &pay, Applied: &step})
	if !ok {
		version = c.cache.Set(o.ID, o)
	}

	c.emitter.Emit(delivery.Event{
		Name:    event.EventOrderStatusChanged,
		Payload: o.StatusChanged(string(ev), from.Fulfillment.Code(), from.Payment.Code(), actor, version),
	}, noticeOptions())
	return nil
}

// restoreEvent maps the pre-claim state to the event leading back to it.
func restoreEvent(previous string) statemachine.Event {
	if previous == orderstatus.Statuses.Preparing.Code() {
		return statemachine.EventStartPreparation
	}
	return statemachine.EventResumeOrdered
}
