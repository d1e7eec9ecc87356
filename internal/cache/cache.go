// Package cache keeps the active orders of the process in memory, indexed
// by id and by fulfillment status.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/orderflow/internal/order"
	"github.com/appetiteclub/orderflow/internal/statemachine"
	"github.com/appetiteclub/orderflow/pkg/enums/orderstatus"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultTTL           = 30 * time.Minute
	DefaultCapacity      = 1000
	DefaultSweepInterval = time.Minute
)

type Config struct {
	TTL           time.Duration
	Capacity      int
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// Entry wraps an order snapshot. Version starts at 1 and grows with every
// mutation of the entry. History holds the transitions applied since the
// order entered the cache.
type Entry struct {
	Order       *order.Order
	LastUpdated time.Time
	Version     uint64
	History     statemachine.History
}

// Patch lists the fields UpdateFields may merge. Nil fields are left alone,
// so concurrent writers touching different fields never drop each other.
type Patch struct {
	Status        *string
	PaymentStatus *string
	Total         *decimal.Decimal
	TableID       *uuid.UUID
	CustomerRef   *string
	Items         []order.LineItem

	// Applied is appended to the entry history.
	Applied *statemachine.Step
	// Undo pops the last history step before Applied is considered.
	Undo bool
}

func (p Patch) Empty() bool {
	return p.Status == nil && p.PaymentStatus == nil && p.Total == nil &&
		p.TableID == nil && p.CustomerRef == nil && p.Items == nil &&
		p.Applied == nil && !p.Undo
}

type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Updates   uint64 `json:"updates"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

type OrdersCache struct {
	mu       sync.RWMutex
	entries  map[order.OrderID]*Entry
	byStatus map[string]map[order.OrderID]struct{}

	hits      uint64
	misses    uint64
	updates   uint64
	evictions uint64

	cfg    Config
	now    func() time.Time
	logger apt.Logger

	stop chan struct{}
	done chan struct{}
}

func NewOrdersCache(cfg Config, logger apt.Logger) *OrdersCache {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &OrdersCache{
		entries:  make(map[order.OrderID]*Entry),
		byStatus: make(map[string]map[order.OrderID]struct{}),
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock replaces the time source. Tests use it to step over the TTL.
func (c *OrdersCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *OrdersCache) expiredLocked(e *Entry, now time.Time) bool {
	return now.Sub(e.LastUpdated) > c.cfg.TTL
}

// Get returns a copy of the cached order. A missing or expired entry counts
// as a miss; expired entries are deleted on the way out.
func (c *OrdersCache) Get(id order.OrderID) (*order.Order, bool) {
	entry, ok := c.GetEntry(id)
	if !ok {
		return nil, false
	}
	return entry.Order, true
}

// GetEntry is Get plus the entry metadata.
func (c *OrdersCache) GetEntry(id order.OrderID) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		c.misses++
		return Entry{}, false
	}
	if c.expiredLocked(e, c.now()) {
		c.removeLocked(id)
		c.misses++
		return Entry{}, false
	}
	c.hits++
	return Entry{Order: e.Order.Clone(), LastUpdated: e.LastUpdated, Version: e.Version, History: e.History}, true
}

// Set stores a copy of o. When the cache is full and id is new the globally
// oldest entry is evicted first.
func (c *OrdersCache) Set(id order.OrderID, o *order.Order) uint64 {
	if o == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	snapshot := o.Clone()
	snapshot.ID = id

	if old, exists := c.entries[id]; exists {
		c.unindexLocked(old.Order.Status, id)
		old.Order = snapshot
		old.LastUpdated = now
		old.Version++
		c.indexLocked(snapshot.Status, id)
		c.updates++
		return old.Version
	}

	if len(c.entries) >= c.cfg.Capacity {
		c.evictOldestLocked()
	}

	c.entries[id] = &Entry{Order: snapshot, LastUpdated: now, Version: 1}
	c.indexLocked(snapshot.Status, id)
	return 1
}

// UpdateFields merges p into an existing entry. It never creates entries
// and returns false when id is absent or expired.
func (c *OrdersCache) UpdateFields(id order.OrderID, p Patch) bool {
	_, ok := c.update(id, 0, p)
	return ok
}

// Update is UpdateFields returning the version the entry moved to.
func (c *OrdersCache) Update(id order.OrderID, p Patch) (uint64, bool) {
	return c.update(id, 0, p)
}

// CompareAndUpdate applies p only if the entry is still at version.
func (c *OrdersCache) CompareAndUpdate(id order.OrderID, version uint64, p Patch) (uint64, bool) {
	return c.update(id, version, p)
}

func (c *OrdersCache) update(id order.OrderID, expect uint64, p Patch) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return 0, false
	}
	now := c.now()
	if c.expiredLocked(e, now) {
		c.removeLocked(id)
		return 0, false
	}
	if expect != 0 && e.Version != expect {
		return e.Version, false
	}

	o := e.Order
	if p.Status != nil && *p.Status != o.Status {
		c.unindexLocked(o.Status, id)
		o.Status = *p.Status
		c.indexLocked(o.Status, id)
	}
	if p.PaymentStatus != nil {
		o.PaymentStatus = *p.PaymentStatus
	}
	if p.Total != nil {
		o.Total = *p.Total
	}
	if p.TableID != nil {
		tableID := *p.TableID
		o.TableID = &tableID
	}
	if p.CustomerRef != nil {
		o.CustomerRef = *p.CustomerRef
	}
	if p.Items != nil {
		o.Items = make([]order.LineItem, len(p.Items))
		copy(o.Items, p.Items)
	}
	if p.Undo {
		if _, h, ok := e.History.Rollback(); ok {
			e.History = h
		}
	}
	if p.Applied != nil {
		e.History = e.History.Append(*p.Applied)
	}
	o.UpdatedAt = now

	e.LastUpdated = now
	e.Version++
	c.updates++
	return e.Version, true
}

// UpdateItemStatus sets the status of one line item and stamps the change.
func (c *OrdersCache) UpdateItemStatus(orderID order.OrderID, itemID order.LineItemID, status string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[orderID]
	if !ok {
		return false
	}
	now := c.now()
	if c.expiredLocked(e, now) {
		c.removeLocked(orderID)
		return false
	}

	idx := e.Order.ItemIndex(itemID)
	if idx < 0 {
		return false
	}

	e.Order.Items[idx].Status = status
	e.Order.Items[idx].StatusChangedAt = now
	e.Order.UpdatedAt = now
	e.LastUpdated = now
	e.Version++
	c.updates++
	return true
}

// GetByState returns the live orders in status, oldest order first.
func (c *OrdersCache) GetByState(status orderstatus.Status) []*order.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := c.collectLocked(status.Code(), c.now(), nil)
	sortByCreation(result)
	return result
}

// GetActiveOrders returns every live order in a non-terminal status, oldest first.
func (c *OrdersCache) GetActiveOrders() []*order.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	var result []*order.Order
	for _, status := range orderstatus.Active {
		result = c.collectLocked(status.Code(), now, result)
	}
	sortByCreation(result)
	return result
}

func (c *OrdersCache) collectLocked(status string, now time.Time, into []*order.Order) []*order.Order {
	for id := range c.byStatus[status] {
		e := c.entries[id]
		if e == nil || c.expiredLocked(e, now) {
			continue
		}
		into = append(into, e.Order.Clone())
	}
	return into
}

func sortByCreation(orders []*order.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID.String() < orders[j].ID.String()
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}

func (c *OrdersCache) Delete(id order.OrderID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; !ok {
		return false
	}
	c.removeLocked(id)
	return true
}

func (c *OrdersCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *OrdersCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Updates:   c.updates,
		Evictions: c.evictions,
		Size:      len(c.entries),
	}
}

func (c *OrdersCache) evictOldestLocked() {
	var (
		oldestID order.OrderID
		oldest   time.Time
		found    bool
	)
	for id, e := range c.entries {
		if !found || e.LastUpdated.Before(oldest) {
			oldestID, oldest, found = id, e.LastUpdated, true
		}
	}
	if !found {
		return
	}
	c.removeLocked(oldestID)
	c.evictions++
	c.logger.Debug("evicted oldest cache entry", "order_id", oldestID.String())
}

func (c *OrdersCache) removeLocked(id order.OrderID) {
	e, ok := c.entries[id]
	if !ok {
		return
	}
	c.unindexLocked(e.Order.Status, id)
	delete(c.entries, id)
}

func (c *OrdersCache) indexLocked(status string, id order.OrderID) {
	bucket, ok := c.byStatus[status]
	if !ok {
		bucket = make(map[order.OrderID]struct{})
		c.byStatus[status] = bucket
	}
	bucket[id] = struct{}{}
}

func (c *OrdersCache) unindexLocked(status string, id order.OrderID) {
	bucket := c.byStatus[status]
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(c.byStatus, status)
	}
}

// Sweep removes every expired entry. Keys are snapshotted under the read
// lock and each candidate is re-checked and removed under its own write lock.
func (c *OrdersCache) Sweep() int {
	c.mu.RLock()
	now := c.now()
	var candidates []order.OrderID
	for id, e := range c.entries {
		if c.expiredLocked(e, now) {
			candidates = append(candidates, id)
		}
	}
	c.mu.RUnlock()

	var removed int
	for _, id := range candidates {
		c.mu.Lock()
		if e, ok := c.entries[id]; ok && c.expiredLocked(e, c.now()) {
			c.removeLocked(id)
			removed++
		}
		c.mu.Unlock()
	}

	if removed > 0 {
		c.logger.Debug("swept expired cache entries", "count", removed)
	}
	return removed
}

// Start runs the background sweep until Stop or ctx cancellation.
func (c *OrdersCache) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		return nil
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	stop, done := c.stop, c.done
	interval := c.cfg.SweepInterval
	c.mu.Unlock()

	c.logger.Info("starting orders cache sweeper", "interval", interval.String(), "ttl", c.cfg.TTL.String())

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
	return nil
}

func (c *OrdersCache) Stop(ctx context.Context) error {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
