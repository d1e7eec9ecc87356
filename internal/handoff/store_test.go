package handoff

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/appetiteclub/orderflow/pkg/enums/itemstatus"
	"github.com/appetiteclub/orderflow/pkg/enums/orderstatus"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(cfg Config) (*Store, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 5, 4, 19, 30, 0, 0, time.UTC)}
	s := NewStore(cfg, nil)
	s.SetClock(clock.Now)
	return s, clock
}

func sequence(codes ...string) func() (string, error) {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[i%len(codes)]
		i++
		return code, nil
	}
}

func draftWith(n int) Draft {
	items := make([]DraftItem, n)
	for i := range items {
		items[i] = DraftItem{
			ProductID: uuid.New(),
			Name:      fmt.Sprintf("dish %d", i+1),
			Quantity:  1,
			UnitPrice: decimal.NewFromInt(int64(5 + i)),
			Station:   "kitchen",
		}
	}
	return Draft{Items: items}
}

func TestHandoffScenario(t *testing.T) {
	s, clock := newTestStore(Config{})
	s.gen = sequence("482913")

	code, err := s.Create(draftWith(3), "customer-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if code != "482913" {
		t.Fatalf("code = %s, want 482913", code)
	}

	clock.Advance(10 * time.Minute)
	d, err := s.Resolve("482913")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(d.Items) != 3 {
		t.Errorf("items = %d, want 3", len(d.Items))
	}

	if _, err := s.Resolve("000000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(000000) error = %v, want ErrNotFound", err)
	}
}

func TestCreateValidation(t *testing.T) {
	s, _ := newTestStore(Config{})

	if _, err := s.Create(Draft{}, "c"); !errors.Is(err, ErrEmptyDraft) {
		t.Errorf("empty draft error = %v, want ErrEmptyDraft", err)
	}
	if _, err := s.Create(draftWith(DefaultMaxItems+1), "c"); !errors.Is(err, ErrTooManyItems) {
		t.Errorf("oversized draft error = %v, want ErrTooManyItems", err)
	}
	if _, err := s.Create(draftWith(DefaultMaxItems), "c"); err != nil {
		t.Errorf("draft at the limit error = %v", err)
	}

	bad := draftWith(1)
	bad.Items[0].Quantity = 0
	if _, err := s.Create(bad, "c"); !errors.Is(err, ErrInvalidItem) {
		t.Errorf("zero quantity error = %v, want ErrInvalidItem", err)
	}
}

func TestCreateRateLimit(t *testing.T) {
	s, clock := newTestStore(Config{})

	for i := 0; i < DefaultRateLimit; i++ {
		if _, err := s.Create(draftWith(1), "customer-1"); err != nil {
			t.Fatalf("Create() #%d error = %v", i+1, err)
		}
		clock.Advance(time.Minute)
	}
	if _, err := s.Create(draftWith(1), "customer-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("6th Create() error = %v, want ErrRateLimited", err)
	}
	if _, err := s.Create(draftWith(1), "customer-2"); err != nil {
		t.Errorf("other identity Create() error = %v", err)
	}

	// the first creation leaves the rolling window
	clock.Advance(5*time.Minute + time.Second)
	if _, err := s.Create(draftWith(1), "customer-1"); err != nil {
		t.Errorf("Create() after window error = %v", err)
	}
}

func TestCreateFailureKeepsRateWindow(t *testing.T) {
	s, clock := newTestStore(Config{})

	for i := 0; i < DefaultRateLimit; i++ {
		if _, err := s.Create(draftWith(1), "customer-1"); err != nil {
			t.Fatalf("Create() #%d error = %v", i+1, err)
		}
		clock.Advance(time.Minute)
	}
	// only the first creation leaves the rolling window
	clock.Advance(5*time.Minute + time.Second)

	s.gen = func() (string, error) { return "", errors.New("entropy exhausted") }
	if _, err := s.Create(draftWith(1), "customer-1"); err == nil {
		t.Fatal("Create() error = nil, want generator failure")
	}

	s.gen = randomCode
	if _, err := s.Create(draftWith(1), "customer-1"); err != nil {
		t.Errorf("Create() after failed attempt error = %v", err)
	}
}

func TestResolveFormat(t *testing.T) {
	s, _ := newTestStore(Config{})
	for _, code := range []string{"", "12345", "1234567", "12a456", " 123456", "123456\n", "١٢٣٤٥٦"} {
		if _, err := s.Resolve(code); !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("Resolve(%q) error = %v, want ErrInvalidFormat", code, err)
		}
	}
}

func TestResolveExpiry(t *testing.T) {
	s, clock := newTestStore(Config{})
	s.gen = sequence("111111")
	code, _ := s.Create(draftWith(2), "c")

	if _, err := s.Resolve(code); err != nil {
		t.Fatalf("first Resolve() error = %v", err)
	}
	if _, err := s.Resolve(code); err != nil {
		t.Fatalf("second Resolve() before expiry error = %v", err)
	}

	clock.Advance(DefaultTTL)
	if _, err := s.Resolve(code); !errors.Is(err, ErrExpired) {
		t.Fatalf("Resolve() at expiry error = %v, want ErrExpired", err)
	}
	if _, err := s.Resolve(code); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve() after eviction error = %v, want ErrNotFound", err)
	}
}

func TestCreateRegeneratesOnCollision(t *testing.T) {
	s, _ := newTestStore(Config{})
	s.gen = sequence("222222", "222222", "333333")

	first, err := s.Create(draftWith(1), "a")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	second, err := s.Create(draftWith(1), "b")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if first != "222222" || second != "333333" {
		t.Errorf("codes = %s, %s; want 222222, 333333", first, second)
	}
}

func TestCreateReusesExpiredCode(t *testing.T) {
	s, clock := newTestStore(Config{})
	s.gen = sequence("444444")

	if _, err := s.Create(draftWith(1), "a"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := s.Create(draftWith(1), "b"); !errors.Is(err, ErrNoFreeCode) {
		t.Errorf("Create() with exhausted codes error = %v, want ErrNoFreeCode", err)
	}
	clock.Advance(DefaultTTL)
	if code, err := s.Create(draftWith(1), "b"); err != nil || code != "444444" {
		t.Errorf("Create() after expiry = %s, %v", code, err)
	}
}

func TestRandomCodeShape(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := randomCode()
		if err != nil {
			t.Fatalf("randomCode() error = %v", err)
		}
		if !ValidCode(code) {
			t.Fatalf("randomCode() = %q is not 6 digits", code)
		}
	}
}

func TestResolveReturnsCopy(t *testing.T) {
	s, _ := newTestStore(Config{})
	code, _ := s.Create(draftWith(1), "a")

	d, _ := s.Resolve(code)
	d.Items[0].Quantity = 42
	again, _ := s.Resolve(code)
	if again.Items[0].Quantity != 1 {
		t.Error("Resolve() exposed stored draft")
	}
}

func TestDiscard(t *testing.T) {
	s, _ := newTestStore(Config{})
	code, _ := s.Create(draftWith(1), "a")

	if !s.Discard(code) {
		t.Fatal("Discard() = false, want true")
	}
	if s.Discard(code) {
		t.Error("second Discard() = true, want false")
	}
	if _, err := s.Resolve(code); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve() after Discard error = %v, want ErrNotFound", err)
	}
}

func TestSweep(t *testing.T) {
	s, clock := newTestStore(Config{})
	s.Create(draftWith(1), "a")
	clock.Advance(11 * time.Minute)
	s.Create(draftWith(1), "b")
	clock.Advance(5 * time.Minute)

	drafts, windows := s.Sweep()
	if drafts != 1 {
		t.Errorf("swept drafts = %d, want 1", drafts)
	}
	if windows != 1 {
		t.Errorf("swept windows = %d, want 1", windows)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestStartStop(t *testing.T) {
	s, clock := newTestStore(Config{SweepInterval: 5 * time.Millisecond})
	s.Create(draftWith(1), "a")
	clock.Advance(DefaultTTL)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after sweeps, want 0", s.Len())
	}
}

func TestDraftOrder(t *testing.T) {
	table := uuid.New()
	d := draftWith(2)
	d.TableID = &table
	d.CustomerRef = "guest-7"

	o := d.Order()
	if o.Status != orderstatus.Statuses.Ordered.Code() {
		t.Errorf("status = %s, want ordered", o.Status)
	}
	if o.TableID == nil || *o.TableID != table || o.CustomerRef != "guest-7" {
		t.Errorf("refs = %v, %s", o.TableID, o.CustomerRef)
	}
	if len(o.Items) != 2 || o.Items[0].Status != itemstatus.Statuses.Inserted.Code() {
		t.Errorf("items = %+v", o.Items)
	}
	if !o.Total.Equal(decimal.NewFromInt(11)) {
		t.Errorf("total = %s, want 11", o.Total)
	}
}
