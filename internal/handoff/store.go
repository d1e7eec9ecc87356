// Package handoff maps short numeric codes to order drafts so that an order
// built on a customer device can be picked up by a waiter.
package handoff

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
)

const (
	DefaultTTL           = 15 * time.Minute
	DefaultMaxItems      = 50
	DefaultRateLimit     = 5
	DefaultRateWindow    = 10 * time.Minute
	DefaultSweepInterval = 2 * time.Minute

	codeSpace   = 1000000
	maxAttempts = 32
)

var (
	ErrEmptyDraft    = errors.New("draft has no items")
	ErrTooManyItems  = errors.New("draft has too many items")
	ErrInvalidItem   = errors.New("draft item quantity must be positive")
	ErrRateLimited   = errors.New("too many handoffs for this identity")
	ErrInvalidFormat = errors.New("handoff code must be exactly 6 digits")
	ErrNotFound      = errors.New("handoff code not found")
	ErrExpired       = errors.New("handoff code expired")
	ErrNoFreeCode    = errors.New("cannot allocate a free handoff code")
)

var codePattern = regexp.MustCompile(`^[0-9]{6}$`)

// ValidCode reports whether code has the shape of a handoff code.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

type Config struct {
	TTL           time.Duration
	MaxItems      int
	RateLimit     int
	RateWindow    time.Duration
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.MaxItems <= 0 {
		c.MaxItems = DefaultMaxItems
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.RateWindow <= 0 {
		c.RateWindow = DefaultRateWindow
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// Store keeps drafts in memory. Codes stay resolvable until they expire or
// are discarded; resolving does not consume them.
type Store struct {
	mu      sync.Mutex
	drafts  map[string]Draft
	windows map[string][]time.Time

	cfg    Config
	now    func() time.Time
	gen    func() (string, error)
	logger apt.Logger

	stop chan struct{}
	done chan struct{}
}

func NewStore(cfg Config, logger apt.Logger) *Store {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Store{
		drafts:  make(map[string]Draft),
		windows: make(map[string][]time.Time),
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		gen:     randomCode,
		logger:  logger,
	}
}

func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Create stores the draft under a new code and returns the code.
func (s *Store) Create(draft Draft, identity string) (string, error) {
	if len(draft.Items) == 0 {
		return "", ErrEmptyDraft
	}
	if len(draft.Items) > s.cfg.MaxItems {
		return "", fmt.Errorf("%w: %d > %d", ErrTooManyItems, len(draft.Items), s.cfg.MaxItems)
	}
	for _, it := range draft.Items {
		if it.Quantity <= 0 {
			return "", ErrInvalidItem
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	recent := s.recentLocked(identity, now)
	if len(recent) >= s.cfg.RateLimit {
		s.windows[identity] = recent
		return "", ErrRateLimited
	}

	code, err := s.freeCodeLocked(now)
	if err != nil {
		return "", err
	}

	stored := draft.clone()
	stored.Code = code
	stored.CreatedAt = now
	stored.ExpiresAt = now.Add(s.cfg.TTL)
	s.drafts[code] = stored
	s.windows[identity] = append(recent, now)

	s.logger.Debug("handoff created", "items", len(stored.Items), "expires_at", stored.ExpiresAt)
	return code, nil
}

// recentLocked returns the creations of identity still inside the window.
func (s *Store) recentLocked(identity string, now time.Time) []time.Time {
	cutoff := now.Add(-s.cfg.RateWindow)
	window := s.windows[identity]
	kept := make([]time.Time, 0, len(window))
	for _, at := range window {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	return kept
}

// freeCodeLocked draws codes until one is unused. An expired draft frees
// its code.
func (s *Store) freeCodeLocked(now time.Time) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		code, err := s.gen()
		if err != nil {
			return "", fmt.Errorf("cannot generate handoff code: %w", err)
		}
		existing, taken := s.drafts[code]
		if !taken || existing.Expired(now) {
			return code, nil
		}
	}
	return "", ErrNoFreeCode
}

// Resolve returns the draft behind code. Malformed codes are rejected before
// any lookup; expired drafts are evicted.
func (s *Store) Resolve(code string) (Draft, error) {
	if !ValidCode(code) {
		return Draft{}, ErrInvalidFormat
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[code]
	if !ok {
		return Draft{}, ErrNotFound
	}
	if d.Expired(s.now()) {
		delete(s.drafts, code)
		return Draft{}, ErrExpired
	}
	return d.clone(), nil
}

// Discard removes a draft once it was turned into an order.
func (s *Store) Discard(code string) bool {
	if !ValidCode(code) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.drafts[code]; !ok {
		return false
	}
	delete(s.drafts, code)
	return true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.drafts)
}

// Sweep purges expired drafts and rate windows with no recent creations.
func (s *Store) Sweep() (drafts, windows int) {
	s.mu.Lock()
	now := s.now()
	var codes []string
	for code, d := range s.drafts {
		if d.Expired(now) {
			codes = append(codes, code)
		}
	}
	identities := make([]string, 0, len(s.windows))
	for id := range s.windows {
		identities = append(identities, id)
	}
	s.mu.Unlock()

	for _, code := range codes {
		s.mu.Lock()
		if d, ok := s.drafts[code]; ok && d.Expired(s.now()) {
			delete(s.drafts, code)
			drafts++
		}
		s.mu.Unlock()
	}

	for _, id := range identities {
		s.mu.Lock()
		if recent := s.recentLocked(id, s.now()); len(recent) == 0 {
			delete(s.windows, id)
			windows++
		} else {
			s.windows[id] = recent
		}
		s.mu.Unlock()
	}

	if drafts > 0 || windows > 0 {
		s.logger.Debug("swept handoff store", "drafts", drafts, "windows", windows)
	}
	return drafts, windows
}

// Start runs the background sweep until Stop or ctx cancellation.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	interval := s.cfg.SweepInterval
	s.mu.Unlock()

	s.logger.Info("starting handoff sweeper", "interval", interval.String(), "ttl", s.cfg.TTL.String())

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
				s.Sweep()
			}
		}
	}()
	return nil
}

func (s *Store) Stop(ctx context.Context) error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

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
