// Package delivery fans order events out to staff terminals. Delivery is
// at-least-once with no ordering guarantee: every envelope carries a stable
// id and terminals discard ids they have already handled.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/orderflow/pkg/event"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	DefaultQueueSize        = 1024
	DefaultBufferSize       = 64
	DefaultOfflineQueueSize = 100
	DefaultRate             = 20
	DefaultBurst            = 40
	relayTimeout            = 2 * time.Second
)

var ErrInvalidTerminal = errors.New("terminal id is required")

type Config struct {
	QueueSize        int
	BufferSize       int
	OfflineQueueSize int
	Rate             rate.Limit
	Burst            int
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.OfflineQueueSize <= 0 {
		c.OfflineQueueSize = DefaultOfflineQueueSize
	}
	if c.Rate <= 0 {
		c.Rate = DefaultRate
	}
	if c.Burst <= 0 {
		c.Burst = DefaultBurst
	}
	return c
}

type dispatch struct {
	env  event.Envelope
	opts Options
}

type pendingAck struct {
	env    event.Envelope
	sentAt time.Time
}

type connection struct {
	terminal Terminal
	ch       chan event.Envelope
	limiter  *rate.Limiter
	closed   bool
}

// Subscription is the receiving end of one terminal connection. C is closed
// when the connection is replaced, dropped or the broadcaster stops.
type Subscription struct {
	C    <-chan event.Envelope
	b    *Broadcaster
	conn *connection
}

func (s *Subscription) Terminal() Terminal {
	return s.conn.terminal
}

func (s *Subscription) Close() {
	s.b.disconnect(s.conn, false)
}

type Broadcaster struct {
	mu      sync.Mutex
	conns   map[string]*connection
	known   map[string]Terminal
	offline map[string][]event.Envelope
	pending map[string]map[string]pendingAck

	urgent chan dispatch
	normal chan dispatch

	cfg     Config
	metrics *Metrics
	relay   events.Publisher
	logger  apt.Logger
	now     func() time.Time

	stop chan struct{}
	done chan struct{}
}

func NewBroadcaster(cfg Config, metrics *Metrics, logger apt.Logger) *Broadcaster {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if metrics == nil {
		metrics = NewMetrics(nil, 0)
	}
	cfg = cfg.withDefaults()
	return &Broadcaster{
		conns:   make(map[string]*connection),
		known:   make(map[string]Terminal),
		offline: make(map[string][]event.Envelope),
		pending: make(map[string]map[string]pendingAck),
		urgent:  make(chan dispatch, cfg.QueueSize),
		normal:  make(chan dispatch, cfg.QueueSize),
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// SetRelay mirrors every dispatched envelope to the publisher.
func (b *Broadcaster) SetRelay(pub events.Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.relay = pub
}

func (b *Broadcaster) Metrics() *Metrics {
	return b.metrics
}

// Emit hands the event to the dispatcher and returns its id. It never
// blocks: when the dispatch queue is full the event is dropped and counted.
func (b *Broadcaster) Emit(evt Event, opts Options) string {
	env, err := b.envelope(evt, opts)
	if err != nil {
		b.logger.Error("cannot encode event payload", "event", evt.Name, "error", err)
		b.metrics.Dropped()
		return ""
	}

	queue := b.normal
	if opts.Priority >= PriorityHigh {
		queue = b.urgent
	}

	select {
	case queue <- dispatch{env: env, opts: opts}:
	default:
		b.metrics.Dropped()
		b.logger.Error("delivery queue full, dropping event", "event", env.Name, "event_id", env.ID)
	}
	return env.ID
}

func (b *Broadcaster) envelope(evt Event, opts Options) (event.Envelope, error) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return event.Envelope{}, err
	}
	id := evt.ID
	if id == "" {
		id = uuid.NewString()
	}
	return event.Envelope{
		ID:          id,
		Name:        evt.Name,
		Priority:    opts.Priority.String(),
		AckRequired: opts.AckRequired,
		Stations:    opts.Target.Stations,
		Roles:       opts.Target.Roles,
		Broadcast:   opts.Broadcast,
		EmittedAt:   b.now(),
		Payload:     payload,
	}, nil
}

// Start runs the dispatcher. High and urgent events are always drained
// before normal and low ones.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.stop != nil {
		b.mu.Unlock()
		return nil
	}
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	stop, done := b.stop, b.done
	b.mu.Unlock()

	b.logger.Info("starting delivery dispatcher", "queue_size", b.cfg.QueueSize)

	go func() {
		defer close(done)
		for {
			select {
			case d := <-b.urgent:
				b.deliver(d)
				continue
			default:
			}

			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case d := <-b.urgent:
				b.deliver(d)
			case d := <-b.normal:
				b.deliver(d)
			}
		}
	}()
	return nil
}

// Stop halts the dispatcher and closes every connection.
func (b *Broadcaster) Stop(ctx context.Context) error {
	b.mu.Lock()
	stop, done := b.stop, b.done
	b.stop, b.done = nil, nil
	conns := make([]*connection, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		b.disconnect(c, false)
	}

	if stop == nil {
		return nil
	}
	close(stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Broadcaster) deliver(d dispatch) {
	b.mu.Lock()
	relay := b.relay
	for id, terminal := range b.known {
		if !terminal.Matches(d.opts) {
			continue
		}
		conn := b.conns[id]
		if conn == nil {
			if d.opts.QueueIfOffline {
				b.enqueueLocked(id, d.env)
			} else {
				b.metrics.Dropped()
			}
			continue
		}
		b.sendLocked(conn, d.env, d.opts)
	}
	b.mu.Unlock()

	if relay != nil {
		b.publish(relay, d.env)
	}
}

func (b *Broadcaster) sendLocked(conn *connection, env event.Envelope, opts Options) {
	id := conn.terminal.ID
	if !opts.SkipRateLimit && !conn.limiter.Allow() {
		if opts.QueueIfOffline {
			b.enqueueLocked(id, env)
		} else {
			b.metrics.Dropped()
			b.logger.Debug("terminal throttled, dropping event", "terminal_id", id, "event_id", env.ID)
		}
		return
	}

	select {
	case conn.ch <- env:
		b.metrics.Sent()
		if env.AckRequired {
			b.trackLocked(id, env)
		}
		b.drainLocked(conn)
	default:
		if opts.QueueIfOffline {
			b.enqueueLocked(id, env)
		} else {
			b.metrics.Dropped()
			b.logger.Info("terminal buffer full, dropping event", "terminal_id", id, "event_id", env.ID)
		}
	}
}

// drainLocked moves queued envelopes into the connection while it has room.
func (b *Broadcaster) drainLocked(conn *connection) {
	id := conn.terminal.ID
	queue := b.offline[id]
	sent := 0
	for _, env := range queue {
		select {
		case conn.ch <- env:
			sent++
			b.metrics.Sent()
			if env.AckRequired {
				b.trackLocked(id, env)
			}
			continue
		default:
		}
		break
	}
	if sent == 0 {
		return
	}
	if sent == len(queue) {
		delete(b.offline, id)
		return
	}
	b.offline[id] = append([]event.Envelope(nil), queue[sent:]...)
}

// enqueueLocked keeps at most one copy per event id and drops the oldest
// envelope once the terminal queue is full.
func (b *Broadcaster) enqueueLocked(terminalID string, env event.Envelope) {
	queue := b.offline[terminalID]
	for i := range queue {
		if queue[i].ID == env.ID {
			queue[i] = env
			return
		}
	}
	if len(queue) >= b.cfg.OfflineQueueSize {
		queue = queue[1:]
		b.metrics.Dropped()
	}
	b.offline[terminalID] = append(queue, env)
	b.metrics.Queued()
}

func (b *Broadcaster) trackLocked(terminalID string, env event.Envelope) {
	acks, ok := b.pending[terminalID]
	if !ok {
		acks = make(map[string]pendingAck)
		b.pending[terminalID] = acks
	}
	acks[env.ID] = pendingAck{env: env, sentAt: b.now()}
}

func (b *Broadcaster) publish(pub events.Publisher, env event.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("cannot encode envelope for relay", "event_id", env.ID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()
	if err := pub.Publish(ctx, event.TerminalEventsTopic, data); err != nil {
		b.logger.Error("relay publish failed", "event_id", env.ID, "error", err)
	}
}

// Connect registers a terminal connection and flushes whatever was queued
// while it was away. A second Connect with the same id replaces the first.
func (b *Broadcaster) Connect(t Terminal) (*Subscription, error) {
	if t.ID == "" {
		b.metrics.Failed()
		return nil, ErrInvalidTerminal
	}

	b.mu.Lock()
	previous := b.conns[t.ID]
	if previous != nil {
		b.closeLocked(previous)
	}

	conn := &connection{
		terminal: t,
		ch:       make(chan event.Envelope, b.cfg.BufferSize),
		limiter:  rate.NewLimiter(b.cfg.Rate, b.cfg.Burst),
	}
	b.conns[t.ID] = conn
	b.known[t.ID] = t
	b.drainLocked(conn)
	queued := len(b.offline[t.ID])
	b.mu.Unlock()

	if previous != nil {
		b.metrics.Disconnected()
	}
	b.metrics.Connected()
	b.logger.Info("terminal connected", "terminal_id", t.ID, "station", t.Station, "role", t.Role, "still_queued", queued)

	return &Subscription{C: conn.ch, b: b, conn: conn}, nil
}

// Disconnect drops the terminal's connection. Unacknowledged envelopes go
// back to its queue so the next connection retries them.
func (b *Broadcaster) Disconnect(terminalID string) {
	b.mu.Lock()
	conn := b.conns[terminalID]
	b.mu.Unlock()
	if conn != nil {
		b.disconnect(conn, false)
	}
}

// MarkFailed records a transport failure and drops the connection.
func (b *Broadcaster) MarkFailed(terminalID string, err error) {
	b.mu.Lock()
	conn := b.conns[terminalID]
	b.mu.Unlock()
	if conn == nil {
		return
	}
	b.logger.Info("terminal connection failed", "terminal_id", terminalID, "error", err)
	b.disconnect(conn, true)
}

func (b *Broadcaster) disconnect(conn *connection, failed bool) {
	b.mu.Lock()
	if conn.closed || b.conns[conn.terminal.ID] != conn {
		b.mu.Unlock()
		return
	}
	id := conn.terminal.ID
	b.closeLocked(conn)
	delete(b.conns, id)
	for _, p := range b.pending[id] {
		b.enqueueLocked(id, p.env)
	}
	delete(b.pending, id)
	b.mu.Unlock()

	if failed {
		b.metrics.Failed()
	}
	b.metrics.Disconnected()
	b.logger.Info("terminal disconnected", "terminal_id", id)
}

func (b *Broadcaster) closeLocked(conn *connection) {
	if conn.closed {
		return
	}
	conn.closed = true
	close(conn.ch)
}

// Ack confirms that the terminal processed the event. It returns false for
// unknown or already acknowledged ids.
func (b *Broadcaster) Ack(terminalID, eventID string) bool {
	b.mu.Lock()
	acks := b.pending[terminalID]
	p, ok := acks[eventID]
	if ok {
		delete(acks, eventID)
		if len(acks) == 0 {
			delete(b.pending, terminalID)
		}
	}
	now := b.now()
	b.mu.Unlock()

	if !ok {
		return false
	}
	b.metrics.Acknowledged(terminalID, now.Sub(p.sentAt))
	return true
}

// Pending returns how many envelopes the terminal has not acknowledged yet.
func (b *Broadcaster) Pending(terminalID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[terminalID])
}

// Queued returns how many envelopes wait for the terminal to come back.
func (b *Broadcaster) Queued(terminalID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.offline[terminalID])
}

// Forget removes a decommissioned terminal and its queue.
func (b *Broadcaster) Forget(terminalID string) {
	b.Disconnect(terminalID)
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.known, terminalID)
	delete(b.offline, terminalID)
	delete(b.pending, terminalID)
}
