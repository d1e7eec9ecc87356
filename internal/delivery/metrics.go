package delivery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultHistorySize     = 60
	DefaultHistoryInterval = time.Minute
	latencySamples         = 128
)

type LatencyStats struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
	P95   time.Duration `json:"p95"`
}

type Snapshot struct {
	At                   time.Time               `json:"at"`
	ActiveConnections    int64                   `json:"active_connections"`
	TotalConnections     uint64                  `json:"total_connections"`
	FailedConnections    uint64                  `json:"failed_connections"`
	MessagesSent         uint64                  `json:"messages_sent"`
	MessagesAcknowledged uint64                  `json:"messages_acknowledged"`
	MessagesQueued       uint64                  `json:"messages_queued"`
	MessagesDropped      uint64                  `json:"messages_dropped"`
	Latency              map[string]LatencyStats `json:"latency"`
}

type latencyAgg struct {
	count   uint64
	sum     time.Duration
	min     time.Duration
	max     time.Duration
	samples []time.Duration
	next    int
}

func (a *latencyAgg) observe(d time.Duration) {
	if a.count == 0 || d < a.min {
		a.min = d
	}
	if d > a.max {
		a.max = d
	}
	a.count++
	a.sum += d
	if len(a.samples) < latencySamples {
		a.samples = append(a.samples, d)
		return
	}
	a.samples[a.next] = d
	a.next = (a.next + 1) % latencySamples
}

func (a *latencyAgg) stats() LatencyStats {
	if a.count == 0 {
		return LatencyStats{}
	}
	sorted := make([]time.Duration, len(a.samples))
	copy(sorted, a.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (len(sorted)*95+99)/100 - 1
	if idx < 0 {
		idx = 0
	}
	return LatencyStats{
		Count: a.count,
		Min:   a.min,
		Max:   a.max,
		Avg:   a.sum / time.Duration(a.count),
		P95:   sorted[idx],
	}
}

// Metrics tracks connection and message counters for the delivery layer.
// Counters are mirrored to Prometheus collectors registered on the
// registerer given at construction.
type Metrics struct {
	mu           sync.Mutex
	active       int64
	total        uint64
	failed       uint64
	sent         uint64
	acknowledged uint64
	queued       uint64
	dropped      uint64
	latency      map[string]*latencyAgg

	history     []Snapshot
	historyNext int
	historySize int

	now func() time.Time

	activeGauge  prometheus.Gauge
	connections  *prometheus.CounterVec
	messages     *prometheus.CounterVec
	ackLatency   prometheus.Histogram
	stop         chan struct{}
	done         chan struct{}
}

func NewMetrics(reg prometheus.Registerer, historySize int) *Metrics {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	m := &Metrics{
		latency:     make(map[string]*latencyAgg),
		historySize: historySize,
		now:         time.Now,
		activeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orderflow_delivery_connections_active",
			Help: "Terminals currently connected",
		}),
		connections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderflow_delivery_connections_total",
				Help: "Terminal connections by outcome",
			},
			[]string{"outcome"},
		),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderflow_delivery_messages_total",
				Help: "Delivery envelopes by result",
			},
			[]string{"result"},
		),
		ackLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orderflow_delivery_ack_latency_seconds",
			Help:    "Time between sending an envelope and its acknowledgment",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.activeGauge, m.connections, m.messages, m.ackLatency)
	}
	return m
}

func (m *Metrics) Connected() {
	m.mu.Lock()
	m.active++
	m.total++
	m.mu.Unlock()
	m.activeGauge.Inc()
	m.connections.WithLabelValues("opened").Inc()
}

func (m *Metrics) Disconnected() {
	m.mu.Lock()
	if m.active > 0 {
		m.active--
	}
	m.mu.Unlock()
	m.activeGauge.Dec()
	m.connections.WithLabelValues("closed").Inc()
}

func (m *Metrics) Failed() {
	m.mu.Lock()
	m.failed++
	m.mu.Unlock()
	m.connections.WithLabelValues("failed").Inc()
}

func (m *Metrics) Sent() {
	m.mu.Lock()
	m.sent++
	m.mu.Unlock()
	m.messages.WithLabelValues("sent").Inc()
}

func (m *Metrics) Queued() {
	m.mu.Lock()
	m.queued++
	m.mu.Unlock()
	m.messages.WithLabelValues("queued").Inc()
}

func (m *Metrics) Dropped() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
	m.messages.WithLabelValues("dropped").Inc()
}

// Acknowledged records an ack and the round trip for the terminal.
func (m *Metrics) Acknowledged(terminalID string, latency time.Duration) {
	m.mu.Lock()
	m.acknowledged++
	agg, ok := m.latency[terminalID]
	if !ok {
		agg = &latencyAgg{}
		m.latency[terminalID] = agg
	}
	agg.observe(latency)
	m.mu.Unlock()
	m.messages.WithLabelValues("acknowledged").Inc()
	m.ackLatency.Observe(latency.Seconds())
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Metrics) snapshotLocked() Snapshot {
	s := Snapshot{
		At:                   m.now(),
		ActiveConnections:    m.active,
		TotalConnections:     m.total,
		FailedConnections:    m.failed,
		MessagesSent:         m.sent,
		MessagesAcknowledged: m.acknowledged,
		MessagesQueued:       m.queued,
		MessagesDropped:      m.dropped,
		Latency:              make(map[string]LatencyStats, len(m.latency)),
	}
	for id, agg := range m.latency {
		s.Latency[id] = agg.stats()
	}
	return s
}

// Record appends the current snapshot to the history ring.
func (m *Metrics) Record() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.snapshotLocked()
	if len(m.history) < m.historySize {
		m.history = append(m.history, s)
		return s
	}
	m.history[m.historyNext] = s
	m.historyNext = (m.historyNext + 1) % m.historySize
	return s
}

// History returns the recorded snapshots, oldest first.
func (m *Metrics) History() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.history))
	out = append(out, m.history[m.historyNext:]...)
	out = append(out, m.history[:m.historyNext]...)
	return out
}

// Run records a snapshot every interval until Stop or ctx cancellation.
func (m *Metrics) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultHistoryInterval
	}
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return nil
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

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
				m.Record()
			}
		}
	}()
	return nil
}

func (m *Metrics) Stop(ctx context.Context) error {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()
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
