package app

import (
	"strconv"
	"strings"
	"time"

	"github.com/appetiteclub/orderflow/internal/cache"
	"github.com/appetiteclub/orderflow/internal/delivery"
	"github.com/appetiteclub/orderflow/internal/handoff"
	"golang.org/x/time/rate"
)

const defaultNATSURL = "nats://localhost:4222"

// configSource is the part of apt.Config the settings are read from.
type configSource interface {
	GetStringOrDef(key, def string) string
}

// Settings are the tunables of one orderflow process. Zero values fall back
// to the package defaults of each component.
type Settings struct {
	NATSURL         string
	RelayEnabled    bool
	AvailabilitySub bool

	Cache    cache.Config
	Handoff  handoff.Config
	Delivery delivery.Config

	HistorySize     int
	HistoryInterval time.Duration
}

func LoadSettings(cfg configSource) Settings {
	return Settings{
		NATSURL:         cfg.GetStringOrDef("nats.url", defaultNATSURL),
		RelayEnabled:    boolOr(cfg.GetStringOrDef("nats.relay.enabled", ""), false),
		AvailabilitySub: boolOr(cfg.GetStringOrDef("nats.availability.enabled", ""), true),
		Cache: cache.Config{
			TTL:           durationOr(cfg.GetStringOrDef("cache.ttl", ""), 0),
			Capacity:      intOr(cfg.GetStringOrDef("cache.capacity", ""), 0),
			SweepInterval: durationOr(cfg.GetStringOrDef("cache.sweep", ""), 0),
		},
		Handoff: handoff.Config{
			TTL:           durationOr(cfg.GetStringOrDef("handoff.ttl", ""), 0),
			MaxItems:      intOr(cfg.GetStringOrDef("handoff.max.items", ""), 0),
			RateLimit:     intOr(cfg.GetStringOrDef("handoff.rate.limit", ""), 0),
			RateWindow:    durationOr(cfg.GetStringOrDef("handoff.rate.window", ""), 0),
			SweepInterval: durationOr(cfg.GetStringOrDef("handoff.sweep", ""), 0),
		},
		Delivery: delivery.Config{
			QueueSize:        intOr(cfg.GetStringOrDef("delivery.queue.size", ""), 0),
			BufferSize:       intOr(cfg.GetStringOrDef("delivery.buffer", ""), 0),
			OfflineQueueSize: intOr(cfg.GetStringOrDef("delivery.offline.size", ""), 0),
			Rate:             rate.Limit(floatOr(cfg.GetStringOrDef("delivery.rate", ""), 0)),
			Burst:            intOr(cfg.GetStringOrDef("delivery.burst", ""), 0),
		},
		HistorySize:     intOr(cfg.GetStringOrDef("delivery.history.size", ""), 0),
		HistoryInterval: durationOr(cfg.GetStringOrDef("delivery.history.interval", ""), 0),
	}
}

func durationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func intOr(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func floatOr(s string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

func boolOr(s string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return b
}
