package app

import (
	"testing"
	"time"

	"golang.org/x/time/rate"
)

type mapConfig map[string]string

func (m mapConfig) GetStringOrDef(key, def string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

func TestLoadSettings(t *testing.T) {
	s := LoadSettings(mapConfig{
		"nats.url":           "nats://bus:4222",
		"nats.relay.enabled": "true",
		"cache.ttl":          "10m",
		"cache.capacity":     "250",
		"handoff.ttl":        "5m",
		"handoff.rate.limit": "3",
		"delivery.rate":      "7.5",
		"delivery.burst":     "15",
		"delivery.buffer":    "not-a-number",
	})

	if s.NATSURL != "nats://bus:4222" || !s.RelayEnabled || !s.AvailabilitySub {
		t.Errorf("transport settings = %+v", s)
	}
	if s.Cache.TTL != 10*time.Minute || s.Cache.Capacity != 250 || s.Cache.SweepInterval != 0 {
		t.Errorf("cache settings = %+v", s.Cache)
	}
	if s.Handoff.TTL != 5*time.Minute || s.Handoff.RateLimit != 3 {
		t.Errorf("handoff settings = %+v", s.Handoff)
	}
	if s.Delivery.Rate != rate.Limit(7.5) || s.Delivery.Burst != 15 || s.Delivery.BufferSize != 0 {
		t.Errorf("delivery settings = %+v", s.Delivery)
	}
}

func TestLoadSettingsDefaults(t *testing.T) {
	s := LoadSettings(mapConfig{})
	if s.NATSURL != defaultNATSURL {
		t.Errorf("NATSURL = %q, want %q", s.NATSURL, defaultNATSURL)
	}
	if s.RelayEnabled {
		t.Error("relay enabled by default")
	}
	if s.Cache.TTL != 0 || s.Delivery.QueueSize != 0 || s.HistoryInterval != 0 {
		t.Errorf("settings not zero = %+v", s)
	}
}

func TestParseHelpers(t *testing.T) {
	tests := []struct {
		name string
		got  any
		want any
	}{
		{name: "durationValid", got: durationOr("90s", time.Second), want: 90 * time.Second},
		{name: "durationNegative", got: durationOr("-1m", time.Second), want: time.Second},
		{name: "durationGarbage", got: durationOr("soon", time.Second), want: time.Second},
		{name: "intValid", got: intOr(" 12 ", 1), want: 12},
		{name: "intZero", got: intOr("0", 1), want: 1},
		{name: "floatValid", got: floatOr("0.5", 1), want: 0.5},
		{name: "boolValid", got: boolOr("false", true), want: false},
		{name: "boolGarbage", got: boolOr("maybe", true), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}
