// Package metrics exposes the per-client counters named in the public
// Metrics struct (§6): packets sent/received, reconnection count, last
// ping latency, and connected-since. It is a thin Prometheus registration
// layer over an engine.Snapshot.
//
// Grounded on vango's middleware.Prometheus (pkg/middleware/metrics.go):
// same promauto.With(registry) construction, the same "initialize once,
// read back via a plain accessor struct" shape, scaled down to a single
// client's counters instead of a whole HTTP middleware stack.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config selects the registry and label namespace the client's metrics are
// published under.
type Config struct {
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels

	// Registry defaults to prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

func defaultConfig() Config {
	return Config{
		Namespace: "sockrose",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Recorder wraps the Prometheus collectors for one client connection.
// Counters only move forward; Set-style gauges track the latest observed
// value, matching how the engine reports its own Snapshot.
type Recorder struct {
	packetsSent       prometheus.Counter
	packetsReceived   prometheus.Counter
	reconnectionCount prometheus.Counter
	lastPingLatencyMs prometheus.Gauge
	connectedAt       prometheus.Gauge // unix seconds of the last handshake, 0 if never connected

	prevSent, prevReceived, prevReconnects uint64
}

// New registers a fresh set of collectors. Call once per Client; calling it
// twice against the same default registry without distinct ConstLabels
// will panic on duplicate registration, exactly as prometheus intends.
func New(opts ...func(*Config)) *Recorder {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(cfg.Registry)

	return &Recorder{
		packetsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "packets_sent_total",
			Help:        "Total Socket.IO packets written to the transport.",
			ConstLabels: cfg.ConstLabels,
		}),
		packetsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "packets_received_total",
			Help:        "Total Socket.IO packets decoded from the transport.",
			ConstLabels: cfg.ConstLabels,
		}),
		reconnectionCount: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "reconnections_total",
			Help:        "Total reconnection attempts started.",
			ConstLabels: cfg.ConstLabels,
		}),
		lastPingLatencyMs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "last_ping_latency_milliseconds",
			Help:        "Interval between the two most recent PING frames, in milliseconds.",
			ConstLabels: cfg.ConstLabels,
		}),
		connectedAt: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "connected_at_unixtime",
			Help:        "Unix timestamp of the most recent successful handshake, 0 if never connected.",
			ConstLabels: cfg.ConstLabels,
		}),
	}
}

// EngineSnapshot is the subset of engine.Snapshot the recorder needs,
// defined locally to avoid an import cycle between engine and metrics.
type EngineSnapshot struct {
	PacketsSent       uint64
	PacketsReceived   uint64
	ReconnectionCount uint64
	LastPingLatencyMs int64
	ConnectedAt       time.Time
}

// Observe updates the Prometheus collectors from the latest engine
// snapshot. Counters are monotonic in the snapshot already, so Observe
// adds only the delta since the last call.
func (r *Recorder) Observe(s EngineSnapshot) {
	if s.PacketsSent > r.prevSent {
		r.packetsSent.Add(float64(s.PacketsSent - r.prevSent))
		r.prevSent = s.PacketsSent
	}
	if s.PacketsReceived > r.prevReceived {
		r.packetsReceived.Add(float64(s.PacketsReceived - r.prevReceived))
		r.prevReceived = s.PacketsReceived
	}
	if s.ReconnectionCount > r.prevReconnects {
		r.reconnectionCount.Add(float64(s.ReconnectionCount - r.prevReconnects))
		r.prevReconnects = s.ReconnectionCount
	}
	r.lastPingLatencyMs.Set(float64(s.LastPingLatencyMs))
	if s.ConnectedAt.IsZero() {
		r.connectedAt.Set(0)
	} else {
		r.connectedAt.Set(float64(s.ConnectedAt.Unix()))
	}
}

// Metrics is the plain snapshot struct the public Client.GetMetrics() (§6)
// hands back to callers who don't want to scrape Prometheus.
type Metrics struct {
	PacketsSent       uint64
	PacketsReceived   uint64
	ReconnectionCount uint64
	LastPingLatencyMs int64
	ConnectedAt       time.Time
}

// FromEngineSnapshot adapts an engine.Snapshot-shaped value into Metrics.
func FromEngineSnapshot(s EngineSnapshot) Metrics {
	return Metrics{
		PacketsSent:       s.PacketsSent,
		PacketsReceived:   s.PacketsReceived,
		ReconnectionCount: s.ReconnectionCount,
		LastPingLatencyMs: s.LastPingLatencyMs,
		ConnectedAt:       s.ConnectedAt,
	}
}
