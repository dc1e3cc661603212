package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Frame directions for the frames counter.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Metrics holds all Prometheus metrics for the realtime client.
type Metrics struct {
	// Transport metrics
	ConnectionsActive prometheus.Gauge
	ConnectsTotal     prometheus.Counter
	ReconnectsTotal   prometheus.Counter
	ConnectFailures   prometheus.Counter
	FramesTotal       *prometheus.CounterVec
	ChunkBytes        prometheus.Histogram

	// Registry metrics
	RegistryEntries prometheus.Gauge
	RegistryRefs    prometheus.Gauge

	// Assembly metrics
	MessagesCompleted prometheus.Counter
	MessagesAborted   prometheus.Counter
	ToolInvocations   *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector on a private Prometheus registry.
// A private registry keeps repeated construction in tests from panicking on
// duplicate registration.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		startTime: time.Now(),
		registry:  reg,

		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Number of open physical socket connections",
		}),
		ConnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_connects_total",
			Help: "Total successful socket connects",
		}),
		ReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_reconnects_total",
			Help: "Total reconnection attempts",
		}),
		ConnectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_connect_failures_total",
			Help: "Total failed socket connects",
		}),
		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "realtime_frames_total",
				Help: "Total wire frames by type and direction",
			},
			[]string{"type", "direction"},
		),
		ChunkBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "realtime_chunk_bytes",
			Help:    "Size distribution of streamed text chunks",
			Buckets: prometheus.ExponentialBuckets(8, 4, 8),
		}),

		RegistryEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_registry_entries",
			Help: "Number of registry connection entries",
		}),
		RegistryRefs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_registry_refs",
			Help: "Total reference count across registry entries",
		}),

		MessagesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_messages_completed_total",
			Help: "Total assistant messages assembled to completion",
		}),
		MessagesAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_messages_aborted_total",
			Help: "Total assistant generations aborted by the user",
		}),
		ToolInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "realtime_tool_invocations_total",
				Help: "Tool invocations by terminal state",
			},
			[]string{"state"},
		),

		Uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_uptime_seconds",
			Help: "Process uptime in seconds",
		}),
	}

	reg.MustRegister(
		m.ConnectionsActive, m.ConnectsTotal, m.ReconnectsTotal,
		m.ConnectFailures, m.FramesTotal, m.ChunkBytes,
		m.RegistryEntries, m.RegistryRefs,
		m.MessagesCompleted, m.MessagesAborted, m.ToolInvocations,
		m.Uptime,
	)

	return m
}

// Registry exposes the underlying Prometheus registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordConnect records a successful socket connect.
func (m *Metrics) RecordConnect() {
	m.ConnectsTotal.Inc()
	m.ConnectionsActive.Inc()
}

// RecordDisconnect records a socket teardown.
func (m *Metrics) RecordDisconnect() {
	m.ConnectionsActive.Dec()
}

// RecordReconnect records a reconnection attempt.
func (m *Metrics) RecordReconnect() {
	m.ReconnectsTotal.Inc()
}

// RecordConnectFailure records a failed dial.
func (m *Metrics) RecordConnectFailure() {
	m.ConnectFailures.Inc()
}

// RecordFrame records one wire frame.
func (m *Metrics) RecordFrame(frameType, direction string) {
	m.FramesTotal.WithLabelValues(frameType, direction).Inc()
}

// RecordChunk records the size of a streamed text chunk.
func (m *Metrics) RecordChunk(size int) {
	m.ChunkBytes.Observe(float64(size))
}

// SetRegistryStats updates registry gauges.
func (m *Metrics) SetRegistryStats(entries, refs int) {
	m.RegistryEntries.Set(float64(entries))
	m.RegistryRefs.Set(float64(refs))
}

// RecordToolInvocation records a tool invocation reaching a terminal state.
func (m *Metrics) RecordToolInvocation(state string) {
	m.ToolInvocations.WithLabelValues(state).Inc()
}

// UpdateUptime refreshes the uptime gauge.
func (m *Metrics) UpdateUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}
