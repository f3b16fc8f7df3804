// Package metrics exposes Prometheus link-quality telemetry for the
// remote session. Everything here is advisory: no metric feeds back into
// protocol behavior.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "remotedesk"

// Metrics holds the session telemetry gauges backed by a private
// registry.
type Metrics struct {
	Registry *prometheus.Registry

	connected        prometheus.Gauge
	relayed          prometheus.Gauge
	latencyMS        prometheus.Gauge
	videoFPS         prometheus.Gauge
	videoPacketsLost prometheus.Gauge
	videoJitterMS    prometheus.Gauge
	bandwidthKbps    prometheus.Gauge
	reconnectsTotal  prometheus.Counter
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "Whether the peer connection is established (1) or not (0).",
		}),
		relayed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relayed",
			Help:      "Whether the selected candidate pair goes through a TURN relay (1) or is direct (0).",
		}),
		latencyMS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latency_ms",
			Help:      "Round-trip time of the selected candidate pair in milliseconds.",
		}),
		videoFPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "video_fps",
			Help:      "Inbound video frames decoded per second.",
		}),
		videoPacketsLost: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "video_packets_lost",
			Help:      "Cumulative inbound video packets lost.",
		}),
		videoJitterMS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "video_jitter_ms",
			Help:      "Inbound video jitter in milliseconds.",
		}),
		bandwidthKbps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bandwidth_kbps",
			Help:      "Estimated inbound bandwidth in kilobits per second.",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total automatic reconnection attempts.",
		}),
	}

	reg.MustRegister(
		m.connected,
		m.relayed,
		m.latencyMS,
		m.videoFPS,
		m.videoPacketsLost,
		m.videoJitterMS,
		m.bandwidthKbps,
		m.reconnectsTotal,
	)
	return m
}

// Handler returns the exporter endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// SetConnected records the peer connection state.
func (m *Metrics) SetConnected(connected bool) {
	m.connected.Set(gaugeBool(connected))
}

// ObserveLink records the current candidate-pair measurements.
func (m *Metrics) ObserveLink(latencyMS float64, relayed bool) {
	m.latencyMS.Set(latencyMS)
	m.relayed.Set(gaugeBool(relayed))
}

// ObserveVideo records inbound video stream measurements.
func (m *Metrics) ObserveVideo(fps, packetsLost, jitterMS float64) {
	m.videoFPS.Set(fps)
	m.videoPacketsLost.Set(packetsLost)
	m.videoJitterMS.Set(jitterMS)
}

// ObserveBandwidth records the derived bandwidth estimate.
func (m *Metrics) ObserveBandwidth(kbps float64) {
	m.bandwidthKbps.Set(kbps)
}

// ReconnectStarted counts one automatic reconnection attempt.
func (m *Metrics) ReconnectStarted() {
	m.reconnectsTotal.Inc()
}

func gaugeBool(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
