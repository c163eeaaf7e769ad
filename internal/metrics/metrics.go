// Package metrics exposes the agent's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Downlink frame results.
const (
	ResultAccepted  = "accepted"
	ResultMalformed = "malformed"
	ResultDuplicate = "duplicate"
	ResultDropped   = "dropped"
	ResultOK        = "ok"
	ResultError     = "error"
)

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the Prometheus HTTP handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics are the passthrough and cloud channel metrics.
type AppMetrics struct {
	DownlinkFrames *prometheus.CounterVec // labels: result=accepted|malformed|duplicate|dropped
	UplinkWrites   *prometheus.CounterVec // labels: result=ok|error
	Reconnects     prometheus.Counter
	CloudConnected prometheus.Gauge
	HeapAlloc      prometheus.Gauge
	HeapSys        prometheus.Gauge
}

// NewAppMetrics registers and returns the application metrics.
// A nil registry yields unregistered collectors, which is convenient in tests.
func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		DownlinkFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lightlink_downlink_frames_total",
			Help: "Downlink status frames by outcome.",
		}, []string{"result"}),
		UplinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lightlink_uplink_writes_total",
			Help: "Uplink status writes by outcome.",
		}, []string{"result"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lightlink_cloud_reconnects_total",
			Help: "Downlink stream reconnect attempts.",
		}),
		CloudConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lightlink_cloud_connected",
			Help: "1 while the downlink stream is open.",
		}),
		HeapAlloc: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lightlink_heap_alloc_bytes",
			Help: "Heap bytes allocated, sampled by the heap monitor.",
		}),
		HeapSys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lightlink_heap_sys_bytes",
			Help: "Heap bytes obtained from the OS, sampled by the heap monitor.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.DownlinkFrames, m.UplinkWrites, m.Reconnects, m.CloudConnected, m.HeapAlloc, m.HeapSys)
	}
	return m
}
