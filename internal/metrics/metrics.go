// Package metrics provides Prometheus instrumentation for the chat service:
// live connections, channel event outcomes, relay results and HTTP traffic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connections tracks the realtime connections registered in the hub,
	// labeled by transport: "ws" or "grpc".
	Connections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "recircle_chat_connections",
		Help: "Current number of open realtime connections",
	}, []string{"transport"})

	// Events counts inbound channel events by event name and outcome:
	// "ok" or the error code sent back to the client.
	Events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recircle_chat_events_total",
		Help: "Inbound realtime events processed",
	}, []string{"event", "outcome"})

	// Relays counts server events pushed toward a user. "delivered" means a
	// connection on this instance took it. The local relay also counts
	// "offline" when none did; the NATS relay counts "published" and "error"
	// instead, since no single instance knows whether the user is offline.
	Relays = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recircle_chat_relays_total",
		Help: "Server events relayed to users",
	}, []string{"result"})

	// EventLatency records channel event handling latency in seconds.
	EventLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recircle_chat_event_latency_seconds",
		Help:    "Realtime event handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event"})

	// HTTPRequests counts HTTP requests by route pattern and status code.
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recircle_http_requests_total",
		Help: "HTTP requests served",
	}, []string{"route", "status"})
)

func init() {
	prometheus.MustRegister(
		Connections,
		Events,
		Relays,
		EventLatency,
		HTTPRequests,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
