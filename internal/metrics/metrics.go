// Package metrics holds the Prometheus collectors exported by the messenger.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var registerer = prometheus.WrapRegistererWithPrefix("messenger_", registry)

var (
	// Flush latency buckets in milliseconds.
	flushBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}

	Connections = promauto.With(registerer).NewGauge(prometheus.GaugeOpts{
		Name: "connections",
		Help: "Number of live broker connections",
	})

	HandshakesTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "handshakes_total",
			Help: "WebSocket handshakes by outcome",
		},
		[]string{"outcome"},
	)

	MessagesTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Inbound messages by outcome",
		},
		[]string{"outcome"},
	)

	DeliveriesTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliveries_total",
			Help: "Per-connection fan-out attempts by outcome",
		},
		[]string{"outcome"},
	)

	FlushesTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "flushes_total",
			Help: "Conversation block flushes by result",
		},
		[]string{"result"},
	)

	FlushLatency = promauto.With(registerer).NewHistogram(prometheus.HistogramOpts{
		Name:    "flush_latency_ms",
		Help:    "Conversation block persistence latency in milliseconds",
		Buckets: flushBuckets,
	})

	BufferedMessages = promauto.With(registerer).NewGauge(prometheus.GaugeOpts{
		Name: "buffered_messages",
		Help: "Messages waiting in room buffers",
	})

	SessionsActive = promauto.With(registerer).NewGauge(prometheus.GaugeOpts{
		Name: "sessions_active",
		Help: "Sessions held by the in-memory store",
	})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// Registry exposes the underlying registry, mainly for tests.
func Registry() *prometheus.Registry {
	return registry
}
