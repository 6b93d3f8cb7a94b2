package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubscribersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "freightwatch_subscribers_active",
		Help: "Number of currently connected event-stream subscribers",
	})

	FramesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "freightwatch_frames_sent_total",
		Help: "Total number of event frames written to subscriber streams",
	}, []string{"event"})

	WriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "freightwatch_stream_write_failures_total",
		Help: "Total number of subscriber stream writes that failed and caused eviction",
	})

	KeepAlivesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "freightwatch_keepalives_total",
		Help: "Total number of keep-alive comments written to subscriber streams",
	})
)

// IncFramesSent records one delivered frame for the given event name.
func IncFramesSent(event string) {
	if event == "" {
		event = "unknown"
	}
	FramesSentTotal.WithLabelValues(event).Inc()
}
