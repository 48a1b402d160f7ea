package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messaging_messages_sent_total",
		Help: "Total messages accepted by SendMessage.",
	})
	ConversationsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messaging_conversations_created_total",
		Help: "Total conversations created on first contact.",
	})
	EventsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messaging_events_published_total",
		Help: "Total notification events published to the queue.",
	})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "messaging_http_request_duration_seconds",
		Help:    "HTTP request latency by method and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})
)

// Register installs the collectors on the default registry. Call once at
// startup; the middleware and app observe the vars directly.
func Register() {
	prometheus.MustRegister(
		MessagesSent,
		ConversationsCreated,
		EventsPublished,
		HTTPDuration,
	)
}
