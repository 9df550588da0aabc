// Package metrics provides the Prometheus collectors exported by the hub and
// the notification orchestrator.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	connectedClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chathub_connected_clients",
			Help: "Live client connections per channel",
		},
		[]string{"channel"},
	)
	envelopes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chathub_envelopes_total",
			Help: "Inbound envelopes routed, by type",
		},
		[]string{"type"},
	)
	sendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chathub_send_failures_total",
			Help: "Per-recipient send failures during fan-out",
		},
	)
	relayMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chathub_relay_messages_total",
			Help: "Messages relayed from the external pub/sub feed, by topic",
		},
		[]string{"topic"},
	)
	relayResubscribes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chathub_relay_resubscribes_total",
			Help: "Relay resubscription attempts after an upstream failure",
		},
	)
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chathub_notifications_total",
			Help: "Notifications reaching a terminal status",
		},
		[]string{"status"},
	)
	channelDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chathub_channel_deliveries_total",
			Help: "Per-channel notification delivery attempts",
		},
		[]string{"channel", "result"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chathub_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "code"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chathub_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chathub_http_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		},
	)
)

func init() {
	prometheus.MustRegister(
		connectedClients,
		envelopes,
		sendFailures,
		relayMessages,
		relayResubscribes,
		notifications,
		channelDeliveries,
		httpRequests,
		httpDuration,
		rateLimited,
	)
}

func ClientJoined(channel string) { connectedClients.WithLabelValues(channel).Inc() }
func ClientLeft(channel string)   { connectedClients.WithLabelValues(channel).Dec() }

func EnvelopeRouted(kind string) { envelopes.WithLabelValues(kind).Inc() }
func SendFailed()                { sendFailures.Inc() }

func RelayMessage(topic string) { relayMessages.WithLabelValues(topic).Inc() }
func RelayResubscribe()         { relayResubscribes.Inc() }

func NotificationFinished(status string) { notifications.WithLabelValues(status).Inc() }

// ChannelDelivery records the outcome of one delivery attempt on one channel.
func ChannelDelivery(channel string, ok bool) {
	result := "delivered"
	if !ok {
		result = "failed"
	}
	channelDeliveries.WithLabelValues(channel, result).Inc()
}

func HTTPRequest(method, route, code string, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, code).Inc()
	httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func RateLimited() { rateLimited.Inc() }

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
