// Package metrics holds the prometheus collectors of the real-time core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_sent_total",
		Help: "Messages persisted through the send path.",
	})

	MessageDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_message_denials_total",
		Help: "Sends refused by gating, validation or rate limiting.",
	}, []string{"reason"})

	NotificationsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_notifications_created_total",
		Help: "Notifications persisted.",
	})

	LiveSessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_live_sessions",
		Help: "Authenticated socket sessions per namespace.",
	}, []string{"namespace"})

	LiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_live_streams",
		Help: "Registered server-push notification streams.",
	})

	BroadcastDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_broadcast_deliveries_total",
		Help: "Frames handed to live sessions by room broadcasts.",
	}, []string{"namespace"})
)

func init() {
	prometheus.MustRegister(
		MessagesSent,
		MessageDenials,
		NotificationsCreated,
		LiveSessions,
		LiveStreams,
		BroadcastDeliveries,
	)
}
