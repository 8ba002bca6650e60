package editor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collabtext_active_connections",
		Help: "Currently connected websocket sessions.",
	})

	messagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collabtext_messages_received_total",
		Help: "Inbound protocol messages decoded from clients.",
	})

	messagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collabtext_messages_sent_total",
		Help: "Outbound protocol messages enqueued to clients.",
	})

	opsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collabtext_ops_applied_total",
		Help: "Operations accepted by a document authority.",
	})

	opFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collabtext_op_failures_total",
		Help: "Operations rejected by a document authority, by kind.",
	}, []string{"kind"})

	persists = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collabtext_persists_total",
		Help: "Successful document write-backs.",
	})

	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collabtext_persist_failures_total",
		Help: "Failed document write-backs.",
	})
)
