package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Chat messages handled by the pipeline, by outcome.",
	}, []string{"outcome"})

	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_rejections_total",
		Help: "Pipeline rejections, by error kind.",
	}, []string{"kind"})

	persistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_persistence_failures_total",
		Help: "Chat messages broadcast despite a failed store write.",
	})

	broadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_broadcast_deliveries_total",
		Help: "Individual deliveries attempted by the broadcaster.",
	})
)
