package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainstate_websocket_connections",
		Help: "Number of active WebSocket connections",
	})

	wsMessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainstate_websocket_messages_sent_total",
		Help: "Total number of WebSocket messages sent by event kind",
	}, []string{"kind"})

	wsErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainstate_websocket_errors_total",
		Help: "Total number of WebSocket errors by type",
	}, []string{"error_type"})
)

func UpdateConnectionMetrics(count int) {
	wsConnections.Set(float64(count))
}

func IncrementMessageMetrics(kind string, count int) {
	wsMessagesSent.WithLabelValues(kind).Add(float64(count))
}

func IncrementErrorMetrics(errorType string) {
	wsErrors.WithLabelValues(errorType).Inc()
}
