package util

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BlocksIndexed tracks total blocks successfully written.
	BlocksIndexed prometheus.Counter

	// ReorgsDetected tracks total reorg records created.
	ReorgsDetected prometheus.Counter

	// ReorgDepthBlocks observes the span of each detected reorg.
	ReorgDepthBlocks prometheus.Histogram

	// IndexLagBlocks tracks how many blocks a blockchain is behind its node's tip.
	IndexLagBlocks *prometheus.GaugeVec

	// RPCErrors tracks node RPC errors by classified type.
	RPCErrors *prometheus.CounterVec

	// BackfillDuration tracks wall time of a bootstrap run.
	BackfillDuration prometheus.Histogram
)

// Init registers the Prometheus collectors. Safe to call once per process.
func Init() error {
	BlocksIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainstate_blocks_indexed_total",
		Help: "Total number of blocks written to the store",
	})

	ReorgsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainstate_reorgs_detected_total",
		Help: "Total number of reorg records created",
	})

	ReorgDepthBlocks = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chainstate_reorg_depth_blocks",
		Help:    "Span, in blocks, of each detected reorg",
		Buckets: []float64{1, 2, 3, 5, 10, 25, 50, 100},
	})

	IndexLagBlocks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chainstate_index_lag_blocks",
		Help: "Blocks behind the node's reported tip, per blockchain",
	}, []string{"blockchain"})

	RPCErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainstate_node_rpc_errors_total",
		Help: "Total node RPC errors by classified type",
	}, []string{"error_type"})

	BackfillDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chainstate_backfill_duration_seconds",
		Help:    "Wall time of a bootstrap run",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	return nil
}

func RecordBlockIndexed() {
	if BlocksIndexed != nil {
		BlocksIndexed.Inc()
	}
}

func RecordReorgDetected(depthBlocks int) {
	if ReorgsDetected != nil {
		ReorgsDetected.Inc()
	}
	if ReorgDepthBlocks != nil {
		ReorgDepthBlocks.Observe(float64(depthBlocks))
	}
}

func SetIndexLagBlocks(blockchain string, lag float64) {
	if IndexLagBlocks != nil {
		IndexLagBlocks.WithLabelValues(blockchain).Set(lag)
	}
}

// RecordRPCError increments the RPC error counter for one of: transport, not_found, unknown.
func RecordRPCError(errorType string) {
	if RPCErrors == nil {
		return
	}
	switch errorType {
	case "transport", "not_found", "unknown":
		RPCErrors.WithLabelValues(errorType).Inc()
	default:
		RPCErrors.WithLabelValues("unknown").Inc()
	}
}

func RecordBackfillDuration(seconds float64) {
	if BackfillDuration != nil && seconds >= 0 {
		BackfillDuration.Observe(seconds)
	}
}

func GetMetricsPort() string {
	if p := os.Getenv("METRICS_PORT"); p != "" {
		return p
	}
	return "9090"
}

func GetMetricsEndpoint() string {
	if e := os.Getenv("METRICS_ENDPOINT"); e != "" {
		return e
	}
	return "/metrics"
}

// StartMetricsServer blocks serving the Prometheus handler; call it from a goroutine.
func StartMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle(GetMetricsEndpoint(), promhttp.Handler())

	addr := fmt.Sprintf(":%s", GetMetricsPort())
	Info("starting metrics server", "address", addr)

	if err := http.ListenAndServe(addr, mux); err != nil {
		return fmt.Errorf("metrics server error: %w", err)
	}
	return nil
}
