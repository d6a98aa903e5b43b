package negotiation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus counters for the coordinator role. They aggregate across
// cycles; per-cycle detail is available through klog at verbosity 2.
var (
	metricCycles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "collectives",
		Subsystem: "negotiation",
		Name:      "cycles_total",
		Help:      "Number of negotiation cycles completed by the coordinator.",
	})

	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collectives",
		Subsystem: "negotiation",
		Name:      "requests_total",
		Help:      "Number of tensor requests collected, by operation.",
	}, []string{"operation"})

	metricErrorResponses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "collectives",
		Subsystem: "negotiation",
		Name:      "error_responses_total",
		Help:      "Number of ERROR responses emitted for tensors whose requests disagreed across ranks.",
	})

	metricFusedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "collectives",
		Subsystem: "negotiation",
		Name:      "fused_responses_total",
		Help:      "Number of responses covering more than one tensor, after fusion.",
	})

	metricShutdowns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "collectives",
		Subsystem: "negotiation",
		Name:      "shutdowns_total",
		Help:      "Number of cycles short-circuited by a rank requesting shutdown.",
	})
)
