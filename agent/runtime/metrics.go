package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("chative.agent.runtime")

var (
	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_runtime_tool_calls_total",
		Help: "Tool dispatches by tool and resulting status",
	}, []string{"tool", "status"})

	loopStopsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_runtime_loop_stops_total",
		Help: "Completed agent loops by route and stop reason",
	}, []string{"route", "reason"})

	loopTurns = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assistant_runtime_loop_turns",
		Help:    "Turns used per agent loop",
		Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 15},
	}, []string{"route"})
)
