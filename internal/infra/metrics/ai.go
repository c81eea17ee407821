package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		aiTokensTotal,
		aiCallsLatency,
		aiPrecheckBlocks,
	)
}

var (
	aiTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_total",
			Help: "Sum of total tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiCallsLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_calls_latency_seconds",
			Help:    "AI call latency distribution in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 30, 60},
		},
		[]string{"provider", "model", "success"},
	)

	aiPrecheckBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_precheck_blocks_total",
			Help: "Messages rejected before the provider call, by reason.",
		},
		[]string{"reason"}, // limit, capability, voice_too_long, no_model, busy
	)
)

func ObserveAIRequest(provider, model string, d time.Duration, success bool) {
	aiCallsLatency.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).Observe(d.Seconds())
}

func AddAITokens(provider, model string, tokens int) {
	if tokens <= 0 {
		return
	}
	aiTokensTotal.WithLabelValues(norm(provider), norm(model)).Add(float64(tokens))
}

func PrecheckBlocked(reason string) {
	aiPrecheckBlocks.WithLabelValues(norm(reason)).Inc()
}
