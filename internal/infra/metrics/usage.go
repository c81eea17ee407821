package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		usageDebitsTotal,
		usageDebitMismatchTotal,
	)
}

var (
	usageDebitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_debits_total",
			Help: "Debit attempts per funding source and result.",
		},
		[]string{"source", "result"}, // source: subscription|packet|free; result: accepted|rejected|error
	)

	usageDebitMismatchTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "usage_debit_mismatch_total",
			Help: "Answers whose pre-check passed but no funding source accepted the debit.",
		},
	)
)

func IncUsageDebit(source, result string) {
	usageDebitsTotal.WithLabelValues(norm(source), norm(result)).Inc()
}

func IncDebitMismatch() {
	usageDebitMismatchTotal.Inc()
}
