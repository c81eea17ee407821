package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(usersRegisteredTotal, telegramCommandsTotal, telegramRateLimitedTotal)
}

var (
	usersRegisteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "users_registered_total",
			Help: "Users created on their first contact with the bot.",
		},
	)

	telegramCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_commands_total",
			Help: "Bot commands and menu callbacks received.",
		},
		[]string{"command"},
	)

	telegramRateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_rate_limited_total",
			Help: "Updates dropped by the per-user rate limiter.",
		},
		[]string{"command"},
	)
)

func IncUsersRegistered() { usersRegisteredTotal.Inc() }

func IncTelegramCommand(command string) {
	telegramCommandsTotal.WithLabelValues(norm(command)).Inc()
}

func IncRateLimitTriggered(command string) {
	telegramRateLimitedTotal.WithLabelValues(norm(command)).Inc()
}
