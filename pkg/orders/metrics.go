package orders

import "github.com/prometheus/client_golang/prometheus"

var (
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posedge_orders_commands_total",
			Help: "Total number of commands processed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "posedge_orders_command_duration_seconds",
			Help:    "Time taken to process and persist one command",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	ActiveOrdersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "posedge_orders_active_total",
			Help: "Current number of orders in Active status",
		},
	)

	SubscriberDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "posedge_orders_subscriber_drops_total",
			Help: "Total number of events dropped because a subscriber's buffer was full",
		},
	)
)

func init() {
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(CommandDuration)
	prometheus.MustRegister(ActiveOrdersGauge)
	prometheus.MustRegister(SubscriberDropsTotal)
}
