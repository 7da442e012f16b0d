package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "cyphbot_connection_state", Help: "Connection state (0 initializing, 1 connecting, 2 open, 3 closed, 4 fatal)"},
	)
	Reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cyphbot_reconnects_total", Help: "Connection closes by classification"},
		[]string{"class"},
	)
	ScheduleOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cyphbot_schedule_ops_total", Help: "Scheduler operations"},
		[]string{"op", "result"},
	)
	ScheduleFires = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cyphbot_schedule_fires_total", Help: "Scheduled send fire outcomes"},
		[]string{"result"},
	)
	DeliverySend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cyphbot_delivery_send_total", Help: "Outbound send outcomes"},
		[]string{"result"},
	)
	DeliveryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "cyphbot_delivery_latency_seconds", Help: "Outbound send latency"},
	)
	Commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cyphbot_commands_total", Help: "Command executions"},
		[]string{"command", "result"},
	)
	GateDenials = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cyphbot_gate_denials_total", Help: "Commands rejected by private mode"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		ConnectionState,
		Reconnects,
		ScheduleOps,
		ScheduleFires,
		DeliverySend,
		DeliveryLatency,
		Commands,
		GateDenials,
	)
}
