package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	// CommandAttemptsTotal counts physical sends by device, command and attempt outcome.
	CommandAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenhouse_command_attempts_total",
			Help: "Physical command sends to the actuator node.",
		},
		[]string{"device", "command", "outcome"},
	)

	// DispatchTotal counts dispatches by final outcome (success/failure).
	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenhouse_dispatch_total",
			Help: "Dispatched commands by final outcome.",
		},
		[]string{"device", "command", "outcome"},
	)

	DispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "greenhouse_dispatch_latency_seconds",
			Help:    "Time from first send attempt to final outcome, including settle and backoff.",
			Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13},
		},
		[]string{"command"},
	)

	// DevicePosition is the persisted percentage of timed devices, or 1/0 for binary ones.
	DevicePosition = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "greenhouse_device_position",
			Help: "Last persisted device position.",
		},
		[]string{"device"},
	)

	SensorValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "greenhouse_sensor_value",
			Help: "Last accepted sensor reading.",
		},
		[]string{"sensor"},
	)

	SensorRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenhouse_sensor_rejected_total",
			Help: "Sensor readings dropped because they were out of range or unreadable.",
		},
		[]string{"sensor"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		CommandAttemptsTotal,
		DispatchTotal,
		DispatchLatency,
		DevicePosition,
		SensorValue,
		SensorRejectedTotal,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
