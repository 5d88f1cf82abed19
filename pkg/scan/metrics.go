package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/OpenTraceLab/OpenTraceEMFI/pkg/monitor"
)

// Metrics exports scan progress to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	pulses     *prometheus.CounterVec
	attempts   *prometheus.CounterVec
	recoveries prometheus.Counter
	positions  prometheus.Counter
	voltage    prometheus.Gauge
}

// NewMetrics registers the scan collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		pulses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emfi_pulses_total",
				Help: "Pulses fired, by recorded debug status",
			},
			[]string{"status"},
		),
		attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emfi_monitor_attempts_total",
				Help: "Debug session attempts made by the monitor, by result",
			},
			[]string{"result"},
		),
		recoveries: f.NewCounter(prometheus.CounterOpts{
			Name: "emfi_fault_recoveries_total",
			Help: "Clear and re-arm cycles run on the pulse generator",
		}),
		positions: f.NewCounter(prometheus.CounterOpts{
			Name: "emfi_positions_total",
			Help: "Grid positions visited",
		}),
		voltage: f.NewGauge(prometheus.GaugeOpts{
			Name: "emfi_voltage_volts",
			Help: "Voltage of the most recent pulse",
		}),
	}
}

func (m *Metrics) observePulse(status monitor.Status, volts int) {
	if m == nil {
		return
	}
	m.pulses.WithLabelValues(status.String()).Inc()
	m.voltage.Set(float64(volts))
}

func (m *Metrics) observePosition() {
	if m == nil {
		return
	}
	m.positions.Inc()
}

// ObserveRecovery counts one fault clearing cycle. It fits
// pulser.WithRecoveryHook.
func (m *Metrics) ObserveRecovery() {
	if m == nil {
		return
	}
	m.recoveries.Inc()
}

// ObserveAttempt counts a monitor attempt. It fits monitor.WithObserver;
// silent attempts are counted as "silent".
func (m *Metrics) ObserveAttempt(status monitor.Status, emitted bool) {
	if m == nil {
		return
	}
	result := "silent"
	if emitted {
		result = status.String()
	}
	m.attempts.WithLabelValues(result).Inc()
}
