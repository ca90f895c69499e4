package recorder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "streamget"

type metrics struct {
	attempts     *prometheus.CounterVec
	reconnects   prometheus.Counter
	bytesWritten prometheus.Counter
	state        *prometheus.GaugeVec
	deadlineSet  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)

	return &metrics{
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: module,
			Name:      "connect_attempts_total",
			Help:      "Stream open attempts by phase and result.",
		}, []string{"phase", "result"}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: module,
			Name:      "reconnects_total",
			Help:      "Connections that delivered data again after the stream was lost.",
		}),
		bytesWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: module,
			Name:      "bytes_written_total",
			Help:      "Bytes appended to the output file.",
		}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: module,
			Name:      "session_state",
			Help:      "1 for the current session state, 0 otherwise.",
		}, []string{"state"}),
		deadlineSet: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: module,
			Name:      "time_limit_armed",
			Help:      "Whether the recording time limit is counting down.",
		}),
	}
}

func (m *metrics) setState(s State) {
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		m.state.WithLabelValues(st.String()).Set(v)
	}
}
