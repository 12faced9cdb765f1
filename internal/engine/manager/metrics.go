package manager

import (
	"WiFiSpectra/internal/registry"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the manager's view of the capture cycle. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	scans     prometheus.Counter
	commonAPs prometheus.Gauge
	phase     prometheus.Gauge
	samples   *prometheus.CounterVec
	average   *prometheus.GaugeVec
	rejected  prometheus.Counter
}

// NewMetrics creates the manager metrics and registers them on reg. The node
// gauges read nodes at scrape time.
func NewMetrics(reg prometheus.Registerer, nodes *registry.Registry) *Metrics {
	m := &Metrics{
		scans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wfs_manager_scans_total",
			Help: "Scan commands broadcast.",
		}),
		commonAPs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wfs_manager_common_aps",
			Help: "Access points seen by every ready node in the last scan.",
		}),
		phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wfs_manager_phase",
			Help: "Current phase: 0 idle, 1 searching, 2 selecting, 3 capturing.",
		}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wfs_manager_samples_total",
			Help: "Normalized RSSI samples recorded, by node.",
		}, []string{"node"}),
		average: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wfs_manager_rssi_average_dbm",
			Help: "Current RSSI baseline, by node.",
		}, []string{"node"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wfs_manager_registrations_rejected_total",
			Help: "Registrations refused because the client limit was reached.",
		}),
	}
	registered := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "wfs_manager_registered_nodes",
		Help: "Registered capture nodes, crashed ones included.",
	}, func() float64 { return float64(nodes.Len()) })
	ready := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "wfs_manager_ready_nodes",
		Help: "Capture nodes ready to take commands.",
	}, func() float64 { return float64(nodes.ReadyCount()) })

	reg.MustRegister(m.scans, m.commonAPs, m.phase, m.samples, m.average, m.rejected, registered, ready)
	return m
}

func (m *Metrics) scan() {
	if m != nil {
		m.scans.Inc()
	}
}

func (m *Metrics) setCommon(n int) {
	if m != nil {
		m.commonAPs.Set(float64(n))
	}
}

func (m *Metrics) setPhase(p Phase) {
	if m != nil {
		m.phase.Set(float64(p))
	}
}

func (m *Metrics) sample(node string, average float64) {
	if m != nil {
		m.samples.WithLabelValues(node).Inc()
		m.average.WithLabelValues(node).Set(average)
	}
}

func (m *Metrics) forget(node string) {
	if m != nil {
		m.samples.DeleteLabelValues(node)
		m.average.DeleteLabelValues(node)
	}
}

func (m *Metrics) reject() {
	if m != nil {
		m.rejected.Inc()
	}
}
