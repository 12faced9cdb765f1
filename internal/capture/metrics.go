package capture

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts what the capture engine sees. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	framesRead     prometheus.Counter
	framesDropped  prometheus.Counter
	beacons        prometheus.Counter
	apsDiscovered  prometheus.Counter
	packets        prometheus.Counter
	batchesEmitted *prometheus.CounterVec
}

// NewMetrics creates the engine metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wfs_node_frames_read_total",
			Help: "Frames read from the capture source.",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wfs_node_frames_dropped_total",
			Help: "Frames that failed to decode.",
		}),
		beacons: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wfs_node_beacons_total",
			Help: "Beacon frames decoded.",
		}),
		apsDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wfs_node_aps_discovered_total",
			Help: "Distinct access points added during discovery sweeps.",
		}),
		packets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wfs_node_packets_captured_total",
			Help: "Beacons of the selected access point accepted for sampling.",
		}),
		batchesEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wfs_node_batches_emitted_total",
			Help: "Telemetry batches emitted, by payload type.",
		}, []string{"type"}),
	}
	reg.MustRegister(m.framesRead, m.framesDropped, m.beacons, m.apsDiscovered, m.packets, m.batchesEmitted)
	return m
}

func (m *Metrics) frameRead() {
	if m != nil {
		m.framesRead.Inc()
	}
}

func (m *Metrics) frameDropped() {
	if m != nil {
		m.framesDropped.Inc()
	}
}

func (m *Metrics) beacon() {
	if m != nil {
		m.beacons.Inc()
	}
}

func (m *Metrics) apDiscovered() {
	if m != nil {
		m.apsDiscovered.Inc()
	}
}

func (m *Metrics) packet() {
	if m != nil {
		m.packets.Inc()
	}
}

func (m *Metrics) batch(kind string) {
	if m != nil {
		m.batchesEmitted.WithLabelValues(kind).Inc()
	}
}
