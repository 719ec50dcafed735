package mixer

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "egress"
	metricsSubsystem = "mixer"
)

// Metrics holds the mixer collectors shared by every room.
type Metrics struct {
	Ticks        *prometheus.CounterVec
	Frames       *prometheus.CounterVec
	Packets      *prometheus.CounterVec
	Chunks       *prometheus.CounterVec
	Speakers     *prometheus.GaugeVec
	Buffered     *prometheus.GaugeVec
	EncodeErrors *prometheus.CounterVec
}

// NewMetrics creates the mixer collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "ticks_total",
				Help:      "Mix ticks by outcome.",
			},
			[]string{"room", "outcome"},
		),
		Frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "frames_total",
				Help:      "Mixed frames handed to the encoder.",
			},
			[]string{"room"},
		),
		Packets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "packets_total",
				Help:      "Encoded packets written to the segment writer.",
			},
			[]string{"room"},
		),
		Chunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "chunks_total",
				Help:      "PCM chunks routed to speaker buffers.",
			},
			[]string{"room"},
		),
		Speakers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "speakers",
				Help:      "Speaker buffers known to the mixer.",
			},
			[]string{"room"},
		),
		Buffered: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "buffered_samples",
				Help:      "Per-channel samples waiting in speaker buffers.",
			},
			[]string{"room"},
		),
		EncodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "encode_errors_total",
				Help:      "Fatal encode pipeline errors.",
			},
			[]string{"room"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.Ticks, m.Frames, m.Packets, m.Chunks, m.Speakers, m.Buffered, m.EncodeErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// observeTick records the outcome of one engine tick.
func (m *Metrics) observeTick(room string, res TickResult) {
	if m == nil {
		return
	}
	outcome := "silent"
	switch {
	case res.WarmingUp:
		outcome = "warmup"
	case res.Emitted:
		outcome = "mixed"
		m.Frames.WithLabelValues(room).Inc()
	}
	m.Ticks.WithLabelValues(room, outcome).Inc()
}

// Forget drops every series of room. Counters of finished rooms are kept
// until the room leaves the run history.
func (m *Metrics) Forget(room string) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"room": room}
	for _, vec := range []*prometheus.CounterVec{m.Ticks, m.Frames, m.Packets, m.Chunks, m.EncodeErrors} {
		vec.DeletePartialMatch(labels)
	}
	m.forget(room)
}

// forget drops the gauges of a finished room.
func (m *Metrics) forget(room string) {
	if m == nil {
		return
	}
	m.Speakers.DeleteLabelValues(room)
	m.Buffered.DeleteLabelValues(room)
}

func (m *Metrics) addChunks(room string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Chunks.WithLabelValues(room).Add(float64(n))
}

func (m *Metrics) addPackets(room string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Packets.WithLabelValues(room).Add(float64(n))
}

func (m *Metrics) setSpeakers(room string, n int) {
	if m == nil {
		return
	}
	m.Speakers.WithLabelValues(room).Set(float64(n))
}

func (m *Metrics) setBuffered(room string, n int) {
	if m == nil {
		return
	}
	m.Buffered.WithLabelValues(room).Set(float64(n))
}

func (m *Metrics) encodeFailed(room string) {
	if m == nil {
		return
	}
	m.EncodeErrors.WithLabelValues(room).Inc()
}
