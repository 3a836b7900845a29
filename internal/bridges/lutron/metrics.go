package lutron

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "graylogic"
	metricsSubsystem = "lutron"
)

// Metrics holds the Prometheus collectors shared by every bridge in the
// process. All series are labelled by bridge id. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	framesReceived  *prometheus.CounterVec // By bridge
	framesSent      *prometheus.CounterVec // By bridge
	framesDropped   *prometheus.CounterVec // By bridge
	dispatched      *prometheus.CounterVec // By bridge and handled (true/false)
	commandsDropped *prometheus.CounterVec // By bridge and cause (queue_full/unencodable/closed)
	observerDropped *prometheus.CounterVec // By bridge
	sessions        *prometheus.CounterVec // By bridge
	keepaliveMisses *prometheus.CounterVec // By bridge

	state      *prometheus.GaugeVec // By bridge; numeric State
	online     *prometheus.GaugeVec // By bridge; 1 when online
	queueDepth *prometheus.GaugeVec // By bridge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		}, append([]string{"bridge"}, labels...))
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		}, []string{"bridge"})
	}

	m := &Metrics{
		framesReceived:  counter("frames_received_total", "Inbound frames parsed from the hub"),
		framesSent:      counter("frames_sent_total", "Command lines written to the hub"),
		framesDropped:   counter("frames_dropped_total", "Inbound frames dropped as unparseable"),
		dispatched:      counter("messages_dispatched_total", "Parsed messages offered to handlers", "handled"),
		commandsDropped: counter("commands_dropped_total", "Outbound commands discarded", "cause"),
		observerDropped: counter("observer_events_dropped_total", "Observer events dropped because the queue was full"),
		sessions:        counter("sessions_total", "Sessions established"),
		keepaliveMisses: counter("keepalive_timeouts_total", "Keepalive probes that went unanswered"),
		state:           gauge("state", "Bridge state (0 disconnected .. 4 online, 5 offline)"),
		online:          gauge("online", "1 when the bridge is online"),
		queueDepth:      gauge("queue_depth", "Commands waiting to be sent"),
	}

	for _, c := range []prometheus.Collector{
		m.framesReceived, m.framesSent, m.framesDropped, m.dispatched, m.commandsDropped,
		m.observerDropped, m.sessions, m.keepaliveMisses, m.state, m.online, m.queueDepth,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) frameReceived(bridge string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(bridge).Inc()
}

func (m *Metrics) frameSent(bridge string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(bridge).Inc()
}

func (m *Metrics) frameDropped(bridge string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(bridge).Inc()
}

func (m *Metrics) messageDispatched(bridge string, handled bool) {
	if m == nil {
		return
	}
	label := "false"
	if handled {
		label = "true"
	}
	m.dispatched.WithLabelValues(bridge, label).Inc()
}

func (m *Metrics) commandDropped(bridge, cause string) {
	if m == nil {
		return
	}
	m.commandsDropped.WithLabelValues(bridge, cause).Inc()
}

func (m *Metrics) observerEventDropped(bridge string) {
	if m == nil {
		return
	}
	m.observerDropped.WithLabelValues(bridge).Inc()
}

func (m *Metrics) sessionStarted(bridge string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(bridge).Inc()
}

func (m *Metrics) keepaliveMissed(bridge string) {
	if m == nil {
		return
	}
	m.keepaliveMisses.WithLabelValues(bridge).Inc()
}

func (m *Metrics) setState(bridge string, s State) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(bridge).Set(float64(s))
	online := 0.0
	if s == StateOnline {
		online = 1
	}
	m.online.WithLabelValues(bridge).Set(online)
}

func (m *Metrics) setQueueDepth(bridge string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(bridge).Set(float64(n))
}
