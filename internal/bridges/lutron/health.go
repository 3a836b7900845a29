package lutron

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// defaultHealthInterval is how often health is published.
const defaultHealthInterval = 30 * time.Second

// statsMeasurement is the InfluxDB measurement for bridge statistics.
const statsMeasurement = "lutron_bridge"

// HealthPublisher publishes health messages. The MQTT client implements it.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// StatsWriter records bridge statistics as time-series points. The
// InfluxDB client implements it.
type StatsWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any)
	Flush()
}

// HealthSource is the bridge view the reporter needs. *Bridge implements it.
type HealthSource interface {
	ID() string
	Status() Status
	Stats() Stats
	Config() Config
	HandlerCount() int
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Version is the bridge software version.
	Version string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Source is the bridge being reported on.
	Source HealthSource

	// Publisher is the MQTT client. Optional.
	Publisher HealthPublisher

	// Stats is the time-series writer. Optional.
	Stats StatsWriter

	// Logger is optional.
	Logger Logger
}

// HealthReporter periodically publishes bridge health to MQTT and writes
// bridge counters to the time-series store. It also listens for status
// changes so a drop offline is reported without waiting for the next tick.
type HealthReporter struct {
	version   string
	interval  time.Duration
	startTime time.Time
	source    HealthSource
	publisher HealthPublisher
	stats     StatsWriter
	logger    Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &HealthReporter{
		version:   cfg.Version,
		interval:  interval,
		startTime: time.Now(),
		source:    cfg.Source,
		publisher: cfg.Publisher,
		stats:     cfg.Stats,
		logger:    cfg.Logger,
		done:      make(chan struct{}),
	}
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status. Safe to
// call more than once.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		if h.stats != nil {
			h.writeStats()
			h.stats.Flush()
		}
		//nolint:errcheck // best effort during shutdown
		h.publishStatus(HealthStopping, "bridge stopping")
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// BridgeStatusChanged implements StatusListener.
func (h *HealthReporter) BridgeStatusChanged(Status) {
	select {
	case <-h.done:
		return
	default:
	}
	if err := h.PublishNow(); err != nil {
		logWarn(h.logger, "failed to publish health", "bridge_id", h.source.ID(), "error", err)
	}
}

// LWTTopic returns the topic for the MQTT last will.
func (h *HealthReporter) LWTTopic() string {
	return HealthTopic(h.source.ID())
}

// LWTPayload returns the MQTT last will payload.
func (h *HealthReporter) LWTPayload() ([]byte, error) {
	return json.Marshal(NewLWTMessage(h.source.ID()))
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *HealthReporter) tick() {
	if err := h.PublishNow(); err != nil {
		logWarn(h.logger, "failed to publish health", "bridge_id", h.source.ID(), "error", err)
	}
	h.writeStats()
}

// determineStatus maps bridge status to health. A configuration error needs
// an operator; a communication error heals itself.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	st := h.source.Status()
	switch {
	case st.State == StateOffline && st.Reason == ReasonConfigurationError:
		return HealthUnhealthy, st.String()
	case st.State == StateOffline:
		return HealthDegraded, st.String()
	case st.State == StateDisconnected:
		return HealthDegraded, "bridge disconnected"
	case !st.Online():
		return HealthStarting, st.State.String()
	case h.publisher != nil && !h.publisher.IsConnected():
		return HealthDegraded, "MQTT disconnected"
	default:
		return HealthHealthy, ""
	}
}

func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	st := h.source.Status()
	stats := h.source.Stats()
	cfg := h.source.Config()

	conn := &ConnectionStatus{
		State:    st.State,
		Reason:   st.Reason,
		Protocol: cfg.Protocol,
		Address:  cfg.Address(),
	}
	if !stats.ConnectedSince.IsZero() {
		since := stats.ConnectedSince.UTC()
		conn.ConnectedSince = &since
	}

	return HealthMessage{
		Bridge:             h.source.ID(),
		Timestamp:          time.Now().UTC(),
		Status:             status,
		Version:            h.version,
		UptimeSeconds:      int64(time.Since(h.startTime).Seconds()),
		Connection:         conn,
		Statistics:         &stats,
		HandlersRegistered: h.source.HandlerCount(),
		Reason:             reason,
	}
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return nil
	}
	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(HealthTopic(h.source.ID()), payload, 1, true)
}

func (h *HealthReporter) writeStats() {
	if h.stats == nil {
		return
	}
	st := h.source.Status()
	stats := h.source.Stats()
	online := 0
	if st.Online() {
		online = 1
	}
	h.stats.WritePoint(statsMeasurement,
		map[string]string{"bridge_id": h.source.ID()},
		map[string]any{
			"online":           online,
			"state":            int(st.State),
			"frames_received":  int64(stats.FramesReceived),
			"frames_sent":      int64(stats.FramesSent),
			"frames_dropped":   int64(stats.FramesDropped),
			"dispatched":       int64(stats.Dispatched),
			"unhandled":        int64(stats.Unhandled),
			"commands_dropped": int64(stats.CommandsDropped),
			"sessions":         int64(stats.Sessions),
			"keepalive_misses": int64(stats.KeepaliveMisses),
			"queue_depth":      stats.QueueDepth,
		})
}
