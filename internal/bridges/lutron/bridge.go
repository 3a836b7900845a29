package lutron

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Clock schedules callbacks. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the handle returned by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// BridgeOptions holds the dependencies for creating a bridge.
type BridgeOptions struct {
	// Config is the hub connection. Defaults are applied.
	Config Config

	// Dialer opens transports. Default: NetDialer.
	Dialer Dialer

	// Logger is an optional structured logger.
	Logger Logger

	// Metrics is optional; nil disables metrics.
	Metrics *Metrics

	// Clock is optional; nil uses real timers.
	Clock Clock
}

// Bridge is a persistent, self-healing connection to one Lutron hub.
//
// Commands submitted with SendCommand are queued and written in order by
// the active session; they survive reconnects. Inbound messages are
// dispatched to handlers registered by integration id.
type Bridge struct {
	id       string
	registry *Registry
	queue    *commandQueue
	dialer   Dialer
	clock    Clock
	logger   Logger
	metrics  *Metrics
	fanout   *fanout

	// mu guards everything below. Every session change increments epoch;
	// timers and loops compare their captured epoch before acting.
	mu            sync.Mutex
	cfg           Config
	status        Status
	epoch         uint64
	pending       uint64 // epoch of the in-flight connect attempt, 0 if none
	started       bool
	closed        bool
	sess          *session
	retired       []*session
	connectCancel context.CancelFunc

	reconnectTimer Timer
	heartbeatTimer Timer
	timeoutTimer   Timer
	discoveryTimer Timer
	probeSeq       uint64

	// wg tracks connect attempts started by the bridge itself.
	wg sync.WaitGroup

	stats bridgeStats
}

type bridgeStats struct {
	framesReceived  atomic.Uint64
	framesSent      atomic.Uint64
	framesDropped   atomic.Uint64
	dispatched      atomic.Uint64
	unhandled       atomic.Uint64
	commandsDropped atomic.Uint64
	sessions        atomic.Uint64
	keepaliveMisses atomic.Uint64
	lastActivity    atomic.Int64
}

// Stats is a point-in-time view of bridge counters.
type Stats struct {
	FramesReceived  uint64    `json:"frames_received"`
	FramesSent      uint64    `json:"frames_sent"`
	FramesDropped   uint64    `json:"frames_dropped"`
	Dispatched      uint64    `json:"dispatched"`
	Unhandled       uint64    `json:"unhandled"`
	CommandsDropped uint64    `json:"commands_dropped"`
	ObserverDropped uint64    `json:"observer_dropped"`
	Sessions        uint64    `json:"sessions"`
	KeepaliveMisses uint64    `json:"keepalive_misses"`
	QueueDepth      int       `json:"queue_depth"`
	LastActivity    time.Time `json:"last_activity,omitempty"`
	SessionID       string    `json:"session_id,omitempty"`
	ConnectedSince  time.Time `json:"connected_since,omitempty"`
}

// NewBridge creates a bridge in the Disconnected state. Call Connect to
// start it.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	cfg := opts.Config.WithDefaults()
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrConfiguration)
	}

	b := &Bridge{
		id:       cfg.ID,
		registry: NewRegistry(opts.Logger),
		queue:    newCommandQueue(cfg.MaxQueuedCommands),
		dialer:   opts.Dialer,
		clock:    opts.Clock,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		cfg:      cfg,
		status:   Status{State: StateDisconnected, Since: time.Now()},
	}
	if b.dialer == nil {
		b.dialer = NetDialer{}
	}
	if b.clock == nil {
		b.clock = realClock{}
	}
	b.fanout = newFanout(cfg.ID, b.registry, opts.Logger)
	b.metrics.setState(b.id, StateDisconnected)
	return b, nil
}

// ID returns the bridge id.
func (b *Bridge) ID() string { return b.id }

// Status returns the current connection status.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Config returns the active configuration.
func (b *Bridge) Config() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// Register binds a handler to an integration id.
func (b *Bridge) Register(id int, h Handler) { b.registry.Register(id, h) }

// Unregister removes the handler for an integration id.
func (b *Bridge) Unregister(id int) { b.registry.Unregister(id) }

// HandlerCount returns the number of registered handlers.
func (b *Bridge) HandlerCount() int { return len(b.registry.snapshot()) }

// Discovery returns what the hub has reported about its devices (LEAP only).
func (b *Bridge) Discovery() Discovery { return b.registry.Discovery() }

// AddStatusListener subscribes l to status changes.
func (b *Bridge) AddStatusListener(l StatusListener) { b.fanout.addListener(l) }

// AddObserver subscribes o to status changes and dispatched messages.
func (b *Bridge) AddObserver(o Observer) { b.fanout.addObserver(o) }

// SendCommand queues cmd for the hub. It never blocks and never fails for a
// disconnected bridge; commands wait in the queue until a session is up.
func (b *Bridge) SendCommand(cmd Command) {
	_ = b.TrySendCommand(cmd) //nolint:errcheck // drops are logged and counted
}

// TrySendCommand is SendCommand reporting why a command was not queued:
// ErrClosed or ErrQueueFull.
func (b *Bridge) TrySendCommand(cmd Command) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		b.dropCommand(cmd, "closed", ErrClosed)
		return ErrClosed
	}
	return b.enqueue(cmd)
}

func (b *Bridge) enqueue(cmd Command) error {
	err := b.queue.push(cmd)
	if err != nil {
		b.dropCommand(cmd, "queue_full", err)
	}
	b.metrics.setQueueDepth(b.id, b.queue.len())
	return err
}

func (b *Bridge) dropCommand(cmd Command, cause string, err error) {
	b.stats.commandsDropped.Add(1)
	b.metrics.commandDropped(b.id, cause)
	logWarn(b.logger, "dropping command", "bridge_id", b.id, "command", cmd.String(), "error", err)
}

// Connect starts the bridge. It is a no-op while a session is active or
// an attempt is in flight. On failure the bridge goes Offline and, for
// communication errors, schedules a retry; the error is also returned.
//
// Connect must not be called from a Handler callback.
func (b *Bridge) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.started = true
	if b.sess != nil || (b.pending != 0 && b.pending == b.epoch) {
		b.mu.Unlock()
		return nil
	}
	stopTimer(&b.reconnectTimer)
	b.epoch++
	epoch := b.epoch
	b.pending = epoch
	cfg := b.cfg
	attemptCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	b.connectCancel = cancel
	b.setStatusLocked(StateConnecting, ReasonNone, "")
	b.mu.Unlock()
	defer cancel()

	b.awaitRetired()

	t, proto, err := b.establish(attemptCtx, epoch, cfg)
	if err != nil {
		return b.connectFailed(epoch, cfg, err)
	}
	b.startSession(epoch, cfg, t, proto)
	return nil
}

// establish dials and authenticates. The transport is closed on failure.
func (b *Bridge) establish(ctx context.Context, epoch uint64, cfg Config) (Transport, protocol, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	proto, err := protocolFor(cfg.Protocol)
	if err != nil {
		return nil, nil, err
	}

	logInfo(b.logger, "connecting to hub", "bridge_id", b.id, "protocol", proto.name(), "address", cfg.Address())
	t, err := b.dialer.Dial(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	b.transition(epoch, StateAuthenticating)

	// Cancellation (timeout or Disconnect) closes the transport to unblock writes.
	stop := context.AfterFunc(ctx, func() { t.Close() }) //nolint:errcheck // aborting
	err = proto.handshake(ctx, t, cfg)
	if !stop() && err == nil {
		err = fmt.Errorf("%w: %w", ErrCommunication, ctx.Err())
	}
	if err != nil {
		t.Close() //nolint:errcheck // already failing
		return nil, nil, err
	}
	return t, proto, nil
}

func (b *Bridge) connectFailed(epoch uint64, cfg Config, err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending == epoch {
		b.pending = 0
		b.connectCancel = nil
	}
	if epoch != b.epoch || b.closed {
		return err
	}

	reason := reasonFor(err)
	b.setStatusLocked(StateOffline, reason, err.Error())
	if reason == ReasonConfigurationError {
		logError(b.logger, "connect failed; waiting for configuration change", "bridge_id", b.id, "error", err)
		return err
	}

	logWarn(b.logger, "connect failed; will retry", "bridge_id", b.id, "error", err, "retry_in", cfg.ReconnectInterval)
	b.reconnectTimer = b.clock.AfterFunc(cfg.ReconnectInterval, func() { b.retry(epoch) })
	return err
}

// retry is the reconnect timer callback.
func (b *Bridge) retry(epoch uint64) {
	b.mu.Lock()
	stale := epoch != b.epoch || b.closed || !b.started
	b.mu.Unlock()
	if stale {
		return
	}
	_ = b.Connect(context.Background()) //nolint:errcheck // reported through status
}

func (b *Bridge) startSession(epoch uint64, cfg Config, t Transport, proto protocol) {
	b.mu.Lock()
	if b.pending == epoch {
		b.pending = 0
		b.connectCancel = nil
	}
	if epoch != b.epoch || b.closed {
		b.mu.Unlock()
		t.Close() //nolint:errcheck // superseded attempt
		return
	}

	c := proto.newCodec(b.registry, cfg, b.logger)
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:        uuid.NewString(),
		epoch:     epoch,
		transport: t,
		codec:     c,
		ctx:       ctx,
		cancel:    cancel,
		started:   time.Now(),
		init:      c.initCommands(),
	}
	b.sess = s
	b.setStatusLocked(StateInitializing, ReasonNone, "")
	if c.awaitsDiscovery() && cfg.ConnectTimeout > 0 {
		b.discoveryTimer = b.clock.AfterFunc(cfg.ConnectTimeout, func() { b.discoveryExpired(epoch) })
	}
	s.wg.Add(2)
	go b.readLoop(s)
	go b.sendLoop(s)
	b.mu.Unlock()

	b.stats.sessions.Add(1)
	b.metrics.sessionStarted(b.id)
	logInfo(b.logger, "session established", "bridge_id", b.id, "session_id", s.id)

	if !c.awaitsDiscovery() {
		b.markOnline(epoch)
	}
}

func (b *Bridge) markOnline(epoch uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if epoch != b.epoch || b.sess == nil || b.status.State == StateOnline {
		return
	}
	stopTimer(&b.discoveryTimer)
	b.queue.pushFrontAll(b.sess.release())
	b.setStatusLocked(StateOnline, ReasonNone, "")
	b.scheduleHeartbeatLocked(epoch)
}

// transition moves to state if epoch is still current.
func (b *Bridge) transition(epoch uint64, state State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if epoch == b.epoch {
		b.setStatusLocked(state, ReasonNone, "")
	}
}

// sessionFailed is called by a loop whose transport failed. It tears the
// session down and reconnects at once.
func (b *Bridge) sessionFailed(s *session, err error) {
	b.mu.Lock()
	if b.sess == nil || b.sess.epoch != s.epoch || b.closed {
		b.mu.Unlock()
		return
	}
	cleanup := b.teardownLocked(StateOffline, ReasonCommunicationError, err.Error())
	b.wg.Add(1)
	b.mu.Unlock()
	cleanup()

	logWarn(b.logger, "session lost; reconnecting", "bridge_id", b.id, "session_id", s.id, "error", err)
	go func() {
		defer b.wg.Done()
		_ = b.Connect(context.Background()) //nolint:errcheck // reported through status
	}()
}

// discoveryExpired ends a session that is still initializing when the
// discovery deadline passes, and reconnects at once.
func (b *Bridge) discoveryExpired(epoch uint64) {
	b.mu.Lock()
	if epoch != b.epoch || b.sess == nil || b.closed || b.status.State != StateInitializing {
		b.mu.Unlock()
		return
	}
	b.discoveryTimer = nil
	sessionID := b.sess.id
	cleanup := b.teardownLocked(StateOffline, ReasonCommunicationError, ErrDiscoveryTimeout.Error())
	b.mu.Unlock()
	cleanup()

	logWarn(b.logger, "discovery timed out; reconnecting", "bridge_id", b.id, "session_id", sessionID)
	_ = b.Connect(context.Background()) //nolint:errcheck // reported through status
}

// discoveryFailed ends a session whose hub refused a discovery read. The
// next attempt waits for the reconnect interval.
func (b *Bridge) discoveryFailed(s *session, err error) {
	b.mu.Lock()
	if b.sess == nil || b.sess.epoch != s.epoch || b.closed {
		b.mu.Unlock()
		return
	}
	cleanup := b.teardownLocked(StateOffline, reasonFor(err), err.Error())
	epoch := b.epoch
	interval := b.cfg.ReconnectInterval
	b.reconnectTimer = b.clock.AfterFunc(interval, func() { b.retry(epoch) })
	b.mu.Unlock()
	cleanup()

	logWarn(b.logger, "discovery failed; will retry", "bridge_id", b.id, "session_id", s.id, "error", err, "retry_in", interval)
}

// teardownLocked ends the current session and cancels every timer and any
// in-flight connect. The returned func closes the transport and must be
// called after mu is released.
func (b *Bridge) teardownLocked(state State, reason Reason, detail string) func() {
	b.epoch++
	b.probeSeq++
	stopTimer(&b.heartbeatTimer)
	stopTimer(&b.timeoutTimer)
	stopTimer(&b.reconnectTimer)
	stopTimer(&b.discoveryTimer)
	if b.connectCancel != nil {
		b.connectCancel()
		b.connectCancel = nil
	}
	b.pending = 0
	b.setStatusLocked(state, reason, detail)

	s := b.sess
	if s == nil {
		return func() {}
	}
	b.sess = nil
	s.cancel()
	b.queue.pushFrontAll(s.release())
	b.retired = append(b.retired, s)
	return func() {
		s.transport.Close() //nolint:errcheck // teardown
	}
}

// awaitRetired waits for the loops of torn-down sessions to exit.
func (b *Bridge) awaitRetired() {
	b.mu.Lock()
	retired := slices.Clone(b.retired)
	b.mu.Unlock()

	for _, s := range retired {
		s.wg.Wait()
	}

	b.mu.Lock()
	b.retired = slices.DeleteFunc(b.retired, func(s *session) bool { return slices.Contains(retired, s) })
	b.mu.Unlock()
}

// Disconnect stops the bridge: timers are cancelled, the session is torn
// down and no reconnect is scheduled. It is idempotent and safe to call
// from timer callbacks.
func (b *Bridge) Disconnect() {
	b.mu.Lock()
	b.started = false
	cleanup := b.teardownLocked(StateDisconnected, ReasonNone, "")
	b.mu.Unlock()
	cleanup()
}

// Reconnect drops the current session, if any, and connects again.
func (b *Bridge) Reconnect() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	cleanup := b.teardownLocked(StateDisconnected, ReasonNone, "")
	b.wg.Add(1)
	b.mu.Unlock()
	cleanup()

	logInfo(b.logger, "reconnect requested", "bridge_id", b.id)
	go func() {
		defer b.wg.Done()
		_ = b.Connect(context.Background()) //nolint:errcheck // reported through status
	}()
}

// UpdateConfig applies a new configuration. A change to any connection
// parameter rebuilds the session if the bridge is started; other changes
// take effect as timers are next scheduled. The bridge id cannot change.
func (b *Bridge) UpdateConfig(cfg Config) {
	cfg = cfg.WithDefaults()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if cfg.ID != b.id {
		logWarn(b.logger, "ignoring bridge id change", "bridge_id", b.id, "new_id", cfg.ID)
		cfg.ID = b.id
	}
	prev := b.cfg
	b.cfg = cfg
	b.queue.setLimit(cfg.MaxQueuedCommands)

	restart := b.started && prev.connectionChanged(cfg)
	cleanup := func() {}
	if restart {
		cleanup = b.teardownLocked(StateDisconnected, ReasonNone, "")
		b.wg.Add(1)
	}
	b.mu.Unlock()

	if !restart {
		return
	}
	cleanup()
	logInfo(b.logger, "connection settings changed; reconnecting", "bridge_id", b.id)
	go func() {
		defer b.wg.Done()
		_ = b.Connect(context.Background()) //nolint:errcheck // reported through status
	}()
}

// Close disconnects and releases the bridge. It waits for the session loops
// and must not be called from a Handler callback.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	cleanup := b.teardownLocked(StateDisconnected, ReasonNone, "")
	b.closed = true
	b.mu.Unlock()
	cleanup()

	b.wg.Wait()
	b.awaitRetired()
	b.fanout.stop()
	return nil
}

// Stats returns a snapshot of bridge counters.
func (b *Bridge) Stats() Stats {
	st := Stats{
		FramesReceived:  b.stats.framesReceived.Load(),
		FramesSent:      b.stats.framesSent.Load(),
		FramesDropped:   b.stats.framesDropped.Load(),
		Dispatched:      b.stats.dispatched.Load(),
		Unhandled:       b.stats.unhandled.Load(),
		CommandsDropped: b.stats.commandsDropped.Load(),
		ObserverDropped: b.fanout.dropped.Load(),
		Sessions:        b.stats.sessions.Load(),
		KeepaliveMisses: b.stats.keepaliveMisses.Load(),
		QueueDepth:      b.queue.len(),
	}
	if ns := b.stats.lastActivity.Load(); ns != 0 {
		st.LastActivity = time.Unix(0, ns)
	}

	b.mu.Lock()
	if b.sess != nil {
		st.SessionID = b.sess.id
		st.ConnectedSince = b.sess.started
	}
	b.mu.Unlock()
	return st
}

func (b *Bridge) setStatusLocked(state State, reason Reason, detail string) {
	next := Status{State: state, Reason: reason, Detail: detail, Since: time.Now()}
	if next.sameAs(b.status) {
		return
	}
	b.status = next
	b.metrics.setState(b.id, state)
	b.fanout.status(next)
	logInfo(b.logger, "bridge status changed", "bridge_id", b.id, "status", next.String())
}

func stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
