package lutron

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"
)

// lipLogin is the prompt script of a hub accepting the first login.
var lipLogin = []string{promptLogin, promptPassword, promptGNET}

// fakeTransport is a scripted Transport. WaitFor answers from prompts in
// order; inbound lines are pushed with send.
type fakeTransport struct {
	mu        sync.Mutex
	prompts   []string
	written   []string
	writtenAt []time.Time
	failWrite func(line string) error

	inbound   chan string
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport(prompts ...string) *fakeTransport {
	return &fakeTransport{
		prompts: prompts,
		inbound: make(chan string, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) ReadLine() (string, error) {
	select {
	case line := <-f.inbound:
		return line, nil
	case <-f.closed:
		return "", fmt.Errorf("%w: closed", ErrConnectionLost)
	}
}

func (f *fakeTransport) WaitFor(ctx context.Context, tokens ...string) (string, error) {
	f.mu.Lock()
	if len(f.prompts) == 0 {
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %w", ErrCommunication, ctx.Err())
		case <-f.closed:
			return "", fmt.Errorf("%w: closed", ErrConnectionLost)
		}
	}
	next := f.prompts[0]
	f.prompts = f.prompts[1:]
	f.mu.Unlock()

	if !slices.Contains(tokens, next) {
		return "", fmt.Errorf("%w: got %q waiting for %v", ErrProtocol, next, tokens)
	}
	return next, nil
}

func (f *fakeTransport) WriteLine(line string) error {
	select {
	case <-f.closed:
		return fmt.Errorf("%w: closed", ErrCommunication)
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite != nil {
		if err := f.failWrite(line); err != nil {
			return err
		}
	}
	f.written = append(f.written, line)
	f.writtenAt = append(f.writtenAt, time.Now())
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) send(line string) { f.inbound <- line }

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.written)
}

// writeTime returns when line was first written.
func (f *fakeTransport) writeTime(line string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := slices.Index(f.written, line)
	if i < 0 {
		return time.Time{}, false
	}
	return f.writtenAt[i], true
}

func (f *fakeTransport) wrote(line string) bool {
	return slices.Contains(f.lines(), line)
}

// fakeDialer hands out queued transports, then fresh LIP logins.
type fakeDialer struct {
	mu      sync.Mutex
	next    []*fakeTransport
	dialed  []*fakeTransport
	configs []Config
	err     error
}

func (d *fakeDialer) queue(ts ...*fakeTransport) {
	d.mu.Lock()
	d.next = append(d.next, ts...)
	d.mu.Unlock()
}

func (d *fakeDialer) fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDialer) Dial(_ context.Context, cfg Config) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.configs = append(d.configs, cfg)
	if d.err != nil {
		return nil, d.err
	}
	var t *fakeTransport
	if len(d.next) > 0 {
		t, d.next = d.next[0], d.next[1:]
	} else {
		t = newFakeTransport(lipLogin...)
	}
	d.dialed = append(d.dialed, t)
	return t, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.configs)
}

func (d *fakeDialer) transport(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.dialed) {
		return nil
	}
	return d.dialed[i]
}

// manualClock records timers; tests fire them explicitly.
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// active returns how many unfired, unstopped timers have duration d.
func (c *manualClock) active(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.d == d && !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fire runs every active timer with duration d on its own goroutine and
// returns how many fired.
func (c *manualClock) fire(d time.Duration) int {
	c.mu.Lock()
	var due []*manualTimer
	for _, t := range c.timers {
		if t.d == d && !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		go t.f()
	}
	return len(due)
}

// fireStale runs the callbacks of stopped timers with duration d, as a
// timer racing its Stop would.
func (c *manualClock) fireStale(d time.Duration) {
	c.mu.Lock()
	var due []func()
	for _, t := range c.timers {
		if t.d == d && t.stopped && !t.fired {
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()

	for _, f := range due {
		f()
	}
}

// recordingHandler records updates for one integration id.
type recordingHandler struct {
	id int

	mu       sync.Mutex
	updates  []Message
	statuses []Status
}

func (h *recordingHandler) IntegrationID() int { return h.id }

func (h *recordingHandler) HandleUpdate(msgType MessageType, params []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, Message{Type: msgType, IntegrationID: h.id, Params: params})
}

func (h *recordingHandler) BridgeStatusChanged(st Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, st)
}

func (h *recordingHandler) received() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.updates)
}

func (h *recordingHandler) sawState(s State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.ContainsFunc(h.statuses, func(st Status) bool { return st.State == s })
}

// sawDetail reports whether an offline status carried detail.
func (h *recordingHandler) sawDetail(detail string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.ContainsFunc(h.statuses, func(st Status) bool {
		return st.State == StateOffline && st.Detail == detail
	})
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitForState(t *testing.T, b *Bridge, s State) {
	t.Helper()
	waitUntil(t, "state "+s.String(), func() bool { return b.Status().State == s })
}

// testLIPConfig returns a LIP config with short intervals and a single
// monitoring class so init traffic stays predictable.
func testLIPConfig() Config {
	return Config{
		ID:                "test-hub",
		Protocol:          ProtocolLIP,
		Host:              "192.0.2.10",
		ReconnectInterval: time.Minute,
		HeartbeatInterval: 10 * time.Second,
		KeepaliveTimeout:  2 * time.Second,
		ConnectTimeout:    time.Second,
		Monitoring:        []int{MonitorZone},
	}
}

// newTestBridge builds a bridge on a fake dialer and manual clock and closes
// it when the test ends.
func newTestBridge(t *testing.T, cfg Config) (*Bridge, *fakeDialer, *manualClock) {
	t.Helper()
	dialer := &fakeDialer{}
	clock := &manualClock{}
	b, err := NewBridge(BridgeOptions{Config: cfg, Dialer: dialer, Clock: clock})
	if err != nil {
		t.Fatalf("NewBridge() error: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b, dialer, clock
}
