package lutron

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// observerQueueSize is the buffer between the reader loop and observers.
const observerQueueSize = 256

// Observer receives a copy of bridge traffic for infrastructure concerns
// such as MQTT mirroring, persistence and the websocket feed. Observers run
// off the reader goroutine and may do I/O.
type Observer interface {
	ObserveStatus(bridgeID string, status Status)
	ObserveMessage(bridgeID string, msg Message, handled bool)
}

type messageEvent struct {
	msg     Message
	handled bool
}

// fanout delivers status changes and messages away from the reader loop.
//
// Status changes are never dropped and are delivered in order by one
// goroutine. Messages go through a bounded queue drained by a single worker
// so per-device ordering holds; when the queue is full the message is
// dropped for observers only (handlers already saw it).
type fanout struct {
	bridgeID string
	registry *Registry
	logger   Logger

	mu        sync.RWMutex
	observers []Observer
	listeners []StatusListener

	messages chan messageEvent
	dropped  atomic.Uint64

	statusMu   sync.Mutex
	statuses   []Status
	statusWake chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newFanout(bridgeID string, registry *Registry, logger Logger) *fanout {
	f := &fanout{
		bridgeID:   bridgeID,
		registry:   registry,
		logger:     logger,
		messages:   make(chan messageEvent, observerQueueSize),
		statusWake: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	f.wg.Add(2)
	go f.messageWorker()
	go f.statusWorker()
	return f
}

func (f *fanout) addObserver(o Observer) {
	f.mu.Lock()
	f.observers = append(f.observers, o)
	f.mu.Unlock()
}

func (f *fanout) addListener(l StatusListener) {
	f.mu.Lock()
	f.listeners = append(f.listeners, l)
	f.mu.Unlock()
}

// status queues a status change for delivery.
func (f *fanout) status(st Status) {
	f.statusMu.Lock()
	f.statuses = append(f.statuses, st)
	f.statusMu.Unlock()

	select {
	case f.statusWake <- struct{}{}:
	default:
	}
}

// message queues msg for observers and reports false if it was dropped.
func (f *fanout) message(msg Message, handled bool) bool {
	f.mu.RLock()
	none := len(f.observers) == 0
	f.mu.RUnlock()
	if none {
		return true
	}

	select {
	case f.messages <- messageEvent{msg: msg, handled: handled}:
		return true
	case <-f.done:
		return false
	default:
		f.dropped.Add(1)
		return false
	}
}

func (f *fanout) stop() {
	f.stopOnce.Do(func() { close(f.done) })
	f.wg.Wait()
}

func (f *fanout) messageWorker() {
	defer f.wg.Done()

	for {
		select {
		case <-f.done:
			f.drainMessages()
			return
		case ev := <-f.messages:
			f.mu.RLock()
			observers := f.observers
			f.mu.RUnlock()
			for _, o := range observers {
				f.safely("observer message", func() { o.ObserveMessage(f.bridgeID, ev.msg, ev.handled) })
			}
		}
	}
}

func (f *fanout) drainMessages() {
	for {
		select {
		case <-f.messages:
		default:
			return
		}
	}
}

func (f *fanout) statusWorker() {
	defer f.wg.Done()

	for {
		select {
		case <-f.done:
			// Final transitions (Disconnected on close) are still announced.
			f.deliverStatuses()
			return
		case <-f.statusWake:
			f.deliverStatuses()
		}
	}
}

func (f *fanout) deliverStatuses() {
	f.statusMu.Lock()
	pending := f.statuses
	f.statuses = nil
	f.statusMu.Unlock()

	for _, st := range pending {
		for _, h := range f.registry.snapshot() {
			if l, ok := h.(StatusListener); ok {
				f.safely("status listener", func() { l.BridgeStatusChanged(st) })
			}
		}

		f.mu.RLock()
		listeners := f.listeners
		observers := f.observers
		f.mu.RUnlock()
		for _, l := range listeners {
			f.safely("status listener", func() { l.BridgeStatusChanged(st) })
		}
		for _, o := range observers {
			f.safely("observer status", func() { o.ObserveStatus(f.bridgeID, st) })
		}
	}
}

func (f *fanout) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logError(f.logger, what+" panic recovered", "bridge_id", f.bridgeID, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
