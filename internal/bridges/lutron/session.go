package lutron

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// session is one authenticated connection and the two loops serving it.
// It is owned by the bridge state machine; loops never outlive it.
type session struct {
	id        string
	epoch     uint64
	transport Transport
	codec     codec
	ctx       context.Context
	cancel    context.CancelFunc
	started   time.Time
	wg        sync.WaitGroup

	// init is written before the shared queue is drained.
	init []Command

	// Queued commands naming a zone or button the hub has not described
	// yet are held until discovery completes, then requeued.
	mu    sync.Mutex
	ready bool
	held  []Command
}

// hold parks cmd if it failed to encode for want of discovery data.
func (s *session) hold(cmd Command, err error) bool {
	if !errors.Is(err, ErrNotFound) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return false
	}
	s.held = append(s.held, cmd)
	return true
}

// release ends holding and returns the parked commands in order.
func (s *session) release() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
	held := s.held
	s.held = nil
	return held
}

// readLoop parses inbound lines and dispatches them until the transport
// fails or the session is cancelled.
func (b *Bridge) readLoop(s *session) {
	defer s.wg.Done()

	for {
		line, err := s.transport.ReadLine()
		if err != nil {
			if s.ctx.Err() == nil {
				b.sessionFailed(s, err)
			}
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.handleLine(s, line)
	}
}

func (b *Bridge) handleLine(s *session, line string) {
	res, err := s.codec.decode(line)
	if err != nil {
		b.stats.framesDropped.Add(1)
		b.metrics.frameDropped(b.id)
		if errors.Is(err, ErrUnrecognisedFrame) {
			logDebug(b.logger, "dropping unrecognised frame", "bridge_id", b.id, "line", line)
		} else {
			logWarn(b.logger, "dropping malformed frame", "bridge_id", b.id, "line", line, "error", err)
		}
		return
	}

	b.stats.framesReceived.Add(1)
	b.metrics.frameReceived(b.id)
	b.touch(s.epoch)

	for _, msg := range res.messages {
		handled := b.registry.Dispatch(msg)
		if handled {
			b.stats.dispatched.Add(1)
		} else {
			b.stats.unhandled.Add(1)
		}
		b.metrics.messageDispatched(b.id, handled)
		if !b.fanout.message(msg, handled) {
			b.metrics.observerEventDropped(b.id)
		}
	}
	if res.failed != nil {
		b.discoveryFailed(s, res.failed)
		return
	}
	for _, cmd := range res.followUp {
		_ = b.enqueue(cmd) //nolint:errcheck // logged on drop
	}
	if res.discovered {
		b.markOnline(s.epoch)
	}
}

// sendLoop writes the session's init commands, then drains the command
// queue onto the transport. A queued command whose write fails goes back to
// the head of the queue for the next session.
func (b *Bridge) sendLoop(s *session) {
	defer s.wg.Done()

	for _, cmd := range s.init {
		if !b.write(s, cmd, false) {
			return
		}
	}
	for s.ctx.Err() == nil {
		cmd, err := b.queue.take(s.ctx)
		if err != nil {
			return
		}
		b.metrics.setQueueDepth(b.id, b.queue.len())
		if !b.write(s, cmd, true) {
			return
		}
	}
}

// write sends one command and waits out the command delay. It returns false
// once the session is over.
func (b *Bridge) write(s *session, cmd Command, queued bool) bool {
	line, err := s.codec.encode(cmd)
	if err != nil && queued {
		if s.hold(cmd, err) {
			logDebug(b.logger, "holding command until discovery completes", "bridge_id", b.id, "command", cmd.String())
			return true
		}
		if errors.Is(err, ErrNotFound) {
			// Discovery may have completed since the first attempt.
			line, err = s.codec.encode(cmd)
		}
	}
	if err != nil {
		if queued && s.ctx.Err() != nil {
			b.queue.pushFront(cmd)
			return false
		}
		b.dropCommand(cmd, "unencodable", err)
		return true
	}
	if err := s.transport.WriteLine(line); err != nil {
		if queued {
			b.queue.pushFront(cmd)
			b.metrics.setQueueDepth(b.id, b.queue.len())
		}
		if s.ctx.Err() == nil {
			b.sessionFailed(s, err)
		}
		return false
	}
	b.stats.framesSent.Add(1)
	b.metrics.frameSent(b.id)
	logDebug(b.logger, "command sent", "bridge_id", b.id, "command", cmd.String())

	return b.pause(s.ctx)
}

// pause sleeps the configured inter-command delay. It returns false if the
// session ended meanwhile.
func (b *Bridge) pause(ctx context.Context) bool {
	b.mu.Lock()
	delay := b.cfg.CommandDelay
	b.mu.Unlock()
	if delay <= 0 {
		return true
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
