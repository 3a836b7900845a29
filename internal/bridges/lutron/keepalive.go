package lutron

import (
	"context"
	"time"
)

// Keepalive: while online, every heartbeat interval a probe is queued and a
// timeout armed. Any parsed inbound frame disarms the timeout. If it fires,
// the session is torn down and a new one is started immediately.

func (b *Bridge) scheduleHeartbeatLocked(epoch uint64) {
	stopTimer(&b.heartbeatTimer)
	if b.cfg.HeartbeatInterval <= 0 {
		return
	}
	b.heartbeatTimer = b.clock.AfterFunc(b.cfg.HeartbeatInterval, func() { b.heartbeat(epoch) })
}

func (b *Bridge) heartbeat(epoch uint64) {
	b.mu.Lock()
	if epoch != b.epoch || b.sess == nil {
		b.mu.Unlock()
		return
	}
	probe := b.sess.codec.probe()
	if b.timeoutTimer == nil {
		b.probeSeq++
		seq := b.probeSeq
		b.timeoutTimer = b.clock.AfterFunc(b.cfg.KeepaliveTimeout, func() { b.keepaliveExpired(epoch, seq) })
	}
	b.scheduleHeartbeatLocked(epoch)
	b.mu.Unlock()

	_ = b.enqueue(probe) //nolint:errcheck // logged on drop
}

// touch records inbound activity and disarms a pending keepalive timeout.
func (b *Bridge) touch(epoch uint64) {
	b.stats.lastActivity.Store(time.Now().UnixNano())

	b.mu.Lock()
	if epoch == b.epoch && b.timeoutTimer != nil {
		b.probeSeq++
		stopTimer(&b.timeoutTimer)
	}
	b.mu.Unlock()
}

func (b *Bridge) keepaliveExpired(epoch, seq uint64) {
	b.mu.Lock()
	if epoch != b.epoch || seq != b.probeSeq || b.sess == nil || b.closed {
		b.mu.Unlock()
		return
	}
	b.timeoutTimer = nil
	sessionID := b.sess.id
	cleanup := b.teardownLocked(StateOffline, ReasonCommunicationError, ErrKeepaliveTimeout.Error())
	b.mu.Unlock()
	cleanup()

	b.stats.keepaliveMisses.Add(1)
	b.metrics.keepaliveMissed(b.id)
	logWarn(b.logger, "keepalive timeout; reconnecting", "bridge_id", b.id, "session_id", sessionID)
	_ = b.Connect(context.Background()) //nolint:errcheck // reported through status
}
