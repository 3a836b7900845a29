package lutron

import (
	"context"
	"slices"
	"sync"
)

// defaultMaxQueuedCommands bounds the outbound queue while the hub is unreachable.
const defaultMaxQueuedCommands = 1000

// commandQueue is the FIFO between SendCommand and the sender loop. It
// belongs to the bridge and survives reconnects, so commands submitted while
// offline are sent once a session is up.
type commandQueue struct {
	mu    sync.Mutex
	items []Command
	limit int

	// ready holds a token while items is non-empty for a waiting taker.
	ready chan struct{}
}

func newCommandQueue(limit int) *commandQueue {
	if limit <= 0 {
		limit = defaultMaxQueuedCommands
	}
	return &commandQueue{limit: limit, ready: make(chan struct{}, 1)}
}

// push appends cmd. It never blocks; at capacity the command is refused.
func (q *commandQueue) push(cmd Command) error {
	q.mu.Lock()
	if len(q.items) >= q.limit {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.items = append(q.items, cmd)
	q.mu.Unlock()
	q.signal()
	return nil
}

// pushFront returns a command that failed to write to the head of the
// queue. It ignores the limit so a failed command is never lost.
func (q *commandQueue) pushFront(cmd Command) {
	q.mu.Lock()
	q.items = append(q.items, Command{})
	copy(q.items[1:], q.items)
	q.items[0] = cmd
	q.mu.Unlock()
	q.signal()
}

// pushFrontAll puts cmds, in order, ahead of everything queued. Like
// pushFront it ignores the limit.
func (q *commandQueue) pushFrontAll(cmds []Command) {
	if len(cmds) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(slices.Clone(cmds), q.items...)
	q.mu.Unlock()
	q.signal()
}

// take blocks until a command is available or ctx is done. A command is
// removed only when it is returned.
func (q *commandQueue) take(ctx context.Context) (Command, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			cmd := q.items[0]
			q.items[0] = Command{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return cmd, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Command{}, ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *commandQueue) setLimit(limit int) {
	if limit <= 0 {
		limit = defaultMaxQueuedCommands
	}
	q.mu.Lock()
	q.limit = limit
	q.mu.Unlock()
}

func (q *commandQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *commandQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
