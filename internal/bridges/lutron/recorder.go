package lutron

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// SeenID is an integration id observed on the wire.
type SeenID struct {
	BridgeID      string      `json:"bridge_id"`
	IntegrationID int         `json:"integration_id"`
	Type          MessageType `json:"type"`
	LastSeen      time.Time   `json:"last_seen"`
	MessageCount  int64       `json:"message_count"`
	Handled       bool        `json:"handled"`
}

// StatusRecord is one row of bridge status history.
type StatusRecord struct {
	BridgeID  string    `json:"bridge_id"`
	State     string    `json:"state"`
	Reason    Reason    `json:"reason,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// Recorder passively records every integration id seen from the hub,
// including ids no handler is registered for, plus the history of bridge
// status changes. It is registered as a bridge Observer and builds up a
// picture of the installation without any manual configuration.
//
// The database must have the lutron_integration_ids and
// lutron_status_history tables (see migrations).
type Recorder struct {
	db     *sql.DB
	logger Logger

	stmtMu     sync.Mutex
	seenStmt   *sql.Stmt
	statusStmt *sql.Stmt

	mu     sync.RWMutex
	closed bool
}

// NewRecorder creates a recorder backed by db.
func NewRecorder(db *sql.DB, logger Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// Start prepares the recorder's statements. Calling it twice is harmless.
func (r *Recorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.seenStmt != nil {
		return nil
	}

	seen, err := r.db.Prepare(`
		INSERT INTO lutron_integration_ids (bridge_id, integration_id, message_type, last_seen, message_count, handled)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(bridge_id, integration_id, message_type) DO UPDATE SET
			last_seen = excluded.last_seen,
			message_count = message_count + 1,
			handled = excluded.handled
	`)
	if err != nil {
		return fmt.Errorf("preparing seen-id upsert: %w", err)
	}

	status, err := r.db.Prepare(`
		INSERT INTO lutron_status_history (bridge_id, state, reason, detail, changed_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		seen.Close()
		return fmt.Errorf("preparing status insert: %w", err)
	}

	r.seenStmt = seen
	r.statusStmt = status
	logInfo(r.logger, "integration id recorder started")
	return nil
}

// Stop releases the prepared statements. Later observations are ignored.
func (r *Recorder) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()
	if r.seenStmt != nil {
		r.seenStmt.Close()
		r.seenStmt = nil
	}
	if r.statusStmt != nil {
		r.statusStmt.Close()
		r.statusStmt = nil
	}
}

func (r *Recorder) statements() (seen, status *sql.Stmt) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, nil
	}
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()
	return r.seenStmt, r.statusStmt
}

// ObserveMessage implements Observer.
func (r *Recorder) ObserveMessage(bridgeID string, msg Message, handled bool) {
	seen, _ := r.statements()
	if seen == nil {
		return
	}
	if _, err := seen.Exec(bridgeID, msg.IntegrationID, string(msg.Type), time.Now().Unix(), handled); err != nil {
		logError(r.logger, "recording integration id", "bridge_id", bridgeID, "integration_id", msg.IntegrationID, "error", err)
	}
}

// ObserveStatus implements Observer.
func (r *Recorder) ObserveStatus(bridgeID string, st Status) {
	_, status := r.statements()
	if status == nil {
		return
	}
	since := st.Since
	if since.IsZero() {
		since = time.Now()
	}
	if _, err := status.Exec(bridgeID, st.State.String(), string(st.Reason), st.Detail, since.Unix()); err != nil {
		logError(r.logger, "recording status change", "bridge_id", bridgeID, "error", err)
	}
}

// SeenIDs returns the integration ids recorded for a bridge, lowest first.
func (r *Recorder) SeenIDs(ctx context.Context, bridgeID string) ([]SeenID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT integration_id, message_type, last_seen, message_count, handled
		FROM lutron_integration_ids
		WHERE bridge_id = ?
		ORDER BY integration_id, message_type
	`, bridgeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SeenID
	for rows.Next() {
		s := SeenID{BridgeID: bridgeID}
		var msgType string
		var lastSeen int64
		if err := rows.Scan(&s.IntegrationID, &msgType, &lastSeen, &s.MessageCount, &s.Handled); err != nil {
			return nil, err
		}
		s.Type = MessageType(msgType)
		s.LastSeen = time.Unix(lastSeen, 0).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// StatusHistory returns the most recent status changes for a bridge, newest first.
func (r *Recorder) StatusHistory(ctx context.Context, bridgeID string, limit int) ([]StatusRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT state, reason, detail, changed_at
		FROM lutron_status_history
		WHERE bridge_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, bridgeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusRecord
	for rows.Next() {
		rec := StatusRecord{BridgeID: bridgeID}
		var reason string
		var changedAt int64
		if err := rows.Scan(&rec.State, &reason, &rec.Detail, &changedAt); err != nil {
			return nil, err
		}
		rec.Reason = Reason(reason)
		rec.ChangedAt = time.Unix(changedAt, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// IDCount returns how many distinct integration ids a bridge has seen.
func (r *Recorder) IDCount(ctx context.Context, bridgeID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT integration_id) FROM lutron_integration_ids WHERE bridge_id = ?`, bridgeID).Scan(&n)
	return n, err
}
