package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/nerrad567/gray-logic-lutron/internal/bridges/lutron"
)

// History query limits.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// BridgeSummary is one entry of the bridge list.
type BridgeSummary struct {
	ID       string        `json:"id"`
	Status   lutron.Status `json:"status"`
	Online   bool          `json:"online"`
	Handlers int           `json:"handlers"`
}

// BridgeDetail adds counters to the summary. SeenIDs is omitted when the
// recorder is disabled or unreadable.
type BridgeDetail struct {
	BridgeSummary
	Stats   lutron.Stats `json:"stats"`
	SeenIDs *int         `json:"seen_ids,omitempty"`
}

func summarise(b Bridge) BridgeSummary {
	st := b.Status()
	return BridgeSummary{
		ID:       b.ID(),
		Status:   st,
		Online:   st.Online(),
		Handlers: b.HandlerCount(),
	}
}

// handleListBridges returns every configured bridge, ordered by ID.
func (s *Server) handleListBridges(w http.ResponseWriter, _ *http.Request) {
	bridges := s.bridges.List()
	out := make([]BridgeSummary, 0, len(bridges))
	for _, b := range bridges {
		out = append(out, summarise(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	writeJSON(w, http.StatusOK, map[string]any{
		"bridges": out,
		"count":   len(out),
	})
}

func (s *Server) handleGetBridge(w http.ResponseWriter, r *http.Request) {
	b := bridgeFromContext(r.Context())
	detail := BridgeDetail{
		BridgeSummary: summarise(b),
		Stats:         b.Stats(),
	}
	if s.history != nil {
		n, err := s.history.IDCount(r.Context(), b.ID())
		if err != nil {
			s.logger.Warn("counting seen ids failed", "bridge_id", b.ID(), "error", err)
		} else {
			detail.SeenIDs = &n
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleBridgeDevices returns the LEAP discovery snapshot. LIP hubs report
// nothing and get empty lists.
func (s *Server) handleBridgeDevices(w http.ResponseWriter, r *http.Request) {
	d := bridgeFromContext(r.Context()).Discovery()
	if d.Devices == nil {
		d.Devices = []lutron.Device{}
	}
	if d.Areas == nil {
		d.Areas = []lutron.Area{}
	}
	if d.OccupancyGroups == nil {
		d.OccupancyGroups = []lutron.OccupancyGroup{}
	}
	writeJSON(w, http.StatusOK, d)
}

// handleBridgeSeen lists every integration id recorded for the bridge.
func (s *Server) handleBridgeSeen(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "recorder is not enabled")
		return
	}
	b := bridgeFromContext(r.Context())

	seen, err := s.history.SeenIDs(r.Context(), b.ID())
	if err != nil {
		s.logger.Error("listing seen ids failed", "bridge_id", b.ID(), "error", err)
		writeInternalError(w, "failed to list seen ids")
		return
	}
	if seen == nil {
		seen = []lutron.SeenID{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bridge_id": b.ID(),
		"ids":       seen,
		"count":     len(seen),
	})
}

// handleBridgeHistory returns status changes, newest first. ?limit= caps
// the result (default 50, max 500).
func (s *Server) handleBridgeHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "recorder is not enabled")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	b := bridgeFromContext(r.Context())
	records, err := s.history.StatusHistory(r.Context(), b.ID(), limit)
	if err != nil {
		s.logger.Error("listing status history failed", "bridge_id", b.ID(), "error", err)
		writeInternalError(w, "failed to list status history")
		return
	}
	if records == nil {
		records = []lutron.StatusRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bridge_id": b.ID(),
		"history":   records,
	})
}

// handleReconnect drops the current session and reconnects immediately.
// Queued commands are kept.
func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	b := bridgeFromContext(r.Context())
	claims := claimsFromContext(r.Context())

	s.logger.Info("manual reconnect requested", "bridge_id", b.ID(), "subject", claims.Subject)
	b.Reconnect()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"bridge_id": b.ID(),
		"status":    "reconnecting",
	})
}
