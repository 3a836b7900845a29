package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// HealthResponse is the unauthenticated liveness summary.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Bridges       int    `json:"bridges"`
	BridgesOnline int    `json:"bridges_online"`
	MQTTConnected *bool  `json:"mqtt_connected,omitempty"`
	WSClients     int    `json:"websocket_clients"`
}

// handleHealth reports "ok" when every bridge is online, "degraded" otherwise.
// It always answers 200 so that load balancers only check process liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	bridges := s.bridges.List()
	resp := HealthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Bridges:       len(bridges),
		WSClients:     s.hub.ClientCount(),
	}
	for _, b := range bridges {
		if b.Status().Online() {
			resp.BridgesOnline++
		}
	}
	if resp.BridgesOnline < resp.Bridges {
		resp.Status = "degraded"
	}
	if s.mqtt != nil {
		connected := s.mqtt.IsConnected()
		resp.MQTTConnected = &connected
		if !connected {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type logLevelRequest struct {
	Level string `json:"level"`
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func (s *Server) handleGetLogLevel(w http.ResponseWriter, _ *http.Request) {
	if s.levels == nil {
		writeUnavailable(w, "log level control is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, logLevelRequest{Level: strings.ToLower(s.levels.Level().String())})
}

func (s *Server) handleSetLogLevel(w http.ResponseWriter, r *http.Request) {
	if s.levels == nil {
		writeUnavailable(w, "log level control is not enabled")
		return
	}

	var req logLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	level := strings.ToLower(req.Level)
	if !validLevels[level] {
		writeBadRequest(w, "level must be one of debug, info, warn, error")
		return
	}

	s.levels.SetLevel(level)
	s.logger.Info("log level changed", "level", level, "subject", claimsFromContext(r.Context()).Subject)
	writeJSON(w, http.StatusOK, logLevelRequest{Level: level})
}
