package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"threat-advisor/api/internal/storage"
	"threat-advisor/internal/model"
	"threat-advisor/internal/rules"
	"threat-advisor/internal/scanner"
	sqlstore "threat-advisor/internal/storage"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ScanController is the orchestrator surface exposed over HTTP
type ScanController interface {
	RunOnce(ctx context.Context) (scanner.Result, error)
	Start(interval time.Duration) bool
	Stop() bool
	Status() scanner.Status
}

// RuleRegistry is the rule engine surface exposed over HTTP
type RuleRegistry interface {
	Rules() []model.Rule
	RuleByID(id string) (model.Rule, bool)
	AddRule(rule model.Rule) error
	RemoveRule(id string) bool
	Statistics() rules.Statistics
}

// ThreatHistory is the persistent threat store, optional
type ThreatHistory interface {
	RecentThreats(ctx context.Context, since time.Time, limit int) ([]model.Threat, error)
	ThreatByID(ctx context.Context, id string) (model.Threat, error)
	Statistics(ctx context.Context, since time.Time) (sqlstore.Statistics, error)
}

type Handlers struct {
	store    *storage.Storage
	scanner  ScanController
	rules    RuleRegistry
	history  ThreatHistory
	logger   *logrus.Logger
	upgrader websocket.Upgrader
}

// NewHandlers creates the API handlers. history may be nil when persistence is off.
func NewHandlers(store *storage.Storage, scanner ScanController, rules RuleRegistry, history ThreatHistory, logger *logrus.Logger) *Handlers {
	return &Handlers{
		store:   store,
		scanner: scanner,
		rules:   rules,
		history: history,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow all origins for development
				logger.Debugf("WebSocket origin check: %s", r.Header.Get("Origin"))
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Scan handlers
func (h *Handlers) RunScan(w http.ResponseWriter, r *http.Request) {
	res, err := h.scanner.RunOnce(r.Context())
	if err != nil {
		h.logger.Errorf("Manual scan failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Scan failed")
		return
	}

	threats := res.Threats
	if threats == nil {
		threats = []model.Threat{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scan_number":      res.ScanNumber,
		"started_at":       res.StartedAt,
		"duration_ms":      res.Duration.Milliseconds(),
		"events_collected": res.EventsCollected,
		"threats_detected": len(threats),
		"threats":          threats,
	})
}

type startRequest struct {
	IntervalSeconds int `json:"interval_seconds"`
}

func (h *Handlers) StartMonitoring(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.IntervalSeconds < 0 {
		writeError(w, http.StatusBadRequest, "interval_seconds must be positive")
		return
	}

	if !h.scanner.Start(time.Duration(req.IntervalSeconds) * time.Second) {
		writeJSON(w, http.StatusConflict, map[string]interface{}{"started": false, "message": "Monitoring already running"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"started":          true,
		"interval_seconds": h.scanner.Status().Interval.Seconds(),
	})
}

func (h *Handlers) StopMonitoring(w http.ResponseWriter, r *http.Request) {
	if !h.scanner.Stop() {
		writeJSON(w, http.StatusConflict, map[string]interface{}{"stopped": false, "message": "Monitoring not running"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stopped": true})
}

func (h *Handlers) GetMonitoringStatus(w http.ResponseWriter, r *http.Request) {
	st := h.scanner.Status()
	resp := map[string]interface{}{
		"running":          st.Running,
		"scan_count":       st.ScanCount,
		"last_threats":     st.LastThreats,
		"interval_seconds": st.Interval.Seconds(),
		"subscribers":      h.store.SubscriberCount(),
	}
	if !st.LastScanAt.IsZero() {
		resp["last_scan_at"] = st.LastScanAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// Threats handlers

// GetThreats serves the in-memory buffer, or the persistent store when an
// hours window is requested and one is configured
func (h *Handlers) GetThreats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	filter := storage.ThreatFilter{
		RiskLevel: q.Get("risk_level"),
		Category:  q.Get("category"),
		Search:    q.Get("search"),
	}

	var threats []model.Threat
	if hours := q.Get("hours"); hours != "" && h.history != nil {
		n, err := strconv.Atoi(hours)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid hours")
			return
		}
		stored, err := h.history.RecentThreats(r.Context(), time.Now().Add(-time.Duration(n)*time.Hour), limit)
		if err != nil {
			h.logger.Errorf("Failed to query threat history: %v", err)
			writeError(w, http.StatusInternalServerError, "Failed to query threats")
			return
		}
		threats = filterThreats(stored, filter)
	} else {
		threats = h.store.GetThreats(limit, filter)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": threats,
		"total": len(threats),
	})
}

func (h *Handlers) GetThreat(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if t := h.store.GetThreatByID(id); t != nil {
		writeJSON(w, http.StatusOK, t)
		return
	}
	if h.history != nil {
		t, err := h.history.ThreatByID(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, t)
			return
		}
		if !errors.Is(err, sqlstore.ErrNotFound) {
			h.logger.Errorf("Failed to load threat %s: %v", id, err)
			writeError(w, http.StatusInternalServerError, "Failed to load threat")
			return
		}
	}
	writeError(w, http.StatusNotFound, "Threat not found")
}

func (h *Handlers) GetThreatStats(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusOK, h.store.GetThreatStats())
		return
	}

	hours, _ := strconv.Atoi(r.URL.Query().Get("hours"))
	if hours < 1 {
		hours = 24
	}
	stats, err := h.history.Statistics(r.Context(), time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		h.logger.Errorf("Failed to compute threat statistics: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// StreamThreats pushes every new threat to a websocket client, optionally
// filtered by ?risk_level=
func (h *Handlers) StreamThreats(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	sub := &storage.ThreatSubscriber{
		ID:      strconv.FormatInt(time.Now().UnixNano(), 10),
		Channel: make(chan model.Threat, 100),
		Filter: storage.ThreatFilter{
			RiskLevel: r.URL.Query().Get("risk_level"),
			Category:  r.URL.Query().Get("category"),
		},
	}
	h.store.Subscribe(sub)
	defer h.store.Unsubscribe(sub)

	h.logger.Debugf("Threat stream opened for %s", r.RemoteAddr)

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(map[string]string{"type": "connected", "message": "Threat stream established"}); err != nil {
		h.logger.Debugf("Failed to send initial message: %v", err)
		return
	}

	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }

	// Read messages in background to detect connection close
	go func() {
		defer closeDone()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			h.logger.Debugf("Threat stream closed for %s", r.RemoteAddr)
			return
		case threat, ok := <-sub.Channel:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(map[string]interface{}{"type": "threat", "threat": threat}); err != nil {
				h.logger.Debugf("WebSocket write error: %v", err)
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				h.logger.Debugf("Ping failed: %v", err)
				return
			}
		}
	}
}

// Rules handlers
func (h *Handlers) GetRules(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	severity := r.URL.Query().Get("severity")

	result := make([]model.Rule, 0)
	for _, rule := range h.rules.Rules() {
		if category != "" && rule.Category != category {
			continue
		}
		if severity != "" && string(rule.Severity) != severity {
			continue
		}
		result = append(result, rule)
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.rules.RuleByID(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "Rule not found")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule model.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.rules.AddRule(rule); err != nil {
		switch {
		case errors.Is(err, rules.ErrDuplicateRule):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	created, _ := h.rules.RuleByID(rule.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if !h.rules.RemoveRule(mux.Vars(r)["id"]) {
		writeError(w, http.StatusNotFound, "Rule not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

func (h *Handlers) GetRulesStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rules.Statistics())
}

// Helper functions
func filterThreats(threats []model.Threat, filter storage.ThreatFilter) []model.Threat {
	result := make([]model.Threat, 0, len(threats))
	for _, t := range threats {
		if filter.Matches(t) {
			result = append(result, t)
		}
	}
	return result
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
