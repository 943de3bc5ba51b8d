package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"geotech-monitor/internal/audit"
	"geotech-monitor/internal/auth"
	monitoring "geotech-monitor/internal/monitoring/domain"
)

const timeLayout = time.RFC3339

// TickTrigger queues an immediate monitoring tick.
type TickTrigger interface {
	TriggerNow() bool
}

// TestNotifier sends a synthetic notification for a node.
type TestNotifier interface {
	SendTest(ctx context.Context, node monitoring.Node, now time.Time) error
}

// ReadingQuerier reads stored readings.
type ReadingQuerier interface {
	LatestByNode(ctx context.Context, nodeID string) (monitoring.Reading, error)
	ListByNodeRange(ctx context.Context, nodeID string, from, to time.Time) ([]monitoring.Reading, error)
}

// ThresholdStore reads and writes the stored per-node limits.
type ThresholdStore interface {
	Snapshot(ctx context.Context) (monitoring.ThresholdSet, error)
	Upsert(ctx context.Context, threshold monitoring.Threshold) error
}

// Handler provides the monitoring HTTP endpoints.
type Handler struct {
	nodes      map[string]monitoring.Node
	trigger    TickTrigger
	notifier   TestNotifier
	readings   ReadingQuerier
	thresholds ThresholdStore
	auditor    audit.Logger
}

// HandlerOption configures the handler.
type HandlerOption func(*Handler)

// WithAuditLogger records manual trigger and test notification requests.
func WithAuditLogger(auditor audit.Logger) HandlerOption {
	return func(h *Handler) {
		h.auditor = auditor
	}
}

// WithThresholdStore enables the threshold management endpoints.
func WithThresholdStore(store ThresholdStore) HandlerOption {
	return func(h *Handler) {
		h.thresholds = store
	}
}

// NewHandler constructs a handler.
func NewHandler(nodes []monitoring.Node, trigger TickTrigger, notifier TestNotifier, readings ReadingQuerier, opts ...HandlerOption) (*Handler, error) {
	if trigger == nil {
		return nil, errors.New("monitoring handler: nil trigger")
	}
	if notifier == nil {
		return nil, errors.New("monitoring handler: nil notifier")
	}
	index := make(map[string]monitoring.Node, len(nodes))
	for _, node := range nodes {
		index[node.ID] = node
	}
	handler := &Handler{
		nodes:    index,
		trigger:  trigger,
		notifier: notifier,
		readings: readings,
	}
	for _, opt := range opts {
		opt(handler)
	}
	return handler, nil
}

func (h *Handler) auditAction(r *http.Request, action, nodeID string) {
	if h.auditor == nil {
		return
	}
	_ = h.auditor.Log(r.Context(), audit.Entry{
		Actor:     auth.SubjectFromContext(r.Context()),
		Role:      string(auth.RoleFromContext(r.Context())),
		Action:    action,
		NodeID:    nodeID,
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
}

// ServeHTTP handles /api/v1/monitoring, /api/v1/readings and
// /api/v1/exports subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/monitoring/run":
		h.handleRun(w, r)
	case r.URL.Path == "/api/v1/monitoring/test-notification":
		h.handleTestNotification(w, r)
	case r.URL.Path == "/api/v1/readings/latest":
		h.handleLatest(w, r)
	case r.URL.Path == "/api/v1/readings":
		h.handleRange(w, r)
	case r.URL.Path == "/api/v1/thresholds":
		h.handleThresholds(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/exports/readings."):
		h.handleExport(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	queued := h.trigger.TriggerNow()
	h.auditAction(r, "monitoring.run", "")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]bool{"queued": queued})
}

func (h *Handler) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		InstrumentType string `json:"instrument_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	instrument := monitoring.InstrumentType(payload.InstrumentType)
	if !instrument.Valid() {
		http.Error(w, "unknown instrument_type", http.StatusBadRequest)
		return
	}
	node := monitoring.Node{
		ID:         "test-" + string(instrument),
		Instrument: instrument,
		Name:       "Test " + string(instrument),
	}
	h.auditAction(r, "monitoring.test_notification", string(instrument))
	if err := h.notifier.SendTest(r.Context(), node, time.Now().UTC()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "sent", "instrument_type": string(instrument)})
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.readings == nil {
		http.Error(w, "readings store not configured", http.StatusServiceUnavailable)
		return
	}
	node, ok := h.nodeFromQuery(w, r)
	if !ok {
		return
	}
	reading, err := h.readings.LatestByNode(r.Context(), node.ID)
	if err != nil {
		if errors.Is(err, monitoring.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(readingResponse(reading))
}

func (h *Handler) handleRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.readings == nil {
		http.Error(w, "readings store not configured", http.StatusServiceUnavailable)
		return
	}
	node, from, to, ok := h.rangeFromQuery(w, r)
	if !ok {
		return
	}
	list, err := h.readings.ListByNodeRange(r.Context(), node.ID, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	responses := make([]readingPayload, 0, len(list))
	for _, reading := range list {
		responses = append(responses, readingResponse(reading))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(responses)
}

type thresholdPayload struct {
	NodeID       string  `json:"node_id"`
	Channel      string  `json:"channel"`
	WarningLimit float64 `json:"warning_limit"`
	AlertLimit   float64 `json:"alert_limit"`
}

func (h *Handler) handleThresholds(w http.ResponseWriter, r *http.Request) {
	if h.thresholds == nil {
		http.Error(w, "threshold store not configured", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
		set, err := h.thresholds.Snapshot(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		var list []thresholdPayload
		for _, channels := range set {
			for _, threshold := range channels {
				list = append(list, thresholdPayload{
					NodeID:       threshold.NodeID,
					Channel:      threshold.Channel,
					WarningLimit: threshold.WarningLimit,
					AlertLimit:   threshold.AlertLimit,
				})
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(list)
	case http.MethodPut:
		var payload thresholdPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "malformed body", http.StatusBadRequest)
			return
		}
		threshold := monitoring.Threshold{
			NodeID:       payload.NodeID,
			Channel:      payload.Channel,
			WarningLimit: payload.WarningLimit,
			AlertLimit:   payload.AlertLimit,
			UpdatedAt:    time.Now().UTC(),
		}
		if err := threshold.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := h.thresholds.Upsert(r.Context(), threshold); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		h.auditAction(r, "thresholds.upsert", payload.NodeID)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) nodeFromQuery(w http.ResponseWriter, r *http.Request) (monitoring.Node, bool) {
	nodeID := r.URL.Query().Get("node_id")
	if nodeID == "" {
		http.Error(w, "node_id is required", http.StatusBadRequest)
		return monitoring.Node{}, false
	}
	node, ok := h.nodes[nodeID]
	if !ok {
		http.Error(w, "unknown node", http.StatusNotFound)
		return monitoring.Node{}, false
	}
	return node, true
}

func (h *Handler) rangeFromQuery(w http.ResponseWriter, r *http.Request) (monitoring.Node, time.Time, time.Time, bool) {
	node, ok := h.nodeFromQuery(w, r)
	if !ok {
		return monitoring.Node{}, time.Time{}, time.Time{}, false
	}
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return monitoring.Node{}, time.Time{}, time.Time{}, false
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return monitoring.Node{}, time.Time{}, time.Time{}, false
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return monitoring.Node{}, time.Time{}, time.Time{}, false
	}
	return node, from, to, true
}

type readingPayload struct {
	NodeID    string             `json:"node_id"`
	Timestamp string             `json:"timestamp"`
	Channels  map[string]float64 `json:"channels"`
}

func readingResponse(reading monitoring.Reading) readingPayload {
	channels := make(map[string]float64, len(reading.Channels))
	for _, cv := range reading.Channels {
		channels[cv.Channel] = cv.Value
	}
	return readingPayload{
		NodeID:    reading.NodeID,
		Timestamp: reading.Timestamp.UTC().Format(timeLayout),
		Channels:  channels,
	}
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
