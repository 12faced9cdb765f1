package manager

import (
	"WiFiSpectra/internal/model"
	"WiFiSpectra/internal/registry"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// APIHandler serves the operator commands over HTTP.
type APIHandler struct {
	m   *Manager
	log *zap.SugaredLogger
}

type apsResponse struct {
	Phase    string          `json:"phase"`
	APs      []model.APEntry `json:"aps"`
	Selected *model.APEntry  `json:"selected,omitempty"`
}

type scanRequest struct {
	Channels []int `json:"channels"`
}

type selectRequest struct {
	BSSID *model.BSSID `json:"bssid"`
	Index *int         `json:"index"`
}

// NewRouter builds the operator API. /metrics is served from gatherer when it
// is not nil.
func NewRouter(m *Manager, gatherer prometheus.Gatherer, log *zap.SugaredLogger) *mux.Router {
	h := &APIHandler{m: m, log: log}
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/nodes", h.nodesHandler).Methods("GET")
	r.HandleFunc("/api/v1/aps", h.apsHandler).Methods("GET")
	r.HandleFunc("/api/v1/scan", h.scanHandler).Methods("POST")
	r.HandleFunc("/api/v1/select", h.selectHandler).Methods("POST")
	r.HandleFunc("/api/v1/stop", h.stopHandler).Methods("POST")
	r.HandleFunc("/api/v1/end", h.endHandler).Methods("POST")
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *APIHandler) nodesHandler(w http.ResponseWriter, r *http.Request) {
	nodes := h.m.Nodes()
	if nodes == nil {
		nodes = []registry.Info{}
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (h *APIHandler) apsHandler(w http.ResponseWriter, r *http.Request) {
	resp := apsResponse{Phase: h.m.Phase().String(), APs: []model.APEntry{}}
	for _, ap := range h.m.CommonAPs() {
		resp.APs = append(resp.APs, model.ToAPEntry(ap))
	}
	if ap, ok := h.m.Selected(); ok {
		entry := model.ToAPEntry(ap)
		resp.Selected = &entry
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) scanHandler(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.m.Scan(req.Channels); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *APIHandler) selectHandler(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var (
		ap  model.APRecord
		err error
	)
	switch {
	case req.BSSID != nil:
		ap, err = h.m.Select(*req.BSSID)
	case req.Index != nil:
		ap, err = h.m.SelectIndex(*req.Index)
	default:
		http.Error(w, "bssid or index is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ToAPEntry(ap))
}

func (h *APIHandler) stopHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.m.Stop(); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *APIHandler) endHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.m.End(); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *APIHandler) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnknownAP):
		status = http.StatusNotFound
	case errors.Is(err, ErrNoReadyNodes), errors.Is(err, ErrScanInProgress), errors.Is(err, ErrStopped):
		status = http.StatusConflict
	default:
		h.log.Warnf("API request failed: %v", err)
	}
	http.Error(w, err.Error(), status)
}

// decodeBody accepts an empty body as the zero request.
func decodeBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
