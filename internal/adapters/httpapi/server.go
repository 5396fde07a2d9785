// Package httpapi exposes signal intake and engine control over HTTP.
//
// Routes:
//
//	POST /signals                   push a signal (202, consumed by the engine loop)
//	GET  /status                    engine telemetry
//	GET  /positions                 open positions
//	POST /positions                 manual open
//	POST /positions/{id}/close      manual close at the last price
//	PUT  /positions/{id}/override   replace SL/TP of an open position
//	GET  /history?limit=N           closed trades and aggregate stats
//	POST /engine/enable|disable|reset
//	GET  /metrics                   Prometheus, when a handler is mounted
//	GET  /health
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alejandrodnm/autopilot/internal/application/engine"
	"github.com/alejandrodnm/autopilot/internal/domain"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 64 << 10

// Controller is the engine surface the API drives.
type Controller interface {
	Status() domain.Status
	Positions() []domain.Position
	History() []domain.HistoryEntry
	OpenManual(ctx context.Context, o engine.ManualOrder) (domain.OpenedEvent, error)
	ClosePosition(ctx context.Context, id string) (domain.HistoryEntry, error)
	SetOverride(id string, ov domain.Override) error
	Enable() error
	Disable(reason string)
	Reset(ctx context.Context, balance float64) error
}

// Server holds the handlers' dependencies.
type Server struct {
	ctl     Controller
	intake  *Intake
	metrics http.Handler
	now     func() time.Time
}

// NewServer wires the API. metrics may be nil.
func NewServer(ctl Controller, intake *Intake, metrics http.Handler) *Server {
	return &Server{ctl: ctl, intake: intake, metrics: metrics, now: time.Now}
}

// Router builds the gorilla/mux router with logging and recovery middleware.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(recovery)
	r.Use(logging)

	r.HandleFunc("/signals", s.postSignal).Methods(http.MethodPost)
	r.HandleFunc("/status", s.getStatus).Methods(http.MethodGet)
	r.HandleFunc("/positions", s.getPositions).Methods(http.MethodGet)
	r.HandleFunc("/positions", s.openManual).Methods(http.MethodPost)
	r.HandleFunc("/positions/{id}/close", s.closePosition).Methods(http.MethodPost)
	r.HandleFunc("/positions/{id}/override", s.setOverride).Methods(http.MethodPut)
	r.HandleFunc("/history", s.getHistory).Methods(http.MethodGet)

	eng := r.PathPrefix("/engine").Subrouter()
	eng.HandleFunc("/enable", s.enable).Methods(http.MethodPost)
	eng.HandleFunc("/disable", s.disable).Methods(http.MethodPost)
	eng.HandleFunc("/reset", s.reset).Methods(http.MethodPost)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	return r
}

func (s *Server) postSignal(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if !decode(w, r, &req) {
		return
	}
	sig, err := req.toSignal(s.now())
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.intake.Push(sig); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "symbol": sig.Symbol})
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toStatusDTO(s.ctl.Status()))
}

func (s *Server) getPositions(w http.ResponseWriter, _ *http.Request) {
	ps := s.ctl.Positions()
	out := make([]positionDTO, 0, len(ps))
	for _, p := range ps {
		out = append(out, toPositionDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) openManual(w http.ResponseWriter, r *http.Request) {
	var req manualOrderRequest
	if !decode(w, r, &req) {
		return
	}
	order, err := req.toOrder()
	if err != nil {
		writeError(w, err)
		return
	}
	ev, err := s.ctl.OpenManual(r.Context(), order)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         ev.ID,
		"symbol":     ev.Symbol,
		"direction":  ev.Direction,
		"notional":   ev.Notional,
		"open_price": ev.OpenPrice,
	})
}

func (s *Server) closePosition(w http.ResponseWriter, r *http.Request) {
	h, err := s.ctl.ClosePosition(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeDTO(h))
}

func (s *Server) setOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if !decode(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.ctl.SetOverride(id, domain.Override{Stop: req.Stop, Targets: req.Targets}); err != nil {
		writeError(w, err)
		return
	}
	for _, p := range s.ctl.Positions() {
		if p.ID == id {
			writeJSON(w, http.StatusOK, toPositionDTO(p))
			return
		}
	}
	// cerrada entre SetOverride y la lectura
	writeError(w, fmt.Errorf("%w: %s", domain.ErrPositionNotFound, id))
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	history := s.ctl.History()
	stats := domain.Summarize(history)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer", Code: "bad_request"})
			return
		}
		if n > 0 && n < len(history) {
			history = history[len(history)-n:]
		}
	}
	out := historyResponse{Trades: make([]tradeDTO, 0, len(history)), Stats: toStatsDTO(stats)}
	for _, h := range history {
		out.Trades = append(out.Trades, toTradeDTO(h))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) enable(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctl.Enable(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusDTO(s.ctl.Status()))
}

func (s *Server) disable(w http.ResponseWriter, r *http.Request) {
	req := disableRequest{Reason: "disabled via api"}
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	s.ctl.Disable(req.Reason)
	writeJSON(w, http.StatusOK, toStatusDTO(s.ctl.Status()))
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	if req.Balance < 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "balance must be >= 0", Code: "bad_request"})
		return
	}
	if err := s.ctl.Reset(r.Context(), req.Balance); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusDTO(s.ctl.Status()))
}

// --- helpers ---

func decode(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON: " + err.Error(), Code: "bad_request"})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, domain.ErrInvalidSignal), errors.Is(err, domain.ErrInvalidSize):
		status, code = http.StatusBadRequest, "invalid"
	case errors.Is(err, domain.ErrPositionNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrPositionClosing):
		status, code = http.StatusConflict, "closing"
	case errors.Is(err, domain.ErrEngineHalted):
		status, code = http.StatusConflict, "halted"
	case errors.Is(err, engine.ErrCapExceeded):
		status, code = http.StatusConflict, "cap_exceeded"
	case errors.Is(err, ErrIntakeFull):
		status, code = http.StatusServiceUnavailable, "busy"
	}
	if status == http.StatusInternalServerError {
		slog.Error("httpapi: request failed", "err", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("httpapi: error encoding response", "err", err)
	}
}
