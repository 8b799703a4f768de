package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"homeguard/internal/guardian"
	"homeguard/internal/model"
)

// Server exposes the read-mostly status API plus the control endpoints
// the host dashboard uses.
type Server struct {
	addr     string
	guardian *guardian.Guardian
	logger   *slog.Logger
	server   *http.Server
}

func NewServer(addr string, g *guardian.Guardian, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	s := &Server{addr: addr, guardian: g, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /zones", s.handleZones)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /reliability/{sensor}", s.handleReliability)
	mux.HandleFunc("POST /arm", s.handleArm)
	mux.HandleFunc("POST /disarm", s.handleDisarm)
	mux.HandleFunc("POST /reset", s.handleReset)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the mux for tests and host embedding.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status api listening", "addr", s.addr)
		errCh <- s.server.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.guardian.Status())
}

func (s *Server) handleZones(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.guardian.Status().Engine.Zones)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.guardian.Status()
	code := http.StatusOK
	if !status.Health.Healthy && !status.Health.WarmingUp {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status.Health)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	events, err := s.guardian.RecentEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("events query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleReliability(w http.ResponseWriter, r *http.Request) {
	sensor := r.PathValue("sensor")
	if sensor == "" {
		http.Error(w, "sensor required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.guardian.SensorReliability(sensor))
}

func (s *Server) handleArm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.guardian.Arm(model.AlarmState(body.Mode)); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"state": string(s.guardian.Status().State)})
}

func (s *Server) handleDisarm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		By string `json:"by"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	if body.By == "" {
		body.By = "api"
	}
	s.guardian.Disarm(body.By)
	writeJSON(w, http.StatusAccepted, map[string]string{"state": string(model.StateDisarmed)})
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.guardian.ResetEpisode()
	writeJSON(w, http.StatusAccepted, map[string]string{"state": string(s.guardian.Status().State)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
