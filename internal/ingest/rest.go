package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"homeguard/internal/model"
)

// RESTReceiver accepts events over HTTP for hosts that push rather than
// publish: POST /event for sensor observations, POST /detection for
// camera person detections.
type RESTReceiver struct {
	addr   string
	sink   Sink
	logger *slog.Logger
	server *http.Server
}

func NewRESTReceiver(addr string, sink Sink, logger *slog.Logger) *RESTReceiver {
	r := &RESTReceiver{addr: addr, sink: sink, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /event", r.handleEvent)
	mux.HandleFunc("POST /detection", r.handleDetection)
	r.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return r
}

// Run serves until the context is cancelled.
func (r *RESTReceiver) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("rest receiver listening", "addr", r.addr)
		errCh <- r.server.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return r.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler exposes the mux for tests and for embedding in a host server.
func (r *RESTReceiver) Handler() http.Handler { return r.server.Handler }

func (r *RESTReceiver) handleEvent(w http.ResponseWriter, req *http.Request) {
	var obs model.Observation
	if err := json.NewDecoder(req.Body).Decode(&obs); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if obs.EntityID == "" {
		http.Error(w, "entity_id required", http.StatusBadRequest)
		return
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now()
	}
	r.sink.HandleObservation(obs)
	w.WriteHeader(http.StatusAccepted)
}

func (r *RESTReceiver) handleDetection(w http.ResponseWriter, req *http.Request) {
	var det model.PersonDetection
	if err := json.NewDecoder(req.Body).Decode(&det); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if det.Camera == "" {
		http.Error(w, "camera required", http.StatusBadRequest)
		return
	}
	if det.Timestamp.IsZero() {
		det.Timestamp = time.Now()
	}
	r.sink.HandlePersonDetection(det)
	w.WriteHeader(http.StatusAccepted)
}
