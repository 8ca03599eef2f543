// Package httpapi is the local status surface of a running call agent:
// health probes, metrics, call controls and the time-window gate.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/foxseedlab/teleconsult/internal/call"
	"github.com/foxseedlab/teleconsult/internal/callwindow"
	"github.com/foxseedlab/teleconsult/internal/metrics"
	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

// CallController is the part of *call.Orchestrator the surface drives.
type CallController interface {
	Status() call.Status
	SetMuted(muted bool) error
	SetVideoEnabled(enabled bool) error
	EndCall(ctx context.Context) error
}

type Config struct {
	// Call is nil when no call is running; call routes then answer 404.
	Call     CallController
	Checkers []Checker
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

type Server struct {
	call     CallController
	checkers []Checker
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		call:     cfg.Call,
		checkers: cfg.Checkers,
		metrics:  cfg.Metrics,
		log:      log,
		now:      now,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(s.log))
	r.Use(metrics.RequestMiddleware(s.metrics))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/window", s.getWindow)
	r.Route("/call", func(r chi.Router) {
		r.Get("/", s.getCall)
		r.Post("/mute", s.setMuted)
		r.Post("/video", s.setVideo)
		r.Post("/end", s.endCall)
	})
	return r
}

// ListenAndServe serves until ctx is done, then drains connections.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("status server listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("status server stopped")
	return nil
}

func (s *Server) getWindow(w http.ResponseWriter, r *http.Request) {
	appointment, err := callwindow.ParseAppointmentTime(r.URL.Query().Get("requested_at"))
	if err != nil {
		s.log.Debug("invalid requested_at", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, callwindow.Evaluate(s.now(), appointment))
}

type errorBody struct {
	Error string `json:"error"`
}

type muteRequest struct {
	Muted *bool `json:"muted"`
}

type videoRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) getCall(w http.ResponseWriter, _ *http.Request) {
	if s.call == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.call.Status())
}

func (s *Server) setMuted(w http.ResponseWriter, r *http.Request) {
	if s.call == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var req muteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Muted == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: `body must be {"muted": true|false}`})
		return
	}
	if err := s.call.SetMuted(*req.Muted); err != nil {
		s.writeControlError(w, err)
		return
	}
	s.log.Info("microphone toggled", slog.Bool("muted", *req.Muted))
	writeJSON(w, http.StatusOK, s.call.Status())
}

func (s *Server) setVideo(w http.ResponseWriter, r *http.Request) {
	if s.call == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var req videoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: `body must be {"enabled": true|false}`})
		return
	}
	if err := s.call.SetVideoEnabled(*req.Enabled); err != nil {
		s.writeControlError(w, err)
		return
	}
	s.log.Info("camera toggled", slog.Bool("enabled", *req.Enabled))
	writeJSON(w, http.StatusOK, s.call.Status())
}

func (s *Server) endCall(w http.ResponseWriter, r *http.Request) {
	if s.call == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := s.call.EndCall(r.Context()); err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.call.Status())
}

func (s *Server) writeControlError(w http.ResponseWriter, err error) {
	if errors.Is(err, call.ErrNotActive) {
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
		return
	}
	s.log.Error("call control failed", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
}
