// Package httpapi exposes the sync service over HTTP JSON and hosts the
// coordination websocket endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"github.com/mikenoired/synapse-sub000/internal/common"
	"github.com/mikenoired/synapse-sub000/internal/logging"
	"github.com/mikenoired/synapse-sub000/internal/server/services"
	"github.com/mikenoired/synapse-sub000/internal/syncmodel"
)

type Server struct {
	svc    *services.Sync
	hub    http.Handler
	logger logging.Logger
	http   *http.Server
}

func NewServer(addr string, svc *services.Sync, hub http.Handler, logger logging.Logger) *Server {
	s := &Server{
		svc:    svc,
		hub:    hub,
		logger: logger.With("module", "httpapi"),
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, w, req)
			s.logger.Info(req.Context(), "handled",
				"method", req.Method, "url", req.URL.String(),
				"status", m.Code, "duration", m.Duration)
		})
	})
	r.HandleFunc("/api/sync/push", s.handlePush).Methods(http.MethodPost)
	r.HandleFunc("/api/sync/pull", s.handlePull).Methods(http.MethodPost)
	r.HandleFunc("/api/sync/initial", s.handleBootstrap).Methods(http.MethodPost)
	if s.hub != nil {
		r.Handle("/ws", s.hub).Methods(http.MethodGet)
	}
	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info(ctx, "listening", "addr", s.http.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

// Handler returns the routed handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req syncmodel.PushRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.svc.Push(r.Context(), userID, req.Operations)
	if err != nil {
		s.fail(r.Context(), w, "push failed", err)
		return
	}
	s.respond(r.Context(), w, resp)
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req syncmodel.PullRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.svc.Pull(r.Context(), userID, req.Since)
	if err != nil {
		s.fail(r.Context(), w, "pull failed", err)
		return
	}
	s.respond(r.Context(), w, resp)
}

func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	data, err := s.svc.Bootstrap(r.Context(), userID)
	if err != nil {
		s.fail(r.Context(), w, "bootstrap failed", err)
		return
	}
	s.respond(r.Context(), w, &syncmodel.BootstrapResponse{Data: *data})
}

func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(common.UserIDHeaderName)
	if userID == "" {
		http.Error(w, "missing user header", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) respond(ctx context.Context, w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error(ctx, "response encode failed", "error", err)
	}
}

func (s *Server) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	s.logger.Error(ctx, msg, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
