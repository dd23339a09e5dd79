// Package server exposes the recommendation tree over HTTP.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/tarstars/recommendation_tree/golang/rectree/config"
	"github.com/tarstars/recommendation_tree/golang/rectree/playlists"
	"github.com/tarstars/recommendation_tree/golang/rectree/rtl"
	"github.com/thejerf/suture/v4"
)

const (
	msgOnlyPlaylistIDs = "Only Accepting Playlist ID's."
	msgDumpMiss        = "Could not find non-Spotify Playlist in database."
	msgBadTrackIDs     = "Bad Track IDs."
	msgBadFeatures     = "Bad Track Features."
	msgEmptyTree       = "Recommendation tree is empty."
	msgInternal        = "Internal error."
	msgAuthFailure     = "Authentication Failure"
	msgAuthDone        = "Done authorizing, close tab..."
	msgKilled          = "Server is kill."
)

// Authenticator drives the browser based catalog authorization.
type Authenticator interface {
	AuthCodeURL() string
	Exchange(ctx context.Context, state, code string) error
}

// response is the body of /push/ and /recommendation/.
type response struct {
	Type string `json:"type"`
	Ret  any    `json:"ret"`
}

// Server routes HTTP requests to a Service.
type Server struct {
	service *Service
	auth    Authenticator
	cfg     config.ServerConfig
	logger  zerolog.Logger

	// cancels the context given to Run
	stop context.CancelFunc
}

// New creates a server; auth may be nil when the catalog uses client credentials.
func New(service *Service, auth Authenticator, cfg config.ServerConfig, logger zerolog.Logger) *Server {
	return &Server{
		service: service,
		auth:    auth,
		cfg:     cfg,
		logger:  logger,
		stop:    func() {},
	}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Instrument)
	r.Use(middleware.Recoverer)
	if s.cfg.RateLimitRequests > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitRequests, s.cfg.RateLimitWindow))
	}

	r.Get("/push/", s.handlePush)
	r.Get("/recommendation/", s.handleRecommend)
	r.Get("/callback/", s.handleCallback)
	r.Get("/login/", s.handleLogin)
	r.Get("/kill/", s.handleKill)
	r.Get("/tree/stats", s.handleStats)
	r.Get("/tree.{format}", s.handleRender)
	r.Get("/history", s.handleHistory)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	err := s.service.Push(r.Context(), r.URL.Query().Get("playlist"))
	if err != nil {
		status, message := errorResponse(err)
		writeJSON(w, status, response{Type: "push", Ret: message})
		return
	}
	writeJSON(w, http.StatusOK, response{Type: "push", Ret: nil})
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	recommended, err := s.service.Recommend(r.Context(), r.URL.Query().Get("playlist"))
	if err != nil {
		status, message := errorResponse(err)
		writeJSON(w, status, response{Type: "recommend", Ret: message})
		return
	}
	writeJSON(w, http.StatusOK, response{Type: "recommend", Ret: recommended})
}

// errorResponse maps a Service error to a status code and the message returned in "ret".
func errorResponse(err error) (int, string) {
	var stageErr *StageError
	var classifierErr *rtl.ClassifierError
	var mismatch *rtl.DimensionMismatchError
	switch {
	case errors.Is(err, ErrMissingPlaylist):
		return http.StatusBadRequest, msgOnlyPlaylistIDs
	case errors.Is(err, playlists.ErrNotFound):
		return http.StatusNotFound, msgDumpMiss
	case errors.Is(err, rtl.ErrEmptyTree):
		return http.StatusConflict, msgEmptyTree
	case errors.As(err, &stageErr) && stageErr.Stage == StageTrackIDs:
		return http.StatusBadRequest, msgBadTrackIDs
	case errors.As(err, &stageErr) && stageErr.Stage == StageFeatures:
		return http.StatusBadRequest, msgBadFeatures
	case errors.As(err, &classifierErr), errors.As(err, &mismatch):
		return http.StatusUnprocessableEntity, err.Error()
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if s.auth == nil || code == "" {
		http.Error(w, msgAuthFailure, http.StatusBadRequest)
		return
	}
	if err := s.auth.Exchange(r.Context(), r.URL.Query().Get("state"), code); err != nil {
		s.logger.Warn().Err(err).Msg("authorization callback failed")
		http.Error(w, msgAuthFailure, http.StatusBadRequest)
		return
	}
	s.logger.Info().Msg("catalog authorization completed")
	writeText(w, http.StatusOK, msgAuthDone)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, s.auth.AuthCodeURL(), http.StatusFound)
}

func (s *Server) handleKill(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, msgKilled)
	s.logger.Info().Msg("shutdown requested over http")
	s.stop()
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Stats())
}

var contentTypes = map[string]string{
	"svg": "image/svg+xml",
	"png": "image/png",
	"jpg": "image/jpeg",
	"dot": "text/vnd.graphviz",
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "format")
	format, err := rtl.ParseFormat(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	var buf bytes.Buffer
	if err := s.service.Render(&buf, format); err != nil {
		s.logger.Error().Err(err).Msg("render failed")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypes[name])
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			http.Error(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	entries, err := s.service.History(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("history query failed")
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	body, err := json.Marshal(value)
	if err != nil {
		http.Error(w, msgInternal, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(text))
}

// Run serves HTTP under a supervisor until ctx is cancelled or /kill/ is requested.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.stop = cancel

	httpServer := &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.Routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	supervisor := suture.New("rectree", suture.Spec{
		EventHook: func(event suture.Event) {
			s.logger.Warn().Str("event", event.String()).Msg("supervisor event")
		},
		Timeout: s.cfg.ShutdownTimeout + time.Second,
	})
	supervisor.Add(&httpService{server: httpServer, shutdownTimeout: s.cfg.ShutdownTimeout})

	s.logger.Info().Str("addr", httpServer.Addr).Msg("serving")
	err := supervisor.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// httpService runs an http.Server as a supervised service.
type httpService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

func (h *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *httpService) String() string {
	return "http-server"
}
