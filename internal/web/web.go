// Package web exposes occupancy queries, admin sync actions and booking
// lifecycle hooks over HTTP.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"staysync/internal/availability"
	"staysync/internal/config"
	appLog "staysync/internal/log"
	"staysync/internal/model"
	"staysync/internal/occupancy"
	"staysync/internal/reconcile"
	"staysync/internal/store"
	"staysync/internal/syncer"
)

// Services are the components the handlers call into.
type Services struct {
	Store        *store.Store
	Availability *availability.Service
	Occupancy    *occupancy.Resolver
	Inbound      *syncer.Inbound
	ICal         *syncer.ICalSync
	Lifecycle    *syncer.Lifecycle
	Reconciler   *reconcile.Reconciler
	Clock        model.Clock
}

// Server provides the HTTP API.
type Server struct {
	cfg      *config.Config
	svc      Services
	router   *httprouter.Router
	limiter  *visitorLimiter
	validate *validator.Validate
}

// NewServer constructs a Server and registers its routes.
func NewServer(cfg *config.Config, svc Services) *Server {
	s := &Server{
		cfg:      cfg,
		svc:      svc,
		router:   httprouter.New(),
		limiter:  newVisitorLimiter(2, 10),
		validate: validator.New(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the router wrapped in CORS, basic auth (when configured)
// and request logging.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	if len(s.cfg.CORSOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins:   s.cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			AllowCredentials: true,
		}).Handler(h)
	}
	return loggingMiddleware(h)
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", s.handleHealth)

	r.GET("/api/units/:id/occupancy", s.handleUnitOccupancy)
	r.GET("/api/units/:id/blocks", s.handleUnitBlocks)
	r.GET("/api/properties/:id/availability", s.handlePropertyAvailability)
	r.GET("/api/stats/occupancy", s.handleOccupancyStats)
	r.GET("/api/buildings/:id/occupancy/today", s.handleBuildingToday)
	r.GET("/api/buildings/:id/occupancy/rate", s.handleBuildingRate)

	admin := s.limiter.Limit
	r.POST("/api/admin/sync/inbound", admin(s.handleSyncInbound))
	r.POST("/api/admin/sync/ical", admin(s.handleSyncICal))
	r.POST("/api/admin/reconcile", admin(s.handleReconcile))
	r.POST("/api/admin/snapshots", admin(s.handleSnapshot))
	r.POST("/api/admin/blocks", admin(s.handleCreateBlock))
	r.DELETE("/api/admin/blocks/:id", admin(s.handleRemoveBlock))
	r.POST("/api/admin/backfill", admin(s.handleBackfill))
	r.POST("/api/admin/expire", admin(s.handleExpire))
	r.GET("/api/admin/logs", s.handleLogs)

	r.POST("/api/hooks/bookings/:id/activated", s.handleBookingActivated)
	r.POST("/api/hooks/bookings/:id/cancelled", s.handleBookingCancelled)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Admin sync actions run inline and may take a while.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="staysync", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// loggingMiddleware logs each request method, path and duration.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		appLog.Debug("http request", "method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "duration", time.Since(start).String())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.svc.Store != nil {
		if err := s.svc.Store.Ping(r.Context()); err != nil {
			appLog.Error("health: database ping failed", err)
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// parseDateParam reads a YYYY-MM-DD query parameter. ok is false when the
// parameter is absent.
func parseDateParam(r *http.Request, name string) (t time.Time, ok bool, err error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, false, nil
	}
	t, err = model.ParseDate(v)
	return t, err == nil, err
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, availability.ErrUnknownBlockID):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, availability.ErrInvalidRange),
		errors.Is(err, availability.ErrNotAdminBlock),
		errors.Is(err, availability.ErrMissingOwner):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, syncer.ErrBookingNotLive):
		writeError(w, http.StatusConflict, err.Error())
	default:
		appLog.Error(action+" failed", err)
		writeError(w, http.StatusInternalServerError, action+" failed")
	}
}
