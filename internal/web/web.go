package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/crypto/bcrypt"

	"evcal/internal/cache"
	"evcal/internal/calendar"
	"evcal/internal/config"
	"evcal/internal/i18n"
	appLog "evcal/internal/log"
)

// Deps are the services the HTTP layer renders.
type Deps struct {
	Querier   calendar.Querier
	Assembler *calendar.Assembler
	Resolver  *i18n.Resolver
	// Cache holds public responses; nil disables caching.
	Cache cache.Cache
	// Now defaults to time.Now.
	Now func() time.Time
}

// Server exposes the public calendar API and the admin listing.
type Server struct {
	cfg    *config.Config
	debug  bool
	deps   Deps
	router *mux.Router
}

func NewServer(cfg *config.Config, deps Deps, debug bool) *Server {
	if deps.Cache == nil {
		deps.Cache = cache.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Resolver == nil {
		deps.Resolver = i18n.NewResolver(cfg.Locales, cfg.SkipEmptyTranslationTitle)
	}
	s := &Server{cfg: cfg, debug: debug, deps: deps, router: mux.NewRouter()}
	s.registerRoutes()
	return s
}

// Handler returns the router wrapped in CORS when origins are configured.
func (s *Server) Handler() http.Handler {
	if len(s.cfg.CORSOrigins) == 0 {
		return s.router
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{outcomeHeader, cacheHeader},
	}).Handler(s.router)
}

// PurgeCache drops cached public responses, typically after an import.
func (s *Server) PurgeCache(ctx context.Context) {
	if err := s.deps.Cache.Purge(ctx); err != nil {
		appLog.Error("response cache purge failed", err)
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "debug", s.debug)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/events", s.public(s.handleEvents)).Methods(http.MethodGet)
	api.HandleFunc("/events.ics", s.public(s.handleFeed)).Methods(http.MethodGet)
	api.HandleFunc("/events/{slug}", s.public(s.handleEvent)).Methods(http.MethodGet)
	api.HandleFunc("/groups/{slug}/events", s.public(s.handleGroupEvents)).Methods(http.MethodGet)
	api.HandleFunc("/list", s.public(s.handleList)).Methods(http.MethodGet)
	api.HandleFunc("/calendar/month", s.public(s.handleMonth)).Methods(http.MethodGet)
	api.HandleFunc("/calendar/week", s.public(s.handleWeek)).Methods(http.MethodGet)
	api.HandleFunc("/calendar/day", s.public(s.handleDay)).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.basicAuthMiddleware)
	admin.HandleFunc("/events", s.handleAdminEvents).Methods(http.MethodGet)

	r.Use(recoverMiddleware, loggingMiddleware)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// basicAuthMiddleware guards the admin API. Without configured credentials
// the admin API is closed.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	auth := s.cfg.BasicAuth
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth == nil || auth.Username == "" || (auth.Password == "" && auth.PasswordHash == "") {
			writeError(w, http.StatusForbidden, "admin API requires basic_auth")
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, auth.Username) || !checkPassword(auth, p) {
			w.Header().Set("WWW-Authenticate", `Basic realm="evcal admin", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func checkPassword(auth *config.BasicAuthConfig, password string) bool {
	if auth.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(auth.PasswordHash), []byte(password)) == nil
	}
	return secureCompare(password, auth.Password)
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
		)
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				appLog.Error("handler panic", errors.New("panic"), "path", r.URL.Path, "value", v)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
