// Package dashboard provides the bare local status/health HTTP surface and
// the outbound event publisher described by spec §6. There is no HTML
// dashboard UI here: spec.md's Non-goals explicitly exclude a "dashboard
// UI/web server beyond the outbound event contract and a bare health/status
// surface", so this package stays JSON-only.
package dashboard

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"

	"github.com/nfocore/optionengine/internal/models"
)

// Config configures the status server.
type Config struct {
	Port      int
	AuthToken string
}

// SnapshotProvider is satisfied by *portfolio.Ledger; kept as an interface
// here so this package never imports portfolio and creates a cycle.
type SnapshotProvider interface {
	Snapshot() models.PortfolioSnapshot
}

// Server is the local, read-only status/health HTTP surface.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	ledger    SnapshotProvider
	logger    *logrus.Logger
	port      int
	authToken string
	startedAt time.Time
}

// NewServer constructs the status server. A nil ledger or logger panics at
// construction.
func NewServer(cfg Config, ledger SnapshotProvider, logger *logrus.Logger) *Server {
	if ledger == nil {
		panic("dashboard.NewServer: ledger must not be nil")
	}
	if logger == nil {
		panic("dashboard.NewServer: logger must not be nil")
	}
	s := &Server{
		router:    chi.NewRouter(),
		ledger:    ledger,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
		startedAt: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLoggerMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(middleware.Compress(5))

	if s.authToken != "" {
		s.router.Route("/", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/api/status", s.handleStatus)
		})
	} else {
		s.router.Get("/api/status", s.handleStatus)
	}

	// Health is always public: it is the machine probe, not the protected
	// status surface.
	s.router.Get("/health", s.handleHealth)
}

func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loggedURL := s.redactTokenFromURL(r.URL)
		logEntry := s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"url":        loggedURL.String(),
			"user_agent": r.UserAgent(),
			"remote_ip":  r.RemoteAddr,
		})

		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)

		logEntry.WithFields(logrus.Fields{
			"status":   wrapped.Status(),
			"bytes":    wrapped.BytesWritten(),
			"duration": time.Since(start),
		}).Info("dashboard request")
	})
}

func (s *Server) redactTokenFromURL(originalURL *url.URL) *url.URL {
	loggedURL := &url.URL{
		Scheme:   originalURL.Scheme,
		Host:     originalURL.Host,
		Path:     originalURL.Path,
		RawQuery: originalURL.RawQuery,
		Fragment: originalURL.Fragment,
	}
	if originalURL.RawQuery != "" {
		values := originalURL.Query()
		for _, k := range []string{"token", "auth_token"} {
			if values.Has(k) {
				values.Set(k, "[REDACTED]")
			}
		}
		loggedURL.RawQuery = values.Encode()
	}
	return loggedURL
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if !s.isValidToken(token) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isValidToken(token string) bool {
	if len(token) != len(s.authToken) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}

// Start serves the status surface until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Infof("dashboard: status server listening on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the status server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.ledger.Snapshot()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.WithError(err).Error("dashboard: failed to encode status")
	}
}

// handleHealth reports process liveness plus runtime stats (gopsutil), per
// SPEC_FULL.md's supplemented health-probe enrichment.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"uptime_secs": time.Since(s.startedAt).Seconds(),
		"goroutines":  runtime.NumGoroutine(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		health["mem_used_pct"] = vm.UsedPercent
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if pct, err := proc.CPUPercent(); err == nil {
			health["process_cpu_pct"] = pct
		}
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			health["process_rss_bytes"] = info.RSS
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.WithError(err).Error("dashboard: failed to encode health response")
	}
}
