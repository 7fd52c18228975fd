package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/majoor-app/majoor/internal/logger"
	"github.com/majoor-app/majoor/pkg/errcode"
	"github.com/majoor-app/majoor/pkg/security"
)

// requestLogger logs requests through the internal logger. Health probes
// log at DEBUG to keep the noise down.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		s.metrics.RecordRequest(routePattern(r), strconv.Itoa(ww.Status()), duration)

		args := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		}
		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", args...)
		} else {
			logger.Info("API request completed", args...)
		}
	})
}

func isHealthPath(path string) bool {
	return strings.Contains(path, "/health") || strings.HasSuffix(path, "/status")
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// fenceMaintenance short-circuits while a maintenance operation holds the
// flag.
func (s *Server) fenceMaintenance(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.flag != nil && s.flag.IsActive() {
			writeErr(w, errcode.New(errcode.DBMaintenance, "database maintenance in progress"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit applies the per-client sliding window for one endpoint key.
func (s *Server) rateLimit(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.guard == nil || s.guard.Limiter() == nil {
				next.ServeHTTP(w, r)
				return
			}
			allowed, retryAfter := s.guard.Limiter().Allow(s.guard.ClientID(r), endpoint)
			if !allowed {
				s.metrics.RecordRateLimited(endpoint)
				writeErr(w, errcode.New(errcode.RateLimited, "rate limit exceeded").
					WithMeta("retry_after", retryAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// mutating is the full guard stack for state-changing endpoints: the
// maintenance fence, CSRF, write auth, the operation allowlist, and the
// rate limiter.
func (s *Server) mutating(endpoint, op string) func(http.Handler) http.Handler {
	limit := s.rateLimit(endpoint)
	return func(next http.Handler) http.Handler {
		guarded := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.flag != nil && s.flag.IsActive() {
				writeErr(w, errcode.New(errcode.DBMaintenance, "database maintenance in progress"))
				return
			}
			if err := s.guard.CheckCSRF(r); err != nil {
				writeErr(w, err)
				return
			}
			if err := s.guard.CheckWriteAccess(r); err != nil {
				writeErr(w, err)
				return
			}
			if err := s.requireOperation(r.Context(), op); err != nil {
				writeErr(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
		return limit(guarded)
	}
}

func (s *Server) requireOperation(ctx context.Context, op string) error {
	if s.settings == nil {
		return nil
	}
	return security.RequireOperationEnabled(ctx, s.settings, op)
}
