package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
	"github.com/yndnr/mdmcache-go/internal/core/service"
	"github.com/yndnr/mdmcache-go/internal/server/httpserver/handler"
	"github.com/yndnr/mdmcache-go/internal/telemetry/logger"
)

// HeaderRequestID carries the request ID in both directions.
const HeaderRequestID = "X-Request-ID"

type contextKey string

const contextKeyStartTime contextKey = "start_time"

// Middleware wraps an http.Handler with additional functionality.
type Middleware func(http.Handler) http.Handler

// Chain chains multiple middlewares together. The first one runs first.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RequestID adds a unique request ID to each request. A well-formed ID sent
// by the client is kept so logs can be correlated across hops.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(HeaderRequestID)
			if !validRequestID(requestID) {
				requestID = ulid.Make().String()
			}
			w.Header().Set(HeaderRequestID, requestID)

			ctx := logger.WithRequestID(r.Context(), requestID)
			ctx = context.WithValue(ctx, contextKeyStartTime, time.Now())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		if c <= ' ' || c > '~' {
			return false
		}
	}
	return true
}

// Authenticate resolves the caller's principal from the Authorization
// header. Unknown or missing tokens give an anonymous principal; the access
// policy of each route decides what that may do.
func Authenticate(auth *service.Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := auth.Authenticate(r.Context(), r.Header.Get("Authorization"))
			next.ServeHTTP(w, r.WithContext(handler.WithPrincipal(r.Context(), p)))
		})
	}
}

// AdminOnly requires an authenticated principal. When users is not empty
// the principal must also be listed there.
func AdminOnly(users []string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := handler.PrincipalFromContext(r.Context())
			requestID := logger.RequestIDFromContext(r.Context())
			if !p.Authenticated {
				e := domain.ErrAuthRequired
				handler.WriteError(w, requestID, http.StatusUnauthorized, e.Code, e.Message)
				return
			}
			if len(users) > 0 && !slices.Contains(users, p.User) {
				e := domain.ErrAdminRequired
				handler.WriteError(w, requestID, http.StatusForbidden, e.Code, e.Message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// maxRateBuckets bounds the per-IP limiter table. It is cleared when full.
const maxRateBuckets = 10000

// RateLimit applies per client IP rate limiting.
func RateLimit(perSecond float64, burst int) Middleware {
	if burst < 1 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}

	var mu sync.RWMutex
	buckets := make(map[string]*rate.Limiter)

	get := func(ip string) *rate.Limiter {
		mu.RLock()
		l, ok := buckets[ip]
		mu.RUnlock()
		if ok {
			return l
		}

		mu.Lock()
		defer mu.Unlock()
		if l, ok = buckets[ip]; ok {
			return l
		}
		if len(buckets) >= maxRateBuckets {
			clear(buckets)
		}
		l = rate.NewLimiter(rate.Limit(perSecond), burst)
		buckets[ip] = l
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !get(getClientIP(r)).Allow() {
				w.Header().Set("Retry-After", "1")
				e := domain.ErrTooManyRequests
				handler.WriteError(w, logger.RequestIDFromContext(r.Context()), http.StatusTooManyRequests, e.Code, e.Message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestObserver records per-route request metrics.
type RequestObserver interface {
	ObserveRequest(route string, code int, elapsed time.Duration)
}

// Audit logs every request and feeds the request metrics. metrics may be nil.
func Audit(log *slog.Logger, metrics RequestObserver) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			ctx, route := handler.WithRouteInfo(r.Context())
			start, ok := r.Context().Value(contextKeyStartTime).(time.Time)
			if !ok {
				start = time.Now()
			}

			completed := false
			defer func() {
				status := wrapped.statusCode
				if !completed {
					// A panic; after the header it means a broken stream.
					status = http.StatusInternalServerError
					if wrapped.wroteHeader {
						status = 499
					}
				}
				duration := time.Since(start)
				if metrics != nil {
					metrics.ObserveRequest(route.Pattern, status, duration)
				}

				p := handler.PrincipalFromContext(ctx)
				attrs := []any{
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"bytes", wrapped.written,
					"duration_ms", duration.Milliseconds(),
					"client_ip", getClientIP(r),
				}
				if p.Authenticated {
					attrs = append(attrs, "user", p.User)
				}

				switch {
				case status >= 500:
					log.ErrorContext(ctx, "request completed with error", attrs...)
				case status >= 400:
					log.WarnContext(ctx, "request completed with client error", attrs...)
				default:
					log.InfoContext(ctx, "request completed", attrs...)
				}
			}()

			next.ServeHTTP(wrapped, r.WithContext(ctx))
			completed = true
		})
	}
}

// Recover recovers from panics and returns 500 error. http.ErrAbortHandler
// is passed on so the server drops the connection.
func Recover(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				err := recover()
				if err == nil {
					return
				}
				if e, ok := err.(error); ok && errors.Is(e, http.ErrAbortHandler) {
					panic(err)
				}
				requestID := logger.RequestIDFromContext(r.Context())
				log.ErrorContext(r.Context(), "panic recovered",
					"error", err,
					"path", r.URL.Path,
				)
				e := domain.ErrInternalServer
				handler.WriteError(w, requestID, http.StatusInternalServerError, e.Code, e.Message)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// NetworkACLConfig holds configuration for network ACL middleware.
type NetworkACLConfig struct {
	// AllowList is the list of allowed IP/CIDR entries.
	// Empty list means no restriction.
	AllowList []string

	// Logger for logging denied requests.
	Logger *slog.Logger
}

// NetworkACL creates a middleware that checks client IP against an allowlist.
func NetworkACL(cfg *NetworkACLConfig) Middleware {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	var networks []*net.IPNet
	var singleIPs []net.IP
	for _, entry := range cfg.AllowList {
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				log.Warn("invalid CIDR in allowlist", "entry", entry, "error", err)
				continue
			}
			networks = append(networks, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			log.Warn("invalid IP in allowlist", "entry", entry)
			continue
		}
		singleIPs = append(singleIPs, ip)
	}

	allowed := func(ip net.IP) bool {
		for _, a := range singleIPs {
			if a.Equal(ip) {
				return true
			}
		}
		for _, n := range networks {
			if n.Contains(ip) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(networks) == 0 && len(singleIPs) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			clientIP := getClientIP(r)
			if ip := net.ParseIP(clientIP); ip != nil && allowed(ip) {
				next.ServeHTTP(w, r)
				return
			}

			log.Warn("request denied by network ACL",
				"client_ip", clientIP,
				"path", r.URL.Path,
			)
			e := domain.ErrNetworkDenied
			handler.WriteError(w, logger.RequestIDFromContext(r.Context()), http.StatusForbidden, e.Code, e.Message)
		})
	}
}

// CORS adds Cross-Origin Resource Sharing headers.
func CORS(allowedOrigins []string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed && origin != "" {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+HeaderRequestID)
				h.Set("Access-Control-Expose-Headers", handler.DescriptorHeader+", "+HeaderRequestID+", X-Error-Code")
				h.Set("Access-Control-Max-Age", strconv.Itoa(86400))
				h.Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code and
// the body size. Unwrap keeps http.ResponseController working through it.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	written     int64
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(p []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// net.SplitHostPort handles IPv6 addresses like [::1]:8080.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
