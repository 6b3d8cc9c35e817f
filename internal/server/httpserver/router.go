package httpserver

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/yndnr/mdmcache-go/internal/core/service"
	"github.com/yndnr/mdmcache-go/internal/server/httpserver/handler"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	Handler handler.Config

	// Authenticator resolves bearer tokens. Nil treats every caller as
	// anonymous.
	Authenticator *service.Authenticator

	// Metrics receives per-route request metrics. Nil disables them.
	Metrics RequestObserver

	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler

	// AdminUsers may use the admin API. Empty means any authenticated user.
	AdminUsers []string

	// AdminAllowList is the IP/CIDR allowlist for the admin API (empty = no restriction).
	AdminAllowList []string

	// CORSAllowedOrigins is the list of allowed CORS origins (empty = none).
	CORSAllowedOrigins []string

	// RateLimit is the per-IP request rate in requests per second (0 = off).
	RateLimit float64

	Logger *slog.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
//
// Order: RequestID -> Recover -> CORS -> Authenticate -> Audit -> RateLimit -> Handler.
// Admin routes add AdminOnly and the network ACL after the rate limit.
func NewRouter(cfg *RouterConfig) (http.Handler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("httpserver: router config is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	hcfg := cfg.Handler
	if hcfg.Logger == nil {
		hcfg.Logger = log
	}
	h, err := handler.New(hcfg)
	if err != nil {
		return nil, err
	}

	auth := cfg.Authenticator
	if auth == nil {
		auth = service.NewAuthenticator(nil, nil, log)
	}

	api := []Middleware{
		RequestID(),
		Recover(log),
		CORS(cfg.CORSAllowedOrigins),
		Authenticate(auth),
		Audit(log, cfg.Metrics),
	}
	if cfg.RateLimit > 0 {
		api = append(api, RateLimit(cfg.RateLimit, 0))
	}
	admin := append(append([]Middleware(nil), api...),
		NetworkACL(&NetworkACLConfig{AllowList: cfg.AdminAllowList, Logger: log}),
		AdminOnly(cfg.AdminUsers),
	)

	mux := http.NewServeMux()

	// Probes skip authentication and audit logging.
	probes := Chain(h, RequestID(), Recover(log))
	mux.Handle("GET /health", probes)
	mux.Handle("GET /ready", probes)
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", Chain(cfg.MetricsHandler, RequestID(), Recover(log)))
	}

	mux.Handle("/mdm/", Chain(h, api...))
	mux.Handle("/admin/", Chain(h, admin...))

	return mux, nil
}
