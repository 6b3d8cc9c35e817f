package handler

import (
	"context"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	routeKey     contextKey = "route"
)

// WithPrincipal attaches the caller's principal to ctx.
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the caller's principal. Requests that never
// went through authentication are anonymous.
func PrincipalFromContext(ctx context.Context) domain.Principal {
	p, _ := ctx.Value(principalKey).(domain.Principal)
	return p
}

// RouteInfo receives the pattern of the route that served a request.
// Middleware running outside the mux reads it once the handler returns.
type RouteInfo struct {
	Pattern string
}

// WithRouteInfo attaches an empty RouteInfo to ctx.
func WithRouteInfo(ctx context.Context) (context.Context, *RouteInfo) {
	info := &RouteInfo{}
	return context.WithValue(ctx, routeKey, info), info
}

func markRoute(ctx context.Context, pattern string) {
	if info, ok := ctx.Value(routeKey).(*RouteInfo); ok {
		info.Pattern = pattern
	}
}
