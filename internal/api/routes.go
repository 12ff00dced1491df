package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// Router holds the root router and the subrouter serving downstream traffic.
// Only the downstream subrouter is rate limited.
type Router struct {
	Root       *mux.Router
	Downstream *mux.Router
}

// RouteOption configures optional route behavior.
type RouteOption func(*Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *Router) {
		r.Root.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health" &&
					r.URL.Path != "/metrics"
			}),
		))
	}
}

// WithRateLimiter adds rate limiting middleware to downstream routes.
func WithRateLimiter(middleware func(http.Handler) http.Handler) RouteOption {
	return func(r *Router) {
		r.Downstream.Use(middleware)
	}
}

// WithDownstream serves admitted requests with h instead of the echo handler.
func WithDownstream(h http.Handler) RouteOption {
	return func(r *Router) {
		r.Downstream.PathPrefix("/").Handler(h)
	}
}

// SetupRoutes configures the HTTP routes for the API
func SetupRoutes(handlers *Handlers, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	// Request IDs are assigned first so every later layer can report them.
	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	api.HandleFunc("/ratelimit/stats", handlers.RateLimitStats).Methods("GET")
	api.HandleFunc("/ratelimit/stats", methodNotAllowedHandler).Methods("POST", "PUT", "DELETE", "PATCH")

	r := &Router{
		Root:       router,
		Downstream: router.PathPrefix("/").Subrouter(),
	}
	for _, opt := range opts {
		opt(r)
	}
	// Registered after options so a WithDownstream handler takes precedence.
	r.Downstream.PathPrefix("/").HandlerFunc(handlers.Echo)

	router.NotFoundHandler = http.HandlerFunc(notFoundHandler)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	return router
}
