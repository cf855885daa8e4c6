/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap request log with request id, status and latency
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the CRM frontend
  5. Actor:      X-Actor-ID / X-Actor-Name into the request context

ROUTE GROUPS:
  /api/rules, /api/distribution   Rule tables and previews
  /api/sales/*                    Commissions, collections, audit
  /api/collections/*              Edit and retract events
  /api/admin/*                    Tenant recompute
  /api/scenarios/*                Demo scenarios

SECURITY NOTE:
  No authentication middleware. The CRM gateway in front of this service is
  expected to authenticate and to set the actor headers.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/commission-engine/commission"
	"go.uber.org/zap"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	CORSOrigins []string
	Logger      *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID", "X-Actor-Name"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(actorFromHeaders)

	r.Route("/api", func(r chi.Router) {
		r.Get("/rules", h.GetRules)
		r.Post("/distribution/preview", h.PreviewDistribution)

		// Sale routes
		r.Route("/sales/{id}", func(r chi.Router) {
			r.Get("/", h.GetSale)
			r.Get("/commissions", h.ListCommissions)
			r.Put("/commissions", h.SetCommissions)
			r.Post("/commissions/sync", h.SyncCommissions)
			r.Get("/collections", h.ListCollections)
			r.Post("/collections", h.RegisterCollection)
			r.Post("/recompute", h.RecomputeSale)
			r.Get("/audit", h.GetAuditLog)
		})

		// Collection routes
		r.Route("/collections/{id}", func(r chi.Router) {
			r.Patch("/", h.EditCollection)
			r.Delete("/", h.RetractCollection)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/tenants/{id}/recompute", h.RecomputeTenant)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// actorFromHeaders attributes the request to the user named by the gateway.
func actorFromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Actor-ID")
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		name := r.Header.Get("X-Actor-Name")
		if name == "" {
			name = id
		}
		ctx := commission.WithActor(r.Context(), commission.Actor{ID: id, Name: name})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("latency", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
