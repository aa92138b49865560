package api

import (
	"net/http"

	"github.com/ayo6706/fraudflow/internal/api/handler"
	"github.com/ayo6706/fraudflow/internal/api/middleware"
	"github.com/ayo6706/fraudflow/internal/api/spec"
	"github.com/ayo6706/fraudflow/internal/config"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services groups what the handlers call into.
type Services struct {
	Transactions handler.TransactionService
	Decisions    handler.DecisionService
	Outbox       handler.OutboxOperator
	Transfers    handler.TransferService
}

type Router struct {
	cfg      *config.Config
	logger   *zap.Logger
	auth     *middleware.Authenticator
	health   *handler.HealthHandler
	services Services
}

func NewRouter(cfg *config.Config, logger *zap.Logger, auth *middleware.Authenticator, health *handler.HealthHandler, services Services) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{cfg: cfg, logger: logger, auth: auth, health: health, services: services}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	transactions := handler.NewTransactionHandler(api.services.Transactions)
	decisions := handler.NewDecisionHandler(api.services.Decisions)
	outbox := handler.NewOutboxHandler(api.services.Outbox)
	transfers := handler.NewTransferHandler(api.services.Transfers)

	// Infrastructure
	if api.health != nil {
		r.Get("/health/live", api.health.Live)
		r.Get("/health/ready", api.health.Ready)
	}
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))

		r.Post("/v1/transactions", transactions.Ingest)
		r.Get("/v1/transactions", transactions.List)
		r.Get("/v1/transactions/{txId}", transactions.Get)
		r.Get("/v1/decisions", decisions.List)
		r.Get("/v1/decisions/{txId}", decisions.Get)
		r.Get("/v1/transfers/{txId}", transfers.Get)
	})

	// Operator routes
	r.Group(func(r chi.Router) {
		r.Use(api.auth.Middleware)
		r.Use(middleware.RequireRole(middleware.RoleOperator))
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Post("/v1/feedback", decisions.Feedback)
		r.Get("/v1/outbox/failed", outbox.ListFailed)
		r.Post("/v1/outbox/{id}/retry", outbox.Retry)
		r.Get("/v1/transfers", transfers.List)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondError(w, r, http.StatusNotFound, "route/not-found", "route not found")
	})
	return r
}
