package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/plateful/mealplanner-backend/api/controllers"
	billingcontrollers "github.com/plateful/mealplanner-backend/api/controllers/billing"
	webhookcontrollers "github.com/plateful/mealplanner-backend/api/controllers/webhooks"
	"github.com/plateful/mealplanner-backend/api/middleware"
	checkoutsvc "github.com/plateful/mealplanner-backend/internal/checkout"
	entitlementsvc "github.com/plateful/mealplanner-backend/internal/entitlements"
	stripewebhook "github.com/plateful/mealplanner-backend/internal/webhooks/stripe"
	"github.com/plateful/mealplanner-backend/pkg/config"
	"github.com/plateful/mealplanner-backend/pkg/logger"
	"github.com/plateful/mealplanner-backend/pkg/metrics"
	"github.com/plateful/mealplanner-backend/pkg/stripe"
)

// RouterParams carries everything the HTTP surface needs.
type RouterParams struct {
	Config             *config.Config
	Logger             *logger.Logger
	PlanRepo           billingcontrollers.PlanLister
	PlanAdmin          billingcontrollers.PlanAdminStore
	CheckoutService    *checkoutsvc.Service
	EntitlementService *entitlementsvc.Service
	StripeClient       *stripe.Client
	WebhookService     *stripewebhook.Service
	WebhookGuard       *stripewebhook.IdempotencyGuard
	WebhookMetrics     *metrics.WebhookMetrics
	MetricsRegistry    *prometheus.Registry
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg))
	})

	if params.MetricsRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.MetricsRegistry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(params.WebhookService, params.StripeClient, params.WebhookGuard, params.Config.Webhook.ProcessTimeout, params.WebhookMetrics, logg))
	})

	r.Route("/api/v1/billing", func(r chi.Router) {
		r.Get("/plans", billingcontrollers.ListPlans(params.PlanRepo, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Post("/checkout", billingcontrollers.StartCheckout(params.CheckoutService, logg))
			r.Get("/entitlement", billingcontrollers.GetEntitlement(params.EntitlementService, logg))

			r.Post("/plans", billingcontrollers.CreatePlan(params.PlanAdmin, logg))
			r.Put("/plans/{planID}", billingcontrollers.UpdatePlan(params.PlanAdmin, logg))
		})
	})

	return r
}
