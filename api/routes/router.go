package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pitchside/pitchside-backend/api/controllers"
	billingcontrollers "github.com/pitchside/pitchside-backend/api/controllers/billing"
	webhookcontrollers "github.com/pitchside/pitchside-backend/api/controllers/webhooks"
	"github.com/pitchside/pitchside-backend/api/middleware"
	"github.com/pitchside/pitchside-backend/pkg/config"
	"github.com/pitchside/pitchside-backend/pkg/enums"
	"github.com/pitchside/pitchside-backend/pkg/logger"
	"github.com/pitchside/pitchside-backend/pkg/redis"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Config        *config.Config
	Logger        *logger.Logger
	DBPinger      controllers.Pinger
	Redis         redisStore
	PlanCatalog   billingcontrollers.PlanCatalog
	Subscriptions billingcontrollers.SubscriptionService
	Checkout      billingcontrollers.CheckoutService
	BillingRepo   billingRepository
	Reconciler    billingcontrollers.Reconciler
	StripeClient  stripeSigner
	WebhookSvc    webhookcontrollers.StripeWebhookService
	WebhookGuard  stripeWebhookGuard
}

type billingRepository interface {
	billingcontrollers.PaymentLister
	billingcontrollers.HistoryLister
}

type stripeSigner interface {
	SigningSecret() string
}

// redisStore is the slice of the Redis client the HTTP layer leans on.
type redisStore interface {
	redis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

type stripeWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	checkoutPolicy := middleware.NewRateLimitPolicy(
		"checkout",
		cfg.RateLimit.CheckoutWindow,
		cfg.RateLimit.CheckoutIPLimit,
		cfg.RateLimit.CheckoutAcademyLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, controllers.ReadinessDeps(deps.DBPinger, deps.Redis)))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
		r.Post("/validate", controllers.PublicValidate(logg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.WebhookSvc, deps.StripeClient, deps.WebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(deps.Redis, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.AcademyContext(logg))
			r.Get("/ping", controllers.PrivatePing())

			r.Route("/plans", func(r chi.Router) {
				r.Get("/", billingcontrollers.PlansList(deps.PlanCatalog, false, logg))
				r.Get("/{planId}", billingcontrollers.PlanDetail(deps.PlanCatalog, logg))
			})

			r.Route("/billing", func(r chi.Router) {
				r.With(middleware.RateLimit(checkoutPolicy, deps.Redis, logg)).
					Post("/checkout", billingcontrollers.CheckoutInitiate(deps.Checkout, logg))
				r.Get("/payments", billingcontrollers.PaymentsList(deps.BillingRepo, logg))
				r.Route("/subscription", func(r chi.Router) {
					r.Get("/", billingcontrollers.SubscriptionFetch(deps.Subscriptions, logg))
					r.Post("/upgrade", billingcontrollers.SubscriptionUpgrade(deps.Subscriptions, logg))
					r.Post("/cancel", billingcontrollers.SubscriptionCancel(deps.Subscriptions, logg))
					r.Get("/history", billingcontrollers.SubscriptionHistoryList(deps.BillingRepo, logg))
				})
			})
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(string(enums.UserRoleAdmin), logg))
		r.Use(middleware.Idempotency(deps.Redis, logg))
		r.Get("/ping", controllers.AdminPing())

		r.Route("/v1", func(r chi.Router) {
			r.Get("/plans", billingcontrollers.PlansList(deps.PlanCatalog, true, logg))
			r.Route("/academies/{academyId}/reconcile", func(r chi.Router) {
				r.Get("/validate", billingcontrollers.AdminReconcileValidate(deps.Reconciler, logg))
				r.Post("/sync", billingcontrollers.AdminReconcileSync(deps.Reconciler, logg))
				r.Post("/refresh", billingcontrollers.AdminReconcileRefresh(deps.Reconciler, logg))
			})
		})
	})

	return r
}
