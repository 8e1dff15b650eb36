package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/metinatakli/coursehub/api"
	"github.com/riandyrn/otelchi"
)

func (app *Application) Routes() http.Handler {
	r := chi.NewRouter()

	r.NotFound(app.notFoundResponse)
	r.MethodNotAllowed(app.methodNotAllowedResponse)

	r.Use(otelchi.Middleware("coursehub-api", otelchi.WithChiRoutes(r)))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(app.logRequest)
	r.Use(middleware.Logger)
	r.Use(app.recoverPanic)

	doc, err := api.GetSwagger()
	if err != nil {
		// the document is embedded, so this only fails on a broken build
		panic(err)
	}

	validate := app.validateRequest(doc)

	r.With(validate).Get("/healthcheck", app.GetHealth)

	r.With(validate).Post("/webhook", app.StripeWebhookHandler)

	r.Group(func(r chi.Router) {
		r.Use(app.sessionManager.LoadAndSave)
		r.Use(app.requireAuthentication)
		r.Use(validate)

		r.Post("/checkout/session", app.CreateCheckoutSessionHandler)
		r.Post("/checkout/verify", app.VerifyCheckoutHandler)
		r.Post("/referrals", app.CreateReferralHandler)
		r.Get("/users/me/entitlements", app.GetEntitlementsHandler)
		r.Get("/users/me/affiliate/balance", app.GetAffiliateBalanceHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(app.requireInternalToken)
		r.Use(validate)

		r.Post("/internal/subscriptions/sync", app.SyncSubscriptionHandler)
		r.Post("/internal/affiliates/{referrerId}/payouts", app.CreatePayoutHandler)
		r.Get("/internal/revenue/{ownerId}", app.GetRevenueHandler)
		r.Post("/internal/revenue/{ownerId}/rebuild", app.RebuildRevenueHandler)
	})

	return r
}
