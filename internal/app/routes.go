package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"
)

const serviceName = "cinema-booking-api"

func (app *Application) Routes() http.Handler {
	r := chi.NewRouter()

	r.NotFound(app.notFoundResponse)
	r.MethodNotAllowed(app.methodNotAllowedResponse)

	r.Use(middleware.RequestID)
	r.Use(otelchi.Middleware(serviceName, otelchi.WithChiRoutes(r)))
	r.Use(middleware.Logger)
	r.Use(app.requestLogger)
	r.Use(app.recoverPanic)
	r.Use(app.sessionManager.LoadAndSave)

	r.Get("/health", app.GetHealth)

	r.Get("/payments/callback", app.PaymentCallbackHandler)
	r.Post("/payments/callback", app.PaymentCallbackHandler)

	r.Post("/webhook/stripe", app.StripeWebhookHandler)

	r.Group(func(r chi.Router) {
		r.Use(app.requireAuthentication)

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/seats", app.SelectSeatsHandler)
			r.Put("/seats/lock", app.RenewSeatLockHandler)
			r.Put("/concessions", app.SelectConcessionsHandler)
			r.Put("/payment-method", app.ChoosePaymentMethodHandler)
			r.Post("/checkout", app.CheckoutHandler)
			r.Get("/current", app.GetCurrentBookingHandler)
			r.Delete("/current", app.AbandonBookingHandler)
			r.Get("/completion", app.GetBookingCompletionHandler)
		})

		r.Post("/promotions/validate", app.ValidatePromotionHandler)

		r.Post("/concession-orders", app.CreateConcessionOrderHandler)
		r.Route("/concession-orders/{orderId}", func(r chi.Router) {
			r.Get("/", app.GetConcessionOrderHandler)
			r.Put("/", app.UpdateConcessionOrderHandler)
			r.Post("/cancel", app.CancelConcessionOrderHandler)
			r.Post("/checkout", app.CheckoutConcessionOrderHandler)
		})

		r.Get("/payments/{paymentId}", app.GetPaymentHandler)
		r.Post("/payments/{paymentId}/cancel", app.CancelPaymentHandler)

		r.Get("/showtimes/{showtimeId}/seat-states", app.GetSeatStatesHandler)
	})

	return r
}
