package app

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/metinatakli/cinema-booking/api"
	"github.com/metinatakli/cinema-booking/internal/domain"
)

const maxCallbackBytes = 65536

func (app *Application) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	payment, err := app.payments.Get(r.Context(), app.contextGetUserId(r), chi.URLParam(r, "paymentId"))
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, toPaymentResponse(payment), nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *Application) CancelPaymentHandler(w http.ResponseWriter, r *http.Request) {
	paymentId := chi.URLParam(r, "paymentId")

	payment, err := app.payments.CancelPayment(r.Context(), app.contextGetUserId(r), paymentId)
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	app.contextGetLogger(r).Info("payment cancel requested", "payment_id", paymentId, "state", payment.State)

	err = app.writeJSON(w, http.StatusOK, toPaymentResponse(payment), nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// PaymentCallbackHandler receives the signed result of a redirect payment, either from the
// customer's browser coming back from the gateway or from the gateway itself.
func (app *Application) PaymentCallbackHandler(w http.ResponseWriter, r *http.Request) {
	logger := app.contextGetLogger(r)

	payload, err := readCallbackPayload(w, r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	payment, err := app.payments.HandleCallback(r.Context(), payload)
	if err != nil {
		logger.Warn("payment callback rejected", "error", err)
		app.domainErrorResponse(w, r, err)
		return
	}

	logger.Info("payment callback handled", "payment_id", payment.ID, "state", payment.State)

	err = app.writeJSON(w, http.StatusOK, toPaymentResponse(payment), nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *Application) StripeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	logger := app.contextGetLogger(r)

	payload, err := readCallbackPayload(w, r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	payment, err := app.payments.HandleCallback(r.Context(), payload)
	switch {
	case errors.Is(err, domain.ErrUnhandledEvent):
		// Stripe retries anything that is not acknowledged.
		w.WriteHeader(http.StatusOK)
		return
	case errors.Is(err, domain.ErrInvalidCallback):
		logger.Warn("stripe webhook rejected", "error", err)
		app.badRequestResponse(w, r, err)
		return
	case err != nil:
		app.domainErrorResponse(w, r, err)
		return
	}

	logger.Info("stripe webhook handled", "payment_id", payment.ID, "state", payment.State)

	w.WriteHeader(http.StatusOK)
}

// readCallbackPayload collects the query string, the headers and the raw body. Form
// encoded bodies are merged into the query, as gateways post the same fields they
// append to the return URL.
func readCallbackPayload(w http.ResponseWriter, r *http.Request) (domain.CallbackPayload, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBytes))
	if err != nil {
		return domain.CallbackPayload{}, errors.New("callback body is too large or unreadable")
	}

	query := r.URL.Query()

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return domain.CallbackPayload{}, errors.New("callback body is not valid form data")
		}

		for key, values := range form {
			for _, v := range values {
				query.Add(key, v)
			}
		}
	}

	return domain.CallbackPayload{
		Query:  query,
		Header: r.Header,
		Body:   body,
	}, nil
}

func toPaymentResponse(p *domain.Payment) api.PaymentResponse {
	resp := api.PaymentResponse{
		Id:                 p.ID,
		State:              string(p.State),
		Status:             string(p.Status()),
		Amount:             p.Amount,
		Currency:           p.Currency,
		Method:             string(p.Method),
		ResponseCode:       p.ResponseCode,
		ErrorMessage:       p.ErrorMsg,
		TicketIds:          p.TicketIDs,
		ConcessionOrderIds: p.ConcessionOrderIDs,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}

	// The redirect is only useful while the customer can still pay.
	if p.State == domain.PaymentStateGatewayRedirected {
		resp.RedirectUrl = p.RedirectURL
	}

	if p.State == domain.PaymentStateIndeterminate {
		message := domain.ErrReconciliationIndeterminate.Error()
		resp.ErrorMessage = &message
	}

	if resp.TicketIds == nil {
		resp.TicketIds = []string{}
	}

	if resp.ConcessionOrderIds == nil {
		resp.ConcessionOrderIds = []string{}
	}

	return resp
}
