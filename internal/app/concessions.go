package app

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/metinatakli/cinema-booking/api"
	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/metinatakli/cinema-booking/internal/service"
)

func (app *Application) CreateConcessionOrderHandler(w http.ResponseWriter, r *http.Request) {
	var input api.ConcessionOrderRequest

	if !app.readAndValidate(w, r, &input) {
		return
	}

	order, err := app.concessions.CreateStandalone(r.Context(), app.contextGetUserId(r), toItemQuantities(input.Items))
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	app.contextGetLogger(r).Info("concession order created", "order_id", order.ID, "total", order.TotalAmount.String())

	err = app.writeJSON(w, http.StatusCreated, toConcessionOrderResponse(order), nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *Application) GetConcessionOrderHandler(w http.ResponseWriter, r *http.Request) {
	order, err := app.concessions.Get(r.Context(), app.contextGetUserId(r), chi.URLParam(r, "orderId"))
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, toConcessionOrderResponse(order), nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *Application) UpdateConcessionOrderHandler(w http.ResponseWriter, r *http.Request) {
	var input api.ConcessionOrderRequest

	if !app.readAndValidate(w, r, &input) {
		return
	}

	order, err := app.concessions.UpdateItems(
		r.Context(),
		app.contextGetUserId(r),
		chi.URLParam(r, "orderId"),
		toItemQuantities(input.Items))
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, toConcessionOrderResponse(order), nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *Application) CancelConcessionOrderHandler(w http.ResponseWriter, r *http.Request) {
	userId := app.contextGetUserId(r)
	orderId := chi.URLParam(r, "orderId")

	if _, err := app.concessions.Get(r.Context(), userId, orderId); err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	if err := app.concessions.Cancel(r.Context(), orderId); err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	order, err := app.concessions.Get(r.Context(), userId, orderId)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, toConcessionOrderResponse(order), nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// CheckoutConcessionOrderHandler pays for a standalone order without tickets.
func (app *Application) CheckoutConcessionOrderHandler(w http.ResponseWriter, r *http.Request) {
	var input api.ConcessionCheckoutRequest

	if !app.readAndValidate(w, r, &input) {
		return
	}

	userId := app.contextGetUserId(r)

	order, err := app.concessions.Get(r.Context(), userId, chi.URLParam(r, "orderId"))
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	payment, err := app.payments.Initiate(r.Context(), service.InitiateRequest{
		HolderID:           userId,
		Email:              app.contextGetEmail(r),
		ConcessionOrderIDs: []string{order.ID},
		Method:             domain.PaymentMethod(input.Method),
	})
	if errors.Is(err, domain.ErrPaymentConflict) {
		// The order is already being paid, usually from a retried request.
		payment, err = app.payments.OpenForConcessionOrders(r.Context(), userId, []string{order.ID})
		if errors.Is(err, domain.ErrRecordNotFound) {
			err = domain.ErrPaymentConflict
		}
	}

	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, toPaymentResponse(payment), nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func toConcessionOrderResponse(o *domain.ConcessionOrder) api.ConcessionOrderResponse {
	items := make([]api.ConcessionOrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, api.ConcessionOrderItem{
			ItemId:    item.ItemID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	ticketIds := o.TicketIDs
	if ticketIds == nil {
		ticketIds = []string{}
	}

	return api.ConcessionOrderResponse{
		Id:          o.ID,
		Status:      string(o.Status),
		Type:        string(o.Type),
		Items:       items,
		TotalAmount: o.TotalAmount,
		TicketIds:   ticketIds,
		CreatedAt:   o.CreatedAt,
	}
}
