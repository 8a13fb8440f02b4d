package app

import (
	"errors"
	"net/http"

	"github.com/metinatakli/cinema-booking/api"
	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/metinatakli/cinema-booking/internal/service"
)

var errNoBooking = errors.New("there is no booking in progress for the current user")

func (app *Application) SelectSeatsHandler(w http.ResponseWriter, r *http.Request) {
	var input api.SelectSeatsRequest

	if !app.readAndValidate(w, r, &input) {
		return
	}

	session, err := app.bookings.SelectSeats(r.Context(), service.SelectSeatsRequest{
		HolderID:   app.contextGetUserId(r),
		Email:      app.contextGetEmail(r),
		ShowtimeID: input.ShowtimeId,
		SeatIDs:    input.SeatIds,
	})
	if err != nil {
		app.bookingErrorResponse(w, r, err)
		return
	}

	app.contextGetLogger(r).Info("seats locked", "showtime_id", input.ShowtimeId, "seat_ids", input.SeatIds)

	err = app.writeJSON(w, http.StatusOK, toBookingResponse(session), nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *Application) RenewSeatLockHandler(w http.ResponseWriter, r *http.Request) {
	session, err := app.bookings.RenewSeats(r.Context(), app.contextGetUserId(r))
	if err != nil {
		app.bookingErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, toBookingResponse(session), nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *Application) SelectConcessionsHandler(w http.ResponseWriter, r *http.Request) {
	var input api.SelectConcessionsRequest

	if !app.readAndValidate(w, r, &input) {
		return
	}

	session, err := app.bookings.SelectConcessions(r.Context(), app.contextGetUserId(r), toItemQuantities(input.Items))
	if err != nil {
		app.bookingErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, toBookingResponse(session), nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *Application) ChoosePaymentMethodHandler(w http.ResponseWriter, r *http.Request) {
	var input api.ChoosePaymentMethodRequest

	if !app.readAndValidate(w, r, &input) {
		return
	}

	session, err := app.bookings.ChoosePaymentMethod(
		r.Context(),
		app.contextGetUserId(r),
		domain.PaymentMethod(input.Method),
		input.PromotionCode)
	if err != nil {
		app.bookingErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, toBookingResponse(session), nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *Application) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	result, err := app.bookings.Checkout(r.Context(), app.contextGetUserId(r))
	if err != nil {
		app.bookingErrorResponse(w, r, err)
		return
	}

	app.contextGetLogger(r).Info("payment initiated", "payment_id", result.Payment.ID, "state", result.Payment.State)

	err = app.writeJSON(w, http.StatusOK, toCheckoutResponse(result), nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *Application) GetCurrentBookingHandler(w http.ResponseWriter, r *http.Request) {
	session, err := app.bookings.Current(r.Context(), app.contextGetUserId(r))
	if err != nil {
		app.bookingErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, toBookingResponse(session), nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// GetBookingCompletionHandler answers 202 while the payment is still being processed and
// 200 once its outcome is known or needs support.
func (app *Application) GetBookingCompletionHandler(w http.ResponseWriter, r *http.Request) {
	result, err := app.bookings.Completion(r.Context(), app.contextGetUserId(r))

	status := http.StatusOK
	var message string

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrPaymentPending) && result != nil:
		status = http.StatusAccepted
		message = domain.ErrPaymentPending.Error()
	case errors.Is(err, domain.ErrReconciliationIndeterminate) && result != nil:
		app.contextGetLogger(r).Error("booking payment is indeterminate", "payment_id", result.Payment.ID)
		message = domain.ErrReconciliationIndeterminate.Error()
	default:
		app.bookingErrorResponse(w, r, err)
		return
	}

	resp := toCheckoutResponse(result)
	resp.Message = message

	err = app.writeJSON(w, status, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *Application) AbandonBookingHandler(w http.ResponseWriter, r *http.Request) {
	err := app.bookings.Abandon(r.Context(), app.contextGetUserId(r))
	if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
		app.bookingErrorResponse(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (app *Application) bookingErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrRecordNotFound) {
		var redirect *domain.StepRedirectError
		if !errors.As(err, &redirect) {
			app.notFoundResponseWithErr(w, r, errNoBooking)
			return
		}
	}

	app.domainErrorResponse(w, r, err)
}

func toItemQuantities(items []api.ConcessionItemRequest) []domain.ConcessionItemQuantity {
	quantities := make([]domain.ConcessionItemQuantity, 0, len(items))

	for _, item := range items {
		quantities = append(quantities, domain.ConcessionItemQuantity{
			ItemID:   item.ItemId,
			Quantity: item.Quantity,
		})
	}

	return quantities
}

func toBookingResponse(s *domain.BookingSession) api.BookingResponse {
	resp := api.BookingResponse{
		Step:              string(s.Step),
		ShowtimeId:        s.ShowtimeID,
		SeatIds:           s.SeatIDs,
		ConcessionOrderId: s.ConcessionOrderID,
		PromotionCode:     s.PromotionCode,
		PaymentMethod:     string(s.PaymentMethod),
		TicketIds:         s.TicketIDs,
		PaymentId:         s.PaymentID,
	}

	if !s.LockExpiresAt.IsZero() {
		expiresAt := s.LockExpiresAt
		resp.LockExpiresAt = &expiresAt
	}

	if resp.SeatIds == nil {
		resp.SeatIds = []int{}
	}

	if resp.TicketIds == nil {
		resp.TicketIds = []string{}
	}

	return resp
}

func toCheckoutResponse(result *service.CheckoutResult) api.CheckoutResponse {
	return api.CheckoutResponse{
		Booking: toBookingResponse(result.Session),
		Payment: toPaymentResponse(result.Payment),
	}
}
