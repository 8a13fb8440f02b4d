package app

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/metinatakli/cinema-booking/api"
	"github.com/metinatakli/cinema-booking/internal/domain"
	appvalidator "github.com/metinatakli/cinema-booking/internal/validator"
)

const (
	ErrInternalServer   = "The server encountered a problem and could not process your request"
	ErrNotFound         = "The requested resource not found"
	ErrMethodNotAllowed = "The requested method is not supported for this resource"
	ErrUnauthorized     = "You must be authenticated to access this resource"
	ErrValidationFailed = "One or more fields are invalid"
)

func (app *Application) logError(r *http.Request, err error) {
	var (
		method = r.Method
		uri    = r.URL.RequestURI()
	)

	app.contextGetLogger(r).Error(err.Error(), "method", method, "uri", uri)
}

// The errorResponse() method is a generic helper for sending JSON-formatted error
// messages to the client with a given status code.
func (app *Application) errorResponse(w http.ResponseWriter, r *http.Request, status int, message string) {
	app.writeError(w, r, status, api.ErrorResponse{Message: message})
}

func (app *Application) writeError(w http.ResponseWriter, r *http.Request, status int, resp api.ErrorResponse) {
	resp.RequestId = middleware.GetReqID(r.Context())
	resp.Timestamp = time.Now()

	err := app.writeJSON(w, status, resp, nil)
	if err != nil {
		app.logError(r, err)
		w.WriteHeader(500)
	}
}

func (app *Application) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logError(r, err)

	app.errorResponse(w, r, http.StatusInternalServerError, ErrInternalServer)
}

func (app *Application) notFoundResponse(w http.ResponseWriter, r *http.Request) {
	app.errorResponse(w, r, http.StatusNotFound, ErrNotFound)
}

func (app *Application) notFoundResponseWithErr(w http.ResponseWriter, r *http.Request, err error) {
	app.errorResponse(w, r, http.StatusNotFound, err.Error())
}

func (app *Application) methodNotAllowedResponse(w http.ResponseWriter, r *http.Request) {
	app.errorResponse(w, r, http.StatusMethodNotAllowed, ErrMethodNotAllowed)
}

func (app *Application) badRequestResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.errorResponse(w, r, http.StatusBadRequest, err.Error())
}

func (app *Application) unauthorizedAccessResponse(w http.ResponseWriter, r *http.Request) {
	app.errorResponse(w, r, http.StatusUnauthorized, ErrUnauthorized)
}

func (app *Application) editConflictResponseWithErr(w http.ResponseWriter, r *http.Request, err error) {
	app.errorResponse(w, r, http.StatusConflict, err.Error())
}

func (app *Application) unprocessableEntityResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.errorResponse(w, r, http.StatusUnprocessableEntity, err.Error())
}

// stepRedirectResponse tells the client which booking step it has to go back to.
func (app *Application) stepRedirectResponse(w http.ResponseWriter, r *http.Request, err *domain.StepRedirectError) {
	message := err.Error()
	if err.Err != nil {
		message = err.Err.Error()
	}

	step := string(err.Step)

	app.writeError(w, r, http.StatusConflict, api.ErrorResponse{
		Message:      message,
		RedirectStep: &step,
	})
}

func (app *Application) failedValidationResponse(w http.ResponseWriter, r *http.Request, err error) {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		app.badRequestResponse(w, r, err)
		return
	}

	resp := api.ValidationErrorResponse{
		Message:   ErrValidationFailed,
		RequestId: middleware.GetReqID(r.Context()),
		Timestamp: time.Now(),
	}

	for _, fe := range validationErrs {
		resp.ValidationErrors = append(resp.ValidationErrors, api.ValidationError{
			Field: fe.Field(),
			Issue: appvalidator.ValidationMessage(fe),
		})
	}

	err = app.writeJSON(w, http.StatusUnprocessableEntity, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// domainErrorResponse maps booking and payment errors to HTTP responses. Anything it does
// not recognize is a server error.
func (app *Application) domainErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	logger := app.contextGetLogger(r)

	var redirect *domain.StepRedirectError

	switch {
	case errors.As(err, &redirect):
		logger.Warn("booking sent back to an earlier step", "step", redirect.Step, "error", err)
		app.stepRedirectResponse(w, r, redirect)
	case errors.Is(err, domain.ErrRecordNotFound):
		app.notFoundResponse(w, r)
	case domain.IsContention(err),
		errors.Is(err, domain.ErrPaymentConflict),
		errors.Is(err, domain.ErrInvalidTicketState),
		errors.Is(err, domain.ErrOrderNotLinkable),
		errors.Is(err, domain.ErrEditConflict):
		logger.Warn("request rejected", "error", err)
		app.editConflictResponseWithErr(w, r, err)
	case errors.Is(err, domain.ErrPromotionInvalid),
		errors.Is(err, domain.ErrItemUnavailable):
		app.unprocessableEntityResponse(w, r, err)
	case errors.Is(err, domain.ErrEmptySelection),
		errors.Is(err, domain.ErrEmptyOrder),
		errors.Is(err, domain.ErrInvalidMethod),
		errors.Is(err, domain.ErrInvalidCallback):
		app.badRequestResponse(w, r, err)
	case errors.Is(err, domain.ErrGatewayUnreachable):
		logger.Error("payment gateway unreachable", "error", err)
		app.errorResponse(w, r, http.StatusServiceUnavailable, domain.ErrGatewayUnreachable.Error())
	case errors.Is(err, domain.ErrReconciliationIndeterminate):
		logger.Error("payment outcome indeterminate", "error", err)
		app.errorResponse(w, r, http.StatusConflict, domain.ErrReconciliationIndeterminate.Error())
	default:
		app.serverErrorResponse(w, r, err)
	}
}
