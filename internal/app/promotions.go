package app

import (
	"net/http"

	"github.com/metinatakli/cinema-booking/api"
)

func (app *Application) ValidatePromotionHandler(w http.ResponseWriter, r *http.Request) {
	var input api.ValidatePromotionRequest

	if !app.readAndValidate(w, r, &input) {
		return
	}

	quote, err := app.promotions.Validate(r.Context(), input.Code, input.Amount)
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	resp := api.PromotionQuoteResponse{
		Code:           quote.Code,
		DiscountAmount: quote.DiscountAmount,
		FinalAmount:    quote.FinalAmount,
	}

	err = app.writeJSON(w, http.StatusOK, resp, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}
