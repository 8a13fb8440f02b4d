package app

import (
	"fmt"
	"net/http"

	"github.com/metinatakli/cinema-booking/api"
	"github.com/metinatakli/cinema-booking/internal/domain"
)

const maxSeatStateQuery = 500

// GetSeatStatesHandler reports AVAILABLE, LOCKED or BOOKED for the seats listed in the
// seatIds query parameter.
func (app *Application) GetSeatStatesHandler(w http.ResponseWriter, r *http.Request) {
	showtimeId, err := readIntParam(r, "showtimeId")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	seatIds, err := readIntList(r, "seatIds")
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if len(seatIds) == 0 {
		app.badRequestResponse(w, r, fmt.Errorf("seatIds must list at least one seat"))
		return
	}

	if len(seatIds) > maxSeatStateQuery {
		app.badRequestResponse(w, r, fmt.Errorf("seatIds must list at most %d seats", maxSeatStateQuery))
		return
	}

	states, err := app.locks.States(r.Context(), showtimeId, seatIds)
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, toSeatStatesResponse(showtimeId, states), nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func toSeatStatesResponse(showtimeId int, states []domain.SeatState) api.SeatStatesResponse {
	resp := api.SeatStatesResponse{
		ShowtimeId: showtimeId,
		Seats:      make([]api.SeatState, 0, len(states)),
	}

	for _, state := range states {
		seat := api.SeatState{
			SeatId: state.SeatID,
			Status: string(state.Status),
		}

		if state.Status == domain.SeatStatusLocked && !state.ExpiresAt.IsZero() {
			expiresAt := state.ExpiresAt
			seat.ExpiresAt = &expiresAt
		}

		resp.Seats = append(resp.Seats, seat)
	}

	return resp
}
