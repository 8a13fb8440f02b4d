package app

import (
	"net/http"
	"testing"

	"github.com/metinatakli/cinema-booking/api"
	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/stretchr/testify/suite"
)

type SeatStateHandlerSuite struct {
	AppSuite
}

func TestSeatStateHandlerSuite(t *testing.T) {
	suite.Run(t, new(SeatStateHandlerSuite))
}

func (s *SeatStateHandlerSuite) TestSeatStates() {
	w := s.do(http.MethodPost, "/bookings/seats", api.SelectSeatsRequest{ShowtimeId: testShowtimeId, SeatIds: []int{2}}, otherUserId)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/showtimes/7/seat-states?seatIds=1,2", nil, testUserId)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var resp api.SeatStatesResponse
	s.decode(w, &resp)
	s.Equal(testShowtimeId, resp.ShowtimeId)
	s.Require().Len(resp.Seats, 2)

	s.Equal(1, resp.Seats[0].SeatId)
	s.Equal(string(domain.SeatStatusAvailable), resp.Seats[0].Status)
	s.Nil(resp.Seats[0].ExpiresAt)

	s.Equal(2, resp.Seats[1].SeatId)
	s.Equal(string(domain.SeatStatusLocked), resp.Seats[1].Status)
	s.Require().NotNil(resp.Seats[1].ExpiresAt)
	s.True(resp.Seats[1].ExpiresAt.After(testNow))
}

func (s *SeatStateHandlerSuite) TestSeatStatesErrors() {
	tests := []struct {
		name           string
		url            string
		wantStatus     int
		wantErrMessage string
	}{
		{
			name:           "missing seat ids",
			url:            "/showtimes/7/seat-states",
			wantStatus:     http.StatusBadRequest,
			wantErrMessage: "seatIds must list at least one seat",
		},
		{
			name:       "malformed seat id",
			url:        "/showtimes/7/seat-states?seatIds=1,x",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed showtime id",
			url:        "/showtimes/abc/seat-states?seatIds=1",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			w := s.do(http.MethodGet, tt.url, nil, testUserId)
			s.Equal(tt.wantStatus, w.Code, w.Body.String())

			checkErrorResponse(s.T(), w, struct {
				wantStatus     int
				wantErrMessage string
			}{tt.wantStatus, tt.wantErrMessage})
		})
	}
}

func (s *SeatStateHandlerSuite) TestValidatePromotion() {
	tests := []struct {
		name         string
		input        any
		wantStatus   int
		wantDiscount string
		wantFinal    string
	}{
		{
			name:         "percentage",
			input:        map[string]any{"code": "WELCOME10", "amount": "24.50"},
			wantStatus:   http.StatusOK,
			wantDiscount: "2.45",
			wantFinal:    "22.05",
		},
		{
			name:       "unknown code",
			input:      map[string]any{"code": "NOPE", "amount": "24.50"},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "non-positive amount",
			input:      map[string]any{"code": "WELCOME10", "amount": "0"},
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			w := s.do(http.MethodPost, "/promotions/validate", tt.input, testUserId)
			s.Require().Equal(tt.wantStatus, w.Code, w.Body.String())

			if tt.wantStatus != http.StatusOK {
				return
			}

			var quote api.PromotionQuoteResponse
			s.decode(w, &quote)
			s.Equal("WELCOME10", quote.Code)
			s.Equal(tt.wantDiscount, quote.DiscountAmount.StringFixed(2))
			s.Equal(tt.wantFinal, quote.FinalAmount.StringFixed(2))
		})
	}
}

func (s *SeatStateHandlerSuite) TestHealth() {
	w := s.do(http.MethodGet, "/health", nil, 0)
	s.Require().Equal(http.StatusOK, w.Code)

	var resp api.HealthcheckResponse
	s.decode(w, &resp)
	s.Equal("UP", resp.Status)
	s.Equal("test", resp.SystemInfo.Environment)
}

func (s *SeatStateHandlerSuite) TestUnknownRoute() {
	w := s.do(http.MethodGet, "/movies", nil, 0)
	s.Equal(http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/bookings/checkout", nil, testUserId)
	s.Equal(http.StatusMethodNotAllowed, w.Code)
}
