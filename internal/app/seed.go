package app

import (
	"time"

	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/shopspring/decimal"
)

// demoCatalog is what the memory store starts with: two showtimes of one hall, a small
// concession menu and a couple of promotions.
func demoCatalog(now time.Time) ([]domain.ShowtimeSeats, []domain.ConcessionItem, []domain.Promotion) {
	var seats []domain.Seat

	for row := 1; row <= 8; row++ {
		for col := 1; col <= 12; col++ {
			seat := domain.Seat{
				ID:         (row-1)*12 + col,
				Row:        row,
				Col:        col,
				Type:       "standard",
				ExtraPrice: decimal.Zero,
			}

			if row >= 7 {
				seat.Type = "vip"
				seat.ExtraPrice = decimal.NewFromInt(4)
			}

			seats = append(seats, seat)
		}
	}

	showtimes := []domain.ShowtimeSeats{
		{
			ShowtimeID:  1,
			TheaterName: "CineX Downtown",
			MovieName:   "Arrival",
			HallName:    "Hall 1",
			Date:        now.Add(3 * time.Hour).Truncate(time.Hour),
			HallID:      1,
			Price:       decimal.NewFromInt(12),
			Seats:       seats,
		},
		{
			ShowtimeID:  2,
			TheaterName: "CineX Downtown",
			MovieName:   "Arrival",
			HallName:    "Hall 1",
			Date:        now.Add(27 * time.Hour).Truncate(time.Hour),
			HallID:      1,
			Price:       decimal.RequireFromString("9.50"),
			Seats:       seats,
		},
	}

	items := []domain.ConcessionItem{
		{ID: 1, Name: "Popcorn", Price: decimal.RequireFromString("6.50"), Available: true},
		{ID: 2, Name: "Soda", Price: decimal.RequireFromString("3.75"), Available: true},
		{ID: 3, Name: "Nachos", Price: decimal.RequireFromString("5.25"), Available: true},
	}

	promotions := []domain.Promotion{
		{
			Code:          "WELCOME10",
			Name:          "10% off your first booking",
			DiscountType:  domain.DiscountTypePercentage,
			DiscountValue: decimal.NewFromInt(10),
			StartsAt:      now.AddDate(0, 0, -1),
			EndsAt:        now.AddDate(1, 0, 0),
			MinBasis:      decimal.Zero,
			Status:        domain.PromotionStatusActive,
		},
		{
			Code:          "FIVEOFF",
			Name:          "5 off orders from 20",
			DiscountType:  domain.DiscountTypeFixed,
			DiscountValue: decimal.NewFromInt(5),
			StartsAt:      now.AddDate(0, 0, -1),
			EndsAt:        now.AddDate(0, 3, 0),
			MaxUsage:      100,
			MinBasis:      decimal.NewFromInt(20),
			Status:        domain.PromotionStatusActive,
		},
	}

	return showtimes, items, promotions
}
