package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountTypePercentage DiscountType = "PERCENTAGE"
	DiscountTypeFixed      DiscountType = "FIXED"
)

type PromotionStatus string

const (
	PromotionStatusActive   PromotionStatus = "active"
	PromotionStatusInactive PromotionStatus = "inactive"
)

type Promotion struct {
	Code          string
	Name          string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	StartsAt      time.Time
	EndsAt        time.Time
	// MaxUsage of zero means unlimited.
	MaxUsage  int
	UsedCount int
	MinBasis  decimal.Decimal
	Status    PromotionStatus
}

// Discount computes the discount for basis, rounded half up to places and never
// larger than basis.
func (p Promotion) Discount(basis decimal.Decimal, places int32) decimal.Decimal {
	if basis.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	var amount decimal.Decimal

	switch p.DiscountType {
	case DiscountTypePercentage:
		amount = basis.Mul(p.DiscountValue).Div(decimal.NewFromInt(100))
	case DiscountTypeFixed:
		amount = p.DiscountValue
	default:
		return decimal.Zero
	}

	if amount.IsNegative() {
		return decimal.Zero
	}

	amount = RoundHalfUp(decimal.Min(basis, amount), places)

	return decimal.Min(basis, amount)
}

// UsageExhausted reports whether the promotion has been redeemed MaxUsage times.
func (p Promotion) UsageExhausted() bool {
	return p.MaxUsage > 0 && p.UsedCount >= p.MaxUsage
}

func (p Promotion) ActiveAt(now time.Time) bool {
	if p.Status != PromotionStatusActive {
		return false
	}

	return !now.Before(p.StartsAt) && now.Before(p.EndsAt)
}

type PromotionRepository interface {
	GetByCode(ctx context.Context, code string) (*Promotion, error)
	// IncrementUsage records one redemption. It returns ErrPromotionInvalid when the
	// usage limit has already been reached.
	IncrementUsage(ctx context.Context, code string) error
}

// RoundHalfUp rounds a non-negative amount to places, with halves rounded up.
func RoundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// AllocateDiscount splits discount across prices in proportion to each price. Shares are
// expressed in units of 10^-places, remainders go to the largest fractional parts, and no
// share ever exceeds its price. The shares sum to discount exactly.
func AllocateDiscount(prices []decimal.Decimal, discount decimal.Decimal, places int32) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(prices))
	for i := range shares {
		shares[i] = decimal.Zero
	}

	total := decimal.Zero
	for _, p := range prices {
		total = total.Add(p)
	}

	if len(prices) == 0 || discount.LessThanOrEqual(decimal.Zero) || total.LessThanOrEqual(decimal.Zero) {
		return shares
	}

	discount = decimal.Min(discount, total)
	unit := decimal.New(1, -places)
	remainders := make([]decimal.Decimal, len(prices))
	allocated := decimal.Zero

	for i, p := range prices {
		exact := discount.Mul(p).Div(total)
		floor := exact.RoundFloor(places)
		shares[i] = decimal.Min(floor, p)
		remainders[i] = exact.Sub(shares[i])
		allocated = allocated.Add(shares[i])
	}

	left := discount.Sub(allocated)

	for left.GreaterThanOrEqual(unit) {
		best := -1
		for i := range prices {
			if shares[i].Add(unit).GreaterThan(prices[i]) {
				continue
			}
			if best == -1 || remainders[i].GreaterThan(remainders[best]) {
				best = i
			}
		}

		if best == -1 {
			break
		}

		shares[best] = shares[best].Add(unit)
		remainders[best] = remainders[best].Sub(unit)
		left = left.Sub(unit)
	}

	return shares
}
