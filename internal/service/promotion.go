package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/metinatakli/cinema-booking/internal/clock"
	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/shopspring/decimal"
)

type PromotionQuote struct {
	Code           string
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
}

type PromotionService struct {
	promotions domain.PromotionRepository
	clock      clock.Clock
	logger     *slog.Logger
	places     int32
}

// NewPromotionService evaluates discounts rounded to places decimal digits.
func NewPromotionService(promotions domain.PromotionRepository, clk clock.Clock, logger *slog.Logger, places int32) *PromotionService {
	return &PromotionService{
		promotions: promotions,
		clock:      clk,
		logger:     logger,
		places:     places,
	}
}

func (s *PromotionService) Places() int32 {
	return s.places
}

// Validate returns the discount the code grants on basis. Unknown, inactive, expired and
// exhausted codes, as well as a basis below the promotion minimum, yield ErrPromotionInvalid.
func (s *PromotionService) Validate(ctx context.Context, code string, basis decimal.Decimal) (*PromotionQuote, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.ErrPromotionInvalid
	}

	promo, err := s.promotions.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, domain.ErrPromotionInvalid
		}

		return nil, err
	}

	switch {
	case !promo.ActiveAt(s.clock.Now()):
		return nil, fmt.Errorf("%w: outside validity window", domain.ErrPromotionInvalid)
	case promo.UsageExhausted():
		return nil, fmt.Errorf("%w: usage limit reached", domain.ErrPromotionInvalid)
	case basis.LessThan(promo.MinBasis):
		return nil, fmt.Errorf("%w: minimum amount is %s", domain.ErrPromotionInvalid, promo.MinBasis.StringFixed(s.places))
	}

	discount := promo.Discount(basis, s.places)

	return &PromotionQuote{
		Code:           promo.Code,
		DiscountAmount: discount,
		FinalAmount:    basis.Sub(discount),
	}, nil
}

// RecordUsage counts one redemption of the code.
func (s *PromotionService) RecordUsage(ctx context.Context, code string) error {
	if err := s.promotions.IncrementUsage(ctx, code); err != nil {
		return fmt.Errorf("record usage of promotion %s: %w", code, err)
	}

	return nil
}
