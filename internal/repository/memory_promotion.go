package repository

import (
	"context"
	"strings"
	"sync"

	"github.com/metinatakli/cinema-booking/internal/domain"
)

type MemoryPromotionRepository struct {
	mu         sync.Mutex
	promotions map[string]domain.Promotion
}

func NewMemoryPromotionRepository(promotions ...domain.Promotion) *MemoryPromotionRepository {
	m := &MemoryPromotionRepository{
		promotions: make(map[string]domain.Promotion),
	}

	for _, promotion := range promotions {
		m.promotions[strings.ToUpper(promotion.Code)] = promotion
	}

	return m
}

func (m *MemoryPromotionRepository) GetByCode(ctx context.Context, code string) (*domain.Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	promotion, ok := m.promotions[strings.ToUpper(code)]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}

	return &promotion, nil
}

func (m *MemoryPromotionRepository) IncrementUsage(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToUpper(code)

	promotion, ok := m.promotions[key]
	if !ok {
		return domain.ErrRecordNotFound
	}

	if promotion.UsageExhausted() {
		return domain.ErrPromotionInvalid
	}

	promotion.UsedCount++
	m.promotions[key] = promotion

	return nil
}
