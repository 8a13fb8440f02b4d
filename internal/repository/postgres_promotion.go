package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/cinema-booking/internal/domain"
)

type PostgresPromotionRepository struct {
	db *pgxpool.Pool
}

func NewPostgresPromotionRepository(db *pgxpool.Pool) *PostgresPromotionRepository {
	return &PostgresPromotionRepository{
		db: db,
	}
}

func (p *PostgresPromotionRepository) GetByCode(ctx context.Context, code string) (*domain.Promotion, error) {
	query := `
		SELECT
			code, name, discount_type, discount_value, starts_at, ends_at,
			max_usage, used_count, min_basis, status
		FROM promotions
		WHERE UPPER(code) = UPPER($1)
	`

	var promotion domain.Promotion

	err := p.db.QueryRow(ctx, query, code).Scan(
		&promotion.Code,
		&promotion.Name,
		&promotion.DiscountType,
		&promotion.DiscountValue,
		&promotion.StartsAt,
		&promotion.EndsAt,
		&promotion.MaxUsage,
		&promotion.UsedCount,
		&promotion.MinBasis,
		&promotion.Status,
	)
	if err != nil {
		return nil, notFoundOr(err)
	}

	return &promotion, nil
}

func (p *PostgresPromotionRepository) IncrementUsage(ctx context.Context, code string) error {
	query := `
		UPDATE promotions
		SET used_count = used_count + 1
		WHERE UPPER(code) = UPPER($1) AND (max_usage = 0 OR used_count < max_usage)
	`

	tag, err := p.db.Exec(ctx, query, code)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrPromotionInvalid
	}

	return nil
}
