package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/homeserve/marketplace/internal/models"
)

type serviceRepo struct {
	q pgx.Tx
}

func (r serviceRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Service, error) {
	const q = `SELECT id, name, base_price, provider_id, is_active, created_at, updated_at FROM services WHERE id = $1`
	var s models.Service
	err := r.q.QueryRow(ctx, q, id).Scan(&s.ID, &s.Name, &s.BasePrice, &s.ProviderID, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &s, nil
}

type couponRepo struct {
	q pgx.Tx
}

func (r couponRepo) Create(ctx context.Context, c *models.Coupon) error {
	const q = `INSERT INTO coupons (code, discount_value, expiry_date, max_usage, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, usage_count, version, created_at, updated_at`
	err := r.q.QueryRow(ctx, q, c.Code, c.DiscountValue, c.ExpiryDate, c.MaxUsage, c.IsActive).
		Scan(&c.ID, &c.UsageCount, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	return mapErr(err)
}

func (r couponRepo) GetByCode(ctx context.Context, code string) (*models.Coupon, error) {
	const q = `SELECT id, code, discount_value, expiry_date, usage_count, max_usage, is_active, version, created_at, updated_at
		FROM coupons WHERE code = $1`
	var c models.Coupon
	err := r.q.QueryRow(ctx, q, code).Scan(&c.ID, &c.Code, &c.DiscountValue, &c.ExpiryDate, &c.UsageCount,
		&c.MaxUsage, &c.IsActive, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (r couponRepo) IncrementUsage(ctx context.Context, code string, version int) (bool, error) {
	const q = `UPDATE coupons SET usage_count = usage_count + 1, version = version + 1, updated_at = NOW()
		WHERE code = $1 AND version = $2 AND usage_count < max_usage`
	tag, err := r.q.Exec(ctx, q, code, version)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}
