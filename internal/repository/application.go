package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

const (
	isPromotionAppliedSQL = `SELECT EXISTS (
		SELECT 1 FROM order_promotions WHERE order_id = $1 AND promotion_id = $2)`

	insertOrderPromotionSQL = `INSERT INTO order_promotions (order_id, promotion_id, discount_total)
		VALUES ($1, $2, $3) ON CONFLICT (order_id, promotion_id) DO NOTHING`

	consumePromotionUseSQL = `UPDATE promotions SET used = used + 1
		WHERE id = $1 AND (usage_limit = 0 OR used < usage_limit)`
)

var _ promotion.ApplicationRepository = (*ApplicationRepository)(nil)

// ApplicationRepository implements promotion.ApplicationRepository backed by
// PostgreSQL.
type ApplicationRepository struct {
	pool *pgxpool.Pool
}

// NewApplicationRepository returns an ApplicationRepository that uses the
// given pool.
func NewApplicationRepository(pool *pgxpool.Pool) *ApplicationRepository {
	return &ApplicationRepository{pool: pool}
}

// IsApplied reports whether the promotion was already applied to the order.
func (r *ApplicationRepository) IsApplied(ctx context.Context, orderID, promotionID string) (bool, error) {
	var applied bool
	if err := r.pool.QueryRow(ctx, isPromotionAppliedSQL, orderID, promotionID).Scan(&applied); err != nil {
		return false, errors.Wrapf(err, "check promotion %q on order %q", promotionID, orderID)
	}
	return applied, nil
}

// Save records the application in a single transaction.
func (r *ApplicationRepository) Save(ctx context.Context, a promotion.Application) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, insertOrderPromotionSQL, a.OrderID, a.Promotion.ID, a.DiscountTotal())
		if err != nil {
			return errors.Wrap(err, "insert order promotion")
		}
		if tag.RowsAffected() == 0 {
			return promotion.ErrAlreadyApplied
		}

		tag, err = tx.Exec(ctx, consumePromotionUseSQL, a.Promotion.ID)
		if err != nil {
			return errors.Wrap(err, "consume promotion use")
		}
		if tag.RowsAffected() == 0 {
			return promotion.ErrUsageLimitReached
		}

		return copyAdjustments(ctx, tx, a.Adjustments)
	})
	if err != nil {
		return errors.Wrapf(err, "save promotion %s on order %s", a.Promotion.Code, a.OrderID)
	}
	return nil
}
