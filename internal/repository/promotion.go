package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

const (
	listActivePromotionsSQL = `SELECT p.id, p.code, p.name, p.description, p.priority, p.exclusive,
		p.usage_limit, p.used, p.starts_at, p.ends_at,
		ARRAY(SELECT c.channel_code FROM promotion_channels c
			WHERE c.promotion_id = p.id ORDER BY c.channel_code) AS channels
		FROM promotions p
		JOIN promotion_channels pc ON pc.promotion_id = p.id
		WHERE pc.channel_code = $1 AND p.active
			AND (p.starts_at IS NULL OR p.starts_at <= NOW())
			AND (p.ends_at IS NULL OR p.ends_at >= NOW())
		ORDER BY p.priority DESC, p.code`

	listPromotionActionsSQL = `SELECT promotion_id, type, configuration
		FROM promotion_actions WHERE promotion_id = ANY($1)
		ORDER BY promotion_id, position, id`

	upsertPromotionSQL = `INSERT INTO promotions (id, code, name, description, priority, exclusive,
			usage_limit, starts_at, ends_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)
		ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, name = EXCLUDED.name,
			description = EXCLUDED.description, priority = EXCLUDED.priority,
			exclusive = EXCLUDED.exclusive, usage_limit = EXCLUDED.usage_limit,
			starts_at = EXCLUDED.starts_at, ends_at = EXCLUDED.ends_at, active = TRUE`

	deletePromotionChannelsSQL = `DELETE FROM promotion_channels WHERE promotion_id = $1`
	deletePromotionActionsSQL  = `DELETE FROM promotion_actions WHERE promotion_id = $1`

	insertPromotionChannelSQL = `INSERT INTO promotion_channels (promotion_id, channel_code) VALUES ($1, $2)`
	insertPromotionActionSQL  = `INSERT INTO promotion_actions (promotion_id, type, configuration, position)
		VALUES ($1, $2, $3, $4)`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// ListActiveByChannel returns the active promotions of the channel whose time
// window contains the current database time, ordered by priority descending.
func (r *PromotionRepository) ListActiveByChannel(ctx context.Context, channelCode string) ([]*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, listActivePromotionsSQL, channelCode)
	if err != nil {
		return nil, errors.Wrapf(err, "list promotions of channel %q", channelCode)
	}
	promotions, err := pgx.CollectRows(rows, scanPromotion)
	if err != nil {
		return nil, errors.Wrapf(err, "list promotions of channel %q", channelCode)
	}
	if len(promotions) == 0 {
		return promotions, nil
	}

	byID := lo.KeyBy(promotions, func(p *promotion.Promotion) string { return p.ID })
	rows, err = r.pool.Query(ctx, listPromotionActionsSQL, lo.Keys(byID))
	if err != nil {
		return nil, errors.Wrap(err, "list promotion actions")
	}

	var (
		promotionID, actionType string
		configuration           []byte
	)
	_, err = pgx.ForEachRow(rows, []any{&promotionID, &actionType, &configuration}, func() error {
		cfg, err := promotion.DecodeConfiguration(configuration)
		if err != nil {
			return errors.Wrapf(err, "promotion %s action %s", promotionID, actionType)
		}
		p := byID[promotionID]
		p.Actions = append(p.Actions, promotion.Action{Type: actionType, Configuration: cfg})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "list promotion actions")
	}

	return promotions, nil
}

// Upsert creates or replaces the promotion with its channels and actions.
// The usage counter of an existing promotion is preserved.
func (r *PromotionRepository) Upsert(ctx context.Context, p *promotion.Promotion) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertPromotionSQL,
			p.ID, p.Code, p.Name, p.Description, p.Priority, p.Exclusive,
			p.UsageLimit, p.StartsAt, p.EndsAt,
		); err != nil {
			return errors.Wrap(err, "upsert promotion")
		}

		b := &pgx.Batch{}
		b.Queue(deletePromotionChannelsSQL, p.ID)
		b.Queue(deletePromotionActionsSQL, p.ID)
		for _, channel := range p.Channels {
			b.Queue(insertPromotionChannelSQL, p.ID, channel)
		}
		for i, action := range p.Actions {
			configuration, err := action.Configuration.MarshalJSON()
			if err != nil {
				return errors.Wrapf(err, "encode %s configuration", action.Type)
			}
			b.Queue(insertPromotionActionSQL, p.ID, action.Type, string(configuration), i)
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return errors.Wrap(err, "replace channels and actions")
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "upsert promotion %s", p.Code)
	}
	return nil
}

func scanPromotion(row pgx.CollectableRow) (*promotion.Promotion, error) {
	var (
		p          promotion.Promotion
		priority   int32
		usageLimit int32
		used       int32
		startsAt   *time.Time
		endsAt     *time.Time
	)
	err := row.Scan(
		&p.ID, &p.Code, &p.Name, &p.Description, &priority, &p.Exclusive,
		&usageLimit, &used, &startsAt, &endsAt, &p.Channels,
	)
	p.Priority = int(priority)
	p.UsageLimit = int(usageLimit)
	p.Used = int(used)
	p.StartsAt = startsAt
	p.EndsAt = endsAt
	return &p, err
}
