package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-promotions/internal/domain/order"
)

const (
	getOrderSQL = `SELECT o.id, o.number, o.state, o.created_at,
		c.code, c.name, c.base_currency_code
		FROM orders o LEFT JOIN channels c ON c.code = o.channel_code
		WHERE o.id = $1`

	getOrderPromotionsSQL = `SELECT p.code FROM order_promotions op
		JOIN promotions p ON p.id = op.promotion_id
		WHERE op.order_id = $1 ORDER BY op.applied_at, p.code`

	getOrderItemsSQL = `SELECT i.id, i.variant_code, v.product_code, p.name, i.quantity, i.unit_price
		FROM order_items i
		JOIN variants v ON v.code = i.variant_code
		JOIN products p ON p.code = v.product_code
		WHERE i.order_id = $1 ORDER BY i.position, i.id`

	getOrderTaxonsSQL = `SELECT DISTINCT pt.product_code, pt.taxon_code
		FROM product_taxons pt
		JOIN variants v ON v.product_code = pt.product_code
		JOIN order_items i ON i.variant_code = v.code
		WHERE i.order_id = $1 ORDER BY pt.product_code, pt.taxon_code`

	getOrderPricingsSQL = `SELECT cp.variant_code, cp.channel_code, cp.price
		FROM channel_pricings cp
		WHERE cp.variant_code IN (SELECT variant_code FROM order_items WHERE order_id = $1)`

	getOrderUnitsSQL = `SELECT u.id, u.item_id, u.price
		FROM order_item_units u JOIN order_items i ON i.id = u.item_id
		WHERE i.order_id = $1 ORDER BY u.position, u.id`

	getOrderAdjustmentsSQL = `SELECT a.id, a.unit_id, a.type, a.label, a.amount, a.origin_code, a.neutral, a.locked
		FROM adjustments a
		JOIN order_item_units u ON u.id = a.unit_id
		JOIN order_items i ON i.id = u.item_id
		WHERE i.order_id = $1 ORDER BY a.created_at, a.id`

	listPendingOrdersSQL = `SELECT id FROM orders WHERE state = 'pending'
		ORDER BY created_at, id LIMIT $1`

	markOrderProcessedSQL = `UPDATE orders SET state = 'processed', processed_at = NOW() WHERE id = $1`

	createOrderSQL = `INSERT INTO orders (id, number, channel_code, state, created_at)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`

	createOrderItemSQL = `INSERT INTO order_items (id, order_id, variant_code, quantity, unit_price, position)
		VALUES ($1, $2, $3, $4, $5, $6)`

	createOrderUnitSQL = `INSERT INTO order_item_units (id, item_id, price, position) VALUES ($1, $2, $3, $4)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Get loads the order aggregate in a single round trip. Returns
// order.ErrNotFound when the order does not exist.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var (
		o           *order.Order
		items       []*order.Item
		taxons      = make(map[string][]string)
		pricings    = make(map[string]map[string]int64)
		units       []*order.Unit
		adjustments []*order.Adjustment
	)

	b := &pgx.Batch{}
	b.Queue(getOrderSQL, id).Query(func(rows pgx.Rows) error {
		var err error
		o, err = pgx.CollectExactlyOneRow(rows, scanOrder)
		return err
	})
	b.Queue(getOrderPromotionsSQL, id).Query(func(rows pgx.Rows) error {
		codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err == nil && o != nil {
			o.Promotions = codes
		}
		return err
	})
	b.Queue(getOrderItemsSQL, id).Query(func(rows pgx.Rows) error {
		var err error
		items, err = pgx.CollectRows(rows, scanOrderItem)
		return err
	})
	b.Queue(getOrderTaxonsSQL, id).Query(func(rows pgx.Rows) error {
		var product, taxon string
		_, err := pgx.ForEachRow(rows, []any{&product, &taxon}, func() error {
			taxons[product] = append(taxons[product], taxon)
			return nil
		})
		return err
	})
	b.Queue(getOrderPricingsSQL, id).Query(func(rows pgx.Rows) error {
		var (
			variant, channel string
			price            int64
		)
		_, err := pgx.ForEachRow(rows, []any{&variant, &channel, &price}, func() error {
			if pricings[variant] == nil {
				pricings[variant] = make(map[string]int64)
			}
			pricings[variant][channel] = price
			return nil
		})
		return err
	})
	b.Queue(getOrderUnitsSQL, id).Query(func(rows pgx.Rows) error {
		var err error
		units, err = pgx.CollectRows(rows, scanUnit)
		return err
	})
	b.Queue(getOrderAdjustmentsSQL, id).Query(func(rows pgx.Rows) error {
		var err error
		adjustments, err = pgx.CollectRows(rows, scanAdjustment)
		return err
	})

	if err := r.pool.SendBatch(ctx, b).Close(); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}

	assembleOrder(o, items, taxons, pricings, units, adjustments)
	return o, nil
}

func assembleOrder(
	o *order.Order,
	items []*order.Item,
	taxons map[string][]string,
	pricings map[string]map[string]int64,
	units []*order.Unit,
	adjustments []*order.Adjustment,
) {
	byUnit := make(map[string]*order.Unit, len(units))
	for _, u := range units {
		byUnit[u.ID] = u
	}
	for _, a := range adjustments {
		if u, ok := byUnit[a.UnitID]; ok {
			u.Adjustments = append(u.Adjustments, a)
		}
	}

	byItem := make(map[string]*order.Item, len(items))
	for _, item := range items {
		item.OrderID = o.ID
		item.Variant.Product.TaxonCodes = taxons[item.ProductCode()]
		item.Variant.ChannelPricings = pricings[item.Variant.Code]
		byItem[item.ID] = item
	}
	for _, u := range units {
		if item, ok := byItem[u.ItemID]; ok {
			item.Units = append(item.Units, u)
		}
	}

	o.Items = items
}

// ListPending returns up to limit IDs of pending orders, oldest first.
func (r *OrderRepository) ListPending(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, listPendingOrdersSQL, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list pending orders")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "list pending orders")
	}
	return ids, nil
}

// MarkProcessed moves the order to the processed state.
func (r *OrderRepository) MarkProcessed(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, markOrderProcessedSQL, id)
	if err != nil {
		return errors.Wrapf(err, "mark order %q processed", id)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// Create persists a new order with its items and units. Adjustments already
// present on the units are stored too. Creating an order whose ID exists is a
// no-op reported by the returned flag.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) (bool, error) {
	var created bool
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		state := o.State
		if state == "" {
			state = order.StatePending
		}
		createdAt := o.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}

		var channel *string
		if o.Channel != nil {
			channel = &o.Channel.Code
		}

		tag, err := tx.Exec(ctx, createOrderSQL, o.ID, o.Number, channel, string(state), createdAt)
		if err != nil {
			return errors.Wrap(err, "insert order")
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		created = true

		b := &pgx.Batch{}
		var adjustments []*order.Adjustment
		for i, item := range o.Items {
			b.Queue(createOrderItemSQL, item.ID, o.ID, item.Variant.Code, item.Quantity, item.UnitPrice, i)
			for j, u := range item.Units {
				b.Queue(createOrderUnitSQL, u.ID, item.ID, u.Price, j)
				adjustments = append(adjustments, u.Adjustments...)
			}
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return errors.Wrap(err, "insert order items")
		}

		return copyAdjustments(ctx, tx, adjustments)
	})
	if err != nil {
		return false, errors.Wrapf(err, "create order %q", o.ID)
	}
	return created, nil
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		o                        order.Order
		state                    string
		code, name, currencyCode *string
	)
	if err := row.Scan(&o.ID, &o.Number, &state, &o.CreatedAt, &code, &name, &currencyCode); err != nil {
		return nil, err
	}
	o.State = order.State(state)
	if code != nil {
		o.Channel = &order.Channel{Code: *code, Name: deref(name), BaseCurrencyCode: deref(currencyCode)}
	}
	return &o, nil
}

func scanOrderItem(row pgx.CollectableRow) (*order.Item, error) {
	var (
		item     order.Item
		quantity int32
	)
	err := row.Scan(
		&item.ID, &item.Variant.Code, &item.Variant.Product.Code, &item.Variant.Product.Name,
		&quantity, &item.UnitPrice,
	)
	item.Quantity = int(quantity)
	return &item, err
}

func scanUnit(row pgx.CollectableRow) (*order.Unit, error) {
	var u order.Unit
	err := row.Scan(&u.ID, &u.ItemID, &u.Price)
	return &u, err
}

func scanAdjustment(row pgx.CollectableRow) (*order.Adjustment, error) {
	var a order.Adjustment
	err := row.Scan(&a.ID, &a.UnitID, &a.Type, &a.Label, &a.Amount, &a.OriginCode, &a.Neutral, &a.Locked)
	return &a, err
}

// copyAdjustments bulk inserts adjustments using the COPY protocol.
func copyAdjustments(ctx context.Context, tx pgx.Tx, adjustments []*order.Adjustment) error {
	if len(adjustments) == 0 {
		return nil
	}
	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"adjustments"},
		[]string{"id", "unit_id", "type", "label", "amount", "origin_code", "neutral", "locked"},
		pgx.CopyFromSlice(len(adjustments), func(i int) ([]any, error) {
			a := adjustments[i]
			return []any{a.ID, a.UnitID, a.Type, a.Label, a.Amount, a.OriginCode, a.Neutral, a.Locked}, nil
		}),
	)
	if err != nil {
		return errors.Wrap(err, "copy adjustments")
	}
	if int(n) != len(adjustments) {
		return errors.Errorf("copied %d of %d adjustments", n, len(adjustments))
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
