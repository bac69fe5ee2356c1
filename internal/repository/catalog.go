package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-promotions/internal/domain/order"
)

const (
	upsertChannelSQL = `INSERT INTO channels (code, name, base_currency_code) VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, base_currency_code = EXCLUDED.base_currency_code`

	upsertProductSQL = `INSERT INTO products (code, name) VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name`

	deleteProductTaxonsSQL = `DELETE FROM product_taxons WHERE product_code = $1`
	insertProductTaxonSQL  = `INSERT INTO product_taxons (product_code, taxon_code) VALUES ($1, $2)`

	upsertVariantSQL = `INSERT INTO variants (code, product_code) VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET product_code = EXCLUDED.product_code`

	upsertChannelPricingSQL = `INSERT INTO channel_pricings (variant_code, channel_code, price) VALUES ($1, $2, $3)
		ON CONFLICT (variant_code, channel_code) DO UPDATE SET price = EXCLUDED.price`
)

// CatalogRepository stores the channels, products and variants orders refer
// to.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// UpsertChannel creates or updates a channel.
func (r *CatalogRepository) UpsertChannel(ctx context.Context, c order.Channel) error {
	if _, err := r.pool.Exec(ctx, upsertChannelSQL, c.Code, c.Name, c.BaseCurrencyCode); err != nil {
		return errors.Wrapf(err, "upsert channel %s", c.Code)
	}
	return nil
}

// UpsertVariant creates or updates the variant together with its product,
// the product taxons and the variant channel pricings.
func (r *CatalogRepository) UpsertVariant(ctx context.Context, v order.Variant) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		b.Queue(upsertProductSQL, v.Product.Code, v.Product.Name)
		b.Queue(deleteProductTaxonsSQL, v.Product.Code)
		for _, taxon := range v.Product.TaxonCodes {
			b.Queue(insertProductTaxonSQL, v.Product.Code, taxon)
		}
		b.Queue(upsertVariantSQL, v.Code, v.Product.Code)
		for channel, price := range v.ChannelPricings {
			b.Queue(upsertChannelPricingSQL, v.Code, channel, price)
		}
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		return errors.Wrapf(err, "upsert variant %s", v.Code)
	}
	return nil
}
