package filter

import (
	"github.com/samber/lo"

	"github.com/xenking/kart-promotions/internal/domain/order"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

var (
	_ promotion.Filter = Taxon{}
	_ promotion.Filter = Product{}
)

// Taxon keeps items whose product belongs to any configured taxon.
type Taxon struct{}

// Filter implements promotion.Filter.
func (Taxon) Filter(items []*order.Item, params promotion.FilterParams) ([]*order.Item, error) {
	taxons, ok, err := params.Taxons()
	if err != nil {
		return nil, err
	}
	if !ok {
		return items, nil
	}

	return lo.Filter(items, func(item *order.Item, _ int) bool {
		return lo.Some(item.Variant.Product.TaxonCodes, taxons)
	}), nil
}

// Product keeps items whose product code is configured.
type Product struct{}

// Filter implements promotion.Filter.
func (Product) Filter(items []*order.Item, params promotion.FilterParams) ([]*order.Item, error) {
	products, ok, err := params.Products()
	if err != nil {
		return nil, err
	}
	if !ok {
		return items, nil
	}

	return lo.Filter(items, func(item *order.Item, _ int) bool {
		return lo.Contains(products, item.ProductCode())
	}), nil
}
