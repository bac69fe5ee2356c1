// Package filter implements the item filters used by unit discount actions.
// Every filter passes items through unchanged when its configuration section
// is absent.
package filter

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-promotions/internal/domain/order"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

// ErrChannelRequired is returned by PriceRange when the params carry no
// channel to price the variants in.
var ErrChannelRequired = errors.New("price range filter requires a channel")

// ChannelPricingNotFoundError indicates a variant has no price in a channel.
type ChannelPricingNotFoundError struct {
	VariantCode string
	ChannelCode string
}

func (e *ChannelPricingNotFoundError) Error() string {
	return fmt.Sprintf("variant %s has no pricing in channel %s", e.VariantCode, e.ChannelCode)
}

// PriceCalculator returns the price of a variant in a channel.
type PriceCalculator interface {
	Calculate(v order.Variant, channel *order.Channel) (int64, error)
}

// ChannelPricingCalculator prices variants from their channel pricings.
type ChannelPricingCalculator struct{}

// Calculate implements PriceCalculator.
func (ChannelPricingCalculator) Calculate(v order.Variant, channel *order.Channel) (int64, error) {
	price, ok := v.ChannelPricings[channel.Code]
	if !ok {
		return 0, &ChannelPricingNotFoundError{VariantCode: v.Code, ChannelCode: channel.Code}
	}
	return price, nil
}

var _ promotion.Filter = (*PriceRange)(nil)

// PriceRange keeps items whose variant price in the channel lies within the
// configured range.
type PriceRange struct {
	prices PriceCalculator
}

// NewPriceRange creates a PriceRange filter using the given calculator.
func NewPriceRange(prices PriceCalculator) *PriceRange {
	return &PriceRange{prices: prices}
}

// Filter implements promotion.Filter.
func (f *PriceRange) Filter(items []*order.Item, params promotion.FilterParams) ([]*order.Item, error) {
	r, err := params.PriceRange()
	if err != nil {
		return nil, err
	}
	if r == nil {
		return items, nil
	}
	if params.Channel == nil {
		return nil, ErrChannelRequired
	}

	filtered := make([]*order.Item, 0, len(items))
	for _, item := range items {
		price, err := f.prices.Calculate(item.Variant, params.Channel)
		if err != nil {
			return nil, errors.Wrapf(err, "price item %s", item.ID)
		}
		if r.Contains(price) {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}
