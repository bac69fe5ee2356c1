package promotion

import (
	"slices"

	"github.com/xenking/kart-promotions/internal/domain/order"
)

var _ ActionCommand = (*UnitFixedDiscount)(nil)

// UnitFixedDiscount discounts every unit of the order items that survive the
// filter pipeline by a fixed per-channel amount, capped at the unit total.
//
// It holds no mutable state and performs no I/O, so it is safe for concurrent
// use as long as the injected filters and factory are. Executing it twice for
// the same order creates the adjustments twice.
type UnitFixedDiscount struct {
	factory    AdjustmentFactory
	priceRange Filter
	taxon      Filter
	product    Filter
	additional []Filter
}

// NewUnitFixedDiscount creates the action. Filters run in the order
// priceRange, taxon, product, then additional in the given order.
func NewUnitFixedDiscount(
	factory AdjustmentFactory,
	priceRange, taxon, product Filter,
	additional ...Filter,
) *UnitFixedDiscount {
	return &UnitFixedDiscount{
		factory:    factory,
		priceRange: priceRange,
		taxon:      taxon,
		product:    product,
		additional: additional,
	}
}

// Execute applies the discount to the order. It returns false without side
// effects when the order channel is not configured, the configured amount is
// zero, or no item survives the filters. Filter and factory errors are
// returned as is.
func (a *UnitFixedDiscount) Execute(subject Subject, configuration Configuration, p *Promotion) (bool, error) {
	o, ok := subject.(*order.Order)
	if !ok {
		return false, &UnexpectedTypeError{Got: subject, Expected: "*order.Order"}
	}

	cc, ok := configuration[o.ChannelCode()]
	if !ok {
		return false, nil
	}
	if cc.Amount == 0 {
		return false, nil
	}

	items, err := a.filter(o, cc)
	if err != nil {
		return false, err
	}
	if len(items) == 0 {
		return false, nil
	}

	for _, item := range items {
		for _, unit := range item.Units {
			adj, err := a.factory.CreateUnitAdjustment(unit, min(unit.Total(), cc.Amount), p)
			if err != nil {
				return false, err
			}
			unit.AddAdjustment(adj)
		}
	}

	return true, nil
}

// filter runs the pipeline. Only the price range filter sees the channel.
func (a *UnitFixedDiscount) filter(o *order.Order, cc ChannelConfiguration) ([]*order.Item, error) {
	items, err := a.priceRange.Filter(slices.Clone(o.Items), FilterParams{
		Channel:              o.Channel,
		ChannelConfiguration: cc,
	})
	if err != nil {
		return nil, err
	}

	params := FilterParams{ChannelConfiguration: cc}
	for _, f := range a.chain() {
		if items, err = f.Filter(items, params); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (a *UnitFixedDiscount) chain() []Filter {
	chain := make([]Filter, 0, 2+len(a.additional))
	chain = append(chain, a.taxon, a.product)
	return append(chain, a.additional...)
}

// Revert removes the unit adjustments created for the promotion from every
// unit of the order.
func (a *UnitFixedDiscount) Revert(subject Subject, _ Configuration, p *Promotion) error {
	o, ok := subject.(*order.Order)
	if !ok {
		return &UnexpectedTypeError{Got: subject, Expected: "*order.Order"}
	}

	for _, unit := range o.Units() {
		unit.RemoveAdjustments(func(adj *order.Adjustment) bool {
			return adj.Type == order.AdjustmentOrderUnitPromotion && adj.OriginCode == p.Code
		})
	}
	return nil
}
