package order

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("order not found")

// AdjustmentOrderUnitPromotion is the adjustment type produced by unit level
// promotion actions.
const AdjustmentOrderUnitPromotion = "order_unit_promotion"

// State enumerates the promotion processing states of an order.
type State string

const (
	// StatePending orders are waiting for promotion processing.
	StatePending State = "pending"
	// StateProcessed orders had every eligible promotion evaluated.
	StateProcessed State = "processed"
)

// Channel is a sales context. Its Code selects the per-channel promotion
// configuration.
type Channel struct {
	Code             string
	Name             string
	BaseCurrencyCode string
}

// Product is the catalog product behind an order item variant.
type Product struct {
	Code       string
	Name       string
	TaxonCodes []string
}

// HasTaxon reports whether the product is classified under the taxon code.
func (p *Product) HasTaxon(code string) bool {
	return slices.Contains(p.TaxonCodes, code)
}

// Variant is the purchasable variant of a product. ChannelPricings holds the
// variant price per channel code in the smallest currency unit.
type Variant struct {
	Code            string
	Product         Product
	ChannelPricings map[string]int64
}

// Order is a customer order evaluated by promotion actions.
type Order struct {
	ID         string
	Number     string
	Channel    *Channel
	Items      []*Item
	Promotions []string
	State      State
	CreatedAt  time.Time
}

// ChannelCode returns the code of the order channel or an empty string when
// the order has no channel.
func (o *Order) ChannelCode() string {
	if o.Channel == nil {
		return ""
	}
	return o.Channel.Code
}

// HasPromotion reports whether the promotion code was applied to the order.
func (o *Order) HasPromotion(code string) bool {
	return slices.Contains(o.Promotions, code)
}

// AddPromotion records the promotion code as applied. Adding a code twice is
// a no-op.
func (o *Order) AddPromotion(code string) {
	if !o.HasPromotion(code) {
		o.Promotions = append(o.Promotions, code)
	}
}

// RemovePromotion forgets an applied promotion code.
func (o *Order) RemovePromotion(code string) {
	o.Promotions = slices.DeleteFunc(o.Promotions, func(c string) bool { return c == code })
}

// Units returns every unit of every item in item order.
func (o *Order) Units() []*Unit {
	var units []*Unit
	for _, item := range o.Items {
		units = append(units, item.Units...)
	}
	return units
}

// Total returns the sum of all unit totals.
func (o *Order) Total() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.Total()
	}
	return total
}

// Item is a line item of an order. It owns one unit per purchased quantity.
type Item struct {
	ID        string
	OrderID   string
	Variant   Variant
	Quantity  int
	UnitPrice int64
	Units     []*Unit
}

// ProductCode is a shortcut for the code of the item's product.
func (i *Item) ProductCode() string {
	return i.Variant.Product.Code
}

// Total returns the sum of the item's unit totals.
func (i *Item) Total() int64 {
	var total int64
	for _, u := range i.Units {
		total += u.Total()
	}
	return total
}

// Unit is the smallest priced entity of an order. Adjustments attach here.
type Unit struct {
	ID          string
	ItemID      string
	Price       int64
	Adjustments []*Adjustment
}

// AdjustmentsTotal sums the amounts of non-neutral adjustments.
func (u *Unit) AdjustmentsTotal() int64 {
	var total int64
	for _, a := range u.Adjustments {
		if !a.Neutral {
			total += a.Amount
		}
	}
	return total
}

// Total returns the unit price with adjustments applied, floored at zero.
func (u *Unit) Total() int64 {
	total := u.Price + u.AdjustmentsTotal()
	if total < 0 {
		return 0
	}
	return total
}

// AddAdjustment attaches the adjustment to the unit.
func (u *Unit) AddAdjustment(a *Adjustment) {
	a.UnitID = u.ID
	u.Adjustments = append(u.Adjustments, a)
}

// RemoveAdjustments detaches every adjustment matching fn and returns the
// removed ones. Locked adjustments are kept.
func (u *Unit) RemoveAdjustments(fn func(a *Adjustment) bool) []*Adjustment {
	var removed []*Adjustment
	kept := u.Adjustments[:0]
	for _, a := range u.Adjustments {
		if !a.Locked && fn(a) {
			removed = append(removed, a)
			continue
		}
		kept = append(kept, a)
	}
	u.Adjustments = kept
	return removed
}

// Adjustment is a monetary modifier attached to a unit. Amount is the signed
// effect on the unit total, so discounts are negative.
type Adjustment struct {
	ID         string
	UnitID     string
	Type       string
	Label      string
	Amount     int64
	OriginCode string
	Neutral    bool
	Locked     bool
}

// Money converts an amount in the smallest currency unit to a decimal with
// two fractional digits.
func Money(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

// Repository defines persistence operations for orders under promotion
// processing.
type Repository interface {
	// Get loads an order with its channel, items, units and adjustments.
	Get(ctx context.Context, id string) (*Order, error)
	// ListPending returns up to limit IDs of orders awaiting processing,
	// oldest first.
	ListPending(ctx context.Context, limit int) ([]string, error)
	// MarkProcessed moves the order to StateProcessed.
	MarkProcessed(ctx context.Context, id string) error
}
