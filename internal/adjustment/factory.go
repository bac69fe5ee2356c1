// Package adjustment creates the adjustment records attached to order units by
// promotion actions.
package adjustment

import (
	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/kart-promotions/internal/domain/order"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

var _ promotion.AdjustmentFactory = (*Factory)(nil)

// Factory builds order_unit_promotion adjustments.
type Factory struct {
	newID func() string
}

// NewFactory creates a Factory generating random UUID identifiers.
func NewFactory() *Factory {
	return &Factory{newID: uuid.NewString}
}

// CreateUnitAdjustment returns an adjustment lowering the unit total by
// amount. The adjustment is labelled with the promotion name and carries the
// promotion code as its origin.
func (f *Factory) CreateUnitAdjustment(unit *order.Unit, amount int64, p *promotion.Promotion) (*order.Adjustment, error) {
	if p == nil {
		return nil, errors.New("promotion is required")
	}
	return &order.Adjustment{
		ID:         f.newID(),
		UnitID:     unit.ID,
		Type:       order.AdjustmentOrderUnitPromotion,
		Label:      p.Name,
		Amount:     -amount,
		OriginCode: p.Code,
	}, nil
}
