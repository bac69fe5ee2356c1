package main

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-promotions/internal/domain/order"
)

// maxQuantity bounds the units generated for a single line.
const maxQuantity = 10_000

// decodeOrder parses one JSON line into an order. Each item is expanded into
// one unit per quantity and adjustments listed on an item are copied onto
// every unit. newID generates IDs for items without one, units and
// adjustments.
//
//	{"id": "o-1", "number": "000001", "channel": "WEB", "created_at": "2026-01-02T10:00:00Z",
//	 "items": [{"variant": "MUG-BLUE", "quantity": 2, "unit_price": 1000,
//	   "adjustments": [{"type": "tax", "label": "VAT", "amount": 200, "neutral": true}]}]}
func decodeOrder(data []byte, newID func() string) (*order.Order, error) {
	o := &order.Order{State: order.StatePending}
	var lines []itemLine

	if err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			return decodeStr(d, key, &o.ID)
		case "number":
			return decodeStr(d, key, &o.Number)
		case "channel":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, key)
			}
			o.Channel = &order.Channel{Code: v}
			return nil
		case "state":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, key)
			}
			switch s := order.State(v); s {
			case order.StatePending, order.StateProcessed:
				o.State = s
				return nil
			default:
				return errors.Errorf("state: unknown %q", v)
			}
		case "created_at":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, key)
			}
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return errors.Wrap(err, key)
			}
			o.CreatedAt = t
			return nil
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				var l itemLine
				if err := l.decode(d); err != nil {
					return errors.Wrapf(err, "items[%d]", len(lines))
				}
				lines = append(lines, l)
				return nil
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, err
	}

	if o.ID == "" {
		return nil, errors.New("id is required")
	}
	if o.Number == "" {
		o.Number = o.ID
	}

	for i, l := range lines {
		if l.variant == "" {
			return nil, errors.Errorf("items[%d]: variant is required", i)
		}
		if l.quantity < 1 || l.quantity > maxQuantity {
			return nil, errors.Errorf("items[%d]: quantity %d out of range", i, l.quantity)
		}
		if l.unitPrice < 0 {
			return nil, errors.Errorf("items[%d]: unit price must not be negative", i)
		}
		o.Items = append(o.Items, l.item(o.ID, newID))
	}
	return o, nil
}

type itemLine struct {
	id          string
	variant     string
	quantity    int
	unitPrice   int64
	adjustments []order.Adjustment
}

func (l *itemLine) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			return decodeStr(d, key, &l.id)
		case "variant":
			return decodeStr(d, key, &l.variant)
		case "quantity":
			v, err := d.Int()
			if err != nil {
				return errors.Wrap(err, key)
			}
			l.quantity = v
			return nil
		case "unit_price":
			v, err := d.Int64()
			if err != nil {
				return errors.Wrap(err, key)
			}
			l.unitPrice = v
			return nil
		case "adjustments":
			return d.Arr(func(d *jx.Decoder) error {
				a, err := decodeAdjustment(d)
				if err != nil {
					return errors.Wrapf(err, "adjustments[%d]", len(l.adjustments))
				}
				l.adjustments = append(l.adjustments, a)
				return nil
			})
		default:
			return d.Skip()
		}
	})
}

func (l *itemLine) item(orderID string, newID func() string) *order.Item {
	id := l.id
	if id == "" {
		id = newID()
	}
	item := &order.Item{
		ID:        id,
		OrderID:   orderID,
		Variant:   order.Variant{Code: l.variant},
		Quantity:  l.quantity,
		UnitPrice: l.unitPrice,
		Units:     make([]*order.Unit, 0, l.quantity),
	}
	for range l.quantity {
		u := &order.Unit{ID: newID(), ItemID: id, Price: l.unitPrice}
		for _, a := range l.adjustments {
			a.ID = newID()
			u.AddAdjustment(&a)
		}
		item.Units = append(item.Units, u)
	}
	return item
}

func decodeAdjustment(d *jx.Decoder) (order.Adjustment, error) {
	var a order.Adjustment
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "type":
			a.Type, err = d.Str()
		case "label":
			a.Label, err = d.Str()
		case "amount":
			a.Amount, err = d.Int64()
		case "origin_code":
			a.OriginCode, err = d.Str()
		case "neutral":
			a.Neutral, err = d.Bool()
		case "locked":
			a.Locked, err = d.Bool()
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return a, err
	}
	if a.Type == "" {
		return a, errors.New("type is required")
	}
	return a, nil
}

func decodeStr(d *jx.Decoder, key string, dst *string) error {
	v, err := d.Str()
	if err != nil {
		return errors.Wrap(err, key)
	}
	*dst = v
	return nil
}
