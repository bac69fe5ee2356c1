package promotion

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-promotions/internal/domain/order"
)

// Filter section keys inside a channel configuration.
const (
	SectionPriceRange = "price_range_filter"
	SectionTaxons     = "taxons_filter"
	SectionProducts   = "products_filter"
	SectionExpression = "expression_filter"
)

// Configuration maps a channel code to the action configuration for that
// channel.
type Configuration map[string]ChannelConfiguration

// ChannelConfiguration is the per-channel configuration of a unit discount
// action. Amount is in the smallest currency unit; zero disables the action
// for the channel. Filters holds raw filter sections keyed by section name,
// passed through to filters unmodified.
type ChannelConfiguration struct {
	Amount  int64
	Filters map[string]jx.Raw
}

// Section returns the raw filter section with the given name.
func (c ChannelConfiguration) Section(name string) (jx.Raw, bool) {
	raw, ok := c.Filters[name]
	if !ok || jx.DecodeBytes(raw).Next() == jx.Null {
		return nil, false
	}
	return raw, true
}

// FilterParams is the input passed to every filter alongside the items.
// Channel is only set for the first filter of the pipeline.
type FilterParams struct {
	Channel *order.Channel
	ChannelConfiguration
}

// InvalidConfigurationError describes a rejected channel configuration.
type InvalidConfigurationError struct {
	Channel string
	Reason  string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for channel %q: %s", e.Channel, e.Reason)
}

// DecodeConfiguration parses a JSON configuration of the form
//
//	{"WEB": {"amount": 500, "filters": {"products_filter": {"products": ["MUG"]}}}}
//
// Unknown keys inside a channel entry are ignored.
func DecodeConfiguration(data []byte) (Configuration, error) {
	cfg := Configuration{}
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, channel string) error {
		var cc ChannelConfiguration
		if err := cc.Decode(d); err != nil {
			return errors.Wrapf(err, "channel %q", channel)
		}
		cfg[channel] = cc
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode configuration")
	}
	return cfg, nil
}

// Decode reads a single channel entry.
func (c *ChannelConfiguration) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "amount":
			v, err := d.Int64()
			if err != nil {
				return errors.Wrap(err, "amount")
			}
			c.Amount = v
			return nil
		case "filters":
			if c.Filters == nil {
				c.Filters = make(map[string]jx.Raw)
			}
			return d.Obj(func(d *jx.Decoder, name string) error {
				raw, err := d.Raw()
				if err != nil {
					return errors.Wrapf(err, "filter %q", name)
				}
				c.Filters[name] = append(jx.Raw(nil), raw...)
				return nil
			})
		default:
			return d.Skip()
		}
	})
}

// Encode writes the configuration as JSON. Channel order follows map
// iteration.
func (c Configuration) Encode(e *jx.Encoder) {
	e.ObjStart()
	for channel, cc := range c {
		e.FieldStart(channel)
		cc.Encode(e)
	}
	e.ObjEnd()
}

// MarshalJSON implements json.Marshaler.
func (c Configuration) MarshalJSON() ([]byte, error) {
	var e jx.Encoder
	c.Encode(&e)
	return e.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Configuration) UnmarshalJSON(data []byte) error {
	cfg, err := DecodeConfiguration(data)
	if err != nil {
		return err
	}
	*c = cfg
	return nil
}

// Encode writes a single channel entry.
func (c ChannelConfiguration) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("amount")
	e.Int64(c.Amount)
	if len(c.Filters) > 0 {
		e.FieldStart("filters")
		e.ObjStart()
		for name, raw := range c.Filters {
			e.FieldStart(name)
			e.Raw(raw)
		}
		e.ObjEnd()
	}
	e.ObjEnd()
}

// PriceRange is the price_range_filter section. Max is optional.
type PriceRange struct {
	Min int64
	Max *int64
}

// Contains reports whether price lies within the range.
func (r PriceRange) Contains(price int64) bool {
	if price < r.Min {
		return false
	}
	return r.Max == nil || price <= *r.Max
}

// PriceRange decodes the price range section. It returns nil when the section
// is absent or has no lower bound, which means the filter is not configured.
func (c ChannelConfiguration) PriceRange() (*PriceRange, error) {
	raw, ok := c.Section(SectionPriceRange)
	if !ok {
		return nil, nil
	}

	var (
		r      PriceRange
		hasMin bool
	)
	if err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "min", "max":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Int64()
			if err != nil {
				return errors.Wrap(err, key)
			}
			if key == "min" {
				r.Min, hasMin = v, true
			} else {
				r.Max = &v
			}
			return nil
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(err, SectionPriceRange)
	}

	if !hasMin {
		return nil, nil
	}
	return &r, nil
}

// Taxons decodes the taxon codes of the taxons_filter section. The boolean is
// false when the filter is not configured or the list is empty.
func (c ChannelConfiguration) Taxons() ([]string, bool, error) {
	return c.codes(SectionTaxons, "taxons")
}

// Products decodes the product codes of the products_filter section. The
// boolean is false when the filter is not configured or the list is empty.
func (c ChannelConfiguration) Products() ([]string, bool, error) {
	return c.codes(SectionProducts, "products")
}

// Expression decodes the CEL expression of the expression_filter section.
func (c ChannelConfiguration) Expression() (string, bool, error) {
	raw, ok := c.Section(SectionExpression)
	if !ok {
		return "", false, nil
	}

	var (
		expr  string
		found bool
	)
	if err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		if key != "expression" {
			return d.Skip()
		}
		v, err := d.Str()
		if err != nil {
			return errors.Wrap(err, key)
		}
		expr, found = v, v != ""
		return nil
	}); err != nil {
		return "", false, errors.Wrap(err, SectionExpression)
	}
	return expr, found, nil
}

func (c ChannelConfiguration) codes(section, key string) ([]string, bool, error) {
	raw, ok := c.Section(section)
	if !ok {
		return nil, false, nil
	}

	var codes []string
	if err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, k string) error {
		if k != key {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			v, err := d.Str()
			if err != nil {
				return err
			}
			codes = append(codes, v)
			return nil
		})
	}); err != nil {
		return nil, false, errors.Wrapf(err, "%s.%s", section, key)
	}
	return codes, len(codes) > 0, nil
}

// ValidateConfiguration checks every channel entry: the amount must not be
// negative and known filter sections must decode. A price range upper bound
// must not be below the lower bound.
func ValidateConfiguration(cfg Configuration) error {
	for channel, cc := range cfg {
		if cc.Amount < 0 {
			return &InvalidConfigurationError{Channel: channel, Reason: "amount must not be negative"}
		}

		r, err := cc.PriceRange()
		if err != nil {
			return &InvalidConfigurationError{Channel: channel, Reason: err.Error()}
		}
		if r != nil && r.Max != nil && *r.Max < r.Min {
			return &InvalidConfigurationError{Channel: channel, Reason: "price range max is below min"}
		}
		if _, _, err := cc.Taxons(); err != nil {
			return &InvalidConfigurationError{Channel: channel, Reason: err.Error()}
		}
		if _, _, err := cc.Products(); err != nil {
			return &InvalidConfigurationError{Channel: channel, Reason: err.Error()}
		}
		if _, _, err := cc.Expression(); err != nil {
			return &InvalidConfigurationError{Channel: channel, Reason: err.Error()}
		}
	}
	return nil
}
