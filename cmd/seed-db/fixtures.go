package main

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/xenking/kart-promotions/internal/domain/order"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
	"github.com/xenking/kart-promotions/internal/domain/promotion/filter"
)

// promotionNamespace derives stable promotion IDs from codes when the
// fixture omits the id.
var promotionNamespace = uuid.MustParse("5b1f0d3e-8c4a-4f2e-9a57-2d6f0e9b7c11")

type fixtures struct {
	Channels   []channelFixture   `yaml:"channels"`
	Products   []productFixture   `yaml:"products"`
	Promotions []promotionFixture `yaml:"promotions"`
}

type channelFixture struct {
	Code     string `yaml:"code"`
	Name     string `yaml:"name"`
	Currency string `yaml:"currency"`
}

type productFixture struct {
	Code     string           `yaml:"code"`
	Name     string           `yaml:"name"`
	Taxons   []string         `yaml:"taxons"`
	Variants []variantFixture `yaml:"variants"`
}

type variantFixture struct {
	Code   string           `yaml:"code"`
	Prices map[string]int64 `yaml:"prices"`
}

type promotionFixture struct {
	ID          string          `yaml:"id"`
	Code        string          `yaml:"code"`
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Priority    int             `yaml:"priority"`
	Exclusive   bool            `yaml:"exclusive"`
	UsageLimit  int             `yaml:"usage_limit"`
	StartsAt    *time.Time      `yaml:"starts_at"`
	EndsAt      *time.Time      `yaml:"ends_at"`
	Channels    []string        `yaml:"channels"`
	Actions     []actionFixture `yaml:"actions"`
}

type actionFixture struct {
	Type string `yaml:"type"`
	// Configuration is kept as a node and re-encoded as JSON, the storage
	// format of action configurations.
	Configuration yaml.Node `yaml:"configuration"`
}

func (f fixtures) variants() []order.Variant {
	var variants []order.Variant
	for _, p := range f.Products {
		product := order.Product{Code: p.Code, Name: p.Name, TaxonCodes: p.Taxons}
		for _, v := range p.Variants {
			variants = append(variants, order.Variant{Code: v.Code, Product: product, ChannelPricings: v.Prices})
		}
	}
	return variants
}

// promotions converts and validates the promotion fixtures. Expressions are
// compiled so a broken fixture fails the seed instead of the processor.
func (f fixtures) promotions(expressions *filter.Expression) ([]*promotion.Promotion, error) {
	out := make([]*promotion.Promotion, 0, len(f.Promotions))
	for _, pf := range f.Promotions {
		if pf.Code == "" {
			return nil, errors.New("promotion code is required")
		}
		id := pf.ID
		if id == "" {
			id = uuid.NewSHA1(promotionNamespace, []byte(pf.Code)).String()
		}

		p := &promotion.Promotion{
			ID:          id,
			Code:        pf.Code,
			Name:        pf.Name,
			Description: pf.Description,
			Priority:    pf.Priority,
			Exclusive:   pf.Exclusive,
			UsageLimit:  pf.UsageLimit,
			StartsAt:    pf.StartsAt,
			EndsAt:      pf.EndsAt,
			Channels:    pf.Channels,
		}

		for _, af := range pf.Actions {
			cfg, err := decodeConfiguration(&af.Configuration)
			if err != nil {
				return nil, errors.Wrapf(err, "promotion %s action %s", pf.Code, af.Type)
			}
			if err := promotion.ValidateConfiguration(cfg); err != nil {
				return nil, errors.Wrapf(err, "promotion %s action %s", pf.Code, af.Type)
			}
			for channel, cc := range cfg {
				expr, ok, err := cc.Expression()
				if err != nil || !ok {
					continue
				}
				if err := expressions.Compile(expr); err != nil {
					return nil, errors.Wrapf(err, "promotion %s channel %s", pf.Code, channel)
				}
			}
			p.Actions = append(p.Actions, promotion.Action{Type: af.Type, Configuration: cfg})
		}
		out = append(out, p)
	}
	return out, nil
}

func decodeConfiguration(n *yaml.Node) (promotion.Configuration, error) {
	if n.Kind == 0 {
		return promotion.Configuration{}, nil
	}
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	if err := encodeNode(e, n); err != nil {
		return nil, err
	}
	return promotion.DecodeConfiguration(e.Bytes())
}

// encodeNode writes a YAML node as JSON.
func encodeNode(e *jx.Encoder, n *yaml.Node) error {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			e.Null()
			return nil
		}
		return encodeNode(e, n.Content[0])
	case yaml.AliasNode:
		return encodeNode(e, n.Alias)
	case yaml.MappingNode:
		e.ObjStart()
		for i := 0; i+1 < len(n.Content); i += 2 {
			e.FieldStart(n.Content[i].Value)
			if err := encodeNode(e, n.Content[i+1]); err != nil {
				return err
			}
		}
		e.ObjEnd()
		return nil
	case yaml.SequenceNode:
		e.ArrStart()
		for _, c := range n.Content {
			if err := encodeNode(e, c); err != nil {
				return err
			}
		}
		e.ArrEnd()
		return nil
	case yaml.ScalarNode:
		return encodeScalar(e, n)
	default:
		return errors.Errorf("line %d: unsupported yaml node kind %d", n.Line, n.Kind)
	}
}

func encodeScalar(e *jx.Encoder, n *yaml.Node) error {
	switch n.ShortTag() {
	case "!!null":
		e.Null()
	case "!!bool":
		var v bool
		if err := n.Decode(&v); err != nil {
			return errors.Wrapf(err, "line %d", n.Line)
		}
		e.Bool(v)
	case "!!int":
		var v int64
		if err := n.Decode(&v); err != nil {
			return errors.Wrapf(err, "line %d", n.Line)
		}
		e.Int64(v)
	case "!!float":
		var v float64
		if err := n.Decode(&v); err != nil {
			return errors.Wrapf(err, "line %d", n.Line)
		}
		e.Float64(v)
	default:
		e.Str(n.Value)
	}
	return nil
}
