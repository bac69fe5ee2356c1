package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/xenking/kart-promotions/db"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
	"github.com/xenking/kart-promotions/internal/domain/promotion/filter"
)

func parseFixtures(t *testing.T, data string) fixtures {
	t.Helper()
	var f fixtures
	require.NoError(t, yaml.Unmarshal([]byte(data), &f))
	return f
}

func newExpression(t *testing.T) *filter.Expression {
	t.Helper()
	expr, err := filter.NewExpression()
	require.NoError(t, err)
	return expr
}

func TestFixtures_Bundled(t *testing.T) {
	f := parseFixtures(t, string(db.Fixtures))
	require.Len(t, f.Channels, 2)

	variants := f.variants()
	require.Len(t, variants, 4)
	assert.Equal(t, "MUG", variants[0].Product.Code)
	assert.Equal(t, int64(950), variants[0].ChannelPricings["APP"])

	promotions, err := f.promotions(newExpression(t))
	require.NoError(t, err)
	require.Len(t, promotions, 3)

	mugs := promotions[0]
	assert.Equal(t, "MUGS2", mugs.Code)
	require.Len(t, mugs.Actions, 1)
	assert.Equal(t, promotion.ActionUnitFixedDiscount, mugs.Actions[0].Type)
	assert.Equal(t, int64(300), mugs.Actions[0].Configuration["APP"].Amount)
	taxons, ok, err := mugs.Actions[0].Configuration["WEB"].Taxons()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"mugs"}, taxons)

	big := promotions[1]
	r, err := big.Actions[0].Configuration["WEB"].PriceRange()
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, int64(1000), r.Min)
	assert.Nil(t, r.Max)
	assert.Equal(t, 1000, big.UsageLimit)

	launch := promotions[2]
	assert.True(t, launch.Exclusive)
	require.NotNil(t, launch.StartsAt)
	require.NotNil(t, launch.EndsAt)
	assert.True(t, launch.EndsAt.After(*launch.StartsAt))
}

func TestFixtures_StableIDs(t *testing.T) {
	const data = `
promotions:
  - code: A
  - code: B
    id: 6a4b2a57-7c6b-4a0e-9a3e-1f0c2b1d9e11
`
	first, err := parseFixtures(t, data).promotions(newExpression(t))
	require.NoError(t, err)
	second, err := parseFixtures(t, data).promotions(newExpression(t))
	require.NoError(t, err)

	assert.Equal(t, first[0].ID, second[0].ID)
	assert.NotEmpty(t, first[0].ID)
	assert.Equal(t, "6a4b2a57-7c6b-4a0e-9a3e-1f0c2b1d9e11", first[1].ID)
}

func TestFixtures_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name:    "missing code",
			data:    "promotions:\n  - name: nameless\n",
			wantErr: "code is required",
		},
		{
			name: "negative amount",
			data: `
promotions:
  - code: NEG
    actions:
      - type: unit_fixed_discount
        configuration:
          WEB: {amount: -100}
`,
			wantErr: "amount must not be negative",
		},
		{
			name: "inverted price range",
			data: `
promotions:
  - code: RANGE
    actions:
      - type: unit_fixed_discount
        configuration:
          WEB:
            amount: 100
            filters:
              price_range_filter: {min: 500, max: 100}
`,
			wantErr: "max is below min",
		},
		{
			name: "broken expression",
			data: `
promotions:
  - code: EXPR
    actions:
      - type: unit_fixed_discount
        configuration:
          WEB:
            amount: 100
            filters:
              expression_filter: {expression: "item.quantity +"}
`,
			wantErr: "channel WEB",
		},
		{
			name: "non boolean expression",
			data: `
promotions:
  - code: EXPR
    actions:
      - type: unit_fixed_discount
        configuration:
          WEB:
            amount: 100
            filters:
              expression_filter: {expression: "1 + 2"}
`,
			wantErr: "must return bool",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFixtures(t, tt.data).promotions(newExpression(t))
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDecodeConfiguration_Scalars(t *testing.T) {
	const data = `
WEB: &web
  amount: 250
  filters:
    price_range_filter: {min: 0, max: 9999}
    expression_filter: {expression: "true"}
    custom_filter: {enabled: yes, ratio: 0.5, note: ~, tags: [a, "b"]}
APP: *web
`
	var n yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(data), &n))

	cfg, err := decodeConfiguration(&n)
	require.NoError(t, err)
	require.Len(t, cfg, 2)
	assert.Equal(t, int64(250), cfg["APP"].Amount)

	custom, ok := cfg["WEB"].Section("custom_filter")
	require.True(t, ok)
	assert.JSONEq(t, `{"enabled":"yes","ratio":0.5,"note":null,"tags":["a","b"]}`, string(custom))

	expr, ok, err := cfg["WEB"].Expression()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", expr)
}

func TestDecodeConfiguration_Empty(t *testing.T) {
	cfg, err := decodeConfiguration(&yaml.Node{})
	require.NoError(t, err)
	assert.Empty(t, cfg)
}
