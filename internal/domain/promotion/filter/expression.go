package filter

import (
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/cel-go/cel"

	"github.com/xenking/kart-promotions/internal/domain/order"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

var _ promotion.Filter = (*Expression)(nil)

// Expression keeps items for which a CEL expression evaluates to true. The
// expression sees a single variable, item, with the fields product_code,
// variant_code, taxons, quantity, unit_price and units, e.g.
//
//	item.quantity >= 2 && "mugs" in item.taxons
//
// Compiled programs are cached per expression. Expression is safe for
// concurrent use.
type Expression struct {
	env      *cel.Env
	programs sync.Map // expression -> cel.Program
}

// NewExpression creates the expression filter.
func NewExpression() (*Expression, error) {
	env, err := cel.NewEnv(
		cel.Variable("item", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel env")
	}
	return &Expression{env: env}, nil
}

// Filter implements promotion.Filter.
func (f *Expression) Filter(items []*order.Item, params promotion.FilterParams) ([]*order.Item, error) {
	expr, ok, err := params.Expression()
	if err != nil {
		return nil, err
	}
	if !ok {
		return items, nil
	}

	prg, err := f.program(expr)
	if err != nil {
		return nil, err
	}

	filtered := make([]*order.Item, 0, len(items))
	for _, item := range items {
		out, _, err := prg.Eval(map[string]any{"item": activation(item)})
		if err != nil {
			return nil, errors.Wrapf(err, "evaluate expression for item %s", item.ID)
		}
		if keep, ok := out.Value().(bool); ok && keep {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}

// Compile checks that expr is a valid boolean item expression.
func (f *Expression) Compile(expr string) error {
	_, err := f.program(expr)
	return err
}

func (f *Expression) program(expr string) (cel.Program, error) {
	if v, ok := f.programs.Load(expr); ok {
		return v.(cel.Program), nil
	}

	ast, iss := f.env.Compile(expr)
	if iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "compile expression %q", expr)
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("expression %q must return bool, got %s", expr, ast.OutputType())
	}

	prg, err := f.env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "build program for %q", expr)
	}
	f.programs.Store(expr, prg)
	return prg, nil
}

func activation(item *order.Item) map[string]any {
	taxons := item.Variant.Product.TaxonCodes
	if taxons == nil {
		taxons = []string{}
	}
	return map[string]any{
		"product_code": item.ProductCode(),
		"variant_code": item.Variant.Code,
		"taxons":       taxons,
		"quantity":     int64(item.Quantity),
		"unit_price":   item.UnitPrice,
		"units":        int64(len(item.Units)),
	}
}
