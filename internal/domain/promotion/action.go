package promotion

import (
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-promotions/internal/domain/order"
)

// Filter narrows a list of order items. Implementations must return a new
// slice and must not mutate the items.
type Filter interface {
	Filter(items []*order.Item, params FilterParams) ([]*order.Item, error)
}

// FilterFunc adapts a function to the Filter interface.
type FilterFunc func(items []*order.Item, params FilterParams) ([]*order.Item, error)

// Filter calls f(items, params).
func (f FilterFunc) Filter(items []*order.Item, params FilterParams) ([]*order.Item, error) {
	return f(items, params)
}

// AdjustmentFactory creates the adjustment that discounts a unit by amount on
// behalf of a promotion. The caller attaches the result to the unit.
type AdjustmentFactory interface {
	CreateUnitAdjustment(unit *order.Unit, amount int64, p *Promotion) (*order.Adjustment, error)
}

// AdjustmentFactoryFunc adapts a function to the AdjustmentFactory interface.
type AdjustmentFactoryFunc func(unit *order.Unit, amount int64, p *Promotion) (*order.Adjustment, error)

// CreateUnitAdjustment calls f(unit, amount, p).
func (f AdjustmentFactoryFunc) CreateUnitAdjustment(unit *order.Unit, amount int64, p *Promotion) (*order.Adjustment, error) {
	return f(unit, amount, p)
}

// ActionCommand executes and reverts one kind of promotion action.
type ActionCommand interface {
	// Execute applies the action and reports whether it changed the subject.
	Execute(subject Subject, configuration Configuration, p *Promotion) (bool, error)
	// Revert undoes what Execute did for the promotion.
	Revert(subject Subject, configuration Configuration, p *Promotion) error
}

// Action type keys under which commands are registered.
const (
	ActionUnitFixedDiscount = "unit_fixed_discount"
)

// ActionRegistry maps action type keys to their commands. It is safe for
// concurrent use.
type ActionRegistry struct {
	mu       sync.RWMutex
	commands map[string]ActionCommand
}

// NewActionRegistry creates an empty ActionRegistry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{commands: make(map[string]ActionCommand)}
}

// Register adds the command under the given type key.
func (r *ActionRegistry) Register(actionType string, cmd ActionCommand) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.commands[actionType]; ok {
		return errors.Errorf("action %q already registered", actionType)
	}
	r.commands[actionType] = cmd
	return nil
}

// Get returns the command registered for the type key.
func (r *ActionRegistry) Get(actionType string) (ActionCommand, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmd, ok := r.commands[actionType]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownAction, "type %q", actionType)
	}
	return cmd, nil
}

// Types returns the registered type keys.
func (r *ActionRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.commands))
	for t := range r.commands {
		types = append(types, t)
	}
	return types
}
