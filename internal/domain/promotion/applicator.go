package promotion

import (
	"github.com/go-faster/errors"
)

// Applicator runs the actions of a promotion against a subject.
type Applicator struct {
	registry *ActionRegistry
}

// NewApplicator creates an Applicator resolving actions from the registry.
func NewApplicator(registry *ActionRegistry) *Applicator {
	return &Applicator{registry: registry}
}

// Apply executes every action of the promotion in order. When at least one
// action applied, the promotion code is recorded on the subject.
func (a *Applicator) Apply(subject Subject, p *Promotion) (bool, error) {
	applied := false
	for _, action := range p.Actions {
		cmd, err := a.registry.Get(action.Type)
		if err != nil {
			return false, errors.Wrapf(err, "promotion %s", p.Code)
		}

		ok, err := cmd.Execute(subject, action.Configuration, p)
		if err != nil {
			return false, errors.Wrapf(err, "execute %s action of promotion %s", action.Type, p.Code)
		}
		applied = applied || ok
	}

	if applied {
		subject.AddPromotion(p.Code)
	}
	return applied, nil
}

// Revert reverts every action of the promotion and forgets the promotion
// code on the subject.
func (a *Applicator) Revert(subject Subject, p *Promotion) error {
	for _, action := range p.Actions {
		cmd, err := a.registry.Get(action.Type)
		if err != nil {
			return errors.Wrapf(err, "promotion %s", p.Code)
		}
		if err := cmd.Revert(subject, action.Configuration, p); err != nil {
			return errors.Wrapf(err, "revert %s action of promotion %s", action.Type, p.Code)
		}
	}

	subject.RemovePromotion(p.Code)
	return nil
}
