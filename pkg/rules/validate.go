package rules

import (
	"errors"
	"fmt"

	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

func (t *Test) validate() error {
	if !t.Predicate.valid() {
		return fmt.Errorf("%w: %s", utils.ErrUnknownPredicate, t.Predicate)
	}
	if t.Polarity != Allow && t.Polarity != Deny {
		return fmt.Errorf("%w: test on %q has no polarity", utils.ErrRuleSyntax, t.Predicate.String())
	}
	if !t.Op.valid() {
		return fmt.Errorf("%w: unknown operator %q", utils.ErrRuleSyntax, string(t.Op))
	}
	return t.compile()
}

// Validate checks that every test can be evaluated at the decision point of
// its rule. Tests needing response data are allowed in follow only when
// deferResponseTests is set; they are then evaluated on the terminal URL
// after the fetch.
func (rs *RuleSet) Validate(deferResponseTests bool) error {
	var errs []error
	for _, kind := range []RuleKind{Follow, Save, Stop} {
		r := rs.Rule(kind)
		for i := range r.Tests {
			t := &r.Tests[i]
			if err := t.validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s rule, test %d: %w", kind, i+1, err))
				continue
			}
			if kind == Follow && !deferResponseTests && t.Predicate.Phase() == PostFetch {
				errs = append(errs, fmt.Errorf("%w: follow rule, test %d (%s): %w",
					utils.ErrConfigValidation, i+1, t.String(), utils.ErrContextUnavailable))
			}
		}
	}
	return errors.Join(errs...)
}
