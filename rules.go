package fragments

import (
	"errors"
	"fmt"
)

// Rule is a boolean expression evaluated against the plain snapshot of a
// fragment or record. The snapshot keys are bound as top-level variables.
type Rule struct {
	Name    string
	Expr    string
	Message string
}

func (r Rule) label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Expr
}

// Validate evaluates the rules declared on the type, then validates every
// nested fragment, including array elements. Failures are joined.
func (c *core) Validate() error {
	var errs []error
	if err := c.validateRules(); err != nil {
		errs = append(errs, err)
	}
	for _, key := range c.typ.order {
		attr := c.typ.attrs[key]
		if !attr.isAttachment() || attr.Kind == KindArray {
			continue
		}
		attachment, err := c.attachment(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		switch v := attachment.(type) {
		case *Fragment:
			if err := v.Validate(); err != nil {
				errs = append(errs, err)
			}
		case *Array:
			for _, fragment := range v.Fragments() {
				if err := fragment.Validate(); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	return errors.Join(errs...)
}

func (c *core) validateRules() error {
	if len(c.typ.rules) == 0 {
		return nil
	}
	snapshot := c.snapshot()
	// Declared attributes are always bound so rules can test them for nil.
	for _, key := range c.typ.order {
		if _, ok := snapshot[key]; !ok {
			snapshot[key] = nil
		}
	}
	target := c.self.location()
	var failures []RuleFailure
	for _, rule := range c.typ.rules {
		response, err := c.store.evaluate(RuleContext{
			Snapshot: snapshot,
			Target:   target,
			Metadata: map[string]any{"type": c.typ.name, "rule": rule.label()},
		}, rule.Expr)
		if err != nil {
			return err
		}
		passed, ok := response.Value.(bool)
		switch {
		case !ok:
			failures = append(failures, RuleFailure{
				Rule:    rule.label(),
				Message: fmt.Sprintf("rule returned %T, want bool", response.Value),
			})
		case !passed:
			failures = append(failures, RuleFailure{Rule: rule.label(), Message: rule.Message})
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &ValidationError{Type: c.typ.name, Path: target, Failures: failures}
}
