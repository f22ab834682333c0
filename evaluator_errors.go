package fragments

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyExpression is returned for rules without an expression.
var ErrEmptyExpression = errors.New("fragments: expression must not be empty")

// EvaluationError reports a rule that failed to compile or run, with the
// engine and the fragment or record it ran against.
type EvaluationError struct {
	Engine string
	Expr   string
	Target string
	Err    error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	target := e.Target
	if target == "" {
		target = "unknown"
	}
	return fmt.Sprintf("fragments: %s evaluator %s target=%s: %v", e.Engine, describeExpression(e.Expr), target, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

const maxDescribedExpression = 80

func describeExpression(expr string) string {
	switch {
	case expr == "":
		return "expr=<empty>"
	case len(expr) > maxDescribedExpression:
		return fmt.Sprintf("expr=%q...", expr[:maxDescribedExpression])
	default:
		return fmt.Sprintf("expr=%q", expr)
	}
}

// wrapEvaluatorError prefixes errors that carry no rule metadata.
func wrapEvaluatorError(engine string, err error) error {
	var evalErr *EvaluationError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &evalErr), strings.HasPrefix(err.Error(), "fragments:"):
		return err
	default:
		return fmt.Errorf("fragments: %s evaluator: %w", engine, err)
	}
}

// wrapEvaluationError attaches rule metadata to err, filling only the fields
// an inner EvaluationError left empty.
func wrapEvaluationError(engine, expr, target string, err error) error {
	if err == nil {
		return nil
	}
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		return &EvaluationError{Engine: engine, Expr: expr, Target: target, Err: err}
	}
	if evalErr.Engine == "" {
		evalErr.Engine = engine
	}
	if evalErr.Expr == "" {
		evalErr.Expr = expr
	}
	if evalErr.Target == "" || evalErr.Target == "unknown" {
		evalErr.Target = target
	}
	return evalErr
}
