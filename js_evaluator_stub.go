//go:build !js_eval

package fragments

// NewJSEvaluator returns nil unless built with the js_eval tag. A store
// configured with a nil evaluator falls back to expr.
func NewJSEvaluator(opts ...JSEvaluatorOption) Evaluator {
	_ = newJSEvaluatorConfig(opts)
	return nil
}

// JSEvaluatorAvailable reports whether the binary was built with js_eval.
func JSEvaluatorAvailable() bool { return false }

func isJSEvaluator(Evaluator) bool { return false }
