//go:build js_eval

package fragments

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// jsEvaluator runs rules as JavaScript expressions with goja. Each
// evaluation gets a fresh runtime.
type jsEvaluator struct {
	cfg jsEvaluatorConfig
}

// NewJSEvaluator constructs an Evaluator backed by goja.
func NewJSEvaluator(opts ...JSEvaluatorOption) Evaluator {
	return &jsEvaluator{cfg: newJSEvaluatorConfig(opts)}
}

func (e *jsEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	rule, err := e.Compile(expression, CompileTarget(ctx.Target))
	if err != nil {
		return nil, err
	}
	return rule.Evaluate(ctx)
}

func (e *jsEvaluator) Compile(expression string, opts ...CompileOption) (CompiledRule, error) {
	if expression == "" {
		return nil, ErrEmptyExpression
	}
	program, err := e.program(expression)
	if err != nil {
		return nil, wrapEvaluationError("js", expression, newCompileConfig(opts).target, err)
	}
	return &jsCompiledRule{evaluator: e, program: program, expression: expression}, nil
}

func (e *jsEvaluator) program(expression string) (*goja.Program, error) {
	if e.cfg.cache != nil {
		if cached, ok := e.cfg.cache.Get(expression); ok {
			if program, ok := cached.(*goja.Program); ok {
				return program, nil
			}
		}
	}
	program, err := goja.Compile("rule", "(function(){ return ("+expression+"); })()", true)
	if err != nil {
		return nil, err
	}
	if e.cfg.cache != nil {
		e.cfg.cache.Set(expression, program)
	}
	return program, nil
}

func (e *jsEvaluator) runtime(ctx RuleContext) (*goja.Runtime, error) {
	vm := goja.New()
	if snapshot, ok := ctx.Snapshot.(map[string]any); ok {
		for key, value := range snapshot {
			if isReservedBinding(key) {
				continue
			}
			if err := vm.Set(key, value); err != nil {
				return nil, err
			}
		}
	}
	bindings := map[string]any{
		"now":      ctx.timestamp(),
		"args":     ctx.Args,
		"metadata": ctx.Metadata,
		"target":   ctx.Target,
	}
	if registry := e.cfg.registry; registry != nil {
		bindings["call"] = func(name string, args ...any) (any, error) {
			return registry.Call(name, args...)
		}
		for _, name := range registry.Names() {
			fn := name
			bindings[fn] = func(args ...any) (any, error) {
				return registry.Call(fn, args...)
			}
		}
	}
	for key, value := range bindings {
		if err := vm.Set(key, value); err != nil {
			return nil, err
		}
	}
	return vm, nil
}

type jsCompiledRule struct {
	evaluator  *jsEvaluator
	program    *goja.Program
	expression string
}

func (r *jsCompiledRule) Evaluate(ctx RuleContext) (any, error) {
	ctx = ctx.withDefaults()
	vm, err := r.evaluator.runtime(ctx)
	if err != nil {
		return nil, wrapEvaluationError("js", r.expression, ctx.targetLabel(), err)
	}
	if timeout := r.evaluator.cfg.timeout; timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			vm.Interrupt(fmt.Sprintf("rule exceeded %s", timeout))
		})
		defer timer.Stop()
	}
	value, err := vm.RunProgram(r.program)
	if err != nil {
		return nil, wrapEvaluationError("js", r.expression, ctx.targetLabel(), err)
	}
	return value.Export(), nil
}

// JSEvaluatorAvailable reports whether the binary was built with js_eval.
func JSEvaluatorAvailable() bool { return true }

func isJSEvaluator(e Evaluator) bool {
	_, ok := e.(*jsEvaluator)
	return ok
}
