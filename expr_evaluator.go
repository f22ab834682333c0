package fragments

import (
	"fmt"
	"strings"

	exprlang "github.com/expr-lang/expr"
	exprparser "github.com/expr-lang/expr/parser"
	exprvm "github.com/expr-lang/expr/vm"
)

// ExprEvaluatorOption configures the expr evaluator.
type ExprEvaluatorOption func(*exprEvaluator)

// ExprWithProgramCache reuses compiled programs across evaluations.
func ExprWithProgramCache(cache ProgramCache) ExprEvaluatorOption {
	return func(e *exprEvaluator) {
		e.cache = cache
	}
}

// ExprWithFunctionRegistry exposes a copy of registry to expressions.
func ExprWithFunctionRegistry(registry *FunctionRegistry) ExprEvaluatorOption {
	return func(e *exprEvaluator) {
		if registry != nil {
			e.registry = registry.Clone()
		}
	}
}

// exprEvaluator runs rules with github.com/expr-lang/expr. Snapshot keys are
// top-level variables; unknown variables read as nil.
type exprEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewExprEvaluator constructs the default evaluator.
func NewExprEvaluator(opts ...ExprEvaluatorOption) Evaluator {
	e := &exprEvaluator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *exprEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	rule, err := e.Compile(expression, CompileTarget(ctx.Target))
	if err != nil {
		return nil, err
	}
	return rule.Evaluate(ctx)
}

// Compile checks the syntax of expression. The program itself is built on the
// first evaluation, once the snapshot keys are known.
func (e *exprEvaluator) Compile(expression string, opts ...CompileOption) (CompiledRule, error) {
	if expression == "" {
		return nil, ErrEmptyExpression
	}
	if _, err := exprparser.Parse(expression); err != nil {
		return nil, wrapEvaluationError("expr", expression, newCompileConfig(opts).target, err)
	}
	return &exprCompiledRule{evaluator: e, expression: expression}, nil
}

// program compiles expression for one set of snapshot keys. Builtins sharing
// a name with a key or with now, args, metadata and target are disabled so the
// identifier reads the bound value.
func (e *exprEvaluator) program(expression string, variables []string) (*exprvm.Program, error) {
	key := expression + "\x00" + strings.Join(variables, ",")
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if program, ok := cached.(*exprvm.Program); ok {
				return program, nil
			}
		}
	}
	options := []exprlang.Option{
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	}
	for _, name := range append([]string{"now", "args", "metadata", "target"}, variables...) {
		options = append(options, exprlang.DisableBuiltin(name))
	}
	for _, name := range e.registry.Names() {
		fn := name
		options = append(options, exprlang.Function(fn, func(args ...any) (any, error) {
			return e.registry.Call(fn, args...)
		}))
	}
	if e.registry != nil {
		options = append(options, exprlang.Function("call", func(args ...any) (any, error) {
			if len(args) == 0 {
				return nil, fmt.Errorf("call requires a function name")
			}
			name, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("call name must be a string, got %T", args[0])
			}
			return e.registry.Call(name, args[1:]...)
		}))
	}
	program, err := exprlang.Compile(expression, options...)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(key, program)
	}
	return program, nil
}

type exprCompiledRule struct {
	evaluator  *exprEvaluator
	expression string
}

func (r *exprCompiledRule) Evaluate(ctx RuleContext) (any, error) {
	if r.evaluator == nil {
		return nil, wrapEvaluatorError("expr", fmt.Errorf("compiled rule missing evaluator"))
	}
	ctx = ctx.withDefaults()
	env := exprEnvironment(ctx)
	var variables []string
	for _, key := range sortedKeys(env) {
		if !isReservedBinding(key) {
			variables = append(variables, key)
		}
	}
	program, err := r.evaluator.program(r.expression, variables)
	if err != nil {
		return nil, wrapEvaluationError("expr", r.expression, ctx.targetLabel(), err)
	}
	result, err := exprlang.Run(program, env)
	if err != nil {
		return nil, wrapEvaluationError("expr", r.expression, ctx.targetLabel(), err)
	}
	return result, nil
}

// exprEnvironment binds the snapshot keys next to now, args, metadata and
// target. Snapshot keys never shadow those bindings.
func exprEnvironment(ctx RuleContext) map[string]any {
	env := map[string]any{}
	if snapshot, ok := ctx.Snapshot.(map[string]any); ok {
		for key, value := range snapshot {
			env[key] = value
		}
	}
	env["now"] = ctx.timestamp()
	env["args"] = ctx.Args
	env["metadata"] = ctx.Metadata
	env["target"] = ctx.Target
	return env
}
