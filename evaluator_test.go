package fragments

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

var evaluatorFactories = []struct {
	name string
	new  func(cache ProgramCache, registry *FunctionRegistry) Evaluator
	// call renders a registry call in the engine syntax.
	call func(name string, args ...string) string
}{
	{
		name: "expr",
		new: func(cache ProgramCache, registry *FunctionRegistry) Evaluator {
			opts := []ExprEvaluatorOption{}
			if cache != nil {
				opts = append(opts, ExprWithProgramCache(cache))
			}
			if registry != nil {
				opts = append(opts, ExprWithFunctionRegistry(registry))
			}
			return NewExprEvaluator(opts...)
		},
		call: directCall,
	},
	{
		name: "cel",
		new: func(cache ProgramCache, registry *FunctionRegistry) Evaluator {
			opts := []CELEvaluatorOption{}
			if cache != nil {
				opts = append(opts, CELWithProgramCache(cache))
			}
			if registry != nil {
				opts = append(opts, CELWithFunctionRegistry(registry))
			}
			return NewCELEvaluator(opts...)
		},
		call: func(name string, args ...string) string {
			return fmt.Sprintf("call(%q, [%s])", name, strings.Join(args, ", "))
		},
	},
	{
		name: "js",
		new: func(cache ProgramCache, registry *FunctionRegistry) Evaluator {
			opts := []JSEvaluatorOption{}
			if cache != nil {
				opts = append(opts, JSWithProgramCache(cache))
			}
			if registry != nil {
				opts = append(opts, JSWithFunctionRegistry(registry))
			}
			return NewJSEvaluator(opts...)
		},
		call: directCall,
	},
}

func directCall(name string, args ...string) string {
	return fmt.Sprintf("%s(%s)", name, strings.Join(args, ", "))
}

func evaluatorOrSkip(t *testing.T, evaluator Evaluator, name string) Evaluator {
	t.Helper()
	if evaluator == nil {
		t.Skipf("%s evaluator not available in this build", name)
	}
	return evaluator
}

func newRuleStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store := NewStore(opts...)
	if err := store.RegisterFragment(Type{
		Name:       "name",
		Attributes: []Attribute{Scalar("first"), Scalar("last")},
		Rules:      []Rule{{Name: "has_first", Expr: `first != ""`, Message: "first name is required"}},
	}); err != nil {
		t.Fatalf("register name: %v", err)
	}
	if err := store.RegisterModel(Type{
		Name:       "person",
		Attributes: []Attribute{HasOne("name", "name"), HasMany("aliases", "name"), Scalar("nickname")},
	}); err != nil {
		t.Fatalf("register person: %v", err)
	}
	return store
}

func TestValidateAcrossEvaluators(t *testing.T) {
	for _, factory := range evaluatorFactories {
		t.Run(factory.name, func(t *testing.T) {
			evaluator := evaluatorOrSkip(t, factory.new(nil, nil), factory.name)
			store := newRuleStore(t, WithEvaluator(evaluator))

			person, err := store.Push("person", "1", map[string]any{
				"name":     map[string]any{"first": "", "last": "Stark"},
				"aliases":  []any{map[string]any{"first": "Ned"}, map[string]any{"first": ""}},
				"nickname": "Ned",
			})
			if err != nil {
				t.Fatalf("push: %v", err)
			}

			err = person.Validate()
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if validation.Type != "name" || validation.Path != "person/1.name" {
				t.Fatalf("unexpected validation target %+v", validation)
			}
			if len(validation.Failures) != 1 || validation.Failures[0].Rule != "has_first" {
				t.Fatalf("unexpected failures %+v", validation.Failures)
			}
			if !strings.Contains(err.Error(), "person/1.aliases") {
				t.Fatalf("expected array element failure in %q", err.Error())
			}

			name := mustFragment(t, person, "name")
			if err := name.Set("first", "Eddard"); err != nil {
				t.Fatalf("set: %v", err)
			}
			aliases := mustArray(t, person, "aliases")
			if _, err := aliases.RemoveAt(1); err != nil {
				t.Fatalf("remove: %v", err)
			}
			if err := person.Validate(); err != nil {
				t.Fatalf("expected valid person, got %v", err)
			}
		})
	}
}

func TestValidateRejectsNonBooleanRules(t *testing.T) {
	store := NewStore()
	if err := store.RegisterModel(Type{
		Name:       "person",
		Attributes: []Attribute{Scalar("nickname")},
		Rules:      []Rule{{Expr: "nickname"}},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	person, err := store.CreateRecord("person", map[string]any{"nickname": "Ned"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var validation *ValidationError
	if err := person.Validate(); !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if validation.Failures[0].Rule != "nickname" || validation.Failures[0].Message != "rule returned string, want bool" {
		t.Fatalf("unexpected failure %+v", validation.Failures[0])
	}
}

func TestValidateBindsAbsentAttributes(t *testing.T) {
	store := NewStore()
	if err := store.RegisterModel(Type{
		Name:       "person",
		Attributes: []Attribute{Scalar("nickname")},
		Rules:      []Rule{{Name: "nickname", Expr: "nickname != nil", Message: "nickname is required"}},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	person, _ := store.CreateRecord("person", nil)
	err := person.Validate()
	if err == nil || !strings.Contains(err.Error(), "nickname (nickname is required)") {
		t.Fatalf("expected nickname failure, got %v", err)
	}
	_ = person.Set("nickname", "Ned")
	if err := person.Validate(); err != nil {
		t.Fatalf("expected valid person, got %v", err)
	}
}

func TestEvaluateAcrossEvaluators(t *testing.T) {
	for _, factory := range evaluatorFactories {
		t.Run(factory.name, func(t *testing.T) {
			evaluator := evaluatorOrSkip(t, factory.new(nil, nil), factory.name)
			store := newRuleStore(t, WithEvaluator(evaluator))
			person, err := store.Push("person", "1", map[string]any{
				"name":     map[string]any{"first": "Eddard", "last": "Stark"},
				"nickname": "Ned",
			})
			if err != nil {
				t.Fatalf("push: %v", err)
			}

			resp, err := person.Evaluate(`name.first == "Eddard" && nickname == "Ned"`)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if resp.Value != true {
				t.Fatalf("expected true, got %v", resp.Value)
			}

			// Local changes are visible to expressions.
			name := mustFragment(t, person, "name")
			_ = name.Set("first", "Ned")
			resp, err = name.Evaluate(`first + " " + last`)
			if err != nil {
				t.Fatalf("evaluate fragment: %v", err)
			}
			if resp.Value != "Ned Stark" {
				t.Fatalf("expected effective values, got %v", resp.Value)
			}

			resp, err = person.EvaluateWith(RuleContext{Snapshot: map[string]any{"nickname": "Lord"}}, `nickname == "Lord"`)
			if err != nil {
				t.Fatalf("evaluate with: %v", err)
			}
			if resp.Value != true {
				t.Fatalf("expected snapshot override to win, got %v", resp.Value)
			}
		})
	}
}

func TestSnapshotKeysNamedLikeBuiltins(t *testing.T) {
	for _, factory := range evaluatorFactories {
		t.Run(factory.name, func(t *testing.T) {
			evaluator := evaluatorOrSkip(t, factory.new(nil, nil), factory.name)
			ctx := RuleContext{Snapshot: map[string]any{"first": "Arya", "last": "Stark"}}
			got, err := evaluator.Evaluate(ctx, `first + " " + last`)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if got != "Arya Stark" {
				t.Fatalf("expected snapshot values, got %v", got)
			}
			got, err = evaluator.Evaluate(ctx, `first != ""`)
			if err != nil || got != true {
				t.Fatalf("expected true, got %v (%v)", got, err)
			}
		})
	}
}

func TestExprSnapshotKeysDisableBuiltins(t *testing.T) {
	cache := &fakeProgramCache{}
	evaluator := NewExprEvaluator(ExprWithProgramCache(cache))

	cases := []struct {
		name     string
		snapshot map[string]any
		expr     string
		want     any
	}{
		{name: "len", snapshot: map[string]any{"len": 3}, expr: "len + 1", want: 4},
		{name: "count", snapshot: map[string]any{"count": 2}, expr: "count * 2", want: 4},
		{name: "keys", snapshot: map[string]any{"keys": "winterfell"}, expr: "keys", want: "winterfell"},
		{name: "type", snapshot: map[string]any{"type": "castle"}, expr: `type == "castle"`, want: true},
		{name: "builtin without key", snapshot: map[string]any{"first": "Arya"}, expr: `len(first)`, want: 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := evaluator.Evaluate(RuleContext{Snapshot: tc.snapshot}, tc.expr)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}

	// The same expression compiles once per set of snapshot keys.
	cache.hits, cache.misses = 0, 0
	for _, snapshot := range []map[string]any{{"nickname": "Ned"}, {"nickname": "Ned", "last": "Stark"}, {"nickname": "Ned"}} {
		if _, err := evaluator.Evaluate(RuleContext{Snapshot: snapshot}, `nickname == "Ned"`); err != nil {
			t.Fatalf("evaluate: %v", err)
		}
	}
	if cache.hits != 1 || cache.misses != 2 {
		t.Fatalf("expected 1 hit and 2 misses, got %d hits and %d misses", cache.hits, cache.misses)
	}
}

func TestEvaluateErrors(t *testing.T) {
	store := newRuleStore(t)
	person := pushPersonWithName(t, store)

	if _, err := person.Evaluate(""); err == nil {
		t.Fatalf("expected empty expression error")
	}
	_, err := person.Evaluate("nickname +")
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected EvaluationError, got %v", err)
	}
	if evalErr.Engine != "expr" {
		t.Fatalf("expected expr engine, got %q", evalErr.Engine)
	}
}

func TestEvaluatorProgramCache(t *testing.T) {
	for _, factory := range evaluatorFactories {
		t.Run(factory.name, func(t *testing.T) {
			cache := &fakeProgramCache{}
			evaluator := evaluatorOrSkip(t, factory.new(cache, nil), factory.name)
			store := newRuleStore(t, WithEvaluator(evaluator))
			person := pushPersonWithName(t, store)

			for i := 0; i < 3; i++ {
				if _, err := person.Evaluate(`nickname == "Ned"`); err != nil {
					t.Fatalf("iteration %d: %v", i, err)
				}
			}
			if cache.hits != 2 || cache.misses != 1 {
				t.Fatalf("expected 2 hits and 1 miss, got %d hits and %d misses", cache.hits, cache.misses)
			}
		})
	}
}

func TestDefaultEvaluatorUsesProgramCache(t *testing.T) {
	cache := &fakeProgramCache{}
	store := newRuleStore(t, WithProgramCache(cache))
	person := pushPersonWithName(t, store)
	for i := 0; i < 2; i++ {
		if _, err := person.Evaluate(`nickname == "Ned"`); err != nil {
			t.Fatalf("evaluate: %v", err)
		}
	}
	if cache.hits != 1 || cache.misses != 1 {
		t.Fatalf("expected default evaluator to use the cache, got %d hits and %d misses", cache.hits, cache.misses)
	}
}

func TestCustomFunctionsAcrossEvaluators(t *testing.T) {
	registry := NewFunctionRegistry()
	if err := registry.Register("equalsIgnoreCase", func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("equalsIgnoreCase expects 2 args")
		}
		a, _ := args[0].(string)
		b, _ := args[1].(string)
		return strings.EqualFold(a, b), nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, factory := range evaluatorFactories {
		t.Run(factory.name, func(t *testing.T) {
			evaluator := evaluatorOrSkip(t, factory.new(nil, registry), factory.name)
			store := newRuleStore(t, WithEvaluator(evaluator))
			person := pushPersonWithName(t, store)

			resp, err := person.Evaluate(factory.call("equalsIgnoreCase", "nickname", `"NED"`))
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if resp.Value != true {
				t.Fatalf("expected true, got %v", resp.Value)
			}
		})
	}
}

func TestWithCustomFunctionConfiguresDefaultEvaluator(t *testing.T) {
	store := newRuleStore(t, WithCustomFunction("initial", func(args ...any) (any, error) {
		value, _ := args[0].(string)
		if value == "" {
			return "", nil
		}
		return value[:1], nil
	}))
	person := pushPersonWithName(t, store)
	resp, err := person.Evaluate(`initial(name.first) == "E"`)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if resp.Value != true {
		t.Fatalf("expected true, got %v", resp.Value)
	}
}

func TestFunctionRegistry(t *testing.T) {
	registry := NewFunctionRegistry()
	noop := func(args ...any) (any, error) { return len(args), nil }
	if err := registry.Register("Count", noop); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register("count", noop); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if err := registry.Register("", noop); err == nil {
		t.Fatalf("expected empty name error")
	}
	if err := registry.Register("nil", nil); err == nil {
		t.Fatalf("expected nil function error")
	}
	value, err := registry.Call("COUNT", 1, 2)
	if err != nil || value != 2 {
		t.Fatalf("expected case-insensitive call, got %v (%v)", value, err)
	}
	if _, err := registry.Call("missing"); err == nil {
		t.Fatalf("expected missing function error")
	}

	clone := registry.Clone()
	_ = clone.Register("extra", noop)
	if len(registry.Names()) != 1 || len(clone.Names()) != 2 {
		t.Fatalf("expected clone to be independent, got %v and %v", registry.Names(), clone.Names())
	}
}

func TestEvaluatorLoggerReceivesEvents(t *testing.T) {
	var events []EvaluatorLogEvent
	store := newRuleStore(t, WithEvaluatorLogger(EvaluatorLoggerFunc(func(event EvaluatorLogEvent) {
		events = append(events, event)
	})))
	person := pushPersonWithName(t, store)

	_, _ = person.Evaluate(`nickname == "Ned"`)
	_, _ = person.Evaluate("nickname +")

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Engine != "expr" || events[0].Target != "person/1" || events[0].Err != nil {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if events[1].Err == nil {
		t.Fatalf("expected failed evaluation to be logged")
	}
}

func TestRuleContextDefaults(t *testing.T) {
	capture := &capturingEvaluator{}
	store := newRuleStore(t, WithEvaluator(capture))
	person := pushPersonWithName(t, store)

	if _, err := person.Evaluate("anything"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	ctx := capture.contexts[0]
	if ctx.Now == nil || ctx.Args == nil || ctx.Metadata == nil {
		t.Fatalf("expected defaults to be filled, got %+v", ctx)
	}
	snapshot, ok := ctx.Snapshot.(map[string]any)
	if !ok || snapshot["nickname"] != "Ned" {
		t.Fatalf("expected record snapshot, got %v", ctx.Snapshot)
	}
	if ctx.Target != "person/1" {
		t.Fatalf("expected record target, got %q", ctx.Target)
	}

	capture.reset()
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, _ = person.EvaluateWith(RuleContext{Now: &fixed, Target: "custom"}, "anything")
	if !capture.contexts[0].Now.Equal(fixed) || capture.contexts[0].Target != "custom" {
		t.Fatalf("expected caller context to be kept, got %+v", capture.contexts[0])
	}

	capture.reset()
	_ = person.Validate()
	name := mustFragment(t, person, "name")
	_ = name.Validate()
	if len(capture.contexts) != 2 {
		t.Fatalf("expected one rule evaluation per validate, got %d", len(capture.contexts))
	}
	metadata := capture.contexts[0].Metadata
	if metadata["type"] != "name" || metadata["rule"] != "has_first" {
		t.Fatalf("unexpected rule metadata %v", metadata)
	}
	if capture.contexts[0].Target != "person/1.name" {
		t.Fatalf("unexpected rule target %q", capture.contexts[0].Target)
	}
}

func TestEvaluatorEngineName(t *testing.T) {
	cases := []struct {
		evaluator Evaluator
		expect    string
	}{
		{evaluator: NewExprEvaluator(), expect: "expr"},
		{evaluator: NewCELEvaluator(), expect: "cel"},
		{evaluator: &capturingEvaluator{}, expect: "custom"},
		{evaluator: nil, expect: "unknown"},
	}
	for _, tc := range cases {
		if got := evaluatorEngineName(tc.evaluator); got != tc.expect {
			t.Fatalf("expected %q, got %q", tc.expect, got)
		}
	}
}

func pushPersonWithName(t *testing.T, store *Store) *Record {
	t.Helper()
	person, err := store.Push("person", "1", map[string]any{
		"name":     map[string]any{"first": "Eddard", "last": "Stark"},
		"nickname": "Ned",
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	return person
}

type fakeProgramCache struct {
	store  map[string]any
	hits   int
	misses int
}

func (c *fakeProgramCache) Get(key string) (any, bool) {
	if c.store == nil {
		c.store = make(map[string]any)
	}
	value, ok := c.store[key]
	if ok {
		c.hits++
		return value, true
	}
	c.misses++
	return nil, false
}

func (c *fakeProgramCache) Set(key string, value any) {
	if c.store == nil {
		c.store = make(map[string]any)
	}
	c.store[key] = value
}

type capturingEvaluator struct {
	contexts []RuleContext
}

func (c *capturingEvaluator) Evaluate(ctx RuleContext, _ string) (any, error) {
	c.contexts = append(c.contexts, ctx)
	return true, nil
}

func (c *capturingEvaluator) Compile(string, ...CompileOption) (CompiledRule, error) {
	return nil, fmt.Errorf("capturing evaluator does not support compile")
}

func (c *capturingEvaluator) reset() {
	c.contexts = c.contexts[:0]
}
