package fragments

import (
	"reflect"
	"strings"
	"testing"
)

func TestStoreRegistrationErrors(t *testing.T) {
	cases := []struct {
		name     string
		model    bool
		typ      Type
		sentinel error
		contains string
	}{
		{name: "empty name", typ: Type{Name: " "}, contains: "type name must not be empty"},
		{name: "duplicate fragment", typ: Type{Name: "name"}, sentinel: ErrDuplicateType},
		{name: "model shadowing a fragment", model: true, typ: Type{Name: "address"}, sentinel: ErrDuplicateType},
		{name: "unregistered parent", typ: Type{Name: "keep", Extends: "tower"}, sentinel: ErrUnknownType},
		{name: "model extending a fragment", model: true, typ: Type{Name: "lord", Extends: "name"}, sentinel: ErrUnknownType},
		{name: "reserved id", model: true, typ: Type{Name: "house", Attributes: []Attribute{Scalar("id")}}, contains: "reserved attribute"},
		{name: "unnamed attribute", typ: Type{Name: "sigil", Attributes: []Attribute{{Kind: KindScalar}}}, contains: "without a name"},
		{name: "fragment without type", typ: Type{Name: "banner", Attributes: []Attribute{HasOne("sigil", "")}}, contains: "needs a fragment type"},
		{name: "fragments without type", typ: Type{Name: "banners", Attributes: []Attribute{HasMany("sigils", "")}}, contains: "needs a fragment type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newTestStore(t)
			var err error
			if tc.model {
				err = store.RegisterModel(tc.typ)
			} else {
				err = store.RegisterFragment(tc.typ)
			}
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.sentinel != nil {
				expectErrorIs(t, err, tc.sentinel)
			}
			if tc.contains != "" && !strings.Contains(err.Error(), tc.contains) {
				t.Fatalf("expected %q in %q", tc.contains, err.Error())
			}
		})
	}
}

func TestStoreUnknownTypes(t *testing.T) {
	store := newTestStore(t)
	_, err := store.BuildFragment("dragon")
	expectErrorIs(t, err, ErrUnknownType)
	_, err = store.BuildFragment("person")
	expectErrorIs(t, err, ErrUnknownType)
	_, err = store.CreateRecord("dragon", nil)
	expectErrorIs(t, err, ErrUnknownType)
	_, err = store.Push("dragon", "1", nil)
	expectErrorIs(t, err, ErrUnknownType)
	_, err = store.Normalize("dragon", nil)
	expectErrorIs(t, err, ErrUnknownType)

	if !store.HasType("person") || !store.HasType("castle") || store.HasType("dragon") {
		t.Fatalf("unexpected HasType results")
	}

	// A known type that cannot be built fails on first read, not on push.
	if err := store.RegisterModel(Type{Name: "house", Attributes: []Attribute{HasOne("seat", "tower")}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	house, err := store.Push("house", "stark", map[string]any{"seat": map[string]any{}})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	_, err = house.Fragment("seat")
	expectErrorIs(t, err, ErrUnknownType)
}

func TestStoreInheritance(t *testing.T) {
	store := newTestStore(t)
	if err := store.RegisterFragment(Type{
		Name:       "holdfast",
		Extends:    "castle",
		Attributes: []Attribute{Scalar("city", WithDefault("Riverrun")), Scalar("river")},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	holdfast, _ := store.BuildFragment("holdfast")
	address, _ := store.fragmentType("address")
	castle, _ := store.fragmentType("castle")
	name, _ := store.fragmentType("name")

	if !store.isInstanceOf(holdfast.typ, "address") || !store.isInstanceOf(holdfast.typ, "castle") {
		t.Fatalf("expected holdfast to be an address and a castle")
	}
	if store.isInstanceOf(address, "castle") || store.isInstanceOf(name, "address") || store.isInstanceOf(nil, "") {
		t.Fatalf("unexpected instance relationships")
	}
	if !store.isInstanceOf(castle, "") {
		t.Fatalf("expected an empty declared type to accept anything")
	}
	if !reflect.DeepEqual(holdfast.typ.order, []string{"street", "city", "seat", "river"}) {
		t.Fatalf("expected inherited attribute order, got %v", holdfast.typ.order)
	}
	if holdfast.Get("city") != "Riverrun" || holdfast.Get("seat") != false {
		t.Fatalf("expected overridden and inherited defaults, got %v and %v", holdfast.Get("city"), holdfast.Get("seat"))
	}
}

func TestStoreInheritsRules(t *testing.T) {
	store := NewStore()
	if err := store.RegisterFragment(Type{
		Name:       "address",
		Attributes: []Attribute{Scalar("street")},
		Rules:      []Rule{{Name: "street", Expr: `street != nil`}},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := store.RegisterFragment(Type{
		Name:       "castle",
		Extends:    "address",
		Attributes: []Attribute{Scalar("seat")},
		Rules:      []Rule{{Name: "seat", Expr: `seat == true`}},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	castle, _ := store.CreateFragment("castle", nil)
	err := castle.Validate()
	if err == nil || !strings.Contains(err.Error(), "street, seat") {
		t.Fatalf("expected parent and child rules to fail, got %v", err)
	}
}

type renameNormalizer map[string]string

func (r renameNormalizer) Normalize(_ string, raw map[string]any) map[string]any {
	for from, to := range r {
		if value, ok := raw[from]; ok {
			raw[to] = value
			delete(raw, from)
		}
	}
	return raw
}

func TestStoreNormalize(t *testing.T) {
	store := NewStore(WithNormalizer(renameNormalizer{"GivenName": "given_name"}))
	if err := store.RegisterFragment(Type{Name: "name", Attributes: []Attribute{
		Scalar("first", WithKey("given_name")),
		Scalar("last"),
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	raw := map[string]any{"GivenName": "Eddard", "last": "Stark"}
	normalized, err := store.Normalize("name", raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !reflect.DeepEqual(normalized, map[string]any{"first": "Eddard", "last": "Stark"}) {
		t.Fatalf("unexpected normalized data %v", normalized)
	}
	if _, ok := raw["GivenName"]; !ok {
		t.Fatalf("expected the input to be left untouched")
	}

	fragment, _ := store.BuildFragment("name")
	_ = fragment.SetupData(map[string]any{"given_name": "Ned", "first": "Eddard"})
	if fragment.Get("first") != "Eddard" {
		t.Fatalf("expected an explicit attribute name to win over its wire key, got %v", fragment.Get("first"))
	}

	failing := NewStore(WithNormalizer(NormalizerFunc(func(string, map[string]any) map[string]any { return nil })))
	_ = failing.RegisterFragment(Type{Name: "name"})
	if _, err := failing.Normalize("name", nil); err == nil {
		t.Fatalf("expected an error when the normalizer drops the data")
	}
}

func TestStoreSnapshotOf(t *testing.T) {
	store := newTestStore(t)
	value := map[string]any{"titles": []any{"Lord"}}
	snapshot := store.SnapshotOf(value).(map[string]any)
	snapshot["titles"].([]any)[0] = "King"
	if value["titles"].([]any)[0] != "Lord" {
		t.Fatalf("expected a deep copy")
	}

	fragment, _ := store.CreateFragment("name", map[string]any{"first": "Jon"})
	if got := store.SnapshotOf(fragment); !reflect.DeepEqual(got, map[string]any{"first": "Jon"}) {
		t.Fatalf("expected fragment snapshot, got %v", got)
	}
	if store.SnapshotOf(nil) != nil || store.SnapshotOf(42) != 42 {
		t.Fatalf("expected scalars to pass through")
	}
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"":          KindScalar,
		"attr":      KindScalar,
		"fragment":  KindFragment,
		"has_one":   KindFragment,
		"HasMany":   KindFragmentArray,
		"fragments": KindFragmentArray,
		" array ":   KindArray,
	}
	for input, expect := range cases {
		got, err := ParseKind(input)
		if err != nil || got != expect {
			t.Fatalf("ParseKind(%q) = %v (%v), want %v", input, got, err, expect)
		}
	}
	if _, err := ParseKind("set"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
	if KindFragmentArray.String() != "fragments" || Kind(9).String() != "kind(9)" {
		t.Fatalf("unexpected kind names")
	}
}
