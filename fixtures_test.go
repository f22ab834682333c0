package fragments

import (
	"errors"
	"testing"
)

// newTestStore registers the person model used across the package tests:
//
//	person
//	  name      -> name{first, last}
//	  profile   -> profile{bio, name}
//	  addresses -> [address{street, city} | castle{..., seat}]
//	  titles    -> [string]
//	  nickname
func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store := NewStore(opts...)
	types := []struct {
		model bool
		t     Type
	}{
		{t: Type{Name: "name", Attributes: []Attribute{Scalar("first"), Scalar("last")}}},
		{t: Type{Name: "address", Attributes: []Attribute{Scalar("street"), Scalar("city", WithDefault("Winterfell"))}}},
		{t: Type{Name: "castle", Extends: "address", Attributes: []Attribute{Scalar("seat", WithDefault(false))}}},
		{t: Type{Name: "profile", Attributes: []Attribute{Scalar("bio"), HasOne("name", "name")}}},
		{model: true, t: Type{Name: "person", Attributes: []Attribute{
			HasOne("name", "name"),
			HasOne("profile", "profile"),
			HasMany("addresses", "address", Polymorphic("")),
			ArrayOf("titles"),
			Scalar("nickname"),
		}}},
	}
	for _, entry := range types {
		var err error
		if entry.model {
			err = store.RegisterModel(entry.t)
		} else {
			err = store.RegisterFragment(entry.t)
		}
		if err != nil {
			t.Fatalf("register %s: %v", entry.t.Name, err)
		}
	}
	return store
}

func pushPerson(t *testing.T, store *Store, id string, data map[string]any) *Record {
	t.Helper()
	record, err := store.Push("person", id, data)
	if err != nil {
		t.Fatalf("push person/%s: %v", id, err)
	}
	return record
}

func mustFragment(t *testing.T, owner interface {
	Fragment(string) (*Fragment, error)
}, key string) *Fragment {
	t.Helper()
	fragment, err := owner.Fragment(key)
	if err != nil {
		t.Fatalf("fragment %q: %v", key, err)
	}
	if fragment == nil {
		t.Fatalf("fragment %q is nil", key)
	}
	return fragment
}

func mustArray(t *testing.T, owner interface {
	Array(string) (*Array, error)
}, key string) *Array {
	t.Helper()
	array, err := owner.Array(key)
	if err != nil {
		t.Fatalf("array %q: %v", key, err)
	}
	if array == nil {
		t.Fatalf("array %q is nil", key)
	}
	return array
}

func expectErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
