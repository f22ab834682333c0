package fragments

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type personView struct {
	ID       string   `json:"id"`
	Nickname string   `json:"nickname"`
	Titles   []string `json:"titles"`
	Name     struct {
		First string `json:"first"`
		Last  string `json:"last"`
	} `json:"name"`
	Addresses []struct {
		Street string `json:"street"`
		City   string `json:"city"`
	} `json:"addresses"`
}

func TestDecodeRecord(t *testing.T) {
	store := newTestStore(t)
	person := pushPerson(t, store, "1", map[string]any{
		"name":      map[string]any{"first": "Eddard", "last": "Stark"},
		"addresses": []any{map[string]any{"street": "Great Keep"}},
		"titles":    []any{"Lord"},
		"nickname":  "Ned",
	})
	_ = mustFragment(t, person, "name").Set("first", "Ned")

	var seen DecodeContext
	view, err := Decode(person, DecodeWithPostHook(func(ctx DecodeContext, v *personView) error {
		seen = ctx
		return nil
	}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.ID != "1" || view.Name.First != "Ned" || view.Nickname != "Ned" || view.Titles[0] != "Lord" {
		t.Fatalf("unexpected view %+v", view)
	}
	if len(view.Addresses) != 1 || view.Addresses[0].City != "Winterfell" {
		t.Fatalf("expected defaults in the decoded view, got %+v", view.Addresses)
	}
	if seen.Type != "person" || seen.Location != "person/1" {
		t.Fatalf("unexpected decode context %+v", seen)
	}
}

func TestDecodeFragmentAndMaps(t *testing.T) {
	type nameView struct {
		First string `json:"first"`
	}
	store := newTestStore(t)
	fragment, _ := store.CreateFragment("name", map[string]any{"first": "Jon"})

	view, err := Decode[nameView](fragment, DecodeWithPreHook[nameView](func(_ DecodeContext, raw map[string]any) (map[string]any, error) {
		raw["first"] = strings.ToUpper(raw["first"].(string))
		return raw, nil
	}))
	if err != nil || view.First != "JON" {
		t.Fatalf("unexpected view %+v (%v)", view, err)
	}
	if fragment.Get("first") != "Jon" {
		t.Fatalf("expected hooks not to touch the fragment")
	}

	type counted struct {
		Count json.Number `json:"count"`
	}
	numbers, err := Decode(map[string]any{"count": 3}, DecodeUseNumber[counted]())
	if err != nil || numbers.Count != "3" {
		t.Fatalf("unexpected number decode %+v (%v)", numbers, err)
	}
}

func TestDecodeErrors(t *testing.T) {
	type strictView struct {
		First string `json:"first"`
	}
	store := newTestStore(t)
	fragment, _ := store.CreateFragment("name", map[string]any{"first": "Jon", "last": "Snow"})

	if _, err := Decode(fragment, DecodeStrict[strictView]()); err == nil {
		t.Fatalf("expected unknown fields to be rejected")
	}
	if _, err := Decode[strictView](42); err == nil {
		t.Fatalf("expected unsupported source error")
	}
	var nilRecord *Record
	if _, err := Decode[strictView](nilRecord); err == nil {
		t.Fatalf("expected nil record error")
	}

	failure := errors.New("invalid")
	_, err := Decode(fragment, DecodeWithPostHook(func(DecodeContext, *strictView) error { return failure }))
	if !errors.Is(err, failure) {
		t.Fatalf("expected post hook error, got %v", err)
	}
}
