package hydrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

type address struct {
	Street string `json:"street"`
	City   string `json:"city"`
}

type person struct {
	Name      string    `json:"name"`
	Age       any       `json:"age,omitempty"`
	Addresses []address `json:"addresses"`
	Tags      []string  `json:"tags,omitempty"`
}

func TestDecoderCases(t *testing.T) {
	cases := []struct {
		name      string
		ctx       Context
		input     map[string]any
		options   []DecoderOption[person]
		expect    person
		expectErr string
	}{
		{
			name: "plain snapshot",
			ctx:  Context{Type: "person", Location: "person/1"},
			input: map[string]any{
				"name":      "Eddard",
				"addresses": []any{map[string]any{"street": "1 Great Keep", "city": "Winterfell"}},
			},
			expect: person{
				Name:      "Eddard",
				Addresses: []address{{Street: "1 Great Keep", City: "Winterfell"}},
			},
		},
		{
			name:    "use number keeps json.Number",
			ctx:     Context{Type: "person"},
			input:   map[string]any{"name": "Arya", "age": 11},
			options: []DecoderOption[person]{WithUseNumber[person]()},
			expect:  person{Name: "Arya", Age: json.Number("11")},
		},
		{
			name:      "disallow unknown rejects extra keys",
			ctx:       Context{Type: "person", Location: "person/2"},
			input:     map[string]any{"name": "Bran", "direwolf": "Summer"},
			options:   []DecoderOption[person]{WithDisallowUnknownFields[person]()},
			expectErr: `decode "person/2"`,
		},
		{
			name:    "pre hook splits city",
			ctx:     Context{Type: "person"},
			input:   map[string]any{"name": "Sansa", "home": "Winterfell, The North"},
			options: []DecoderOption[person]{WithPreHook[person](homePreHook)},
			expect: person{
				Name:      "Sansa",
				Addresses: []address{{Street: "Winterfell", City: "The North"}},
			},
		},
		{
			name:      "pre hook error is wrapped",
			ctx:       Context{Type: "person", Location: "person/3"},
			input:     map[string]any{"name": "Rickon", "home": "nowhere"},
			options:   []DecoderOption[person]{WithPreHook[person](homePreHook)},
			expectErr: `pre-hook for "person/3" failed`,
		},
		{
			name:    "post hook tags with location",
			ctx:     Context{Type: "person", Location: "person/4"},
			input:   map[string]any{"name": "Jon"},
			options: []DecoderOption[person]{WithPostHook[person](tagPostHook)},
			expect:  person{Name: "Jon", Tags: []string{"person:4"}},
		},
		{
			name:    "custom decoder",
			ctx:     Context{Type: "person"},
			input:   map[string]any{"raw": `{"name":"Robb"}`},
			options: []DecoderOption[person]{WithCustomDecoder[person](rawDecoder)},
			expect:  person{Name: "Robb"},
		},
		{
			name:      "nil snapshot",
			ctx:       Context{Type: "person"},
			expectErr: `snapshot is nil for "person"`,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			result, err := NewDecoder[person](tc.options...).Decode(tc.ctx, tc.input)

			if tc.expectErr != "" {
				if err == nil {
					t.Fatalf("expected error %q, got nil", tc.expectErr)
				}
				if !strings.Contains(err.Error(), tc.expectErr) {
					t.Fatalf("expected error containing %q, got %v", tc.expectErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected decode error: %v", err)
			}
			if !reflect.DeepEqual(tc.expect, result) {
				t.Fatalf("decoded snapshot mismatch:\nwant: %#v\n got: %#v", tc.expect, result)
			}
		})
	}
}

func TestDecoderDoesNotMutateInput(t *testing.T) {
	input := map[string]any{"name": "Catelyn", "home": "Riverrun, The Riverlands"}
	_, err := NewDecoder[person](WithPreHook[person](homePreHook)).Decode(Context{Type: "person"}, input)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if _, ok := input["addresses"]; ok {
		t.Fatalf("pre-hook mutated the caller snapshot: %#v", input)
	}
	if input["home"] != "Riverrun, The Riverlands" {
		t.Fatalf("expected home to be untouched, got %#v", input["home"])
	}
}

func homePreHook(_ Context, payload map[string]any) (map[string]any, error) {
	value, ok := payload["home"].(string)
	if !ok || value == "" {
		return payload, nil
	}
	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid home %q", value)
	}
	delete(payload, "home")
	payload["addresses"] = []any{map[string]any{
		"street": strings.TrimSpace(parts[0]),
		"city":   strings.TrimSpace(parts[1]),
	}}
	return payload, nil
}

func tagPostHook(ctx Context, p *person) error {
	if p == nil {
		return errors.New("snapshot is nil")
	}
	if len(p.Tags) > 0 {
		return nil
	}
	p.Tags = []string{strings.Replace(ctx.Location, "/", ":", 1)}
	return nil
}

func rawDecoder(ctx Context, payload map[string]any) (person, error) {
	var zero person
	raw, ok := payload["raw"].(string)
	if !ok || raw == "" {
		return zero, fmt.Errorf("missing raw snapshot for %q", ctx.Type)
	}
	var out person
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return zero, err
	}
	return out, nil
}
