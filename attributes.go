package fragments

import (
	"fmt"
	"strings"
)

// Kind identifies how an attribute value is materialized.
type Kind int

const (
	// KindScalar is a plain value stored directly in the baseline.
	KindScalar Kind = iota
	// KindFragment is a single nested fragment.
	KindFragment
	// KindFragmentArray is an ordered collection of fragments.
	KindFragmentArray
	// KindArray is an ordered collection of primitive values.
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindFragment:
		return "fragment"
	case KindFragmentArray:
		return "fragments"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps the textual kind used in definition files to a Kind.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "scalar", "attr":
		return KindScalar, nil
	case "fragment", "has_one", "hasone":
		return KindFragment, nil
	case "fragments", "has_many", "hasmany":
		return KindFragmentArray, nil
	case "array":
		return KindArray, nil
	default:
		return KindScalar, fmt.Errorf("fragments: unknown attribute kind %q", value)
	}
}

// DefaultTypeKey is the raw key consulted by polymorphic attributes.
const DefaultTypeKey = "type"

// Attribute declares one property of a fragment or model type.
type Attribute struct {
	Name string
	Kind Kind
	// Type is the declared fragment type for KindFragment and
	// KindFragmentArray attributes.
	Type string
	// Key is the wire name of the attribute when it differs from Name.
	Key string
	// Default is deep-copied on every use. DefaultFunc wins when both are set.
	Default     any
	DefaultFunc func() any
	Polymorphic bool
	TypeKey     string
}

// AttributeOption customizes an Attribute.
type AttributeOption func(*Attribute)

// Scalar declares a plain attribute.
func Scalar(name string, opts ...AttributeOption) Attribute {
	return newAttribute(Attribute{Name: name, Kind: KindScalar}, opts)
}

// HasOne declares a single nested fragment of typeName.
func HasOne(name, typeName string, opts ...AttributeOption) Attribute {
	return newAttribute(Attribute{Name: name, Kind: KindFragment, Type: typeName}, opts)
}

// HasMany declares an array of fragments of typeName.
func HasMany(name, typeName string, opts ...AttributeOption) Attribute {
	return newAttribute(Attribute{Name: name, Kind: KindFragmentArray, Type: typeName}, opts)
}

// ArrayOf declares an array of primitive values.
func ArrayOf(name string, opts ...AttributeOption) Attribute {
	return newAttribute(Attribute{Name: name, Kind: KindArray}, opts)
}

func newAttribute(attr Attribute, opts []AttributeOption) Attribute {
	for _, opt := range opts {
		if opt != nil {
			opt(&attr)
		}
	}
	return attr
}

// WithDefault sets the value used when the baseline has no data.
func WithDefault(value any) AttributeOption {
	return func(attr *Attribute) {
		attr.Default = value
	}
}

// WithDefaultFunc sets a function producing the default value.
func WithDefaultFunc(fn func() any) AttributeOption {
	return func(attr *Attribute) {
		attr.DefaultFunc = fn
	}
}

// WithKey maps the attribute to a different wire key during normalization.
func WithKey(key string) AttributeOption {
	return func(attr *Attribute) {
		attr.Key = key
	}
}

// Polymorphic resolves the concrete fragment type from raw[typeKey].
// An empty typeKey uses DefaultTypeKey.
func Polymorphic(typeKey string) AttributeOption {
	return func(attr *Attribute) {
		attr.Polymorphic = true
		attr.TypeKey = typeKey
	}
}

func (a Attribute) isAttachment() bool {
	return a.Kind != KindScalar
}

func (a Attribute) wireKey() string {
	if a.Key != "" {
		return a.Key
	}
	return a.Name
}

func (a Attribute) typeKey() string {
	if a.TypeKey != "" {
		return a.TypeKey
	}
	return DefaultTypeKey
}

// actualType returns the concrete fragment type for raw, honoring
// polymorphic declarations.
func (a Attribute) actualType(raw map[string]any) string {
	if !a.Polymorphic || raw == nil {
		return a.Type
	}
	if name, ok := raw[a.typeKey()].(string); ok && name != "" {
		return name
	}
	return a.Type
}

// Type declares a fragment or model type.
type Type struct {
	Name string
	// Extends names a parent type whose attributes and rules are inherited.
	Extends    string
	Attributes []Attribute
	Rules      []Rule
}

type typeDef struct {
	name    string
	extends string
	model   bool
	attrs   map[string]Attribute
	order   []string
	rules   []Rule
}

func (t *typeDef) attribute(name string) (Attribute, bool) {
	if t == nil {
		return Attribute{}, false
	}
	attr, ok := t.attrs[name]
	return attr, ok
}
