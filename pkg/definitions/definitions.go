// Package definitions loads fragment and model type declarations from TOML or
// YAML files and registers them on a fragments.Store.
//
//	[[fragments]]
//	name = "address"
//	attributes = [
//	  { name = "street" },
//	  { name = "city", default = "Winterfell" },
//	]
//
//	[[models]]
//	name = "person"
//	attributes = [
//	  { name = "addresses", kind = "fragments", type = "address" },
//	]
//	rules = [{ name = "has_addresses", expr = "len(addresses) > 0" }]
package definitions

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	fragments "github.com/goliatone/go-fragments"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format names a definition file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatFromPath infers the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("definitions: cannot infer format of %q", path)
	}
}

// File is the decoded content of a definition file.
type File struct {
	Fragments []TypeDef `toml:"fragments" yaml:"fragments" validate:"dive"`
	Models    []TypeDef `toml:"models" yaml:"models" validate:"dive"`
}

// TypeDef declares one fragment or model type.
type TypeDef struct {
	Name       string         `toml:"name" yaml:"name" validate:"required"`
	Extends    string         `toml:"extends" yaml:"extends,omitempty"`
	Attributes []AttributeDef `toml:"attributes" yaml:"attributes" validate:"dive"`
	Rules      []RuleDef      `toml:"rules" yaml:"rules,omitempty" validate:"dive"`
}

// AttributeDef declares one attribute. Kind is one of scalar, fragment,
// fragments or array; an empty kind is a scalar.
type AttributeDef struct {
	Name        string `toml:"name" yaml:"name" validate:"required"`
	Kind        string `toml:"kind" yaml:"kind,omitempty" validate:"kind"`
	Type        string `toml:"type" yaml:"type,omitempty"`
	Key         string `toml:"key" yaml:"key,omitempty"`
	Default     any    `toml:"default" yaml:"default,omitempty"`
	Polymorphic bool   `toml:"polymorphic" yaml:"polymorphic,omitempty"`
	TypeKey     string `toml:"type_key" yaml:"type_key,omitempty"`
}

// RuleDef declares a validation rule.
type RuleDef struct {
	Name    string `toml:"name" yaml:"name"`
	Expr    string `toml:"expr" yaml:"expr" validate:"required"`
	Message string `toml:"message" yaml:"message,omitempty"`
}

// Load reads and parses the definition file at path.
func Load(path string) (File, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return File{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("definitions: read %s: %w", path, err)
	}
	file, err := Parse(data, format)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return file, nil
}

// Parse decodes data in the given format.
func Parse(data []byte, format Format) (File, error) {
	var file File
	switch format {
	case FormatTOML:
		decoder := toml.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&file); err != nil {
			return File{}, fmt.Errorf("definitions: parse toml: %w", err)
		}
	case FormatYAML:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&file); err != nil {
			return File{}, fmt.Errorf("definitions: parse yaml: %w", err)
		}
	default:
		return File{}, fmt.Errorf("definitions: unsupported format %q", format)
	}
	return file, nil
}

// Register declares every fragment type, then every model type, on store.
// Types may appear before the type they extend.
func (f File) Register(store *fragments.Store) error {
	if store == nil {
		return fmt.Errorf("definitions: store is required")
	}
	if err := f.Validate(); err != nil {
		return err
	}
	fragmentTypes, err := convertAll(f.Fragments)
	if err != nil {
		return err
	}
	modelTypes, err := convertAll(f.Models)
	if err != nil {
		return err
	}
	for _, t := range parentsFirst(fragmentTypes) {
		if err := store.RegisterFragment(t); err != nil {
			return fmt.Errorf("definitions: fragment %q: %w", t.Name, err)
		}
	}
	for _, t := range parentsFirst(modelTypes) {
		if err := store.RegisterModel(t); err != nil {
			return fmt.Errorf("definitions: model %q: %w", t.Name, err)
		}
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("toml"), ",")
		return name
	})
	_ = v.RegisterValidation("kind", func(fl validator.FieldLevel) bool {
		_, err := fragments.ParseKind(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks the declarations without touching a store. Every failing
// field is reported, keyed by its path in the file.
func (f File) Validate() error {
	err := validate.Struct(f)
	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) {
		return err
	}
	errs := make([]error, 0, len(invalid))
	for _, field := range invalid {
		errs = append(errs, describeFieldError(field))
	}
	return errors.Join(errs...)
}

func describeFieldError(field validator.FieldError) error {
	path := strings.TrimPrefix(field.Namespace(), "File.")
	switch field.Tag() {
	case "required":
		return fmt.Errorf("definitions: %s is required", path)
	case "kind":
		_, err := fragments.ParseKind(fmt.Sprint(field.Value()))
		return fmt.Errorf("definitions: %s: %w", path, err)
	default:
		return fmt.Errorf("definitions: %s failed %q", path, field.Tag())
	}
}

// Type converts the declaration into a fragments.Type.
func (d TypeDef) Type() (fragments.Type, error) {
	t := fragments.Type{Name: strings.TrimSpace(d.Name), Extends: strings.TrimSpace(d.Extends)}
	for _, attr := range d.Attributes {
		kind, err := fragments.ParseKind(attr.Kind)
		if err != nil {
			return fragments.Type{}, fmt.Errorf("definitions: %q attribute %q: %w", t.Name, attr.Name, err)
		}
		t.Attributes = append(t.Attributes, fragments.Attribute{
			Name:        strings.TrimSpace(attr.Name),
			Kind:        kind,
			Type:        strings.TrimSpace(attr.Type),
			Key:         strings.TrimSpace(attr.Key),
			Default:     normalizeValue(attr.Default),
			Polymorphic: attr.Polymorphic,
			TypeKey:     strings.TrimSpace(attr.TypeKey),
		})
	}
	for _, rule := range d.Rules {
		if strings.TrimSpace(rule.Expr) == "" {
			return fragments.Type{}, fmt.Errorf("definitions: %q rule %q has no expression", t.Name, rule.Name)
		}
		t.Rules = append(t.Rules, fragments.Rule{Name: rule.Name, Expr: rule.Expr, Message: rule.Message})
	}
	return t, nil
}

func convertAll(defs []TypeDef) ([]fragments.Type, error) {
	out := make([]fragments.Type, 0, len(defs))
	for _, def := range defs {
		t, err := def.Type()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// parentsFirst orders types so each one follows the type it extends when
// both are declared in the same file. Cycles are left for the store to
// reject.
func parentsFirst(types []fragments.Type) []fragments.Type {
	byName := make(map[string]fragments.Type, len(types))
	for _, t := range types {
		byName[t.Name] = t
	}
	visited := make(map[string]bool, len(types))
	out := make([]fragments.Type, 0, len(types))
	var visit func(t fragments.Type)
	visit = func(t fragments.Type) {
		if visited[t.Name] {
			return
		}
		visited[t.Name] = true
		if parent, ok := byName[t.Extends]; ok {
			visit(parent)
		}
		out = append(out, t)
	}
	for _, t := range types {
		visit(t)
	}
	return out
}

// normalizeValue turns decoder specific containers into map[string]any and
// []any.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = normalizeValue(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[fmt.Sprint(key)] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return value
	}
}
