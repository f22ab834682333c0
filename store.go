package fragments

import (
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-fragments/layering"
)

// Normalizer translates wire-shaped data into the normalized shape consumed
// by SetupData. It receives a private copy of raw and may mutate it.
type Normalizer interface {
	Normalize(typeName string, raw map[string]any) map[string]any
}

// NormalizerFunc adapts a function to Normalizer.
type NormalizerFunc func(typeName string, raw map[string]any) map[string]any

// Normalize implements Normalizer.
func (f NormalizerFunc) Normalize(typeName string, raw map[string]any) map[string]any {
	if f == nil {
		return raw
	}
	return f(typeName, raw)
}

// WithNormalizer runs normalizer before attribute wire keys are mapped.
func WithNormalizer(normalizer Normalizer) Option {
	return func(cfg *storeConfig) {
		cfg.normalizer = normalizer
	}
}

// Store registers fragment and model types and provides the collaborator
// calls used by fragments, arrays and records: building and creating
// fragments, normalizing raw data and snapshotting values. It also keeps a
// small identity map of pushed records.
type Store struct {
	cfg storeConfig

	mu        sync.RWMutex
	fragments map[string]*typeDef
	models    map[string]*typeDef
	records   map[string]map[string]*Record

	evalMu sync.Mutex
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	return &Store{
		cfg:       applyOptions(opts),
		fragments: map[string]*typeDef{},
		models:    map[string]*typeDef{},
		records:   map[string]map[string]*Record{},
	}
}

// RegisterFragment declares a fragment type. A type extending another must
// be registered after its parent.
func (s *Store) RegisterFragment(t Type) error {
	return s.register(t, false)
}

// RegisterModel declares a record type.
func (s *Store) RegisterModel(t Type) error {
	return s.register(t, true)
}

func (s *Store) register(t Type, model bool) error {
	name := strings.TrimSpace(t.Name)
	if name == "" {
		return fmt.Errorf("fragments: type name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.fragments[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateType, name)
	}
	if _, ok := s.models[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateType, name)
	}

	registry := s.fragments
	if model {
		registry = s.models
	}

	def := &typeDef{
		name:    name,
		extends: t.Extends,
		model:   model,
		attrs:   map[string]Attribute{},
	}
	if t.Extends != "" {
		parent, ok := registry[t.Extends]
		if !ok {
			return fmt.Errorf("%w: %q extends unregistered %q", ErrUnknownType, name, t.Extends)
		}
		for key, attr := range parent.attrs {
			def.attrs[key] = attr
		}
		def.order = append(def.order, parent.order...)
		def.rules = append(def.rules, parent.rules...)
	}

	for _, attr := range t.Attributes {
		if attr.Name == "" {
			return fmt.Errorf("fragments: %q declares an attribute without a name", name)
		}
		if model && attr.Name == "id" {
			return fmt.Errorf("fragments: %q cannot declare the reserved attribute %q", name, attr.Name)
		}
		if (attr.Kind == KindFragment || attr.Kind == KindFragmentArray) && attr.Type == "" {
			return fmt.Errorf("fragments: %s attribute %q of %q needs a fragment type", attr.Kind, attr.Name, name)
		}
		if _, exists := def.attrs[attr.Name]; !exists {
			def.order = append(def.order, attr.Name)
		}
		def.attrs[attr.Name] = attr
	}
	def.rules = append(def.rules, t.Rules...)

	registry[name] = def
	return nil
}

// HasType reports whether name is a registered fragment or model type.
func (s *Store) HasType(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, fragment := s.fragments[name]
	_, model := s.models[name]
	return fragment || model
}

func (s *Store) fragmentType(name string) (*typeDef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.fragments[name]
	if !ok {
		return nil, fmt.Errorf("%w: fragment %q", ErrUnknownType, name)
	}
	return def, nil
}

func (s *Store) modelType(name string) (*typeDef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: model %q", ErrUnknownType, name)
	}
	return def, nil
}

func (s *Store) anyType(name string) (*typeDef, error) {
	if def, err := s.fragmentType(name); err == nil {
		return def, nil
	}
	return s.modelType(name)
}

// isInstanceOf reports whether def is declared or inherits from declared.
func (s *Store) isInstanceOf(def *typeDef, declared string) bool {
	if def == nil {
		return false
	}
	if declared == "" {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for current := def; current != nil; {
		if current.name == declared {
			return true
		}
		if current.extends == "" {
			return false
		}
		if current.model {
			current = s.models[current.extends]
		} else {
			current = s.fragments[current.extends]
		}
	}
	return false
}

// BuildFragment constructs an unowned, empty fragment of typeName.
func (s *Store) BuildFragment(typeName string) (*Fragment, error) {
	def, err := s.fragmentType(typeName)
	if err != nil {
		return nil, err
	}
	return newFragment(s, def), nil
}

// CreateFragment constructs an unowned fragment holding props as local
// changes, in the created state.
func (s *Store) CreateFragment(typeName string, props map[string]any) (*Fragment, error) {
	fragment, err := s.BuildFragment(typeName)
	if err != nil {
		return nil, err
	}
	for _, key := range sortedKeys(props) {
		if err := fragment.Set(key, props[key]); err != nil {
			return nil, err
		}
	}
	fragment.send(EventLoadedData, "")
	return fragment, nil
}

// Normalize returns a normalized copy of raw for typeName.
func (s *Store) Normalize(typeName string, raw map[string]any) (map[string]any, error) {
	def, err := s.anyType(typeName)
	if err != nil {
		return nil, err
	}
	return s.normalize(def, raw)
}

// normalize copies raw, keeping live fragments and arrays by reference, runs
// the configured normalizer and maps wire keys to attribute names.
func (s *Store) normalize(def *typeDef, raw map[string]any) (map[string]any, error) {
	out := layering.CloneFunc(raw, isAttachmentValue)
	if out == nil {
		out = map[string]any{}
	}
	if s.cfg.normalizer != nil {
		out = s.cfg.normalizer.Normalize(def.name, out)
		if out == nil {
			return nil, fmt.Errorf("fragments: normalizer returned no data for %q", def.name)
		}
	}
	for _, name := range def.order {
		attr := def.attrs[name]
		wire := attr.wireKey()
		if wire == attr.Name {
			continue
		}
		value, ok := out[wire]
		if !ok {
			continue
		}
		if _, exists := out[attr.Name]; !exists {
			out[attr.Name] = value
		}
		delete(out, wire)
	}
	return out, nil
}

// SnapshotOf returns the plain projection of value: snapshots for fragments
// and arrays, deep copies for everything else.
func (s *Store) SnapshotOf(value any) any {
	if snapshottable, ok := value.(Snapshottable); ok {
		return snapshottable.Snapshot()
	}
	return layering.CloneFunc(value, isAttachmentValue)
}

// CreateRecord constructs a new record of model with props applied as local
// changes.
func (s *Store) CreateRecord(model string, props map[string]any) (*Record, error) {
	def, err := s.modelType(model)
	if err != nil {
		return nil, err
	}
	record := newRecord(s, def)
	record.send(EventLoadedData, "")
	body, id := splitID(props)
	if id != "" {
		record.setID(id)
	}
	for _, key := range sortedKeys(body) {
		if err := record.Set(key, body[key]); err != nil {
			return nil, err
		}
	}
	return record, nil
}

// Push installs authoritative data for model/id, updating the known record
// in place or creating it.
func (s *Store) Push(model, id string, data map[string]any) (*Record, error) {
	if id == "" {
		id, _ = splitIDValue(data)
	}
	if id == "" {
		return nil, fmt.Errorf("fragments: push %q requires an id", model)
	}
	record, ok := s.Peek(model, id)
	if !ok {
		def, err := s.modelType(model)
		if err != nil {
			return nil, err
		}
		record = newRecord(s, def)
		record.setID(id)
	}
	if err := record.SetupData(data); err != nil {
		return nil, err
	}
	return record, nil
}

// Peek returns the known record for model/id without loading anything.
func (s *Store) Peek(model, id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[model][id]
	return record, ok
}

func (s *Store) track(record *Record) {
	if record.id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.records[record.typ.name]
	if !ok {
		byID = map[string]*Record{}
		s.records[record.typ.name] = byID
	}
	byID[record.id] = record
}

func (s *Store) transitionLogger() TransitionLogger {
	if s.cfg.transitions != nil {
		return s.cfg.transitions
	}
	return noopTransitionLogger{}
}

func splitIDValue(raw map[string]any) (string, bool) {
	value, ok := raw["id"]
	if !ok {
		return "", false
	}
	return idString(value), true
}
