package fragments

import (
	"fmt"
)

// Array is an ordered collection bound to one owner attribute. Primitive
// arrays hold plain values; typed arrays hold fragments of one declared type.
// An array is dirty when its content differs positionally from the last
// accepted baseline or when any fragment element is dirty.
type Array struct {
	store *Store
	owner Owner
	key   string
	attr  Attribute
	typ   *typeDef

	content  []any
	original []any

	// committed is false until the array first holds authoritative data.
	committed    bool
	initializing bool
	applying     bool
	observers    observerSet
}

// Owner returns the owning record or fragment.
func (a *Array) Owner() Owner { return a.owner }

// Key returns the owner attribute the array is reachable under.
func (a *Array) Key() string { return a.key }

// ElementType returns the declared fragment type, empty for primitive arrays.
func (a *Array) ElementType() string {
	if a.typ == nil {
		return ""
	}
	return a.typ.name
}

// Len returns the number of elements.
func (a *Array) Len() int { return len(a.content) }

// At returns the element at index i, nil when out of range.
func (a *Array) At(i int) any {
	if i < 0 || i >= len(a.content) {
		return nil
	}
	return a.content[i]
}

// Values returns a copy of the current elements.
func (a *Array) Values() []any {
	return append([]any(nil), a.content...)
}

// Fragments returns the fragment elements of a typed array.
func (a *Array) Fragments() []*Fragment {
	out := make([]*Fragment, 0, len(a.content))
	for _, item := range a.content {
		if fragment, ok := item.(*Fragment); ok {
			out = append(out, fragment)
		}
	}
	return out
}

// IndexOf returns the first position of item, or -1.
func (a *Array) IndexOf(item any) int {
	for i, current := range a.content {
		if sameValue(current, item) {
			return i
		}
	}
	return -1
}

// Observe registers observer, notified with the array key on every content
// change.
func (a *Array) Observe(observer ChangeObserver) func() {
	return a.observers.add(observer)
}

// IsDirty reports positional inequality with the baseline or any dirty
// fragment element.
func (a *Array) IsDirty() bool {
	if len(a.content) != len(a.original) {
		return true
	}
	for i := range a.content {
		if !sameValue(a.content[i], a.original[i]) {
			return true
		}
	}
	if a.typ == nil {
		return false
	}
	for _, item := range a.content {
		if fragment, ok := item.(*Fragment); ok && fragment.IsDirty() {
			return true
		}
	}
	return false
}

// SetupData installs authoritative content. Typed arrays reuse the existing
// fragment at each position when its type still matches, so observers bound
// to those instances keep working.
func (a *Array) SetupData(raw []any) error {
	if a.applying {
		return nil
	}
	a.applying = true
	defer func() { a.applying = false }()

	processed, err := a.process(raw)
	if err != nil {
		return newError("SetupData", a.ElementType(), a.key, err)
	}
	a.original = append([]any(nil), processed...)
	a.content = processed
	a.committed = true
	a.observers.notify(a.key)
	a.report()
	return nil
}

func (a *Array) process(raw []any) ([]any, error) {
	if a.typ == nil {
		out := make([]any, len(raw))
		for i, item := range raw {
			if isAttachmentValue(item) {
				return nil, fmt.Errorf("%w: primitive array cannot hold %T", ErrTypeMismatch, item)
			}
			out[i] = item
		}
		return out, nil
	}

	for _, item := range raw {
		switch v := item.(type) {
		case map[string]any:
			def, err := a.store.fragmentType(a.attr.actualType(v))
			if err != nil {
				return nil, err
			}
			if !a.store.isInstanceOf(def, a.typ.name) {
				return nil, fmt.Errorf("%w: %q is not a %q fragment", ErrTypeMismatch, def.name, a.typ.name)
			}
		case *Fragment:
			if err := a.checkFragment(v); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: cannot build a %q fragment from %T", ErrTypeMismatch, a.typ.name, item)
		}
	}

	a.initializing = true
	defer func() { a.initializing = false }()

	out := make([]any, len(raw))
	for i, item := range raw {
		switch v := item.(type) {
		case *Fragment:
			v.adopt(a.owner, a.key, a)
			out[i] = v
		case map[string]any:
			actual := a.attr.actualType(v)
			var fragment *Fragment
			if i < len(a.content) {
				if existing, ok := a.content[i].(*Fragment); ok && existing.typ.name == actual {
					fragment = existing
				}
			}
			if fragment == nil {
				built, err := a.store.BuildFragment(actual)
				if err != nil {
					return nil, err
				}
				built.adopt(a.owner, a.key, a)
				fragment = built
			}
			if err := fragment.SetupData(v); err != nil {
				return nil, err
			}
			out[i] = fragment
		}
	}
	return out, nil
}

// Rollback restores the baseline content, then rolls back every element.
func (a *Array) Rollback() {
	a.initializing = true
	a.content = append([]any(nil), a.original...)
	a.observers.notify(a.key)
	for _, fragment := range a.Fragments() {
		fragment.Rollback()
	}
	a.initializing = false
	a.report()
}

// WillCommit moves element changes into flight.
func (a *Array) WillCommit() {
	for _, fragment := range a.Fragments() {
		fragment.WillCommit()
	}
}

// AdapterDidCommit accepts the current content as the baseline and commits
// every element.
func (a *Array) AdapterDidCommit() {
	a.original = append([]any(nil), a.content...)
	a.committed = true
	a.initializing = true
	for _, fragment := range a.Fragments() {
		fragment.AdapterDidCommit()
	}
	a.initializing = false
	a.report()
}

// AdapterDidFail returns element changes to pending.
func (a *Array) AdapterDidFail() {
	for _, fragment := range a.Fragments() {
		fragment.AdapterDidFail()
	}
}

// Snapshot returns the plain []any projection of the array.
func (a *Array) Snapshot() any {
	out := make([]any, len(a.content))
	for i, item := range a.content {
		if fragment, ok := item.(*Fragment); ok {
			out[i] = fragment.Snapshot()
			continue
		}
		out[i] = a.store.SnapshotOf(item)
	}
	return out
}

// Replace removes amount elements at idx and inserts items in their place.
// Every structural change goes through Replace: items are validated before
// anything is mutated, unowned fragments are adopted and the owner is told
// whether the attribute is now dirty or clean. Typed arrays also accept raw
// maps, which are turned into new fragments.
func (a *Array) Replace(idx, amount int, items ...any) error {
	if idx < 0 || amount < 0 || idx+amount > len(a.content) {
		return errorf("Replace", a.ElementType(), a.key, ErrIndexOutOfRange, "replace %d at %d in array of %d", amount, idx, len(a.content))
	}
	prepared, err := a.prepare(items)
	if err != nil {
		return newError("Replace", a.ElementType(), a.key, err)
	}
	for _, item := range prepared {
		if fragment, ok := item.(*Fragment); ok {
			fragment.promote()
			fragment.adopt(a.owner, a.key, a)
		}
	}
	next := make([]any, 0, len(a.content)-amount+len(prepared))
	next = append(next, a.content[:idx]...)
	next = append(next, prepared...)
	next = append(next, a.content[idx+amount:]...)
	a.content = next
	a.observers.notify(a.key)
	a.report()
	return nil
}

func (a *Array) prepare(items []any) ([]any, error) {
	prepared := make([]any, len(items))
	if a.typ == nil {
		for i, item := range items {
			if isAttachmentValue(item) {
				return nil, fmt.Errorf("%w: primitive array cannot hold %T", ErrTypeMismatch, item)
			}
			prepared[i] = item
		}
		return prepared, nil
	}
	for i, item := range items {
		switch v := item.(type) {
		case *Fragment:
			if v == nil {
				return nil, fmt.Errorf("%w: nil fragment", ErrTypeMismatch)
			}
			if err := a.checkFragment(v); err != nil {
				return nil, err
			}
			prepared[i] = v
		case map[string]any:
			def, err := a.store.fragmentType(a.attr.actualType(v))
			if err != nil {
				return nil, err
			}
			if !a.store.isInstanceOf(def, a.typ.name) {
				return nil, fmt.Errorf("%w: %q is not a %q fragment", ErrTypeMismatch, def.name, a.typ.name)
			}
			prepared[i] = v
		default:
			return nil, fmt.Errorf("%w: cannot add %T to a %q array", ErrTypeMismatch, item, a.typ.name)
		}
	}
	for i, item := range prepared {
		if raw, ok := item.(map[string]any); ok {
			created, err := a.store.CreateFragment(a.attr.actualType(raw), raw)
			if err != nil {
				return nil, err
			}
			prepared[i] = created
		}
	}
	return prepared, nil
}

func (a *Array) checkFragment(fragment *Fragment) error {
	if !a.store.isInstanceOf(fragment.typ, a.typ.name) {
		return fmt.Errorf("%w: %q is not a %q fragment", ErrTypeMismatch, fragment.typ.name, a.typ.name)
	}
	if !fragment.ownableBy(a.owner, a.key, a) {
		return fmt.Errorf("%w: fragment already belongs to %s", ErrOwnership, fragment.location())
	}
	return nil
}

// Push appends items.
func (a *Array) Push(items ...any) error {
	return a.Replace(len(a.content), 0, items...)
}

// InsertAt inserts item before position idx.
func (a *Array) InsertAt(idx int, item any) error {
	return a.Replace(idx, 0, item)
}

// RemoveAt removes and returns the element at idx.
func (a *Array) RemoveAt(idx int) (any, error) {
	if idx < 0 || idx >= len(a.content) {
		return nil, errorf("RemoveAt", a.ElementType(), a.key, ErrIndexOutOfRange, "index %d in array of %d", idx, len(a.content))
	}
	removed := a.content[idx]
	if err := a.Replace(idx, 1); err != nil {
		return nil, err
	}
	return removed, nil
}

// Pop removes and returns the last element; it returns nil on an empty array.
func (a *Array) Pop() (any, error) {
	if len(a.content) == 0 {
		return nil, nil
	}
	return a.RemoveAt(len(a.content) - 1)
}

// SetObjects replaces the whole content with items in one change.
func (a *Array) SetObjects(items ...any) error {
	return a.Replace(0, len(a.content), items...)
}

// AddFragment appends fragment unless it is already present.
func (a *Array) AddFragment(fragment *Fragment) error {
	if a.IndexOf(fragment) >= 0 {
		return nil
	}
	return a.Push(fragment)
}

// RemoveFragment removes every occurrence of fragment.
func (a *Array) RemoveFragment(fragment *Fragment) error {
	kept := make([]any, 0, len(a.content))
	for _, item := range a.content {
		if item == any(fragment) {
			continue
		}
		kept = append(kept, item)
	}
	if len(kept) == len(a.content) {
		return nil
	}
	return a.SetObjects(kept...)
}

// CreateFragment builds a fragment of the element type from props and
// appends it. Polymorphic arrays read the concrete type from props.
func (a *Array) CreateFragment(props map[string]any) (*Fragment, error) {
	if a.typ == nil {
		return nil, errorf("CreateFragment", "", a.key, ErrTypeMismatch, "primitive arrays do not hold fragments")
	}
	fragment, err := a.store.CreateFragment(a.attr.actualType(props), props)
	if err != nil {
		return nil, newError("CreateFragment", a.typ.name, a.key, err)
	}
	if err := a.Push(fragment); err != nil {
		return nil, err
	}
	return fragment, nil
}

func (a *Array) elementChanged() {
	a.report()
}

// report tells the owner whether the attribute is dirty, once the array is
// attached and not initializing.
func (a *Array) report() {
	if a.initializing || a.owner == nil {
		return
	}
	if a.owner.Attachment(a.key) != Attachment(a) {
		return
	}
	if !a.committed || a.IsDirty() {
		a.owner.FragmentBecameDirty(a.key, a)
		return
	}
	a.owner.FragmentBecameClean(a.key, a)
}

func (a *Array) location() string {
	if parent, ok := a.owner.(interface{ location() string }); ok {
		return parent.location() + "." + a.key
	}
	return a.key
}

func (a *Array) String() string {
	kind := "primitive"
	if a.typ != nil {
		kind = a.typ.name
	}
	return fmt.Sprintf("<array %s at %s len=%d>", kind, a.location(), len(a.content))
}
