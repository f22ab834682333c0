package fragments

import (
	"fmt"

	"github.com/goliatone/go-fragments/layering"
)

// Fragment is a nested, identity-less record bound to exactly one owner
// attribute. It is dirty-tracked on its own and reports its state to the
// owner, which saves, commits and rolls it back.
type Fragment struct {
	core

	owner Owner
	key   string
	array *Array
}

func newFragment(store *Store, typ *typeDef) *Fragment {
	f := &Fragment{}
	f.core = newCore(store, typ, f)
	return f
}

// Owner returns the owner the fragment is bound to, nil before first attach.
func (f *Fragment) Owner() Owner { return f.owner }

// Key returns the owner attribute the fragment is reachable under.
func (f *Fragment) Key() string { return f.key }

// SetupData installs normalized authoritative data. Pending changes are
// discarded and the fragment becomes clean.
func (f *Fragment) SetupData(raw map[string]any) error {
	if err := f.setupData(raw); err != nil {
		return newError("SetupData", f.typ.name, f.key, err)
	}
	return nil
}

// Rollback discards local changes, recursively.
func (f *Fragment) Rollback() { f.rollback() }

// WillCommit moves local changes into flight, recursively.
func (f *Fragment) WillCommit() { f.willCommit() }

// AdapterDidCommit accepts the current values as the new baseline and
// fast-forwards to the saved state.
func (f *Fragment) AdapterDidCommit() {
	f.mergeCommitted()
	f.commitAttachments()
	f.enter(stateSaved)
}

// AdapterDidFail returns in-flight values to pending, recursively.
func (f *Fragment) AdapterDidFail() { f.adapterDidFail() }

// Snapshot returns the plain map projection of the fragment.
func (f *Fragment) Snapshot() any { return f.snapshot() }

// Equal compares by identity.
func (f *Fragment) Equal(other *Fragment) bool { return f == other }

// Copy returns a new unowned fragment of the same type whose baseline is the
// current effective data. Nested fragments and arrays are copied as plain
// data and rebuilt under the copy, so nothing is shared with f.
func (f *Fragment) Copy() (*Fragment, error) {
	copied := newFragment(f.store, f.typ)
	merged := map[string]any{}
	for _, key := range f.keys() {
		attr, declared := f.typ.attribute(key)
		if declared && attr.isAttachment() {
			attachment, err := f.attachment(key)
			if err != nil {
				return nil, newError("Copy", f.typ.name, key, err)
			}
			if attachment == nil {
				if f.hasKey(key) {
					merged[key] = nil
				}
				continue
			}
			merged[key] = attachment.Snapshot()
			continue
		}
		if !f.hasKey(key) {
			continue
		}
		merged[key] = layering.Clone(f.scalar(key))
	}
	copied.data = merged
	copied.send(EventLoadedData, "")
	return copied, nil
}

func (f *Fragment) String() string {
	return fmt.Sprintf("<fragment %s at %s state=%s>", f.typ.name, f.location(), f.state.Path())
}

func (f *Fragment) notifyOwnerDirty() {
	if f.owner == nil {
		return
	}
	if f.array != nil {
		f.array.elementChanged()
		return
	}
	if f.owner.Attachment(f.key) != Attachment(f) {
		return
	}
	f.owner.FragmentBecameDirty(f.key, f)
}

func (f *Fragment) notifyOwnerClean() {
	if f.owner == nil {
		return
	}
	if f.array != nil {
		f.array.elementChanged()
		return
	}
	if f.owner.Attachment(f.key) != Attachment(f) {
		return
	}
	f.owner.FragmentBecameClean(f.key, f)
}

func (f *Fragment) location() string {
	if f.owner == nil {
		return f.typ.name
	}
	if parent, ok := f.owner.(interface{ location() string }); ok {
		return parent.location() + "." + f.key
	}
	return f.key
}

// ownableBy reports whether f may be attached under owner/key: it must be
// unowned or already bound to that exact slot.
func (f *Fragment) ownableBy(owner Owner, key string, array *Array) bool {
	if f.owner == nil {
		return true
	}
	if f.owner != owner || f.key != key {
		return false
	}
	return f.array == nil || f.array == array
}

// promote moves a fragment that never received data to created, so a fragment
// from BuildFragment reports dirty once it is attached. It runs before adopt,
// while there is no owner to notify.
func (f *Fragment) promote() {
	if f.state.IsEmpty() {
		f.send(EventLoadedData, "")
	}
}

// adopt binds an unowned fragment. Owner and key never change afterwards.
func (f *Fragment) adopt(owner Owner, key string, array *Array) {
	if f.owner == nil {
		f.owner = owner
		f.key = key
	}
	if array != nil && f.array == nil {
		f.array = array
	}
}
