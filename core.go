package fragments

import (
	"reflect"
	"sort"

	"github.com/goliatone/go-fragments/layering"
)

// Snapshottable values expose a plain projection with no live bindings.
type Snapshottable interface {
	Snapshot() any
}

// Attachment is a fragment or array bound to an attribute of its owner.
type Attachment interface {
	Snapshottable
	IsDirty() bool
	Rollback()
	WillCommit()
	AdapterDidCommit()
	AdapterDidFail()
}

// Owner is implemented by anything fragments and arrays can be attached to:
// records and fragments themselves.
type Owner interface {
	// FragmentBecameDirty records key as dirty, using attachment as the marker.
	FragmentBecameDirty(key string, attachment Attachment)
	// FragmentBecameClean clears the dirty marker for key.
	FragmentBecameClean(key string, attachment Attachment)
	// Attachment returns the attachment currently held under key without
	// materializing it.
	Attachment(key string) Attachment
}

// ChangeObserver is notified after an attribute value may have changed.
type ChangeObserver interface {
	AttributeChanged(key string)
}

// ChangeObserverFunc adapts a function to ChangeObserver.
type ChangeObserverFunc func(key string)

// AttributeChanged implements ChangeObserver.
func (f ChangeObserverFunc) AttributeChanged(key string) {
	if f != nil {
		f(key)
	}
}

// Change describes one entry of ChangedAttributes. Nested changes carry no
// old/new pair: the attribute holds a dirty fragment or array.
type Change struct {
	Old    any
	New    any
	Nested bool
}

type coreSelf interface {
	Owner
	notifyOwnerDirty()
	notifyOwnerClean()
	location() string
}

type observerSet struct {
	next      int
	observers map[int]ChangeObserver
}

func (s *observerSet) add(observer ChangeObserver) func() {
	if observer == nil {
		return func() {}
	}
	if s.observers == nil {
		s.observers = map[int]ChangeObserver{}
	}
	id := s.next
	s.next++
	s.observers[id] = observer
	return func() {
		delete(s.observers, id)
	}
}

func (s *observerSet) notify(keys ...string) {
	if len(s.observers) == 0 {
		return
	}
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, key := range keys {
		for _, id := range ids {
			if observer, ok := s.observers[id]; ok {
				observer.AttributeChanged(key)
			}
		}
	}
}

// core holds the attribute bookkeeping shared by Fragment and Record.
type core struct {
	store *Store
	self  coreSelf
	typ   *typeDef
	state *State

	data     map[string]any
	pending  map[string]any
	inFlight map[string]any

	attachments map[string]Attachment
	applying    bool
	observers   observerSet
}

func newCore(store *Store, typ *typeDef, self coreSelf) core {
	return core{
		store:       store,
		self:        self,
		typ:         typ,
		state:       stateEmpty,
		data:        map[string]any{},
		pending:     map[string]any{},
		inFlight:    map[string]any{},
		attachments: map[string]Attachment{},
	}
}

// State returns the current lifecycle state.
func (c *core) State() *State { return c.state }

// TypeName returns the registered type name.
func (c *core) TypeName() string { return c.typ.name }

// IsDirty reports whether there are unsaved changes, including dirty nested
// attachments.
func (c *core) IsDirty() bool { return c.state.IsDirty() }

// IsNew reports whether the object was never persisted.
func (c *core) IsNew() bool { return c.state.IsNew() }

// Observe registers observer and returns a function removing it.
func (c *core) Observe(observer ChangeObserver) func() {
	return c.observers.add(observer)
}

// hasChangedAttributes includes values still in flight.
func (c *core) hasChangedAttributes() bool {
	return len(c.pending) > 0 || len(c.inFlight) > 0
}

func (c *core) send(event Event, key string) {
	if handler := c.state.handler(event); handler != nil {
		handler(c, key)
	}
}

func (c *core) transitionTo(target string) {
	next := c.state.resolve(target)
	if next == nil {
		return
	}
	c.enter(next)
}

func (c *core) enter(next *State) {
	previous := c.state
	c.state = next
	c.store.transitionLogger().LogTransition(TransitionLogEvent{
		Type:     c.typ.name,
		Location: c.self.location(),
		From:     previous.Path(),
		To:       next.Path(),
	})
	if setup := next.entryAction(); setup != nil {
		setup(c)
	}
}

// Get returns the effective value of key: pending, then in-flight, then
// baseline, then the declared default. Fragment and array attributes are
// materialized on first read; one that cannot be materialized reads as nil.
func (c *core) Get(key string) any {
	if attr, ok := c.typ.attribute(key); ok && attr.isAttachment() {
		attachment, err := c.attachment(key)
		if err != nil || attachment == nil {
			return nil
		}
		return attachment
	}
	return c.scalar(key)
}

func (c *core) scalar(key string) any {
	if value, ok := c.pending[key]; ok {
		return value
	}
	if value, ok := c.inFlight[key]; ok {
		return value
	}
	if value, ok := c.data[key]; ok {
		return value
	}
	if attr, ok := c.typ.attribute(key); ok {
		return attr.defaultValue()
	}
	return nil
}

// Set writes key. Fragment attributes accept a *Fragment, a raw map or nil;
// array attributes accept a slice or nil.
func (c *core) Set(key string, value any) error {
	attr, ok := c.typ.attribute(key)
	if !ok {
		// Undeclared keys are kept as plain values, as they are in raw data.
		attr = Attribute{Name: key, Kind: KindScalar}
	}
	switch attr.Kind {
	case KindFragment:
		return c.setFragment(attr, value)
	case KindFragmentArray, KindArray:
		return c.setArray(attr, value)
	default:
		c.setScalar(key, value)
		return nil
	}
}

// setScalar compares against the in-flight value while a save is running,
// so a write restoring the baseline mid-save stays pending.
func (c *core) setScalar(key string, value any) {
	previous := c.scalar(key)
	committed, saving := c.inFlight[key]
	if !saving {
		committed = c.data[key]
	}
	if sameValue(value, committed) {
		delete(c.pending, key)
		c.send(EventPropertyWasReset, key)
	} else {
		c.pending[key] = value
		if !sameValue(value, previous) {
			c.send(EventBecomeDirty, key)
		}
	}
	c.observers.notify(key)
}

// Fragment returns the fragment held under key, materializing it on first
// access.
func (c *core) Fragment(key string) (*Fragment, error) {
	attr, ok := c.typ.attribute(key)
	if !ok || attr.Kind != KindFragment {
		return nil, errorf("Fragment", c.typ.name, key, ErrUnknownAttribute, "%q is not a fragment attribute", key)
	}
	attachment, err := c.attachment(key)
	if err != nil {
		return nil, err
	}
	fragment, _ := attachment.(*Fragment)
	return fragment, nil
}

// SetFragment assigns fragment (or nil) to key.
func (c *core) SetFragment(key string, fragment *Fragment) error {
	attr, ok := c.typ.attribute(key)
	if !ok || attr.Kind != KindFragment {
		return errorf("SetFragment", c.typ.name, key, ErrUnknownAttribute, "%q is not a fragment attribute", key)
	}
	if fragment == nil {
		return c.setFragment(attr, nil)
	}
	return c.setFragment(attr, fragment)
}

// Array returns the array held under key, materializing it on first access.
func (c *core) Array(key string) (*Array, error) {
	attr, ok := c.typ.attribute(key)
	if !ok || (attr.Kind != KindFragmentArray && attr.Kind != KindArray) {
		return nil, errorf("Array", c.typ.name, key, ErrUnknownAttribute, "%q is not an array attribute", key)
	}
	attachment, err := c.attachment(key)
	if err != nil {
		return nil, err
	}
	array, _ := attachment.(*Array)
	return array, nil
}

// SetArray replaces the contents of the array held under key with values,
// creating the array when needed. A nil values clears the attribute.
func (c *core) SetArray(key string, values any) error {
	attr, ok := c.typ.attribute(key)
	if !ok || (attr.Kind != KindFragmentArray && attr.Kind != KindArray) {
		return errorf("SetArray", c.typ.name, key, ErrUnknownAttribute, "%q is not an array attribute", key)
	}
	return c.setArray(attr, values)
}

// Attachment implements Owner.
func (c *core) Attachment(key string) Attachment {
	return c.attachments[key]
}

// FragmentBecameDirty implements Owner.
func (c *core) FragmentBecameDirty(key string, attachment Attachment) {
	c.pending[key] = attachment
	c.send(EventBecomeDirty, key)
}

// FragmentBecameClean implements Owner. New objects only drop the marker.
func (c *core) FragmentBecameClean(key string, _ Attachment) {
	delete(c.pending, key)
	if !c.state.IsNew() {
		c.send(EventPropertyWasReset, key)
	}
}

func (c *core) setFragment(attr Attribute, value any) error {
	key := attr.Name
	var fragment *Fragment
	switch v := value.(type) {
	case nil:
	case *Fragment:
		fragment = v
	case map[string]any:
		created, err := c.store.CreateFragment(attr.actualType(v), v)
		if err != nil {
			return newError("SetFragment", c.typ.name, key, err)
		}
		fragment = created
	default:
		return errorf("SetFragment", c.typ.name, key, ErrTypeMismatch, "cannot assign %T to a %q fragment", value, attr.Type)
	}

	if fragment != nil {
		if !c.store.isInstanceOf(fragment.typ, attr.Type) {
			return errorf("SetFragment", c.typ.name, key, ErrTypeMismatch, "cannot assign %q to a %q fragment", fragment.typ.name, attr.Type)
		}
		if !fragment.ownableBy(c.self, key, nil) {
			return errorf("SetFragment", c.typ.name, key, ErrOwnership, "fragment already belongs to %s", fragment.location())
		}
	}

	// Materialize the baseline instance first so rollback can restore it.
	// A baseline that cannot be built stays raw in data: rollback then drops
	// the assignment and the next read reports the error again.
	_, _ = c.attachment(key)

	if fragment != nil {
		fragment.promote()
		fragment.adopt(c.self, key, nil)
	}
	attachment := asAttachment(fragment)
	c.attachments[key] = attachment
	if !sameValue(c.data[key], attachment) || (fragment != nil && fragment.IsDirty()) {
		c.FragmentBecameDirty(key, attachment)
	} else {
		c.FragmentBecameClean(key, attachment)
	}
	c.observers.notify(key)
	return nil
}

func (c *core) setArray(attr Attribute, values any) error {
	key := attr.Name
	current, _ := c.attachment(key)
	array, _ := current.(*Array)

	var items []any
	switch v := values.(type) {
	case nil:
		array = nil
	case *Array:
		if v != array {
			return errorf("SetArray", c.typ.name, key, ErrOwnership, "arrays cannot move between attributes, assign its values instead")
		}
		items = v.Values()
	default:
		converted, ok := toSlice(values)
		if !ok {
			return errorf("SetArray", c.typ.name, key, ErrTypeMismatch, "cannot assign %T to an array attribute", values)
		}
		items = converted
	}

	if values != nil {
		if array == nil {
			created, err := c.newArray(attr)
			if err != nil {
				return err
			}
			array = created
		}
		if err := array.SetObjects(items...); err != nil {
			return err
		}
	}

	var attachment Attachment
	if array != nil {
		attachment = array
	}
	c.attachments[key] = attachment
	if !sameValue(c.data[key], attachment) || (array != nil && array.IsDirty()) {
		c.FragmentBecameDirty(key, attachment)
	} else {
		c.FragmentBecameClean(key, attachment)
	}
	c.observers.notify(key)
	return nil
}

func (c *core) newArray(attr Attribute) (*Array, error) {
	var elemType *typeDef
	if attr.Kind == KindFragmentArray {
		def, err := c.store.fragmentType(attr.Type)
		if err != nil {
			return nil, newError("Array", c.typ.name, attr.Name, err)
		}
		elemType = def
	}
	return &Array{
		store: c.store,
		owner: c.self,
		key:   attr.Name,
		attr:  attr,
		typ:   elemType,
	}, nil
}

// attachment returns the fragment or array held under key, building it from
// baseline data or the declared default on first access.
func (c *core) attachment(key string) (Attachment, error) {
	if current, ok := c.attachments[key]; ok {
		return current, nil
	}
	attr, ok := c.typ.attribute(key)
	if !ok || !attr.isAttachment() {
		return nil, errorf("Get", c.typ.name, key, ErrUnknownAttribute, "%q is not a fragment or array attribute", key)
	}

	raw := c.data[key]
	if raw == nil {
		raw = attr.defaultValue()
		if raw != nil && !defaultHasShape(attr, raw) {
			return nil, errorf("Get", c.typ.name, key, ErrDefaultShape, "default for %q must be %s, got %T", key, expectedShape(attr), raw)
		}
	}

	switch attr.Kind {
	case KindFragment:
		switch v := raw.(type) {
		case nil:
			c.attachments[key] = nil
			return nil, nil
		case *Fragment:
			c.attachments[key] = v
			return v, nil
		case map[string]any:
			fragment, err := c.store.BuildFragment(attr.actualType(v))
			if err != nil {
				return nil, newError("Get", c.typ.name, key, err)
			}
			if !c.store.isInstanceOf(fragment.typ, attr.Type) {
				return nil, errorf("Get", c.typ.name, key, ErrTypeMismatch, "%q is not a %q fragment", fragment.typ.name, attr.Type)
			}
			fragment.adopt(c.self, key, nil)
			// Cache before setup so reads triggered by observers reuse it.
			c.data[key] = fragment
			if err := fragment.SetupData(v); err != nil {
				c.data[key] = v
				return nil, newError("Get", c.typ.name, key, err)
			}
			c.attachments[key] = fragment
			return fragment, nil
		default:
			return nil, errorf("Get", c.typ.name, key, ErrTypeMismatch, "cannot build a %q fragment from %T", attr.Type, raw)
		}
	default:
		switch v := raw.(type) {
		case nil:
			c.attachments[key] = nil
			return nil, nil
		case *Array:
			c.attachments[key] = v
			return v, nil
		default:
			items, ok := toSlice(raw)
			if !ok {
				return nil, errorf("Get", c.typ.name, key, ErrTypeMismatch, "cannot build an array from %T", raw)
			}
			array, err := c.newArray(attr)
			if err != nil {
				return nil, err
			}
			c.data[key] = array
			if err := array.SetupData(items); err != nil {
				c.data[key] = raw
				return nil, newError("Get", c.typ.name, key, err)
			}
			c.attachments[key] = array
			return array, nil
		}
	}
}

// setupData installs authoritative data: pending and in-flight values are
// discarded and materialized attachments are updated in place.
func (c *core) setupData(raw map[string]any) error {
	if c.applying {
		return nil
	}
	c.applying = true
	defer func() { c.applying = false }()

	normalized, err := c.store.normalize(c.typ, raw)
	if err != nil {
		return err
	}

	previous := c.data
	c.pending = map[string]any{}
	c.inFlight = map[string]any{}
	c.data = normalized
	c.send(EventPushedData, "")

	if err := c.refreshAttachments(previous); err != nil {
		return err
	}
	c.observers.notify(sortedKeys(raw)...)
	return nil
}

// refreshAttachments reconciles materialized attachments with new baseline
// data, reusing the previous baseline instances to keep their identity.
func (c *core) refreshAttachments(previous map[string]any) error {
	for _, key := range sortedAttachmentKeys(c.attachments) {
		current := c.attachments[key]
		raw, present := c.data[key]
		if !present {
			delete(c.attachments, key)
			continue
		}
		attr, _ := c.typ.attribute(key)
		target := current
		if baseline, ok := previous[key].(Attachment); ok {
			target = baseline
		}
		switch v := raw.(type) {
		case map[string]any:
			fragment, ok := target.(*Fragment)
			if !ok || fragment.typ.name != attr.actualType(v) {
				delete(c.attachments, key)
				continue
			}
			c.data[key] = fragment
			if err := fragment.SetupData(v); err != nil {
				return newError("SetupData", c.typ.name, key, err)
			}
			c.attachments[key] = fragment
		case Attachment:
			c.attachments[key] = v
		default:
			array, ok := target.(*Array)
			items, isSlice := toSlice(raw)
			if !ok || !isSlice {
				delete(c.attachments, key)
				continue
			}
			c.data[key] = array
			if err := array.SetupData(items); err != nil {
				return newError("SetupData", c.typ.name, key, err)
			}
			c.attachments[key] = array
		}
	}
	return nil
}

// rollback discards pending and in-flight values, restores replaced
// attachments to their baseline instance and rolls every attachment back.
func (c *core) rollback() {
	dirty := sortedKeys(c.pending)
	c.pending = map[string]any{}
	c.inFlight = map[string]any{}

	for _, key := range sortedAttachmentKeys(c.attachments) {
		baseline, ok := c.data[key]
		if !ok {
			delete(c.attachments, key)
			continue
		}
		if attachment, ok := baseline.(Attachment); ok {
			c.attachments[key] = attachment
			continue
		}
		if baseline == nil {
			c.attachments[key] = nil
			continue
		}
		delete(c.attachments, key)
	}

	for _, key := range sortedAttachmentKeys(c.attachments) {
		if attachment := c.attachments[key]; attachment != nil {
			attachment.Rollback()
		}
	}
	c.send(EventRolledBack, "")
	c.observers.notify(dirty...)
}

// willCommit moves pending values into flight.
func (c *core) willCommit() {
	for key, value := range c.pending {
		c.inFlight[key] = value
	}
	c.pending = map[string]any{}
	for _, key := range sortedAttachmentKeys(c.attachments) {
		if attachment := c.attachments[key]; attachment != nil {
			attachment.WillCommit()
		}
	}
}

// adapterDidFail moves in-flight values back to pending; newer pending
// values win. Scalars that ended up equal to the baseline are dropped.
func (c *core) adapterDidFail() {
	for key, value := range c.inFlight {
		if _, ok := c.pending[key]; !ok {
			c.pending[key] = value
		}
	}
	c.inFlight = map[string]any{}
	for _, key := range sortedAttachmentKeys(c.attachments) {
		if attachment := c.attachments[key]; attachment != nil {
			attachment.AdapterDidFail()
		}
	}

	var reset []string
	for _, key := range sortedKeys(c.pending) {
		value := c.pending[key]
		if attr, declared := c.typ.attribute(key); (declared && attr.isAttachment()) || isAttachmentValue(value) {
			continue
		}
		if sameValue(value, c.data[key]) {
			delete(c.pending, key)
			reset = append(reset, key)
		}
	}
	if len(reset) > 0 {
		c.send(EventPropertyWasReset, "")
		c.observers.notify(reset...)
	}
}

// mergeCommitted folds in-flight and pending values into the baseline.
func (c *core) mergeCommitted() {
	for key, value := range c.inFlight {
		c.data[key] = value
	}
	for key, value := range c.pending {
		c.data[key] = value
	}
	c.inFlight = map[string]any{}
	c.pending = map[string]any{}
}

func (c *core) commitAttachments() {
	for _, key := range sortedAttachmentKeys(c.attachments) {
		if attachment := c.attachments[key]; attachment != nil {
			attachment.AdapterDidCommit()
		}
	}
}

// ChangedAttributes reports every locally modified attribute.
func (c *core) ChangedAttributes() map[string]Change {
	changes := make(map[string]Change, len(c.pending))
	for key, value := range c.pending {
		attr, declared := c.typ.attribute(key)
		if (declared && attr.isAttachment()) || isAttachmentValue(value) {
			changes[key] = Change{Nested: true}
			continue
		}
		old, ok := c.inFlight[key]
		if !ok {
			old = c.data[key]
		}
		changes[key] = Change{Old: old, New: value}
	}
	return changes
}

// snapshot builds the plain projection of every effective value.
func (c *core) snapshot() map[string]any {
	out := map[string]any{}
	for _, key := range c.keys() {
		attr, declared := c.typ.attribute(key)
		if declared && attr.isAttachment() {
			attachment, err := c.attachment(key)
			if err != nil {
				out[key] = c.store.SnapshotOf(c.data[key])
				continue
			}
			if attachment == nil {
				if c.hasKey(key) {
					out[key] = nil
				}
				continue
			}
			out[key] = attachment.Snapshot()
			continue
		}
		value := c.scalar(key)
		if value == nil && !c.hasKey(key) {
			continue
		}
		out[key] = c.store.SnapshotOf(value)
	}
	return out
}

func (c *core) hasKey(key string) bool {
	if _, ok := c.pending[key]; ok {
		return true
	}
	if _, ok := c.inFlight[key]; ok {
		return true
	}
	_, ok := c.data[key]
	return ok
}

// keys lists declared attributes in declaration order followed by any
// undeclared keys present in the data, sorted.
func (c *core) keys() []string {
	seen := make(map[string]struct{}, len(c.typ.order))
	keys := make([]string, 0, len(c.typ.order)+len(c.data))
	for _, key := range c.typ.order {
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	var extra []string
	for _, source := range []map[string]any{c.data, c.inFlight, c.pending} {
		for key := range source {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}

func asAttachment(fragment *Fragment) Attachment {
	if fragment == nil {
		return nil
	}
	return fragment
}

func isAttachmentValue(value any) bool {
	switch value.(type) {
	case *Fragment, *Array:
		return true
	}
	return false
}

// sameValue compares fragments and arrays by identity and everything else
// by deep equality.
func sameValue(a, b any) bool {
	if isAttachmentValue(a) || isAttachmentValue(b) {
		return a == b
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}

func toSlice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return append([]any(nil), v...), true
	case []*Fragment:
		items := make([]any, len(v))
		for i, fragment := range v {
			items[i] = fragment
		}
		return items, true
	}
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

func defaultHasShape(attr Attribute, value any) bool {
	if attr.Kind == KindFragment {
		switch value.(type) {
		case map[string]any, *Fragment:
			return true
		}
		return false
	}
	if _, ok := value.(*Array); ok {
		return true
	}
	_, ok := toSlice(value)
	return ok
}

func expectedShape(attr Attribute) string {
	if attr.Kind == KindFragment {
		return "an object"
	}
	return "a sequence"
}

func (a Attribute) defaultValue() any {
	if a.DefaultFunc != nil {
		return layering.Clone(a.DefaultFunc())
	}
	if a.Default == nil {
		return nil
	}
	return layering.Clone(a.Default)
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedAttachmentKeys(values map[string]Attachment) []string {
	return sortedKeys(values)
}
