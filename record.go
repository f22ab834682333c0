package fragments

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Record is the owning entity fragments and arrays attach to. It keeps the
// persistence-facing bookkeeping: dirty markers, commit and rollback fan-out
// and snapshot assembly. Transport and scheduling of saves live outside.
type Record struct {
	core

	id       string
	clientID string
}

func newRecord(store *Store, typ *typeDef) *Record {
	r := &Record{clientID: uuid.NewString()}
	r.core = newCore(store, typ, r)
	return r
}

// ID returns the persisted identifier, empty for new records.
func (r *Record) ID() string { return r.id }

// ClientID returns a process-local identifier assigned at construction.
func (r *Record) ClientID() string { return r.clientID }

// ModelName returns the registered model type.
func (r *Record) ModelName() string { return r.typ.name }

// SetupData installs authoritative data, as when the record is pushed.
func (r *Record) SetupData(raw map[string]any) error {
	body, id := splitID(raw)
	if id != "" {
		r.setID(id)
	}
	if err := r.setupData(body); err != nil {
		return newError("SetupData", r.typ.name, "", err)
	}
	return nil
}

// Rollback discards scalar changes first, then rolls back every attachment.
func (r *Record) Rollback() { r.rollback() }

// WillCommit moves local changes into flight before a save is issued.
func (r *Record) WillCommit() { r.willCommit() }

// AdapterDidFail returns in-flight changes to pending after a failed save.
func (r *Record) AdapterDidFail() { r.adapterDidFail() }

// AdapterDidCommit accepts in-flight and pending values as the baseline,
// applies the optional server payload, moves to saved and then commits
// every attachment. Payload values for materialized fragments and arrays
// update those instances in place.
func (r *Record) AdapterDidCommit(payload map[string]any) error {
	r.mergeCommitted()
	if payload != nil {
		body, id := splitID(payload)
		if id != "" {
			r.setID(id)
		}
		normalized, err := r.store.normalize(r.typ, body)
		if err != nil {
			return newError("AdapterDidCommit", r.typ.name, "", err)
		}
		for _, key := range sortedKeys(normalized) {
			if err := r.applyCommitted(key, normalized[key]); err != nil {
				return err
			}
		}
	}
	r.enter(stateSaved)
	r.commitAttachments()
	r.observers.notify(sortedKeys(payload)...)
	return nil
}

func (r *Record) applyCommitted(key string, value any) error {
	current := r.attachments[key]
	if current == nil {
		delete(r.attachments, key)
		r.data[key] = value
		return nil
	}
	attr, _ := r.typ.attribute(key)
	switch v := value.(type) {
	case map[string]any:
		if fragment, ok := current.(*Fragment); ok && fragment.typ.name == attr.actualType(v) {
			r.data[key] = fragment
			if err := fragment.SetupData(v); err != nil {
				return newError("AdapterDidCommit", r.typ.name, key, err)
			}
			return nil
		}
	default:
		if array, ok := current.(*Array); ok {
			if items, ok := toSlice(v); ok {
				r.data[key] = array
				if err := array.SetupData(items); err != nil {
					return newError("AdapterDidCommit", r.typ.name, key, err)
				}
				return nil
			}
		}
	}
	delete(r.attachments, key)
	r.data[key] = value
	return nil
}

// Snapshot returns the plain persistence payload, including the id once
// assigned.
func (r *Record) Snapshot() map[string]any {
	out := r.snapshot()
	if r.id != "" {
		out["id"] = r.id
	}
	return out
}

func (r *Record) String() string {
	return fmt.Sprintf("<record %s state=%s>", r.location(), r.state.Path())
}

func (r *Record) setID(id string) {
	r.id = id
	r.store.track(r)
}

func (r *Record) notifyOwnerDirty() {}

func (r *Record) notifyOwnerClean() {}

func (r *Record) location() string {
	if r.id != "" {
		return r.typ.name + "/" + r.id
	}
	return r.typ.name + "/" + r.clientID
}

func splitID(raw map[string]any) (map[string]any, string) {
	value, ok := raw["id"]
	if !ok {
		return raw, ""
	}
	body := make(map[string]any, len(raw))
	for key, v := range raw {
		if key != "id" {
			body[key] = v
		}
	}
	return body, idString(value)
}

func idString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
