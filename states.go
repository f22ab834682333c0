package fragments

import "strings"

// Event names a state machine input.
type Event string

const (
	// EventLoadedData fires when a new, never persisted object receives its
	// first local data.
	EventLoadedData Event = "loadedData"
	// EventPushedData fires when authoritative data arrives.
	EventPushedData Event = "pushedData"
	// EventBecomeDirty fires when a write diverges from the baseline.
	EventBecomeDirty Event = "becomeDirty"
	// EventRolledBack fires once local changes have been discarded.
	EventRolledBack Event = "rolledBack"
	// EventPropertyWasReset fires when a write restores the baseline value.
	EventPropertyWasReset Event = "propertyWasReset"
)

type stateHandler func(c *core, key string)

// State is one node of the shared lifecycle tree. States are immutable and
// shared by every Fragment and Record; flags and handlers not set on a node
// are inherited from its parent.
type State struct {
	name     string
	path     string
	parent   *State
	children map[string]*State

	flags    map[string]bool
	handlers map[Event]stateHandler
	setup    func(c *core)
}

// Name returns the last path segment ("saved").
func (s *State) Name() string { return s.name }

// Path returns the dotted path from the root ("root.loaded.saved").
func (s *State) Path() string { return s.path }

// Parent returns the enclosing state, nil for the root.
func (s *State) Parent() *State { return s.parent }

func (s *State) String() string { return s.path }

// IsEmpty reports whether no data has been received yet.
func (s *State) IsEmpty() bool { return s.flag("isEmpty") }

// IsLoaded reports whether the object holds data.
func (s *State) IsLoaded() bool { return s.flag("isLoaded") }

// IsDirty reports whether the object holds unsaved changes.
func (s *State) IsDirty() bool { return s.flag("isDirty") }

// IsNew reports whether the object has never been persisted.
func (s *State) IsNew() bool { return s.flag("isNew") }

func (s *State) flag(name string) bool {
	for state := s; state != nil; state = state.parent {
		if value, ok := state.flags[name]; ok {
			return value
		}
	}
	return false
}

func (s *State) handler(event Event) stateHandler {
	for state := s; state != nil; state = state.parent {
		if fn, ok := state.handlers[event]; ok {
			return fn
		}
	}
	return nil
}

func (s *State) entryAction() func(c *core) {
	for state := s; state != nil; state = state.parent {
		if state.setup != nil {
			return state.setup
		}
	}
	return nil
}

// resolve finds target relative to s, walking up until a state owns the first
// segment, then descending.
func (s *State) resolve(target string) *State {
	segments := strings.Split(target, ".")
	for base := s; base != nil; base = base.parent {
		next := base.descend(segments)
		if next != nil {
			return next
		}
	}
	return nil
}

func (s *State) descend(segments []string) *State {
	current := s
	for _, segment := range segments {
		child, ok := current.children[segment]
		if !ok {
			return nil
		}
		current = child
	}
	return current
}

type stateSpec struct {
	flags    map[string]bool
	handlers map[Event]stateHandler
	setup    func(c *core)
	children map[string]stateSpec
}

func wireState(spec stateSpec, parent *State, name string) *State {
	state := &State{
		name:     name,
		parent:   parent,
		flags:    spec.flags,
		handlers: spec.handlers,
		setup:    spec.setup,
		children: make(map[string]*State, len(spec.children)),
	}
	if parent == nil {
		state.path = name
	} else {
		state.path = parent.path + "." + name
	}
	for childName, childSpec := range spec.children {
		state.children[childName] = wireState(childSpec, state, childName)
	}
	return state
}

func transitionHandler(target string) stateHandler {
	return func(c *core, _ string) {
		c.transitionTo(target)
	}
}

func dirtySetup(c *core) {
	c.self.notifyOwnerDirty()
}

func savedSetup(c *core) {
	c.self.notifyOwnerClean()
}

func updatedPropertyWasReset(c *core, _ string) {
	if !c.hasChangedAttributes() {
		c.send(EventRolledBack, "")
	}
}

// RootState is the lifecycle tree shared by every fragment and record:
//
//	root
//	  empty
//	  loaded
//	    saved
//	    created
//	    updated
var RootState = wireState(stateSpec{
	flags: map[string]bool{
		"isEmpty":  false,
		"isLoaded": false,
		"isDirty":  false,
		"isNew":    false,
	},
	children: map[string]stateSpec{
		"empty": {
			flags: map[string]bool{"isEmpty": true},
			handlers: map[Event]stateHandler{
				EventLoadedData: transitionHandler("loaded.created"),
				EventPushedData: transitionHandler("loaded.saved"),
			},
		},
		"loaded": {
			flags: map[string]bool{"isLoaded": true},
			handlers: map[Event]stateHandler{
				EventPushedData: transitionHandler("saved"),
			},
			children: map[string]stateSpec{
				"saved": {
					setup: savedSetup,
					handlers: map[Event]stateHandler{
						EventBecomeDirty: transitionHandler("updated"),
					},
				},
				"created": {
					flags: map[string]bool{"isDirty": true, "isNew": true},
					setup: dirtySetup,
				},
				"updated": {
					flags: map[string]bool{"isDirty": true},
					setup: dirtySetup,
					handlers: map[Event]stateHandler{
						EventPropertyWasReset: updatedPropertyWasReset,
						EventRolledBack:       transitionHandler("saved"),
					},
				},
			},
		},
	},
}, nil, "root")

var (
	stateEmpty   = RootState.resolve("empty")
	stateSaved   = RootState.resolve("loaded.saved")
	stateCreated = RootState.resolve("loaded.created")
	stateUpdated = RootState.resolve("loaded.updated")
)

// LookupState resolves a dotted path below the root ("loaded.saved").
func LookupState(path string) (*State, bool) {
	path = strings.TrimPrefix(path, "root.")
	state := RootState.descend(strings.Split(path, "."))
	return state, state != nil
}
