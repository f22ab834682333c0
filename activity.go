package fragments

import (
	"slices"

	"github.com/goliatone/go-fragments/pkg/activity"
)

// WithActivityHooks registers hooks that persistence layers built on the
// store (see pkg/state) notify about record lifecycle events. Nil hooks are
// dropped.
func WithActivityHooks(hooks activity.Hooks) Option {
	kept := cloneActivityHooks(hooks)
	return func(cfg *storeConfig) {
		cfg.activityHooks = kept
	}
}

// ActivityHooks returns a copy of the registered hooks.
func (s *Store) ActivityHooks() activity.Hooks {
	if s == nil {
		return nil
	}
	return cloneActivityHooks(s.cfg.activityHooks)
}

func cloneActivityHooks(hooks activity.Hooks) activity.Hooks {
	kept := slices.DeleteFunc(slices.Clone(hooks), func(hook activity.ActivityHook) bool {
		return hook == nil
	})
	if len(kept) == 0 {
		return nil
	}
	return kept
}
