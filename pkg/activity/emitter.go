package activity

import (
	"context"
	"strings"
)

// DefaultChannel is stamped on events emitted without a channel.
const DefaultChannel = "fragments"

// Config controls emission. A disabled emitter drops every event.
type Config struct {
	Enabled bool
	Channel string
}

// Emitter sends record events to hooks, filling in the configured channel.
type Emitter struct {
	hooks   Hooks
	enabled bool
	channel string
}

// NewEmitter constructs an emitter. Nil hooks are discarded.
func NewEmitter(hooks Hooks, cfg Config) *Emitter {
	var kept Hooks
	for _, hook := range hooks {
		if hook != nil {
			kept = append(kept, hook)
		}
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = DefaultChannel
	}
	return &Emitter{
		hooks:   kept,
		enabled: cfg.Enabled && len(kept) > 0,
		channel: channel,
	}
}

// Enabled reports whether Emit will reach any hook.
func (e *Emitter) Enabled() bool {
	return e != nil && e.enabled
}

// Channel returns the channel applied to events that carry none.
func (e *Emitter) Channel() string {
	if e == nil {
		return DefaultChannel
	}
	return e.channel
}

// Emit forwards each event to the hooks. Errors are joined per event by
// Hooks.Notify; the first failing event stops the batch.
func (e *Emitter) Emit(ctx context.Context, events ...Event) error {
	if !e.Enabled() {
		return nil
	}
	for _, event := range events {
		if strings.TrimSpace(event.Channel) == "" {
			event.Channel = e.channel
		}
		if err := e.hooks.Notify(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
