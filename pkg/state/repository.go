package state

import (
	"context"
	"errors"
	"fmt"
	"sort"

	fragments "github.com/goliatone/go-fragments"
	"github.com/goliatone/go-fragments/pkg/activity"
	"github.com/google/uuid"
)

// Snapshot is the plain payload persisted for one record.
type Snapshot = map[string]any

// Repository loads records into a fragments.Store and saves them through a
// Store, driving the record lifecycle around each save.
type Repository struct {
	Store   Store[Snapshot]
	Records *fragments.Store
	// Emitter receives record lifecycle events. When nil, the hooks configured
	// on Records are used.
	Emitter *activity.Emitter
	// Actor fills ActorID and TenantID on emitted events.
	Actor func(ctx context.Context) (actorID, tenantID string)
}

// Find loads model/id and pushes the snapshot into the record store. A record
// already known to the store is updated in place.
func (r Repository) Find(ctx context.Context, model, id string) (*fragments.Record, Meta, error) {
	if err := r.check(); err != nil {
		return nil, Meta{}, err
	}
	ref := Ref{Model: model, ID: id}
	snapshot, meta, ok, err := r.Store.Load(ctx, ref)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("state: load %s/%s: %w", model, id, err)
	}
	if !ok {
		return nil, Meta{}, fmt.Errorf("%w: %s/%s", ErrNotFound, model, id)
	}
	record, err := r.Records.Push(model, id, snapshot)
	if err != nil {
		return nil, meta, err
	}
	r.emit(ctx, activity.BuildRecordLoadedEvent(r.eventInput(ctx, record, meta, nil)))
	return record, meta, nil
}

// Save validates record and persists its snapshot. New records are assigned a
// uuid id first. A non-empty meta.ETag must match the stored ETag. On a failed
// save the record keeps its changes as local changes.
func (r Repository) Save(ctx context.Context, record *fragments.Record, meta Meta) (Meta, error) {
	if err := r.check(); err != nil {
		return Meta{}, err
	}
	if record == nil {
		return Meta{}, fmt.Errorf("state: record is required")
	}
	if err := record.Validate(); err != nil {
		return Meta{}, err
	}

	created := record.IsNew()
	id := record.ID()
	if id == "" {
		id = uuid.NewString()
	}
	ref := Ref{Model: record.ModelName(), ID: id}

	_, current, ok, err := r.Store.Load(ctx, ref)
	if err != nil {
		return Meta{}, fmt.Errorf("state: load %s/%s: %w", ref.Model, ref.ID, err)
	}
	if ok && meta.ETag != "" && current.ETag != "" && meta.ETag != current.ETag {
		return current, fmt.Errorf("%w: expected %q, got %q", ErrETagMismatch, meta.ETag, current.ETag)
	}

	changed := changedKeys(record)
	record.WillCommit()
	snapshot := record.Snapshot()
	snapshot["id"] = id

	saved, err := r.Store.Save(ctx, ref, snapshot, mergeMeta(current, meta))
	if err != nil {
		record.AdapterDidFail()
		return current, fmt.Errorf("state: save %s/%s: %w", ref.Model, ref.ID, err)
	}
	if err := record.AdapterDidCommit(Snapshot{"id": id}); err != nil {
		return saved, err
	}

	input := r.eventInput(ctx, record, saved, changed)
	if created {
		r.emit(ctx, activity.BuildRecordCreatedEvent(input))
	} else {
		r.emit(ctx, activity.BuildRecordUpdatedEvent(input))
	}
	return saved, nil
}

// Rollback discards the local changes of record.
func (r Repository) Rollback(ctx context.Context, record *fragments.Record) error {
	if record == nil {
		return fmt.Errorf("state: record is required")
	}
	changed := changedKeys(record)
	record.Rollback()
	if len(changed) > 0 {
		r.emit(ctx, activity.BuildRecordRolledBackEvent(r.eventInput(ctx, record, Meta{}, changed)))
	}
	return nil
}

func (r Repository) check() error {
	var errs []error
	if r.Store == nil {
		errs = append(errs, fmt.Errorf("state: store is required"))
	}
	if r.Records == nil {
		errs = append(errs, fmt.Errorf("state: record store is required"))
	}
	return errors.Join(errs...)
}

func (r Repository) emitter() *activity.Emitter {
	if r.Emitter != nil {
		return r.Emitter
	}
	if r.Records == nil {
		return nil
	}
	return activity.NewEmitter(r.Records.ActivityHooks(), activity.Config{Enabled: true, Channel: activity.DefaultChannel})
}

// emit never fails the operation; hooks are observers.
func (r Repository) emit(ctx context.Context, event activity.Event) {
	_ = r.emitter().Emit(ctx, event)
}

func (r Repository) eventInput(ctx context.Context, record *fragments.Record, meta Meta, changed []string) activity.RecordEventInput {
	input := activity.RecordEventInput{
		Model:      record.ModelName(),
		RecordID:   record.ID(),
		Changed:    changed,
		SnapshotID: meta.SnapshotID,
		State:      record.State().Path(),
	}
	if record.ID() == "" {
		input.Location = record.ModelName() + "/" + record.ClientID()
	}
	if r.Actor != nil {
		input.ActorID, input.TenantID = r.Actor(ctx)
	}
	return input
}

func changedKeys(record *fragments.Record) []string {
	changes := record.ChangedAttributes()
	keys := make([]string, 0, len(changes))
	for key := range changes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
