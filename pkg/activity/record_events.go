package activity

import (
	"sort"
	"strings"
	"time"
)

// RecordEventInput describes the common fields for record lifecycle events.
// Location identifies records without an id yet; Changed lists the attributes
// saved or discarded by the operation.
type RecordEventInput struct {
	ActorID        string
	UserID         string
	TenantID       string
	Model          string
	RecordID       string
	Location       string
	Channel        string
	DefinitionCode string
	Recipients     []string
	Metadata       map[string]any
	Changed        []string
	SnapshotID     string
	State          string
	OccurredAt     time.Time
}

// BuildRecordCreatedEvent constructs an activity event for the first save of
// a new record.
func BuildRecordCreatedEvent(input RecordEventInput) Event {
	return buildRecordEvent("record.created", input)
}

// BuildRecordUpdatedEvent constructs an activity event for a save of an
// existing record.
func BuildRecordUpdatedEvent(input RecordEventInput) Event {
	return buildRecordEvent("record.updated", input)
}

// BuildRecordLoadedEvent constructs an activity event for a record pushed from
// storage.
func BuildRecordLoadedEvent(input RecordEventInput) Event {
	return buildRecordEvent("record.loaded", input)
}

// BuildRecordRolledBackEvent constructs an activity event for discarded local
// changes.
func BuildRecordRolledBackEvent(input RecordEventInput) Event {
	return buildRecordEvent("record.rolled_back", input)
}

func buildRecordEvent(verb string, input RecordEventInput) Event {
	objectType := strings.TrimSpace(input.Model)
	if objectType == "" {
		objectType = "record"
	}

	metadata := cloneMetadata(input.Metadata)
	if model := strings.TrimSpace(input.Model); model != "" {
		metadata = ensureMetadata(metadata)
		metadata["model"] = model
	}
	if input.Location != "" {
		metadata = ensureMetadata(metadata)
		metadata["location"] = input.Location
	}
	if len(input.Changed) > 0 {
		changed := append([]string{}, input.Changed...)
		sort.Strings(changed)
		metadata = ensureMetadata(metadata)
		metadata["changed"] = changed
	}
	if input.SnapshotID != "" {
		metadata = ensureMetadata(metadata)
		metadata["snapshot_id"] = input.SnapshotID
	}
	if input.State != "" {
		metadata = ensureMetadata(metadata)
		metadata["state"] = input.State
	}

	recipients := input.Recipients
	if len(recipients) > 0 {
		recipients = append([]string{}, input.Recipients...)
	}

	objectID := strings.TrimSpace(input.RecordID)
	if objectID == "" {
		objectID = strings.TrimSpace(input.Location)
	}
	if objectID == "" {
		objectID = strings.TrimSpace(input.SnapshotID)
	}
	if objectID == "" {
		objectID = objectType
	}

	return Event{
		Verb:           verb,
		ActorID:        strings.TrimSpace(input.ActorID),
		UserID:         strings.TrimSpace(input.UserID),
		TenantID:       strings.TrimSpace(input.TenantID),
		ObjectType:     objectType,
		ObjectID:       objectID,
		Channel:        strings.TrimSpace(input.Channel),
		DefinitionCode: strings.TrimSpace(input.DefinitionCode),
		Recipients:     recipients,
		Metadata:       metadata,
		OccurredAt:     input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
