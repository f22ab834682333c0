package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrETagMismatch = errors.New("state: etag mismatch")

var ErrNotFound = errors.New("state: snapshot not found")

// Ref identifies one persisted record snapshot.
type Ref struct {
	Model string
	ID    string
}

// Identifier returns the canonical storage key "model/id".
func (r Ref) Identifier() (string, error) {
	model := strings.TrimSpace(r.Model)
	if model == "" {
		return "", fmt.Errorf("state: model is required")
	}
	id := strings.TrimSpace(r.ID)
	if id == "" {
		return "", fmt.Errorf("state: id is required for model %q", model)
	}
	if strings.Contains(model, "/") {
		return "", fmt.Errorf("state: model %q must not contain %q", model, "/")
	}
	return model + "/" + id, nil
}

// Meta is storage-owned metadata used for audit and concurrency control.
type Meta struct {
	SnapshotID string            `json:"snapshot_id,omitempty"`
	ETag       string            `json:"etag,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Store loads/saves one snapshot for a single record reference.
type Store[T any] interface {
	Load(ctx context.Context, ref Ref) (snapshot T, meta Meta, ok bool, err error)
	Save(ctx context.Context, ref Ref, snapshot T, meta Meta) (Meta, error)
}

func mergeMeta(base, override Meta) Meta {
	out := base
	if override.SnapshotID != "" {
		out.SnapshotID = override.SnapshotID
	}
	if override.ETag != "" {
		out.ETag = override.ETag
	}
	if !override.UpdatedAt.IsZero() {
		out.UpdatedAt = override.UpdatedAt
	}
	if override.Extra != nil {
		out.Extra = override.Extra
	}
	return out
}
