// Package localcache is the process-local durable cache mirroring the record
// store. Each entity kind is stored as one JSON array under a fixed key.
package localcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Keys of the cached entity lists.
const (
	KeyTasks    = "kami_tasks"
	KeyDocs     = "kami_docs"
	KeyPeople   = "agent_people"
	KeyProjects = "kami_projects"
	KeySkills   = "kami_skills"
	KeyMemory   = "kami_memory"
)

// KV is a durable byte store addressed by key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Load decodes the list stored at key. A missing key, a read failure or a
// corrupt value all yield an empty list; failures are logged.
func Load[T any](ctx context.Context, kv KV, key string) []T {
	data, ok, err := kv.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "localcache: read failed", "key", key, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		slog.WarnContext(ctx, "localcache: discarding corrupt value", "key", key, "error", err)
		return nil
	}
	return out
}

// Store replaces the list stored at key.
func Store[T any](ctx context.Context, kv KV, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
