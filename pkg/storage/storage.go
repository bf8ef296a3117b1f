// Package storage provides the key-value blob stores shared by the record
// store, the local cache and the cron registry.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested path does not exist in storage.
var ErrNotFound = errors.New("not found")

// Storage provides an abstraction over key-value style file storage.
type Storage interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Rooted is implemented by storages backed by a local directory. Watchers use
// it to find the directory to observe.
type Rooted interface {
	BaseDir() string
}
