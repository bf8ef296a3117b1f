package localcache

import (
	"context"
	"errors"

	"github.com/kazz187/tasksync/pkg/storage"
)

// StorageKV keeps every key as <key>.json on a storage.Storage.
type StorageKV struct {
	storage storage.Storage
}

func NewStorageKV(s storage.Storage) *StorageKV {
	return &StorageKV{storage: s}
}

func (k *StorageKV) path(key string) string {
	return key + ".json"
}

func (k *StorageKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := k.storage.Read(ctx, k.path(key))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (k *StorageKV) Put(ctx context.Context, key string, value []byte) error {
	return k.storage.Write(ctx, k.path(key), value)
}

func (k *StorageKV) Delete(ctx context.Context, key string) error {
	if err := k.storage.Delete(ctx, k.path(key)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}
