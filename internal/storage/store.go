// Package storage persists JSON snapshots of client state under string keys.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Keys of the snapshots written by the client.
const (
	KeyApp          = "app-storage"
	KeyChats        = "chat-store"
	KeyModels       = "model-store"
	KeyCatalogCache = "catalog-cache"
)

// ErrNotFound is returned when no value is stored under a key.
var ErrNotFound = errors.New("storage: key not found")

// Store is a key/value store of opaque snapshot bytes. Writes overwrite the
// whole value.
type Store interface {
	// Get returns the value stored under key or ErrNotFound.
	Get(key string) ([]byte, error)

	// Set overwrites the value stored under key.
	Set(key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// Close releases any resources held by the store.
	Close() error
}

// LoadJSON decodes the value under key into v. It returns ErrNotFound when
// the key is absent and a decode error when the stored bytes are corrupt.
func LoadJSON(s Store, key string, v any) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SaveJSON encodes v and stores it under key.
func SaveJSON(s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(key, data)
}
