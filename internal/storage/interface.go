package storage

import "errors"

// ErrNotFound is returned by Retrieve when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// StorageInterface defines the contract for storage operations.
// A single Store call is all-or-nothing from the caller's point of view.
type StorageInterface interface {
	Store(key string, data []byte) error
	Retrieve(key string) ([]byte, error)
	List(prefix string) ([]string, error)
	Delete(key string) error
}
