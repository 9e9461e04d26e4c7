package receipt

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage holds raw receipt images, addressed by key.
type Storage interface {
	// Put stores image bytes under key and returns the key.
	Put(key string, data []byte) (string, error)

	// Get retrieves image bytes by key.
	Get(key string) ([]byte, error)

	// Delete removes the image stored under key.
	Delete(key string) error
}

// LocalStorage implements Storage on the local filesystem, one file per key.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a LocalStorage rooted at basePath.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Put stores image bytes under key.
func (l *LocalStorage) Put(key string, data []byte) (string, error) {
	path := filepath.Join(l.basePath, key)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return key, nil
}

// Get retrieves image bytes by key.
func (l *LocalStorage) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, key))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes the image stored under key.
func (l *LocalStorage) Delete(key string) error {
	if err := os.Remove(filepath.Join(l.basePath, key)); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
