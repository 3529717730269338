// Package secstorage abstracts the platform secure key/value storage
// used for persisted tokens and settings. Ciphers and passwords are
// never stored here.
package secstorage

import (
	"encoding/json"
	"sync"
)

// SecureStorage is a platform capability for small persisted values.
// Implementations store opaque strings.
type SecureStorage interface {
	GetItem(key string) (value string, ok bool, err error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

// Service marshals typed values in and out of a SecureStorage.
type Service struct {
	storage SecureStorage
}

// NewService creates a secure storage Service
func NewService(storage SecureStorage) *Service {
	return &Service{storage: storage}
}

// Get unmarshals the value at key into out. Returns false when the
// key does not exist.
func (s *Service) Get(key string, out interface{}) (bool, error) {
	value, ok, err := s.storage.GetItem(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return false, err
	}
	return true, nil
}

// Set marshals value and stores it at key
func (s *Service) Set(key string, value interface{}) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.storage.SetItem(key, string(encoded))
}

// Remove deletes the value at key
func (s *Service) Remove(key string) error {
	return s.storage.RemoveItem(key)
}

// MemorySecureStorage is an in-memory SecureStorage for tests and
// ephemeral sessions.
type MemorySecureStorage struct {
	mu    sync.Mutex
	items map[string]string
}

// NewMemorySecureStorage creates an empty MemorySecureStorage
func NewMemorySecureStorage() *MemorySecureStorage {
	return &MemorySecureStorage{items: make(map[string]string)}
}

// GetItem implements SecureStorage
func (m *MemorySecureStorage) GetItem(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.items[key]
	return value, ok, nil
}

// SetItem implements SecureStorage
func (m *MemorySecureStorage) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

// RemoveItem implements SecureStorage
func (m *MemorySecureStorage) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}
