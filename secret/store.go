package secret

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Credential keys used by the provider adapters.
const (
	ANAUsername = "ANA_USERNAME"
	ANAPassword = "ANA_PASSWORD"
	NVEAPIKey   = "NVE_API_KEY"
)

var ErrSecretNotFound = fmt.Errorf("secret not found")

type Store interface {
	// Get retrieves a secret by its key.
	Get(key string) (string, error)
	// Set stores a secret with the given key and value.
	Set(key, value string) error

	IsReady() bool
	Close() error
}

type InMemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		secrets: make(map[string]string),
	}
}

// NewStoreFromEnv copies the given environment variables into a new store,
// skipping the unset ones.
func NewStoreFromEnv(keys ...string) *InMemoryStore {
	store := NewInMemoryStore()
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			_ = store.Set(key, value)
		}
	}

	return store
}

func (s *InMemoryStore) IsReady() bool {
	return s != nil && s.secrets != nil
}

func (s *InMemoryStore) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.secrets[key]
	if !exists {
		return "", ErrSecretNotFound
	}
	return value, nil
}

func (s *InMemoryStore) Set(key, value string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if value == "" {
		return fmt.Errorf("value cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[key] = value
	return nil
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.secrets) > 0 {
		s.secrets = make(map[string]string)
	}
	return nil
}
