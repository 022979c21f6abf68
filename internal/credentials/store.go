// Package credentials persists the session's bearer tokens between runs.
// The token pair is the only durable client state.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

const (
	// KeyAccessToken is the durable key of the access token.
	KeyAccessToken = "accessToken"
	// KeyRefreshToken is the durable key of the refresh token.
	KeyRefreshToken = "refreshToken"
)

var (
	// ErrNotFound indicates the key has no stored value.
	ErrNotFound = errors.New("credentials: not found")
	// ErrInvalidKey indicates an empty storage key.
	ErrInvalidKey = errors.New("credentials: invalid key")
)

// Store is a durable string key-value store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Pair is the token pair handed out by login.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Empty reports whether the pair has no access token.
func (p Pair) Empty() bool {
	return strings.TrimSpace(p.AccessToken) == ""
}

// SavePair writes both tokens.
func SavePair(ctx context.Context, store Store, pair Pair) error {
	if err := store.Put(ctx, KeyAccessToken, pair.AccessToken); err != nil {
		return fmt.Errorf("credentials: save access token: %w", err)
	}
	if err := store.Put(ctx, KeyRefreshToken, pair.RefreshToken); err != nil {
		return fmt.Errorf("credentials: save refresh token: %w", err)
	}
	return nil
}

// LoadPair reads both tokens. A missing refresh token is tolerated; a missing
// access token yields ErrNotFound.
func LoadPair(ctx context.Context, store Store) (Pair, error) {
	access, err := store.Get(ctx, KeyAccessToken)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := store.Get(ctx, KeyRefreshToken)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Pair{}, err
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// ClearPair removes both tokens, attempting the second even if the first fails.
func ClearPair(ctx context.Context, store Store) error {
	return errors.Join(
		store.Delete(ctx, KeyAccessToken),
		store.Delete(ctx, KeyRefreshToken),
	)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (m *MemoryStore) Put(_ context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Len returns how many keys are stored.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}
