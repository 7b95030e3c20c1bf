package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps users and addresses in process memory; used for tests and
// running without a database_url. The mutex serializes concurrent upserts to
// the same id (last write wins).
type MemoryStore struct {
	mutex     sync.Mutex
	users     map[string]User
	addresses []DeliveryAddress
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]User)}
}

// Upsert inserts or overwrites the record for user.ID.
func (memory *MemoryStore) Upsert(ctx context.Context, user User) error {
	if user.ID == "" {
		return fmt.Errorf("store.upsert: id must be non-empty")
	}
	memory.mutex.Lock()
	defer memory.mutex.Unlock()
	user.UpdatedAtUnix = time.Now().UTC().Unix()
	memory.users[user.ID] = user
	return nil
}

// Get returns the record for id or ErrUserNotFound.
func (memory *MemoryStore) Get(ctx context.Context, id string) (User, error) {
	memory.mutex.Lock()
	defer memory.mutex.Unlock()
	user, ok := memory.users[id]
	if !ok {
		return User{}, fmt.Errorf("store.get.%s: %w", id, ErrUserNotFound)
	}
	return user, nil
}

// Save appends a delivery address.
func (memory *MemoryStore) Save(ctx context.Context, address DeliveryAddress) error {
	memory.mutex.Lock()
	defer memory.mutex.Unlock()
	address.ID = uint(len(memory.addresses) + 1)
	address.CreatedAtUnix = time.Now().UTC().Unix()
	memory.addresses = append(memory.addresses, address)
	return nil
}

// Addresses returns a copy of the saved delivery addresses.
func (memory *MemoryStore) Addresses() []DeliveryAddress {
	memory.mutex.Lock()
	defer memory.mutex.Unlock()
	cloned := make([]DeliveryAddress, len(memory.addresses))
	copy(cloned, memory.addresses)
	return cloned
}
