// Package basket holds the selections a browser session accumulates between
// page renders: chosen ingredients and the delivery address. Entries are keyed
// by a per-session basket id rather than any process-wide state, and expire
// after a configurable idle TTL.
package basket

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const defaultTTL = 2 * time.Hour

// Address is a delivery destination captured from the address page.
type Address struct {
	City   string `json:"city"`
	County string `json:"county"`
	Detail string `json:"detail_address"`
}

// Selection is everything a session has picked so far.
type Selection struct {
	Ingredients []string
	Address     Address
}

// Store keeps per-session selections with automatic expiry.
type Store struct {
	mutex sync.Mutex
	cache *ttlcache.Cache[string, Selection]
}

// NewStore constructs a Store whose entries expire ttl after their last write.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, Selection](ttl),
		ttlcache.WithDisableTouchOnHit[string, Selection](),
	)
	go cache.Start()
	return &Store{cache: cache}
}

// SetIngredients replaces the ingredient selection for the session.
func (store *Store) SetIngredients(basketID string, ingredients []string) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	selection := store.currentLocked(basketID)
	selection.Ingredients = append([]string(nil), ingredients...)
	store.cache.Set(basketID, selection, ttlcache.DefaultTTL)
}

// SetAddress replaces the delivery address for the session.
func (store *Store) SetAddress(basketID string, address Address) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	selection := store.currentLocked(basketID)
	selection.Address = address
	store.cache.Set(basketID, selection, ttlcache.DefaultTTL)
}

// Get returns the session's selections, reporting whether any exist.
func (store *Store) Get(basketID string) (Selection, bool) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	item := store.cache.Get(basketID)
	if item == nil {
		return Selection{}, false
	}
	return item.Value(), true
}

// Close stops the background expiry loop.
func (store *Store) Close() {
	store.cache.Stop()
}

func (store *Store) currentLocked(basketID string) Selection {
	if item := store.cache.Get(basketID); item != nil {
		return item.Value()
	}
	return Selection{}
}
