package tenancy

import (
	"strings"
	"sync"
)

// KeyedLock serializes critical sections per (tenant, contact, provider) key.
// The backing store's partial unique index is the real guarantee against
// duplicate open conversations; this lock narrows the retry window for
// near-simultaneous deliveries handled by the same process.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLock creates an empty keyed lock set.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*lockEntry)}
}

// ConversationKey builds the serialization key for the open-conversation invariant.
func ConversationKey(tenantID, contactID, provider string) string {
	return strings.Join([]string{tenantID, contactID, provider}, "|")
}

// Lock acquires the lock for key, blocking until available.
func (k *KeyedLock) Lock(key string) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
}

// Unlock releases the lock for key and drops the entry once unreferenced.
func (k *KeyedLock) Unlock(key string) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		k.mu.Unlock()
		panic("tenancy: unlock of unheld key " + key)
	}
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	entry.mu.Unlock()
}
