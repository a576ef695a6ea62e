package lock

import "sync"

// KeyedMutex provides one mutex per title so operations contending for the
// same copy set serialize while different titles proceed in parallel.
// Entries are never evicted; the key space is bounded by the catalog size.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[int64]*sync.Mutex)}
}

func (k *KeyedMutex) get(key int64) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// Lock acquires the mutex for the given key.
func (k *KeyedMutex) Lock(key int64) {
	k.get(key).Lock()
}

// Unlock releases the mutex for the given key.
func (k *KeyedMutex) Unlock(key int64) {
	k.get(key).Unlock()
}
