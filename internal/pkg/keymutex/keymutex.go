package keymutex

import "sync"

// KeyMutex hands out one mutex per key so operations on different
// conversations never contend while operations on the same conversation
// serialize. Mutexes are never released; the key space (guild ids) is small
// and long-lived.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New() *KeyMutex {
	return &KeyMutex{locks: map[string]*sync.Mutex{}}
}

func (k *KeyMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

func (k *KeyMutex) Lock(key string) {
	k.get(key).Lock()
}

func (k *KeyMutex) Unlock(key string) {
	k.get(key).Unlock()
}
