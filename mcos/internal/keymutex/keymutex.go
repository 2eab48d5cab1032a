// Package keymutex provides striped mutexes keyed by string, so per-chat
// critical sections do not require one allocated lock per chat.
package keymutex

import (
	"hash/fnv"
	"sync"
)

// KeyMutex is a fixed set of mutex stripes. Keys hash onto stripes; two keys
// on the same stripe contend, which is acceptable for short sections.
type KeyMutex struct {
	stripes []sync.Mutex
}

// New creates a KeyMutex with n stripes (default 64 when n <= 0).
func New(n int) *KeyMutex {
	if n <= 0 {
		n = 64
	}
	return &KeyMutex{stripes: make([]sync.Mutex, n)}
}

func (m *KeyMutex) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.stripes)))
}

// Lock acquires the stripe for key.
func (m *KeyMutex) Lock(key string) {
	m.stripes[m.index(key)].Lock()
}

// Unlock releases the stripe for key.
func (m *KeyMutex) Unlock(key string) {
	m.stripes[m.index(key)].Unlock()
}

// RWKeyMutex is the read-write variant of KeyMutex: many holders of the read
// side per stripe, one writer. Used where a state transition must exclude
// concurrent check-then-act sections without serializing them against each
// other.
type RWKeyMutex struct {
	stripes []sync.RWMutex
}

// NewRW creates an RWKeyMutex with n stripes (default 64 when n <= 0).
func NewRW(n int) *RWKeyMutex {
	if n <= 0 {
		n = 64
	}
	return &RWKeyMutex{stripes: make([]sync.RWMutex, n)}
}

func (m *RWKeyMutex) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.stripes)))
}

// RLock acquires the read side of the stripe for key.
func (m *RWKeyMutex) RLock(key string) {
	m.stripes[m.index(key)].RLock()
}

// RUnlock releases the read side of the stripe for key.
func (m *RWKeyMutex) RUnlock(key string) {
	m.stripes[m.index(key)].RUnlock()
}

// Lock acquires the write side of the stripe for key.
func (m *RWKeyMutex) Lock(key string) {
	m.stripes[m.index(key)].Lock()
}

// Unlock releases the write side of the stripe for key.
func (m *RWKeyMutex) Unlock(key string) {
	m.stripes[m.index(key)].Unlock()
}
