package permission

import (
	"errors"
	"sync"
)

// Registry maps permission names to bit positions. Register everything at
// startup, then Freeze; a frozen registry is read-only and lock-cheap.
type Registry struct {
	rootReserved bool

	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry creates an empty registry. rootReserved keeps bit 63 for a
// super-admin permission that implies every other bit.
func NewRegistry(rootReserved bool) *Registry {
	return &Registry{
		rootReserved: rootReserved,
		nameToBit:    make(map[string]int),
		bitToName:    make(map[int]string),
	}
}

// Register assigns the next free bit to the named permission and returns
// it. Registration fails once the registry is frozen or full.
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, errors.New("permission: registry frozen")
	}
	if name == "" {
		return -1, errors.New("permission: name cannot be empty")
	}
	if _, exists := r.nameToBit[name]; exists {
		return -1, errors.New("permission: already registered")
	}

	next := len(r.nameToBit)
	limit := 64
	if r.rootReserved {
		limit = 63
	}
	if next >= limit {
		return -1, errors.New("permission: registry full")
	}

	r.nameToBit[name] = next
	r.bitToName[next] = name
	return next, nil
}

// Bit returns the bit index for the named permission.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

// Name returns the permission name for the given bit index.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of registered permissions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}

// RootBit returns the reserved root bit, or false when disabled.
func (r *Registry) RootBit() (int, bool) {
	if !r.rootReserved {
		return -1, false
	}
	return 63, true
}
