package permission

import (
	"errors"
	"sync"
)

// RoleManager composes registered permissions into named roles. Role
// names line up with the role strings carried on accounts and access
// tokens, so a token's role set resolves to one combined Mask.
type RoleManager struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[string]Mask
	frozen bool
}

func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{
		registry: registry,
		roles:    make(map[string]Mask),
	}
}

// RegisterRole defines a role as the set of named permissions. Every
// permission must already exist in the registry.
func (rm *RoleManager) RegisterRole(roleName string, permissionNames []string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("permission: role manager frozen")
	}
	if roleName == "" {
		return errors.New("permission: role name empty")
	}
	if _, exists := rm.roles[roleName]; exists {
		return errors.New("permission: role already registered")
	}

	var mask Mask
	for _, perm := range permissionNames {
		bit, ok := rm.registry.Bit(perm)
		if !ok {
			return errors.New("permission: not registered: " + perm)
		}
		mask.Set(bit)
	}

	rm.roles[roleName] = mask
	return nil
}

// RegisterRootRole defines a role holding the reserved root bit. Fails
// when the registry was built without root reservation.
func (rm *RoleManager) RegisterRootRole(roleName string) error {
	bit, ok := rm.registry.RootBit()
	if !ok {
		return errors.New("permission: root bit not reserved")
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("permission: role manager frozen")
	}
	if _, exists := rm.roles[roleName]; exists {
		return errors.New("permission: role already registered")
	}

	var mask Mask
	mask.Set(bit)
	rm.roles[roleName] = mask
	return nil
}

// Mask returns the permission mask for one role.
func (rm *RoleManager) Mask(roleName string) (Mask, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	mask, ok := rm.roles[roleName]
	return mask, ok
}

// Combined returns the union mask for a role set, such as the roles
// carried on a validated access token. Unknown roles contribute nothing.
func (rm *RoleManager) Combined(roleNames []string) Mask {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var mask Mask
	for _, name := range roleNames {
		mask = mask.Union(rm.roles[name])
	}
	return mask
}

// Allowed reports whether the role set holds the named permission.
func (rm *RoleManager) Allowed(roleNames []string, permissionName string) bool {
	bit, ok := rm.registry.Bit(permissionName)
	if !ok {
		return false
	}
	_, rootReserved := rm.registry.RootBit()
	return rm.Combined(roleNames).Has(bit, rootReserved)
}

// Freeze prevents further role registrations.
func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.frozen = true
}

// Count returns the number of registered roles.
func (rm *RoleManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.roles)
}
