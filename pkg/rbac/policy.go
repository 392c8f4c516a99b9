package rbac

import (
	"context"
	"sync"
)

// PolicyFunc decides an ability that is not modeled as a stored permission,
// e.g. object-ownership rules. It must be side-effect free.
type PolicyFunc func(ctx context.Context, user Authorizable, subject interface{}) bool

// PolicyRegistry holds ability policies consulted by Can when no stored
// permission matches. Registration normally happens at startup; the lock
// makes later registration safe too.
type PolicyRegistry struct {
	mu       sync.RWMutex
	policies map[string]PolicyFunc
}

// NewPolicyRegistry creates an empty registry.
func NewPolicyRegistry() *PolicyRegistry {
	return &PolicyRegistry{policies: make(map[string]PolicyFunc)}
}

// Register installs the policy for an ability, replacing any previous one.
func (r *PolicyRegistry) Register(ability string, fn PolicyFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[ability] = fn
}

// Check runs the policy for ability. The second return is false when no
// policy is registered for it.
func (r *PolicyRegistry) Check(ctx context.Context, ability string, user Authorizable, subject interface{}) (bool, bool) {
	r.mu.RLock()
	fn, ok := r.policies[ability]
	r.mu.RUnlock()
	if !ok {
		return false, false
	}
	return fn(ctx, user, subject), true
}
