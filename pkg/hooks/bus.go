package hooks

import (
	"context"
	"errors"
	"sync"
)

// Membership and team lifecycle events.
const (
	EventAddingMember   = "member.adding"
	EventMemberAdded    = "member.added"
	EventRemovingMember = "member.removing"
	EventMemberRemoved  = "member.removed"
	EventTeamCreated    = "team.created"
	EventTeamUpdated    = "team.updated"
	EventTeamDeleted    = "team.deleted"
	EventTeamSwitched   = "team.switched"
)

// ErrRejected is returned by a before-hook to veto the operation. The
// surrounding service call aborts before any database write.
var ErrRejected = errors.New("operation rejected by hook")

// Event carries the subjects of a lifecycle event. Unused fields are
// zero.
type Event struct {
	Name     string
	TeamID   int64
	ActorID  int64
	TargetID int64
	Email    string
	Role     string
}

// Func is a hook callback. A before-hook returning a non-nil error
// aborts the operation; after-hook errors are reported to the caller of
// FireAfter but the operation has already committed.
type Func func(ctx context.Context, e Event) error

// Bus is a registry of before/after hooks keyed by event name. Safe for
// concurrent registration and firing.
type Bus struct {
	mu     sync.RWMutex
	before map[string][]Func
	after  map[string][]Func
}

// NewBus creates an empty hook bus.
func NewBus() *Bus {
	return &Bus{
		before: make(map[string][]Func),
		after:  make(map[string][]Func),
	}
}

// Before registers fn to run before the named event commits.
func (b *Bus) Before(event string, fn Func) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.before[event] = append(b.before[event], fn)
}

// After registers fn to run after the named event commits.
func (b *Bus) After(event string, fn Func) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.after[event] = append(b.after[event], fn)
}

// FireBefore runs before-hooks in registration order and stops at the
// first error. A non-nil return means the operation must not proceed.
func (b *Bus) FireBefore(ctx context.Context, e Event) error {
	b.mu.RLock()
	fns := b.before[e.Name]
	b.mu.RUnlock()

	for _, fn := range fns {
		if err := fn(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// FireAfter runs all after-hooks in registration order and returns the
// first error encountered, if any. All hooks run regardless.
func (b *Bus) FireAfter(ctx context.Context, e Event) error {
	b.mu.RLock()
	fns := b.after[e.Name]
	b.mu.RUnlock()

	var first error
	for _, fn := range fns {
		if err := fn(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
