package hooks

import (
	"context"
	"errors"
	"testing"
)

func TestBus_FireBefore_Order(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var order []int
	bus.Before(EventAddingMember, func(_ context.Context, _ Event) error {
		order = append(order, 1)
		return nil
	})
	bus.Before(EventAddingMember, func(_ context.Context, _ Event) error {
		order = append(order, 2)
		return nil
	})

	if err := bus.FireBefore(ctx, Event{Name: EventAddingMember}); err != nil {
		t.Fatalf("FireBefore failed: %v", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("Expected hooks in registration order, got %v", order)
	}
}

func TestBus_FireBefore_RejectionStops(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	ran := false
	bus.Before(EventAddingMember, func(_ context.Context, _ Event) error {
		return ErrRejected
	})
	bus.Before(EventAddingMember, func(_ context.Context, _ Event) error {
		ran = true
		return nil
	})

	err := bus.FireBefore(ctx, Event{Name: EventAddingMember})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Expected ErrRejected, got %v", err)
	}
	if ran {
		t.Error("Expected later hooks to be skipped after rejection")
	}
}

func TestBus_FireAfter_AllRunDespiteError(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	ran := 0
	bus.After(EventMemberAdded, func(_ context.Context, _ Event) error {
		ran++
		return errors.New("first failure")
	})
	bus.After(EventMemberAdded, func(_ context.Context, _ Event) error {
		ran++
		return nil
	})

	err := bus.FireAfter(ctx, Event{Name: EventMemberAdded})
	if err == nil || err.Error() != "first failure" {
		t.Errorf("Expected first error to be returned, got %v", err)
	}
	if ran != 2 {
		t.Errorf("Expected all after-hooks to run, got %d", ran)
	}
}

func TestBus_UnknownEventIsNoop(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	if err := bus.FireBefore(ctx, Event{Name: "never.registered"}); err != nil {
		t.Errorf("Expected no error for unregistered event, got %v", err)
	}
	if err := bus.FireAfter(ctx, Event{Name: "never.registered"}); err != nil {
		t.Errorf("Expected no error for unregistered event, got %v", err)
	}
}

func TestBus_EventCarriesSubjects(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var got Event
	bus.Before(EventAddingMember, func(_ context.Context, e Event) error {
		got = e
		return nil
	})

	e := Event{Name: EventAddingMember, TeamID: 3, ActorID: 1, TargetID: 2, Email: "new@example.com", Role: "editor"}
	if err := bus.FireBefore(ctx, e); err != nil {
		t.Fatalf("FireBefore failed: %v", err)
	}
	if got != e {
		t.Errorf("Expected event %+v, got %+v", e, got)
	}
}
