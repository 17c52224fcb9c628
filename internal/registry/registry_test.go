package registry

import (
	"context"
	"encoding/json"
	"testing"
)

func TestResolveFallsBackToRoleAny(t *testing.T) {
	s := NewSet()
	called := ""
	s.Request("ping", RoleAny, func(ctx context.Context, connID string, params json.RawMessage) (any, error) {
		called = "any"
		return nil, nil
	})
	s.Request("ping", Role("orderer"), func(ctx context.Context, connID string, params json.RawMessage) (any, error) {
		called = "orderer"
		return nil, nil
	})

	h, ok := s.ResolveRequest("ping", Role("peer"))
	if !ok {
		t.Fatalf("expected fallback handler")
	}
	if _, err := h(context.Background(), "c1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "any" {
		t.Fatalf("expected RoleAny handler, got %q", called)
	}

	h, ok = s.ResolveRequest("ping", Role("orderer"))
	if !ok {
		t.Fatalf("expected orderer handler")
	}
	if _, err := h(context.Background(), "c1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "orderer" {
		t.Fatalf("expected orderer handler, got %q", called)
	}
}

func TestDuplicateRequestPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	s := NewSet()
	noop := func(ctx context.Context, connID string, params json.RawMessage) (any, error) { return nil, nil }
	s.Request("ping", RoleAny, noop)
	s.Request("ping", RoleAny, noop)
}

func TestMergeCombinesAndDetectsCollisions(t *testing.T) {
	noop := func(ctx context.Context, connID string, params json.RawMessage) (any, error) { return nil, nil }

	a := NewSet()
	a.Request("propose_block", RoleAny, noop)
	b := NewSet()
	b.Request("submit_transaction", RoleAny, noop)

	a.Merge(b)
	if _, ok := a.ResolveRequest("submit_transaction", RoleAny); !ok {
		t.Fatalf("expected merged handler to be present")
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on merge collision")
		}
	}()
	c := NewSet()
	c.Request("propose_block", RoleAny, noop)
	a.Merge(c)
}
