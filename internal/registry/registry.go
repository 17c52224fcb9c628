// Package registry is the compile-time association of (method name,
// optional peer role) to handler function, plus connection-lifecycle
// listeners, described in spec.md §4.3. There is no reflection: each role
// package builds a Set explicitly at startup (mirrors the explicit
// "routes()"-style wiring used throughout the teacher pack's cmd/ and
// core/ packages), and duplicate registrations panic immediately since
// they are a configuration bug, not a runtime condition.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
)

// Role tags a peer's static configuration. RoleAny is the wildcard
// fallback used when no role-specific handler is registered.
type Role string

const RoleAny Role = ""

// RequestHandler answers one JSON-RPC request. Returning an *rpcerr.RpcError
// (or any error) is converted by the router into an error response.
type RequestHandler func(ctx context.Context, connID string, params json.RawMessage) (any, error)

// NotifyHandler handles a one-way notification; there is no reply.
type NotifyHandler func(ctx context.Context, connID string, params json.RawMessage)

// LifecycleHandler runs once when a connection reaches the relevant
// lifecycle point (accepted on the server side, established on the client
// side).
type LifecycleHandler func(ctx context.Context, connID string)

type key struct {
	method string
	role   Role
}

// Set is one role's (or the router's merged) dispatch tables.
type Set struct {
	requests          map[key]RequestHandler
	notifications     map[key]NotifyHandler
	onServerConnected map[Role]LifecycleHandler
	onClientConnected map[Role]LifecycleHandler
}

// NewSet returns an empty, ready-to-populate Set.
func NewSet() *Set {
	return &Set{
		requests:          make(map[key]RequestHandler),
		notifications:     make(map[key]NotifyHandler),
		onServerConnected: make(map[Role]LifecycleHandler),
		onClientConnected: make(map[Role]LifecycleHandler),
	}
}

// Request registers h for (method, role). Panics if the pair is already
// registered.
func (s *Set) Request(method string, role Role, h RequestHandler) {
	k := key{method, role}
	if _, exists := s.requests[k]; exists {
		panic(fmt.Sprintf("registry: duplicate request handler for method %q role %q", method, role))
	}
	s.requests[k] = h
}

// Notify registers h for (method, role). Panics if the pair is already
// registered.
func (s *Set) Notify(method string, role Role, h NotifyHandler) {
	k := key{method, role}
	if _, exists := s.notifications[k]; exists {
		panic(fmt.Sprintf("registry: duplicate notification handler for method %q role %q", method, role))
	}
	s.notifications[k] = h
}

// OnServerConnected registers the lifecycle listener fired when a
// connection of the given role is accepted server-side. RoleAny registers
// the default fired when no role-specific listener matches.
func (s *Set) OnServerConnected(role Role, h LifecycleHandler) {
	if _, exists := s.onServerConnected[role]; exists {
		panic(fmt.Sprintf("registry: duplicate on_server_connected listener for role %q", role))
	}
	s.onServerConnected[role] = h
}

// OnClientConnected registers the lifecycle listener fired when an
// outbound connection of the given role is established.
func (s *Set) OnClientConnected(role Role, h LifecycleHandler) {
	if _, exists := s.onClientConnected[role]; exists {
		panic(fmt.Sprintf("registry: duplicate on_client_connected listener for role %q", role))
	}
	s.onClientConnected[role] = h
}

// Merge folds other's tables into s, panicking on any (method, role)
// collision, and returns s.
func (s *Set) Merge(other *Set) *Set {
	for k, h := range other.requests {
		s.Request(k.method, k.role, h)
	}
	for k, h := range other.notifications {
		s.Notify(k.method, k.role, h)
	}
	for role, h := range other.onServerConnected {
		s.OnServerConnected(role, h)
	}
	for role, h := range other.onClientConnected {
		s.OnClientConnected(role, h)
	}
	return s
}

// ResolveRequest looks up the handler for (method, role), falling back to
// (method, RoleAny).
func (s *Set) ResolveRequest(method string, role Role) (RequestHandler, bool) {
	if h, ok := s.requests[key{method, role}]; ok {
		return h, true
	}
	h, ok := s.requests[key{method, RoleAny}]
	return h, ok
}

// ResolveNotify looks up the handler for (method, role), falling back to
// (method, RoleAny).
func (s *Set) ResolveNotify(method string, role Role) (NotifyHandler, bool) {
	if h, ok := s.notifications[key{method, role}]; ok {
		return h, true
	}
	h, ok := s.notifications[key{method, RoleAny}]
	return h, ok
}

// ResolveOnServerConnected returns the listener for role, falling back to
// the RoleAny default.
func (s *Set) ResolveOnServerConnected(role Role) (LifecycleHandler, bool) {
	if h, ok := s.onServerConnected[role]; ok {
		return h, true
	}
	h, ok := s.onServerConnected[RoleAny]
	return h, ok
}

// ResolveOnClientConnected returns the listener for role, falling back to
// the RoleAny default.
func (s *Set) ResolveOnClientConnected(role Role) (LifecycleHandler, bool) {
	if h, ok := s.onClientConnected[role]; ok {
		return h, true
	}
	h, ok := s.onClientConnected[RoleAny]
	return h, ok
}
