package router

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"horde/internal/registry"
)

func loopbackPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestRequestResponseRoundTrip(t *testing.T) {
	handlers := registry.NewSet()
	handlers.Request("echo", registry.RoleAny, func(ctx context.Context, connID string, params json.RawMessage) (any, error) {
		var s string
		if err := json.Unmarshal(params, &s); err != nil {
			return nil, err
		}
		return s, nil
	})

	serverRouter := New(handlers, nil, nil)
	clientRouter := New(registry.NewSet(), nil, nil)
	defer serverRouter.Shutdown()
	defer clientRouter.Shutdown()

	port := loopbackPort(t)
	if _, err := serverRouter.StartServer("127.0.0.1", port); err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	connID, err := clientRouter.StartConnection("127.0.0.1", port, nil)
	if err != nil {
		t.Fatalf("StartConnection: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := clientRouter.Request(ctx, connID, "echo", "hello")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	var got string
	if err := json.Unmarshal(result, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestUnsupportedMethodReturnsError(t *testing.T) {
	serverRouter := New(registry.NewSet(), nil, nil)
	clientRouter := New(registry.NewSet(), nil, nil)
	defer serverRouter.Shutdown()
	defer clientRouter.Shutdown()

	port := loopbackPort(t)
	if _, err := serverRouter.StartServer("127.0.0.1", port); err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	connID, err := clientRouter.StartConnection("127.0.0.1", port, nil)
	if err != nil {
		t.Fatalf("StartConnection: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = clientRouter.Request(ctx, connID, "no-such-method", nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if err.Error() != "no-such-method not supported" {
		t.Fatalf("got %q", err.Error())
	}
}

func TestNotificationDispatch(t *testing.T) {
	received := make(chan string, 1)
	handlers := registry.NewSet()
	handlers.Notify("ping", registry.RoleAny, func(ctx context.Context, connID string, params json.RawMessage) {
		var s string
		json.Unmarshal(params, &s)
		received <- s
	})

	serverRouter := New(handlers, nil, nil)
	clientRouter := New(registry.NewSet(), nil, nil)
	defer serverRouter.Shutdown()
	defer clientRouter.Shutdown()

	port := loopbackPort(t)
	if _, err := serverRouter.StartServer("127.0.0.1", port); err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	connID, err := clientRouter.StartConnection("127.0.0.1", port, nil)
	if err != nil {
		t.Fatalf("StartConnection: %v", err)
	}
	if err := clientRouter.Notify(connID, "ping", "hi"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case got := <-received:
		if got != "hi" {
			t.Fatalf("got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for notification")
	}
}

func TestClientConnectedLifecycleFiresForMatchingRole(t *testing.T) {
	fired := make(chan registry.Role, 1)
	handlers := registry.NewSet()
	handlers.OnClientConnected(registry.Role("orderer"), func(ctx context.Context, connID string) {
		fired <- registry.Role("orderer")
	})

	serverRouter := New(registry.NewSet(), nil, nil)
	clientRouter := New(handlers, nil, nil)
	defer serverRouter.Shutdown()
	defer clientRouter.Shutdown()

	port := loopbackPort(t)
	if _, err := serverRouter.StartServer("127.0.0.1", port); err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	_, err := clientRouter.StartConnection("127.0.0.1", port, &PeerConfig{ID: "o1", Role: registry.Role("orderer")})
	if err != nil {
		t.Fatalf("StartConnection: %v", err)
	}

	select {
	case role := <-fired:
		if role != registry.Role("orderer") {
			t.Fatalf("got role %q", role)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for lifecycle listener")
	}
}

func TestCloseConnectionDrainsAndCloses(t *testing.T) {
	serverRouter := New(registry.NewSet(), nil, nil)
	clientRouter := New(registry.NewSet(), nil, nil)
	defer serverRouter.Shutdown()

	port := loopbackPort(t)
	if _, err := serverRouter.StartServer("127.0.0.1", port); err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	connID, err := clientRouter.StartConnection("127.0.0.1", port, nil)
	if err != nil {
		t.Fatalf("StartConnection: %v", err)
	}
	clientRouter.CloseConnection(connID)
	clientRouter.Shutdown()

	if _, ok := clientRouter.lookupConn(connID); ok {
		t.Fatalf("expected connection to be removed after close")
	}
}

func portString(p int) string { return strconv.Itoa(p) }
