// Package router is the peer runtime: it owns every inbound listener and
// outbound connection, multiplexes length-prefixed JSON-RPC frames into
// request/response/notification dispatch, and serializes outbound frames
// through a per-connection send queue (spec.md §4.2).
//
// The spec describes single-threaded cooperative suspension on many
// sources per connection. The idiomatic Go rendition is a goroutine per
// connection selecting over channels instead of awaiting a scheduler: a
// dedicated reader goroutine turns blocking frame reads into an inbound
// channel, and the connection's main loop selects over that channel, the
// send queue, and an exit signal (mirrors the `mu sync.RWMutex` /
// `closing chan struct{}` / `closeOnce sync.Once` shape used by
// core/network.go's Node and core/connection_pool.go's ConnPool).
package router

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"horde/internal/registry"
	"horde/internal/rpcerr"
	"horde/internal/wire"
)

// PeerConfig identifies the remote side of a connection once known. It is
// nil on a server-accepted connection until some handler sets it (e.g.
// the peer layer's announce handler); it is supplied up front for outbound
// connections dialed to a known topology entry.
type PeerConfig struct {
	ID   string
	Role registry.Role
}

// TransportDialer optionally wraps a raw net.Conn (e.g. in TLS) before
// framing begins. A nil dialer runs framing directly over the raw
// connection, per spec.md §9's sm_tls.py Open Question.
type TransportDialer interface {
	DialDecorate(conn net.Conn) (net.Conn, error)
	AcceptDecorate(conn net.Conn) (net.Conn, error)
}

// Router is the per-process runtime owning every connection and listener.
type Router struct {
	handlers *registry.Set
	log      *logrus.Logger
	dialer   TransportDialer

	mu      sync.RWMutex
	conns   map[string]*conn
	servers map[string]net.Listener

	nextRequestID atomic.Int64

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New builds a Router dispatching through handlers. A nil log defaults to
// logrus's standard logger, matching the nil-logger idiom used across the
// rest of this codebase.
func New(handlers *registry.Set, dialer TransportDialer, log *logrus.Logger) *Router {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Router{
		handlers: handlers,
		log:      log,
		dialer:   dialer,
		conns:    make(map[string]*conn),
		servers:  make(map[string]net.Listener),
		closing:  make(chan struct{}),
	}
}

// rpcResult is what a pending request's future resolves to.
type rpcResult struct {
	result json.RawMessage
	err    *rpcerr.RpcError
}

type conn struct {
	id     string
	router *Router
	raw    net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	peerMu sync.RWMutex
	peer   *PeerConfig

	sendQueue chan []byte

	pendingMu sync.Mutex
	pending   map[int64]chan rpcResult

	ctx    context.Context
	cancel context.CancelFunc

	handlerWG sync.WaitGroup
	exitOnce  sync.Once
	done      chan struct{}
}

func (r *Router) newConn(raw net.Conn, peer *PeerConfig) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		id:        uuid.NewString(),
		router:    r,
		raw:       raw,
		reader:    bufio.NewReader(raw),
		writer:    bufio.NewWriter(raw),
		peer:      peer,
		sendQueue: make(chan []byte, 64),
		pending:   make(map[int64]chan rpcResult),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	return c
}

func (c *conn) role() registry.Role {
	c.peerMu.RLock()
	defer c.peerMu.RUnlock()
	if c.peer == nil {
		return registry.RoleAny
	}
	return c.peer.Role
}

// SetPeerConfig records the remote identity once a handler (e.g. the peer
// layer's announce handler) resolves it. The router owns the mutation; the
// handler only supplies the value, per spec.md §9's "shared Context
// mutating fields back into the router" design note.
func (r *Router) SetPeerConfig(connID string, peer PeerConfig) error {
	c, ok := r.lookupConn(connID)
	if !ok {
		return fmt.Errorf("router: unknown connection %q", connID)
	}
	c.peerMu.Lock()
	c.peer = &peer
	c.peerMu.Unlock()
	return nil
}

// PeerIdentity returns the remote identity recorded for connID, if any has
// been set yet (see SetPeerConfig). Handlers that need to know who is
// calling them (e.g. endorser's make-money/transfer-money) use this instead
// of trusting a caller-supplied identity field.
func (r *Router) PeerIdentity(connID string) (PeerConfig, bool) {
	c, ok := r.lookupConn(connID)
	if !ok {
		return PeerConfig{}, false
	}
	c.peerMu.RLock()
	defer c.peerMu.RUnlock()
	if c.peer == nil {
		return PeerConfig{}, false
	}
	return *c.peer, true
}

func (r *Router) lookupConn(connID string) (*conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// StartServer listens on host:port and accepts connections in a background
// goroutine until the server is closed. Returns an opaque server id.
func (r *Router) StartServer(host string, port int) (string, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return "", fmt.Errorf("router: listen %s:%d: %w", host, port, err)
	}
	serverID := uuid.NewString()

	r.mu.Lock()
	r.servers[serverID] = ln
	r.mu.Unlock()

	r.wg.Add(1)
	go r.acceptLoop(serverID, ln)
	return serverID, nil
}

func (r *Router) acceptLoop(serverID string, ln net.Listener) {
	defer r.wg.Done()
	for {
		raw, err := ln.Accept()
		if err != nil {
			select {
			case <-r.closing:
				return
			default:
			}
			r.log.WithFields(logrus.Fields{"server": serverID, "error": err}).Debug("router: accept loop ended")
			return
		}
		if r.dialer != nil {
			decorated, err := r.dialer.AcceptDecorate(raw)
			if err != nil {
				r.log.WithFields(logrus.Fields{"error": err}).Warn("router: transport decorate failed, dropping connection")
				raw.Close()
				continue
			}
			raw = decorated
		}
		c := r.newConn(raw, nil)
		r.mu.Lock()
		r.conns[c.id] = c
		r.mu.Unlock()

		r.wg.Add(1)
		go r.runConn(c)

		r.fireLifecycle(c, r.handlers.ResolveOnServerConnected)
	}
}

// StartConnection dials host:port, wraps the result in framing, and fires
// the on_client_connected listener matching peer.Role (if supplied).
// Returns an opaque connection id.
func (r *Router) StartConnection(host string, port int, peer *PeerConfig) (string, error) {
	raw, err := net.Dial("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return "", fmt.Errorf("router: dial %s:%d: %w", host, port, err)
	}
	if r.dialer != nil {
		decorated, err := r.dialer.DialDecorate(raw)
		if err != nil {
			raw.Close()
			return "", fmt.Errorf("router: transport decorate: %w", err)
		}
		raw = decorated
	}
	c := r.newConn(raw, peer)
	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()

	r.wg.Add(1)
	go r.runConn(c)

	r.fireLifecycle(c, r.handlers.ResolveOnClientConnected)
	return c.id, nil
}

func (r *Router) fireLifecycle(c *conn, resolve func(registry.Role) (registry.LifecycleHandler, bool)) {
	h, ok := resolve(c.role())
	if !ok {
		return
	}
	c.handlerWG.Add(1)
	go func() {
		defer c.handlerWG.Done()
		h(c.ctx, c.id)
	}()
}

// runConn is the per-connection event loop: a dedicated reader goroutine
// feeds inbound frames onto a channel, and this goroutine selects over
// that channel, the send queue, and the exit signal, exactly the
// "simultaneous wait on several sources" spec.md §4.2 calls for.
func (r *Router) runConn(c *conn) {
	defer r.wg.Done()
	defer r.finishConn(c)

	type inboundFrame struct {
		payload []byte
		err     error
	}
	inbound := make(chan inboundFrame, 16)
	go func() {
		for {
			payload, err := wire.ReadFrame(c.reader)
			inbound <- inboundFrame{payload, err}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			// Draining happens in finishConn, after every in-flight handler
			// has returned (spec.md §4.2/§5's quiescence order: exit
			// signalled AND send-queue empty AND no in-flight handler).
			// Draining here, before handlers finish, would race a handler
			// that enqueues its response concurrently with shutdown.
			return

		case frame := <-inbound:
			if frame.err != nil {
				r.logReadError(c, frame.err)
				c.cancel()
				continue
			}
			r.dispatch(c, frame.payload)

		case payload := <-c.sendQueue:
			if err := wire.WriteFrame(c.writer, payload); err != nil {
				r.log.WithFields(logrus.Fields{"conn": c.id, "error": err}).Warn("router: write failed")
				c.cancel()
			}
		}
	}
}

func (r *Router) logReadError(c *conn, err error) {
	switch err {
	case wire.ErrNoContentLength:
		r.log.WithFields(logrus.Fields{"conn": c.id}).Warn("router: peer sent frame with no Content-Length, closing")
	default:
		r.log.WithFields(logrus.Fields{"conn": c.id, "error": err}).Debug("router: connection closed")
	}
}

// drainSendQueue flushes whatever was already enqueued before the writer
// half closes, mirroring ConnPool.Close's drain-then-close shutdown.
func (r *Router) drainSendQueue(c *conn) {
	for {
		select {
		case payload := <-c.sendQueue:
			wire.WriteFrame(c.writer, payload)
		default:
			return
		}
	}
}

func (r *Router) finishConn(c *conn) {
	// Quiescence order (spec.md §4.2/§5): wait for every in-flight handler
	// to finish enqueuing its response before draining, so a response
	// enqueued right as shutdown begins is still written to the wire
	// instead of left in a send queue nobody reads from again. No new
	// handler starts after runConn observes ctx.Done, so one wait+drain
	// pass is enough.
	c.handlerWG.Wait()
	r.drainSendQueue(c)
	c.raw.Close()
	close(c.done)

	r.mu.Lock()
	delete(r.conns, c.id)
	r.mu.Unlock()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		ch <- rpcResult{err: rpcerr.New("connection closed", nil)}
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

type peekMessage struct {
	ID     *int64           `json:"id"`
	Method *string          `json:"method"`
	Params json.RawMessage  `json:"params"`
	Result json.RawMessage  `json:"result"`
	Error  *rpcerr.RpcError `json:"error"`
}

func (r *Router) dispatch(c *conn, payload []byte) {
	var msg peekMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		r.log.WithFields(logrus.Fields{"conn": c.id, "error": err}).Warn("router: malformed frame, dropping")
		return
	}
	switch {
	case msg.Method != nil && msg.ID != nil:
		r.dispatchRequest(c, *msg.ID, *msg.Method, msg.Params)
	case msg.Method != nil:
		r.dispatchNotification(c, *msg.Method, msg.Params)
	case msg.ID != nil:
		r.dispatchResponse(c, *msg.ID, msg.Result, msg.Error)
	default:
		r.log.WithFields(logrus.Fields{"conn": c.id}).Warn("router: frame is neither request, notification nor response")
	}
}

func (r *Router) dispatchRequest(c *conn, id int64, method string, params json.RawMessage) {
	c.handlerWG.Add(1)
	go func() {
		defer c.handlerWG.Done()
		result, rpcErr := r.invokeRequest(c, method, params)
		r.enqueueResponse(c, id, result, rpcErr)
	}()
}

func (r *Router) invokeRequest(c *conn, method string, params json.RawMessage) (any, *rpcerr.RpcError) {
	h, ok := r.handlers.ResolveRequest(method, c.role())
	if !ok {
		return nil, rpcerr.NotSupported(method)
	}
	result, err := h(c.ctx, c.id, params)
	if err == nil {
		return result, nil
	}
	if rpcErr, ok := err.(*rpcerr.RpcError); ok {
		return nil, rpcErr
	}
	r.log.WithFields(logrus.Fields{"conn": c.id, "method": method, "error": err}).Error("router: handler failed")
	return nil, rpcerr.Internal()
}

func (r *Router) enqueueResponse(c *conn, id int64, result any, rpcErr *rpcerr.RpcError) {
	var payload []byte
	var err error
	if rpcErr != nil {
		payload, err = json.Marshal(struct {
			ID    int64            `json:"id"`
			Error *rpcerr.RpcError `json:"error"`
		}{id, rpcErr})
	} else {
		payload, err = json.Marshal(struct {
			ID     int64 `json:"id"`
			Result any   `json:"result"`
		}{id, result})
	}
	if err != nil {
		r.log.WithFields(logrus.Fields{"conn": c.id, "error": err}).Error("router: marshal response")
		return
	}
	r.enqueue(c, payload)
}

func (r *Router) dispatchNotification(c *conn, method string, params json.RawMessage) {
	h, ok := r.handlers.ResolveNotify(method, c.role())
	if !ok {
		return
	}
	c.handlerWG.Add(1)
	go func() {
		defer c.handlerWG.Done()
		h(c.ctx, c.id, params)
	}()
}

func (r *Router) dispatchResponse(c *conn, id int64, result json.RawMessage, rpcErr *rpcerr.RpcError) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if !ok {
		r.log.WithFields(logrus.Fields{"conn": c.id, "id": id}).Debug("router: response for unknown request id")
		return
	}
	ch <- rpcResult{result: result, err: rpcErr}
}

// enqueue favors delivering payload over an already-cancelled context: it
// tries a non-blocking send first, since the queue almost always has room,
// and only races the send against ctx.Done if the queue was actually full.
// A handler's response enqueued after shutdown begins is still drained by
// finishConn once every in-flight handler returns, so it must not be
// dropped just because select happened to pick the cancellation arm.
func (r *Router) enqueue(c *conn, payload []byte) {
	select {
	case c.sendQueue <- payload:
		return
	default:
	}
	select {
	case c.sendQueue <- payload:
	case <-c.ctx.Done():
	}
}

// Request sends method/params over connID and blocks until the matching
// response arrives, ctx is cancelled, or the connection closes.
func (r *Router) Request(ctx context.Context, connID, method string, params any) (json.RawMessage, error) {
	c, ok := r.lookupConn(connID)
	if !ok {
		return nil, fmt.Errorf("router: unknown connection %q", connID)
	}

	encodedParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("router: marshal params: %w", err)
	}
	id := r.nextRequestID.Add(1)

	var frame struct {
		ID     int64           `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params,omitempty"`
	}
	frame.ID, frame.Method, frame.Params = id, method, encodedParams
	payload, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("router: marshal request: %w", err)
	}

	resultCh := make(chan rpcResult, 1)
	c.pendingMu.Lock()
	c.pending[id] = resultCh
	c.pendingMu.Unlock()

	r.enqueue(c, payload)

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return res.result, nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("router: connection %q closed", connID)
	}
}

// Notify sends a one-way notification over connID and returns once it is
// enqueued; it does not wait for delivery.
func (r *Router) Notify(connID, method string, params any) error {
	c, ok := r.lookupConn(connID)
	if !ok {
		return fmt.Errorf("router: unknown connection %q", connID)
	}
	encodedParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("router: marshal params: %w", err)
	}
	var frame struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params,omitempty"`
	}
	frame.Method, frame.Params = method, encodedParams
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("router: marshal notification: %w", err)
	}
	r.enqueue(c, payload)
	return nil
}

// Broadcast notifies every currently open connection, best-effort; used by
// the orderer to fan out new-blockchain and by peers for
// new-blockchain-verified.
func (r *Router) Broadcast(method string, params any) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		if err := r.Notify(id, method, params); err != nil {
			r.log.WithFields(logrus.Fields{"conn": id, "error": err}).Debug("router: broadcast failed")
		}
	}
}

// CloseConnection flips connID's exit signal; in-flight handlers and
// queued sends drain before the socket closes.
func (r *Router) CloseConnection(connID string) {
	c, ok := r.lookupConn(connID)
	if !ok {
		return
	}
	c.exitOnce.Do(c.cancel)
}

// CloseServer stops accepting new connections on serverID. Already
// accepted connections are unaffected.
func (r *Router) CloseServer(serverID string) error {
	r.mu.Lock()
	ln, ok := r.servers[serverID]
	delete(r.servers, serverID)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("router: unknown server %q", serverID)
	}
	return ln.Close()
}

// Connections returns the ids and peer configs (nil where not yet known) of
// every open connection, accepted and dialed alike; the query-topology
// handler and the HTTP gateway's peer lookup both read it.
func (r *Router) Connections() map[string]*PeerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*PeerConfig, len(r.conns))
	for id, c := range r.conns {
		c.peerMu.RLock()
		out[id] = c.peer
		c.peerMu.RUnlock()
	}
	return out
}

// Shutdown closes every server and connection and waits for all
// per-connection goroutines to quiesce.
func (r *Router) Shutdown() {
	r.closeOnce.Do(func() {
		close(r.closing)
		r.mu.Lock()
		for _, ln := range r.servers {
			ln.Close()
		}
		r.mu.Unlock()

		r.mu.RLock()
		conns := make([]*conn, 0, len(r.conns))
		for _, c := range r.conns {
			conns = append(conns, c)
		}
		r.mu.RUnlock()
		for _, c := range conns {
			c.exitOnce.Do(c.cancel)
		}
		r.wg.Wait()
	})
}
