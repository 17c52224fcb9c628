package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"horde/internal/router"
)

// envelope mirrors the original_source client's response shape:
// {"result": ...} on success, {"error": {"message", "data"}} with HTTP 400
// on a domain-level RPC failure.
type envelope struct {
	Result any          `json:"result,omitempty"`
	Error  *errorDetail `json:"error,omitempty"`
}

type errorDetail struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeResult(w http.ResponseWriter, result any) {
	writeJSON(w, http.StatusOK, envelope{Result: result})
}

func writeRPCError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, envelope{Error: &errorDetail{Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) resolvePeer(w http.ResponseWriter, r *http.Request) (string, bool) {
	peerID := mux.Vars(r)["peer"]
	connID, ok := s.peers.resolve(peerID)
	if !ok {
		writeJSON(w, http.StatusBadRequest, envelope{Error: &errorDetail{Message: "peer offline"}})
		return "", false
	}
	return connID, true
}

func (s *Server) forward(w http.ResponseWriter, connID, method string, params any) {
	result, err := s.rpc.Request(context.Background(), connID, method, params)
	if err != nil {
		writeRPCError(w, err)
		return
	}
	var decoded any
	if len(result) > 0 {
		if err := json.Unmarshal(result, &decoded); err != nil {
			writeRPCError(w, err)
			return
		}
	}
	writeResult(w, decoded)
}

func (s *Server) handleLocalConnections(w http.ResponseWriter, r *http.Request) {
	conns := s.rpc.Connections()
	out := make(map[string]*router.PeerConfig, len(conns))
	for id, cfg := range conns {
		out[id] = cfg
	}
	writeResult(w, out)
}

func (s *Server) handlePeerTopology(w http.ResponseWriter, r *http.Request) {
	connID, ok := s.resolvePeer(w, r)
	if !ok {
		return
	}
	s.forward(w, connID, "query-topology", nil)
}

func (s *Server) handlePeerAccounts(w http.ResponseWriter, r *http.Request) {
	connID, ok := s.resolvePeer(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	params := map[string]any{"account": q.Get("account")}
	if v := q.Get("version"); v != "" {
		if version, err := strconv.Atoi(v); err == nil {
			params["version"] = version
		}
	}
	if q.Get("latest_version") == "true" {
		params["latest_version"] = true
	}
	if v := q.Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			params["limit"] = limit
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err := strconv.Atoi(v); err == nil {
			params["offset"] = offset
		}
	}
	s.forward(w, connID, "query-accounts", params)
}

func (s *Server) handlePeerBlockchainList(w http.ResponseWriter, r *http.Request) {
	connID, ok := s.resolvePeer(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	params := map[string]any{"asc": q.Get("asc") == "true"}
	if v := q.Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			params["limit"] = limit
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err := strconv.Atoi(v); err == nil {
			params["offset"] = offset
		}
	}
	s.forward(w, connID, "list-blockchains", params)
}

func (s *Server) handlePeerBlockchain(w http.ResponseWriter, r *http.Request) {
	connID, ok := s.resolvePeer(w, r)
	if !ok {
		return
	}
	number, err := strconv.Atoi(mux.Vars(r)["number"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: &errorDetail{Message: "invalid blockchain number"}})
		return
	}
	s.forward(w, connID, "query-blockchain", map[string]any{"blockchain_number": number})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: &errorDetail{Message: "invalid request body"}})
		return false
	}
	return true
}

// resolveByRole picks any currently connected peer of the given role,
// writing a 400 envelope and returning ok=false if none is connected.
func (s *Server) resolveByRole(w http.ResponseWriter, role string) (string, bool) {
	connID, ok := s.peers.resolveRole(role)
	if !ok {
		writeJSON(w, http.StatusBadRequest, envelope{Error: &errorDetail{Message: "no " + role + " currently connected"}})
		return "", false
	}
	return connID, true
}

func (s *Server) handleMakeMoney(w http.ResponseWriter, r *http.Request) {
	connID, ok := s.resolveByRole(w, "endorser")
	if !ok {
		return
	}
	var body map[string]any
	if !s.decodeBody(w, r, &body) {
		return
	}
	s.forward(w, connID, "make-money", body)
}

func (s *Server) handleTransferMoney(w http.ResponseWriter, r *http.Request) {
	connID, ok := s.resolveByRole(w, "endorser")
	if !ok {
		return
	}
	// transfer-money's wire shape is a bare array of {amount,target}, not an
	// object, so the body is decoded and forwarded as raw JSON rather than
	// through the map[string]any shape the other POST handlers use.
	var body json.RawMessage
	if !s.decodeBody(w, r, &body) {
		return
	}
	s.forward(w, connID, "transfer-money", body)
}

func (s *Server) handleSubmitTransactions(w http.ResponseWriter, r *http.Request) {
	connID, ok := s.resolveByRole(w, "orderer")
	if !ok {
		return
	}
	var body map[string]any
	if !s.decodeBody(w, r, &body) {
		return
	}
	s.forward(w, connID, "submit-transactions", body)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("httpapi: websocket upgrade failed")
		return
	}
	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	runWSWriter(conn, ch, done)
	conn.Close()
}

// PushHandlers builds notification handlers that forward new-blockchain and
// new-blockchain-verified traffic received over any of this gateway's
// connections to every subscribed websocket client.
func (s *Server) PushHandlers() (onBlock, onVerified func(ctx context.Context, connID string, params json.RawMessage)) {
	onBlock = func(ctx context.Context, connID string, params json.RawMessage) {
		var data any
		_ = json.Unmarshal(params, &data)
		s.hub.publish("new-blockchain", data)
	}
	onVerified = func(ctx context.Context, connID string, params json.RawMessage) {
		var data any
		_ = json.Unmarshal(params, &data)
		s.hub.publish("new-blockchain-verified", data)
	}
	return onBlock, onVerified
}
