// Package httpapi is the client/admin role's HTTP surface (spec.md §4.8,
// §6): a gorilla/mux REST gateway that forwards each call over an existing
// RPC connection to a single named peer, plus a gorilla/websocket push
// stream of new-blockchain / new-blockchain-verified notifications.
// Grounded on cmd/explorer/server.go's Server{router, httpServer, routes()}
// shape and its loggingMiddleware.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"horde/internal/metrics"
	"horde/internal/router"
)

// Server exposes the network's REST/WS gateway. It holds no domain state of
// its own: every request is forwarded over rpc to whichever connection
// currently corresponds to the named peer.
type Server struct {
	mux        *mux.Router
	httpServer *http.Server
	rpc        *router.Router
	metrics    *metrics.Registry
	log        *logrus.Logger
	hub        *wsHub
	upgrader   websocket.Upgrader

	peers peerDirectory
}

// New builds a Server. rpc must already be wired to dial every peer in the
// topology at startup (see DialPeers); metrics may be nil.
func New(addr string, rpc *router.Router, m *metrics.Registry, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		mux:     mux.NewRouter(),
		rpc:     rpc,
		metrics: m,
		log:     log,
		hub:     newWSHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// This gateway serves a single permissioned network's own UI,
			// not a public multi-origin service.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		peers: peerDirectory{rpc: rpc},
	}
	s.routes()
	s.httpServer = &http.Server{Addr: addr, Handler: s.mux}
	return s
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.WithFields(logrus.Fields{"addr": s.httpServer.Addr}).Info("httpapi: listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) routes() {
	s.mux.Use(s.loggingMiddleware)

	s.mux.HandleFunc("/api/connections", s.handleLocalConnections).Methods(http.MethodGet)
	s.mux.HandleFunc("/api/{peer}/connections", s.handlePeerTopology).Methods(http.MethodGet)
	s.mux.HandleFunc("/api/{peer}/accounts", s.handlePeerAccounts).Methods(http.MethodGet)
	s.mux.HandleFunc("/api/{peer}/blockchains/", s.handlePeerBlockchainList).Methods(http.MethodGet)
	s.mux.HandleFunc("/api/{peer}/blockchains/{number:[0-9]+}", s.handlePeerBlockchain).Methods(http.MethodGet)
	// Transaction routes name no peer: the gateway holds a connection to
	// every peer and picks a suitable one (an endorser for make-money and
	// transfer-money, the orderer for submit) itself.
	s.mux.HandleFunc("/api/transaction/make-money", s.handleMakeMoney).Methods(http.MethodPost)
	s.mux.HandleFunc("/api/transaction/transfer-money", s.handleTransferMoney).Methods(http.MethodPost)
	s.mux.HandleFunc("/api/transaction/submit", s.handleSubmitTransactions).Methods(http.MethodPost)

	s.mux.HandleFunc("/api/ws", s.handleWebSocket)

	if s.metrics != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Gatherer(), promhttp.HandlerOpts{}))
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Debug("httpapi: request")
		next.ServeHTTP(w, r)
	})
}
