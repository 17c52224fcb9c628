package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"horde/internal/config"
	"horde/internal/endorser"
	"horde/internal/httpapi"
	"horde/internal/keystore"
	"horde/internal/metrics"
	"horde/internal/orderer"
	"horde/internal/peer"
	"horde/internal/registry"
	"horde/internal/router"
	"horde/internal/store"
	"horde/internal/transport"
)

// meshShouldDial keeps the peer-to-peer topology to exactly one connection
// per pair: a peer only dials peers that come after it in cfg.Peers, so the
// other side's accepted connection is the pair's only link. Dialing both
// directions would give the orderer two routes to the same peer and double
// its verification votes.
func meshShouldDial(peers []config.NodeConfig, selfID, otherID string) bool {
	seenSelf := false
	for _, p := range peers {
		if p.ID == selfID {
			seenSelf = true
			continue
		}
		if p.ID == otherID {
			return seenSelf
		}
	}
	return false
}

// announce reports this node's own id and role to the remote side of
// connID, so the remote's accepted connection resolves to our real role
// instead of RoleAny for every later role-gated request we send it.
func announce(ctx context.Context, rtr *router.Router, connID, selfID, selfRole string) error {
	params, err := json.Marshal(announceParams{ID: selfID, Role: selfRole})
	if err != nil {
		return err
	}
	_, err = rtr.Request(ctx, connID, "announce", json.RawMessage(params))
	return err
}

type announceParams struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

func newTLSDialer(cfg *config.Config) (router.TransportDialer, error) {
	if !cfg.TLS.Enabled {
		return nil, nil
	}
	tlsCfg, err := transport.NewTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.RequireClientCert)
	if err != nil {
		return nil, fmt.Errorf("horde: build TLS config: %w", err)
	}
	return transport.TLSDialer{Config: tlsCfg}, nil
}

// runPeerNode wires and runs an orderer or endorser role node until ctx is
// cancelled: its own store, its own peer-layer state, a server listening on
// its configured address, and an outbound connection to every peer that
// follows it in the topology (see meshShouldDial).
func runPeerNode(ctx context.Context, cfg *config.Config, node config.NodeConfig, log *logrus.Logger) error {
	st, err := store.Open(filepath.Join(cfg.Storage.DataDir, node.ID))
	if err != nil {
		return fmt.Errorf("horde: open store for %s: %w", node.ID, err)
	}
	defer st.Close()

	ks := keystore.Open(cfg.Keystore.PublicDir)
	m := metrics.New()

	var rtr *router.Router
	broadcast := func(method string, params any) {
		if rtr != nil {
			rtr.Broadcast(method, params)
		}
	}
	topology := func() []peer.TopologyEntry {
		var entries []peer.TopologyEntry
		if rtr == nil {
			return entries
		}
		for _, conn := range rtr.Connections() {
			if conn != nil {
				entries = append(entries, peer.TopologyEntry{ID: conn.ID, Role: string(conn.Role)})
			}
		}
		return entries
	}

	setPeerConfig := func(connID, id, role string) error {
		if rtr == nil {
			return fmt.Errorf("horde: router not ready")
		}
		return rtr.SetPeerConfig(connID, router.PeerConfig{ID: id, Role: registry.Role(role)})
	}
	resolveCaller := func(connID string) (string, bool) {
		if rtr == nil {
			return "", false
		}
		identity, ok := rtr.PeerIdentity(connID)
		return identity.ID, ok
	}

	peerLayer := peer.New(node.ID, len(cfg.Peers), st, ks, m, broadcast, topology, setPeerConfig, log)

	var handlers *registry.Set
	var run func(context.Context)

	switch registry.Role(node.Role) {
	case registry.Role("orderer"):
		buildTimeout := time.Duration(cfg.Orderer.BlockchainCreationTimeoutSeconds * float64(time.Second))
		o := orderer.New(peerLayer, st, ks, m, cfg.Orderer.MaxTransactionPool, buildTimeout, broadcast, log)
		handlers = o.Handlers()
		run = o.Run
	case registry.Role("endorser"):
		priv, err := keystore.LoadPrivateKey(filepath.Join(cfg.Keystore.Root, node.ID))
		if err != nil {
			return fmt.Errorf("horde: load private key for %s: %w", node.ID, err)
		}
		e := endorser.New(peerLayer, priv, st, resolveCaller, log)
		handlers = e.Handlers()
	default:
		return fmt.Errorf("horde: node %s has unsupported peer role %q", node.ID, node.Role)
	}

	dialer, err := newTLSDialer(cfg)
	if err != nil {
		return err
	}
	rtr = router.New(handlers, dialer, log)

	if _, err := rtr.StartServer(node.Host, node.Port); err != nil {
		return fmt.Errorf("horde: start server for %s: %w", node.ID, err)
	}
	for _, other := range cfg.Peers {
		if other.ID == node.ID || !meshShouldDial(cfg.Peers, node.ID, other.ID) {
			continue
		}
		connID, err := rtr.StartConnection(other.Host, other.Port, &router.PeerConfig{
			ID:   other.ID,
			Role: registry.Role(other.Role),
		})
		if err != nil {
			log.WithFields(logrus.Fields{"peer": other.ID, "error": err}).Error("horde: failed to dial peer")
			continue
		}
		if err := announce(ctx, rtr, connID, node.ID, node.Role); err != nil {
			log.WithFields(logrus.Fields{"peer": other.ID, "error": err}).Error("horde: failed to announce to peer")
		}
	}

	if run != nil {
		go run(ctx)
	}

	<-ctx.Done()
	rtr.Shutdown()
	return nil
}

// runGatewayNode wires and runs a client or admin role node: an outbound-
// only router connected to every peer, and the HTTP/WebSocket gateway that
// forwards REST calls over it.
func runGatewayNode(ctx context.Context, cfg *config.Config, node config.NodeConfig, log *logrus.Logger) error {
	m := metrics.New()
	set := registry.NewSet()
	set.Request("who-are-you", registry.RoleAny, func(ctx context.Context, connID string, params json.RawMessage) (any, error) {
		return node.ID, nil
	})

	dialer, err := newTLSDialer(cfg)
	if err != nil {
		return err
	}
	rtr := router.New(set, dialer, log)

	addr := fmt.Sprintf("%s:%d", node.Host, node.Port)
	srv := httpapi.New(addr, rtr, m, log)
	onBlock, onVerified := srv.PushHandlers()
	set.Notify("new-blockchain", registry.RoleAny, onBlock)
	set.Notify("new-blockchain-verified", registry.RoleAny, onVerified)

	if err := httpapi.DialPeers(ctx, rtr, cfg.Peers, node.ID, node.Role, log); err != nil {
		return fmt.Errorf("horde: bootstrap dial for %s: %w", node.ID, err)
	}

	go func() {
		<-ctx.Done()
		rtr.Shutdown()
	}()
	return srv.Start()
}
