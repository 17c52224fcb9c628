package httpapi

import "horde/internal/router"

// peerDirectory resolves a topology peer id to its current outbound
// connection id by scanning the router's live connection set, mirroring
// the original_source client's connection_to_config reverse lookup.
type peerDirectory struct {
	rpc *router.Router
}

func (d peerDirectory) resolve(peerID string) (string, bool) {
	for connID, cfg := range d.rpc.Connections() {
		if cfg != nil && cfg.ID == peerID {
			return connID, true
		}
	}
	return "", false
}

// resolveRole returns any currently connected peer with the given role,
// used by the transaction routes that name no specific peer.
func (d peerDirectory) resolveRole(role string) (string, bool) {
	for connID, cfg := range d.rpc.Connections() {
		if cfg != nil && string(cfg.Role) == role {
			return connID, true
		}
	}
	return "", false
}
