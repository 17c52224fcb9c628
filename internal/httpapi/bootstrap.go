package httpapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"horde/internal/config"
	"horde/internal/registry"
	"horde/internal/router"
)

func unmarshalString(raw json.RawMessage, dst *string) error {
	return json.Unmarshal(raw, dst)
}

type announceParams struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// DialPeers connects to every configured peer at startup, confirms each
// one's identity with a who-are-you request, and announces selfID/selfRole
// back so the peer's accepted connection resolves to our real role instead
// of RoleAny for later role-gated requests, following
// original_source/horde/main.py's startup sequence (spec.md §9 supplemented
// feature).
func DialPeers(ctx context.Context, rpc *router.Router, peers []config.NodeConfig, selfID, selfRole string, log *logrus.Logger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	for _, peerCfg := range peers {
		connID, err := rpc.StartConnection(peerCfg.Host, peerCfg.Port, &router.PeerConfig{
			ID:   peerCfg.ID,
			Role: registry.Role(peerCfg.Role),
		})
		if err != nil {
			return fmt.Errorf("httpapi: dial peer %s: %w", peerCfg.ID, err)
		}

		result, err := rpc.Request(ctx, connID, "who-are-you", nil)
		if err != nil {
			rpc.CloseConnection(connID)
			return fmt.Errorf("httpapi: who-are-you %s: %w", peerCfg.ID, err)
		}
		var reportedID string
		if err := unmarshalString(result, &reportedID); err != nil || reportedID != peerCfg.ID {
			log.WithFields(logrus.Fields{"expected": peerCfg.ID, "reported": reportedID}).
				Warn("httpapi: peer identity mismatch on bootstrap, closing connection")
			rpc.CloseConnection(connID)
			continue
		}

		announceRaw, err := json.Marshal(announceParams{ID: selfID, Role: selfRole})
		if err != nil {
			return fmt.Errorf("httpapi: encode announce params: %w", err)
		}
		if _, err := rpc.Request(ctx, connID, "announce", json.RawMessage(announceRaw)); err != nil {
			rpc.CloseConnection(connID)
			return fmt.Errorf("httpapi: announce to %s: %w", peerCfg.ID, err)
		}
		log.WithFields(logrus.Fields{"peer": peerCfg.ID, "role": peerCfg.Role}).Info("httpapi: peer connected")
	}
	return nil
}
