package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
peers:
  - id: o1
    role: orderer
    host: 127.0.0.1
    port: 9001
  - id: e1
    role: endorser
    host: 127.0.0.1
    port: 9002
clients:
  - id: c1
    role: client
    host: 127.0.0.1
    port: 8080
keystore:
  root: ./keys
  public_dir: ./keys/public
storage:
  data_dir: ./data
`

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "network.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Peers) != 2 || len(cfg.Clients) != 1 {
		t.Fatalf("unexpected topology: %+v", cfg)
	}
	if cfg.Orderer.MaxTransactionPool != defaultMaxTransactionPool {
		t.Fatalf("expected default max pool, got %d", cfg.Orderer.MaxTransactionPool)
	}
	if cfg.Orderer.BlockchainCreationTimeoutSeconds != defaultBlockTimeoutSecs {
		t.Fatalf("expected default timeout, got %v", cfg.Orderer.BlockchainCreationTimeoutSeconds)
	}

	node, ok := cfg.Node("e1")
	if !ok || node.Role != "endorser" || node.Port != 9002 {
		t.Fatalf("unexpected node lookup: %+v ok=%v", node, ok)
	}

	if _, ok := cfg.Node("missing"); ok {
		t.Fatalf("expected missing node lookup to fail")
	}

	if len(cfg.AllNodes()) != 3 {
		t.Fatalf("expected 3 total nodes, got %d", len(cfg.AllNodes()))
	}
}
