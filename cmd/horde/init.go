package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"horde/internal/chaincrypto"
	"horde/internal/config"
	"horde/internal/keystore"
	"horde/internal/model"
	"horde/internal/store"
)

const coinbaseAccount = "coinbase"

func initCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "generate node keypairs and seed the genesis block for a topology",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the network topology YAML file")
	cmd.MarkFlagRequired("config")
	return cmd
}

// runInit implements spec.md §8 scenario 1 (genesis): every node gets an
// Ed25519 keypair, and every peer-role node's own store is seeded with
// Block #1 and a version-0 AccountState for coinbase and every configured
// node id.
func runInit(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	for _, node := range cfg.AllNodes() {
		pub, priv, err := chaincrypto.GenerateKeyPair()
		if err != nil {
			return fmt.Errorf("horde init: generate keypair for %s: %w", node.ID, err)
		}
		if err := keystore.SavePrivateKey(filepath.Join(cfg.Keystore.Root, node.ID), priv); err != nil {
			return fmt.Errorf("horde init: save private key for %s: %w", node.ID, err)
		}
		if err := keystore.PublishPublicKey(cfg.Keystore.PublicDir, node.ID, pub); err != nil {
			return fmt.Errorf("horde init: publish public key for %s: %w", node.ID, err)
		}
		logrus.WithField("id", node.ID).Info("horde init: keypair generated")
	}

	genesisAccounts := make([]string, 0, len(cfg.Peers)+len(cfg.Clients)+1)
	genesisAccounts = append(genesisAccounts, coinbaseAccount)
	for _, node := range cfg.AllNodes() {
		genesisAccounts = append(genesisAccounts, node.ID)
	}
	genesis := model.NewGenesis(time.Now().UTC())

	for _, peerNode := range cfg.Peers {
		if err := seedPeerStore(cfg, peerNode, genesis, genesisAccounts); err != nil {
			return err
		}
		logrus.WithField("id", peerNode.ID).Info("horde init: genesis block and accounts seeded")
	}
	return nil
}

func seedPeerStore(cfg *config.Config, node config.NodeConfig, genesis model.Block, accounts []string) error {
	st, err := store.Open(filepath.Join(cfg.Storage.DataDir, node.ID))
	if err != nil {
		return fmt.Errorf("horde init: open store for %s: %w", node.ID, err)
	}
	defer st.Close()

	if err := st.PutBlock(genesis); err != nil {
		return fmt.Errorf("horde init: seed genesis block for %s: %w", node.ID, err)
	}
	for _, account := range accounts {
		if err := st.SeedGenesisAccount(model.Genesis(account)); err != nil {
			return fmt.Errorf("horde init: seed account %s for %s: %w", account, node.ID, err)
		}
	}
	return nil
}
