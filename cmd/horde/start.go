package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"horde/internal/config"
)

func startCmd() *cobra.Command {
	var configPath, nodeID string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "run one role-node, or every node of a topology as child processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if nodeID != "" {
				return startOneNode(configPath, nodeID)
			}
			return startAllNodes(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the network topology YAML file")
	cmd.Flags().StringVar(&nodeID, "node", "", "run only this node in the current process")
	cmd.MarkFlagRequired("config")
	return cmd
}

// startOneNode runs a single configured node in this process until an
// interrupt or term signal arrives, the way the teacher's gateway node
// command runs its own server and waits on a signal channel before exiting.
func startOneNode(configPath, nodeID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	node, ok := cfg.Node(nodeID)
	if !ok {
		return fmt.Errorf("horde start: unknown node %q", nodeID)
	}

	log := logrus.StandardLogger()
	if lvl, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(lvl)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		cancel()
	}()

	switch node.Role {
	case "orderer", "endorser":
		return runPeerNode(ctx, cfg, node, log)
	case "client", "admin":
		return runGatewayNode(ctx, cfg, node, log)
	default:
		return fmt.Errorf("horde start: node %s has unknown role %q", node.ID, node.Role)
	}
}

// startAllNodes spawns one child process per configured node, following
// core/contracts.go's exec.Command(...).Run()-style process-spawning idiom
// (the only one observed in the teacher pack), and waits for all of them.
func startAllNodes(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("horde start: resolve executable path: %w", err)
	}

	nodes := cfg.AllNodes()
	cmds := make([]*exec.Cmd, len(nodes))
	for i, node := range nodes {
		c := exec.Command(self, "start", "--config", configPath, "--node", node.ID)
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Start(); err != nil {
			return fmt.Errorf("horde start: spawn node %s: %w", node.ID, err)
		}
		cmds[i] = c
		logrus.WithFields(logrus.Fields{"id": node.ID, "pid": c.Process.Pid}).Info("horde start: node process launched")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		for _, c := range cmds {
			if c.Process != nil {
				_ = c.Process.Signal(syscall.SIGTERM)
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(len(cmds))
	for _, c := range cmds {
		c := c
		go func() {
			defer wg.Done()
			if err := c.Wait(); err != nil {
				logrus.WithFields(logrus.Fields{"pid": c.Process.Pid, "error": err}).Warn("horde start: node process exited with error")
			}
		}()
	}
	wg.Wait()
	return nil
}
