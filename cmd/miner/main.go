package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hetu/internal/chain"
	"hetu/internal/metagraph"
	"hetu/internal/protocol"
	"hetu/internal/setup"
	"hetu/internal/synapse"
	"hetu/internal/xylem"
)

func main() {
	deps := setup.Init()
	deps.Log.Infof(
		"Starting miner with key [%s] on chain [%s]",
		deps.Hotkey.Address,
		deps.Env.ChainEndpoint,
	)
	defer func() { _ = deps.Log.Sync() }()

	sub := chain.NewSubstrate(deps.Client, deps.Hotkey, deps.Env.Version, deps.Log)
	mg := metagraph.New(deps.Env.Netuid, sub, deps.Log, deps.Env.SyncInterval)
	if err := mg.Sync(true); err != nil {
		deps.Log.Fatalw("Failed initial metagraph sync", "error", err)
	}

	externalURL := fmt.Sprintf("http://%s:%d", deps.Env.ExternalIP, deps.Env.ExternalPort)
	verify := xylem.VerifySignature(externalURL)
	blacklist := func(msg synapse.Message) bool {
		n := mg.GetByHotkey(msg.Base().Hotkey)
		return n == nil || !n.IsValidator
	}
	priority := func(msg synapse.Message) (float64, error) {
		n := mg.GetByHotkey(msg.Base().Hotkey)
		if n == nil {
			return 0, fmt.Errorf("unknown sender [%s]", msg.Base().Hotkey)
		}
		// higher stake runs sooner
		return -float64(n.Stake), nil
	}

	x := xylem.New(xylem.Config{
		IP:           deps.Env.HostIP,
		Port:         deps.Env.Port,
		ExternalIP:   deps.Env.ExternalIP,
		ExternalPort: deps.Env.ExternalPort,
		MaxWorkers:   deps.Env.MaxWorkers,
	}, deps.Log)

	x.Attach(&xylem.Service{
		Proto: &protocol.MathSumSynapse{},
		Forward: func(ctx context.Context, msg synapse.Message) (synapse.Message, error) {
			m := msg.(*protocol.MathSumSynapse)
			m.SumResult = m.X + m.Y
			m.SetSuccess(fmt.Sprintf("%g", m.SumResult))
			return m, nil
		},
		Blacklist: blacklist,
		Priority:  priority,
		Verify:    verify,
	})
	x.Attach(&xylem.Service{
		Proto: &protocol.MathProductSynapse{},
		Forward: func(ctx context.Context, msg synapse.Message) (synapse.Message, error) {
			m := msg.(*protocol.MathProductSynapse)
			m.ProductResult = m.X * m.Y
			m.SetSuccess(fmt.Sprintf("%g", m.ProductResult))
			return m, nil
		},
		Blacklist: blacklist,
		Priority:  priority,
		Verify:    verify,
	})

	if err := x.Start(); err != nil {
		deps.Log.Fatalw("Failed starting server", "error", err)
	}

	resyncCtx, stopResync := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(deps.Env.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-resyncCtx.Done():
				return
			case <-ticker.C:
				if err := mg.Sync(false); err != nil {
					deps.Log.Warnw("Failed syncing metagraph", "error", err)
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	deps.Log.Info("Shutting down...")
	stopResync()
	if err := x.Stop(); err != nil {
		deps.Log.Warnw("Failed stopping server", "error", err)
	}
}
