package main

import (
	"context"
	"os/signal"
	"syscall"

	"hetu/internal/chain"
	"hetu/internal/metagraph"
	"hetu/internal/phloem"
	"hetu/internal/setup"
	"hetu/internal/validator"
)

func main() {
	deps := setup.Init()
	deps.Log.Infof(
		"Starting validator with key [%s] on chain [%s]",
		deps.Hotkey.Address,
		deps.Env.ChainEndpoint,
	)
	defer func() { _ = deps.Log.Sync() }()
	if deps.Mongo != nil {
		defer func() {
			if err := deps.Mongo.Disconnect(context.Background()); err != nil {
				deps.Log.Warnw("Failed disconnecting mongo", "error", err)
			}
		}()
	}

	sub := chain.NewSubstrate(deps.Client, deps.Hotkey, deps.Env.Version, deps.Log)
	mg := metagraph.New(deps.Env.Netuid, sub, deps.Log, deps.Env.SyncInterval)
	client := phloem.New(deps.Log, &deps.Hotkey)
	defer client.Close()

	v := validator.New(validator.Config{
		Netuid:       deps.Env.Netuid,
		PollInterval: deps.Env.PollInterval,
	}, sub, mg, client, deps.Mongo, deps.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	v.Run(ctx)
}
