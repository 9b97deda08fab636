package main

/**
 * tx-relay-server
 *
 * Attaches one Bitcoin node to one shared Nostr relay and forwards unconfirmed transactions
 * in both directions. Run with: tx-relay-server [relay_id]
 */

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tokenized/tx-relay/engine"
	"github.com/tokenized/tx-relay/nostr"
	"github.com/tokenized/tx-relay/origin"
	"github.com/tokenized/tx-relay/relayconfig"
	"github.com/tokenized/tx-relay/rpcnode"
	"github.com/tokenized/tx-relay/validator"

	"github.com/tokenized/logger"
)

func main() {
	ctx := logger.ContextWithLogger(context.Background(), true, true, "")

	cfg, err := relayconfig.Load(ctx, os.Args)
	if err != nil {
		logger.Fatal(ctx, "Failed to load config : %s", err)
	}

	node, err := rpcnode.NewClient(&rpcnode.Config{
		Host:     cfg.BitcoinRPCHost,
		Username: cfg.BitcoinRPCUsername,
		Password: cfg.BitcoinRPCPassword,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to create RPC client : %s", err)
	}

	identity, err := nostr.NewIdentity(cfg.RelayID)
	if err != nil {
		logger.Fatal(ctx, "Failed to create relay identity : %s", err)
	}
	logger.Info(ctx, "Relay identity : %s", identity.PublicKeyHex())

	gateway := nostr.NewGateway(cfg.StrfryURL, identity, time.Now().Unix())

	val, err := validator.New(cfg.Validation, node)
	if err != nil {
		logger.Fatal(ctx, "Failed to create validator : %s", err)
	}

	var tracker *origin.Tracker
	if cfg.OriginTTL > 0 {
		tracker = origin.NewTrackerWithTTL(cfg.OriginTTL)
	} else {
		tracker = origin.NewTracker()
	}

	eng := engine.New(engine.Config{PollInterval: cfg.MempoolPollInterval}, identity, node, gateway,
		val, tracker)
	eng.Start(ctx)

	server := &http.Server{
		Addr:    cfg.WebsocketListenAddr,
		Handler: eng.Facade(),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info(ctx, "Client facade listening : %s", cfg.WebsocketListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
			return
		}
		serverErrors <- nil
	}()

	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			logger.Error(ctx, "Client facade failed : %s", err)
			eng.Stop(ctx)
			os.Exit(1)
		}

	case sig := <-osSignals:
		logger.Info(ctx, "Received signal %s, shutting down", sig)

		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn(ctx, "Client facade shutdown : %s", err)
		}

		eng.Stop(ctx)
	}

	logger.Info(ctx, "Stopped")
}
