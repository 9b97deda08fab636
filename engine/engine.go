package engine

/**
 * Propagation Engine
 *
 * What is my purpose?
 * - You compose the node client, the Nostr gateway, the validator and the origin tracker
 * - You run the mempool poller, the Nostr ingress handler and the inbound client facade
 */

import (
	"bytes"
	"context"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/tokenized/tx-relay/bitcoin"
	"github.com/tokenized/tx-relay/nostr"
	"github.com/tokenized/tx-relay/origin"
	"github.com/tokenized/tx-relay/rpcnode"
	"github.com/tokenized/tx-relay/scheduler"
	"github.com/tokenized/tx-relay/threads"
	"github.com/tokenized/tx-relay/validator"
	"github.com/tokenized/tx-relay/wire"

	"github.com/pkg/errors"
	"github.com/tokenized/logger"
)

// SubSystem is used by the logger package.
const SubSystem = "Engine"

// DefaultPollInterval is the mempool poller's period absent configuration.
const DefaultPollInterval = 2 * time.Second

// Config bundles the engine's tunables. The node, gateway, validator and origin tracker are
// constructed by the caller (per relayconfig.Config) and handed in, so tests can substitute fakes.
type Config struct {
	PollInterval time.Duration
}

// Engine is the propagation engine of spec component E: it composes the Bitcoin RPC client (A),
// the Nostr gateway (B), the validator (C) and the origin tracker (D), and runs the mempool
// poller, the Nostr ingress handler and the inbound client submission facade.
type Engine struct {
	config    Config
	identity  *nostr.Identity
	node      *rpcnode.Client
	gateway   *nostr.Gateway
	validator *validator.Validator
	origin    *origin.Tracker

	scheduler   *scheduler.Scheduler
	pollerGroup *threads.Thread

	// known is M, the poller's private view of the local mempool. Owned solely by the poller
	// goroutine; never touched by any other task.
	known       map[bitcoin.Hash32]struct{}
	initialized bool

	facade *Facade
}

// New builds an Engine ready to Start.
func New(config Config, identity *nostr.Identity, node *rpcnode.Client, gateway *nostr.Gateway,
	val *validator.Validator, tracker *origin.Tracker) *Engine {

	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}

	e := &Engine{
		config:    config,
		identity:  identity,
		node:      node,
		gateway:   gateway,
		validator: val,
		origin:    tracker,
		known:     make(map[bitcoin.Hash32]struct{}),
	}

	e.facade = NewFacade(node, val)
	gateway.Subscribe(e.handleNostrEvent)

	return e
}

// Facade returns the inbound client submission facade, for wiring into an http.Server by the
// caller (spec.md treats the outer HTTP listener as outside this engine's scope).
func (e *Engine) Facade() *Facade {
	return e.facade
}

// Start launches the gateway connection and the mempool poller.
func (e *Engine) Start(ctx context.Context) {
	ctx = logger.ContextWithLogSubSystem(ctx, SubSystem)

	e.gateway.Start(ctx)

	e.scheduler = &scheduler.Scheduler{}
	task := scheduler.NewPeriodicTask("mempool poller", pollFunc(e.pollOnce), e.config.PollInterval)
	if err := e.scheduler.ScheduleJob(ctx, task); err != nil {
		logger.Error(ctx, "Failed to schedule mempool poller : %s", err)
		return
	}

	// A TTL'd tracker needs a sweep or it grows forever; an unbounded one (the default) has
	// nothing to sweep.
	if ttl := e.origin.TTL(); ttl > 0 {
		sweep := scheduler.NewPeriodicTask("origin sweep", sweepFunc(e.origin.Sweep), ttl)
		if err := e.scheduler.ScheduleJob(ctx, sweep); err != nil {
			logger.Error(ctx, "Failed to schedule origin sweep : %s", err)
			return
		}
	}

	e.pollerGroup = threads.NewThreadWithoutStop("mempool poller", e.scheduler.Run)
	e.pollerGroup.Start(ctx)
}

// Stop shuts everything down. There is no graceful drain: the design assumes process restart is
// cheap because no state is persisted.
func (e *Engine) Stop(ctx context.Context) {
	ctx = logger.ContextWithLogSubSystem(ctx, SubSystem)

	if e.scheduler != nil {
		if err := e.scheduler.Stop(ctx); err != nil {
			logger.Warn(ctx, "Scheduler stop : %s", err)
		}
	}
	e.gateway.Stop(ctx)
}

// pollFunc adapts a plain function to scheduler.PeriodicTaskInterface.
type pollFunc func(ctx context.Context) error

func (f pollFunc) Run(ctx context.Context) {
	if err := f(ctx); err != nil {
		logger.Warn(ctx, "Poll tick failed : %s", err)
	}
}

// sweepFunc adapts origin.Tracker.Sweep to scheduler.PeriodicTaskInterface.
type sweepFunc func() int

func (f sweepFunc) Run(ctx context.Context) {
	if removed := f(); removed > 0 {
		logger.Verbose(ctx, "Swept %d expired origin entries", removed)
	}
}

// pollOnce is one tick of the mempool poller (spec 4.E.1).
func (e *Engine) pollOnce(ctx context.Context) error {
	current, err := e.node.ListMempool(ctx)
	if err != nil {
		logger.Warn(ctx, "ListMempool failed : %s", err)
		// The first tick, success or failure, is the one that establishes the no-broadcast
		// baseline. A failed first fetch still consumes that baseline tick with M left empty, so
		// the next successful tick compares against nothing and broadcasts everything it finds.
		e.initialized = true
		return nil
	}

	currentSet := make(map[bitcoin.Hash32]struct{}, len(current))
	for _, txid := range current {
		currentSet[txid] = struct{}{}
	}

	// On the first tick, M is populated without broadcasting: pre-existing mempool contents are
	// treated as already-known. This only happens once, whether or not that first tick's fetch
	// succeeded, so a failed first fetch doesn't cause a second "silent" population later.
	firstTick := !e.initialized

	if !firstTick {
		for _, txid := range current {
			if _, alreadyKnown := e.known[txid]; alreadyKnown {
				continue
			}

			if e.origin.IsRemote(txid) {
				logger.Verbose(ctx, "Skipped echo : %s", txid)
				continue
			}

			if err := e.broadcastLocal(ctx, txid); err != nil {
				logger.Warn(ctx, "Broadcast %s failed : %s", txid, err)
			}
		}
	}

	e.known = currentSet
	e.initialized = true

	return nil
}

func (e *Engine) broadcastLocal(ctx context.Context, txid bitcoin.Hash32) error {
	rawHex, err := e.node.FetchRaw(ctx, txid)
	if err != nil {
		return errors.Wrap(err, "fetch raw")
	}

	envelope, err := buildEnvelope(txid, rawHex)
	if err != nil {
		return errors.Wrap(err, "build envelope")
	}

	content, err := marshalEnvelope(envelope)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}

	tags := []nostr.Tag{
		{"t", "bitcoin"},
		{"t", "transaction"},
		{"relay_id", relayIDString(e.identity.RelayID)},
	}

	event, err := nostr.NewEvent(e.identity, nostr.KindTxBroadcast, tags, content, time.Now().Unix())
	if err != nil {
		return errors.Wrap(err, "new event")
	}

	e.gateway.Publish(event)
	logger.Info(ctx, "Published %s", txid)

	return nil
}

// handleNostrEvent is the Nostr ingress handler (spec 4.E.2), invoked by the gateway for every
// event delivered on the subscription.
func (e *Engine) handleNostrEvent(ctx context.Context, event *nostr.Event) {
	ctx = logger.ContextWithLogSubSystem(ctx, SubSystem)

	selfID := relayIDString(e.identity.RelayID)
	if event.HasRelayID(selfID) {
		return
	}

	if event.Kind != nostr.KindTxBroadcast {
		return
	}

	envelope, err := nostr.DecodeTxEnvelope(event.Content)
	if err != nil {
		logger.Warn(ctx, "Malformed event : %s", err)
		return
	}

	txid, err := bitcoin.NewHash32FromStr(envelope.Txid)
	if err != nil {
		logger.Warn(ctx, "Malformed event txid %q : %s", envelope.Txid, err)
		return
	}

	// mark_remote happens-before submit, so the poller cannot race and classify this as local.
	e.origin.MarkRemote(*txid)

	if _, err := e.node.Submit(ctx, envelope.Hex); err != nil {
		logger.Warn(ctx, "Submit %s failed, suppressing future rebroadcast : %s", txid, err)
		return
	}

	logger.Verbose(ctx, "Ingested remote tx %s", txid)
}

func buildEnvelope(txid bitcoin.Hash32, rawHex string) (*nostr.TxEnvelope, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, errors.Wrap(err, "decode hex")
	}

	tx := wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, errors.Wrap(err, "deserialize")
	}

	return &nostr.TxEnvelope{
		Txid:    txid.String(),
		Hex:     rawHex,
		Size:    len(raw),
		Version: tx.Version,
		Inputs:  len(tx.TxIn),
		Outputs: len(tx.TxOut),
	}, nil
}

func relayIDString(id uint16) string {
	return strconv.Itoa(int(id))
}
