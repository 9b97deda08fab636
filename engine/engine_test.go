package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tokenized/tx-relay/bitcoin"
	"github.com/tokenized/tx-relay/nostr"
	"github.com/tokenized/tx-relay/origin"
	"github.com/tokenized/tx-relay/rpcnode"
	"github.com/tokenized/tx-relay/validator"
)

const sampleTxHex = "0100000001000000000000000000000000000000000000000000000000000000" +
	"0000000000ffffffff00ffffffff0100f2052a01000000434104678afdb0fe5548271967f1a67130b7105cd6a828" +
	"e03909a67962e0ea1f61deb649f6bc3f4cef38c4f35504e51ec112de5c384df7ba0b8d578a4c702b6bf11d5fac000" +
	"00000"

type rpcRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     interface{}       `json:"id"`
}

// newMockNode starts an HTTP server speaking just enough bitcoind JSON-RPC for the engine's tests,
// grounded on the same pattern rpcnode's own tests use.
func newMockNode(t *testing.T, handler func(method string, params []json.RawMessage) (interface{}, error)) (*rpcnode.Client, func()) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %s", err)
		}

		result, err := handler(req.Method, req.Params)

		response := struct {
			Result interface{} `json:"result"`
			Error  interface{} `json:"error"`
			ID     interface{} `json:"id"`
		}{ID: req.ID}

		if err != nil {
			response.Error = map[string]interface{}{"code": -1, "message": err.Error()}
		} else {
			response.Result = result
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))

	host := strings.TrimPrefix(server.URL, "http://")
	client, err := rpcnode.NewClient(&rpcnode.Config{
		Host:    host,
		Timeout: time.Second,
	})
	if err != nil {
		server.Close()
		t.Fatalf("new client: %s", err)
	}

	return client, server.Close
}

func newTestEngine(t *testing.T, node *rpcnode.Client) *Engine {
	t.Helper()

	identity, err := nostr.NewIdentity(1)
	if err != nil {
		t.Fatalf("new identity: %s", err)
	}

	gateway := nostr.NewGateway("ws://unused.invalid", identity, time.Now().Unix())

	val, err := validator.New(validator.DefaultConfig(), node)
	if err != nil {
		t.Fatalf("new validator: %s", err)
	}

	return New(Config{PollInterval: time.Hour}, identity, node, gateway, val, origin.NewTracker())
}

func Test_PollOnce_FirstTickDoesNotBroadcast(t *testing.T) {
	const txid = "b1fea52486ce0c62bb442b530a3f0132b826c74e473d1f2c220bfa78111c5082"

	node, closeFn := newMockNode(t, func(method string, params []json.RawMessage) (interface{}, error) {
		if method != "getrawmempool" {
			t.Fatalf("unexpected method %s on first tick", method)
		}
		return []string{txid}, nil
	})
	defer closeFn()

	e := newTestEngine(t, node)

	if err := e.pollOnce(context.Background()); err != nil {
		t.Fatalf("poll: %s", err)
	}

	if got := e.gateway.PendingPublishes(); got != 0 {
		t.Errorf("expected no publishes on first tick, got %d", got)
	}
	if len(e.known) != 1 {
		t.Errorf("expected known set populated, got %d entries", len(e.known))
	}
}

func Test_PollOnce_BroadcastsNewTransaction(t *testing.T) {
	const existingTxid = "b1fea52486ce0c62bb442b530a3f0132b826c74e473d1f2c220bfa78111c5082"
	const newTxid = "b1fea52486ce0c62bb442b530a3f0132b826c74e473d1f2c220bfa78111c5089"

	tick := 0
	node, closeFn := newMockNode(t, func(method string, params []json.RawMessage) (interface{}, error) {
		switch method {
		case "getrawmempool":
			tick++
			if tick == 1 {
				return []string{existingTxid}, nil
			}
			return []string{existingTxid, newTxid}, nil
		case "getrawtransaction":
			return sampleTxHex, nil
		default:
			t.Fatalf("unexpected method %s", method)
			return nil, nil
		}
	})
	defer closeFn()

	e := newTestEngine(t, node)

	if err := e.pollOnce(context.Background()); err != nil {
		t.Fatalf("first poll: %s", err)
	}
	if err := e.pollOnce(context.Background()); err != nil {
		t.Fatalf("second poll: %s", err)
	}

	if got := e.gateway.PendingPublishes(); got != 1 {
		t.Errorf("expected exactly one publish for the new txid, got %d", got)
	}
}

func Test_PollOnce_FailedFirstTickStillBroadcastsOnNextSuccess(t *testing.T) {
	const txid = "b1fea52486ce0c62bb442b530a3f0132b826c74e473d1f2c220bfa78111c5082"

	tick := 0
	node, closeFn := newMockNode(t, func(method string, params []json.RawMessage) (interface{}, error) {
		switch method {
		case "getrawmempool":
			tick++
			if tick == 1 {
				return nil, errors.New("connection refused")
			}
			return []string{txid}, nil
		case "getrawtransaction":
			return sampleTxHex, nil
		default:
			t.Fatalf("unexpected method %s", method)
			return nil, nil
		}
	})
	defer closeFn()

	e := newTestEngine(t, node)

	if err := e.pollOnce(context.Background()); err != nil {
		t.Fatalf("first poll: %s", err)
	}
	if len(e.known) != 0 {
		t.Errorf("expected known set to stay empty after a failed fetch, got %d entries", len(e.known))
	}

	if err := e.pollOnce(context.Background()); err != nil {
		t.Fatalf("second poll: %s", err)
	}

	if got := e.gateway.PendingPublishes(); got != 1 {
		t.Errorf("expected the recovered tick to broadcast the pre-existing txid, got %d publishes", got)
	}
}

func Test_PollOnce_SkipsRemoteEcho(t *testing.T) {
	const newTxid = "c1fea52486ce0c62bb442b530a3f0132b826c74e473d1f2c220bfa78111c5082"

	tick := 0
	node, closeFn := newMockNode(t, func(method string, params []json.RawMessage) (interface{}, error) {
		if method != "getrawmempool" {
			t.Fatalf("unexpected method %s", method)
		}
		tick++
		if tick == 1 {
			return []string{}, nil
		}
		return []string{newTxid}, nil
	})
	defer closeFn()

	e := newTestEngine(t, node)

	if err := e.pollOnce(context.Background()); err != nil {
		t.Fatalf("first poll: %s", err)
	}

	txid, err := bitcoin.NewHash32FromStr(newTxid)
	if err != nil {
		t.Fatalf("parse txid: %s", err)
	}
	e.origin.MarkRemote(*txid)

	if err := e.pollOnce(context.Background()); err != nil {
		t.Fatalf("second poll: %s", err)
	}

	if got := e.gateway.PendingPublishes(); got != 0 {
		t.Errorf("expected echo to be skipped, got %d publishes", got)
	}
}

func Test_Start_SchedulesOriginSweepWhenTTLConfigured(t *testing.T) {
	node, closeFn := newMockNode(t, func(method string, params []json.RawMessage) (interface{}, error) {
		t.Fatalf("unexpected RPC call %s", method)
		return nil, nil
	})
	defer closeFn()

	identity, err := nostr.NewIdentity(1)
	if err != nil {
		t.Fatalf("new identity: %s", err)
	}
	gateway := nostr.NewGateway("ws://unused.invalid", identity, time.Now().Unix())
	val, err := validator.New(validator.DefaultConfig(), node)
	if err != nil {
		t.Fatalf("new validator: %s", err)
	}

	tracker := origin.NewTrackerWithTTL(10 * time.Millisecond)
	txid, err := bitcoin.NewHash32FromStr(
		"b1fea52486ce0c62bb442b530a3f0132b826c74e473d1f2c220bfa78111c5082")
	if err != nil {
		t.Fatalf("parse txid: %s", err)
	}
	tracker.MarkRemote(*txid)

	e := New(Config{PollInterval: time.Hour}, identity, node, gateway, val, tracker)
	e.Start(context.Background())
	defer e.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && tracker.Len() != 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := tracker.Len(); got != 0 {
		t.Errorf("expected the periodic sweep to remove the expired entry, got %d remaining", got)
	}
}

func Test_HandleNostrEvent_SelfDropsOwnRelayID(t *testing.T) {
	node, closeFn := newMockNode(t, func(method string, params []json.RawMessage) (interface{}, error) {
		t.Fatalf("unexpected RPC call %s for a self-originated event", method)
		return nil, nil
	})
	defer closeFn()

	e := newTestEngine(t, node)

	event := &nostr.Event{
		Kind: nostr.KindTxBroadcast,
		Tags: []nostr.Tag{{"relay_id", "1"}},
	}

	e.handleNostrEvent(context.Background(), event)
}

func Test_HandleNostrEvent_MarksRemoteBeforeSubmit(t *testing.T) {
	txidHex := "d1fea52486ce0c62bb442b530a3f0132b826c74e473d1f2c220bfa78111c5082"

	var e *Engine
	node, closeFn := newMockNode(t, func(method string, params []json.RawMessage) (interface{}, error) {
		if method != "sendrawtransaction" {
			t.Fatalf("unexpected method %s", method)
		}
		submitted, err := bitcoin.NewHash32FromStr(txidHex)
		if err != nil {
			t.Fatalf("parse txid: %s", err)
		}
		if !e.origin.IsRemote(*submitted) {
			t.Error("expected txid to be marked remote before submit")
		}
		return "ok", nil
	})
	defer closeFn()

	e = newTestEngine(t, node)

	content, err := marshalEnvelope(&nostr.TxEnvelope{Txid: txidHex, Hex: sampleTxHex})
	if err != nil {
		t.Fatalf("marshal envelope: %s", err)
	}

	event := &nostr.Event{
		Kind:    nostr.KindTxBroadcast,
		Tags:    []nostr.Tag{{"relay_id", "2"}},
		Content: content,
	}

	e.handleNostrEvent(context.Background(), event)

	txid, err := bitcoin.NewHash32FromStr(txidHex)
	if err != nil {
		t.Fatalf("parse txid: %s", err)
	}
	if !e.origin.IsRemote(*txid) {
		t.Error("expected txid to be marked remote")
	}
}
