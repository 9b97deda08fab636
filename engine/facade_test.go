package engine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tokenized/tx-relay/nostr"
	"github.com/tokenized/tx-relay/validator"

	"github.com/gorilla/websocket"
)

func Test_Facade_SubmitsAndAcks(t *testing.T) {
	node, closeNode := newMockNode(t, func(method string, params []json.RawMessage) (interface{}, error) {
		switch method {
		case "testmempoolaccept":
			return []map[string]interface{}{{"txid": "abc", "allowed": true}}, nil
		case "sendrawtransaction":
			return "ok", nil
		default:
			t.Fatalf("unexpected method %s", method)
			return nil, nil
		}
	})
	defer closeNode()

	val, err := validator.New(validator.DefaultConfig(), node)
	if err != nil {
		t.Fatalf("new validator: %s", err)
	}

	facade := NewFacade(node, val)
	server := httptest.NewServer(http.HandlerFunc(facade.ServeHTTP))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	defer conn.Close()

	submitEvent := nostr.Event{Kind: nostr.KindTxSubmit, Content: sampleTxHex}
	if err := conn.WriteJSON([]interface{}{"EVENT", submitEvent}); err != nil {
		t.Fatalf("write: %s", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %s", err)
	}

	var frame []json.RawMessage
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("unmarshal frame: %s", err)
	}
	if len(frame) != 2 {
		t.Fatalf("expected 2-element frame, got %d", len(frame))
	}

	var ackEvent nostr.Event
	if err := json.Unmarshal(frame[1], &ackEvent); err != nil {
		t.Fatalf("unmarshal event: %s", err)
	}
	if ackEvent.Kind != nostr.KindTxSubmitAck {
		t.Fatalf("expected kind %d, got %d", nostr.KindTxSubmitAck, ackEvent.Kind)
	}

	var ack nostr.SubmitAck
	if err := json.Unmarshal([]byte(ackEvent.Content), &ack); err != nil {
		t.Fatalf("unmarshal ack content: %s", err)
	}
	if !ack.Success {
		t.Errorf("expected success ack, got %+v", ack)
	}
}

func Test_Facade_ClientCountTracksLifecycle(t *testing.T) {
	node, closeNode := newMockNode(t, func(method string, params []json.RawMessage) (interface{}, error) {
		return "ok", nil
	})
	defer closeNode()

	val, err := validator.New(validator.DefaultConfig(), node)
	if err != nil {
		t.Fatalf("new validator: %s", err)
	}

	facade := NewFacade(node, val)
	server := httptest.NewServer(http.HandlerFunc(facade.ServeHTTP))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %s", err)
	}

	// Give the server goroutine a moment to register the client before asserting the count.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && facade.ClientCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	if facade.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", facade.ClientCount())
	}

	conn.Close()

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && facade.ClientCount() != 0 {
		time.Sleep(time.Millisecond)
	}
	if facade.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after disconnect, got %d", facade.ClientCount())
	}
}
