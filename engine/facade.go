package engine

/**
 * Inbound Client Facade
 *
 * What is my purpose?
 * - You accept a simple EVENT/REQ framed websocket protocol from local clients
 * - You decode kind-20010 submissions, hand them to the node, and reply with kind-20011
 */

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/tokenized/tx-relay/nostr"
	"github.com/tokenized/tx-relay/rpcnode"
	"github.com/tokenized/tx-relay/validator"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tokenized/logger"
)

// upgrader accepts any origin: the facade is meant for trusted local clients, not a public API
// surface. CORS/origin policy is the outer HTTP listener's concern (non-goal of this package).
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Facade is a net/http handler that upgrades connections to the inbound client submission
// websocket protocol: messages are JSON arrays whose first element is "EVENT" or "REQ".
type Facade struct {
	node      *rpcnode.Client
	validator *validator.Validator

	mu      sync.RWMutex
	clients map[uuid.UUID]*websocket.Conn
}

// NewFacade builds a Facade backed by node. Every submission is run through val before being
// handed to node, per the validation_config pipeline (validator.Validator).
func NewFacade(node *rpcnode.Client, val *validator.Validator) *Facade {
	return &Facade{
		node:      node,
		validator: val,
		clients:   make(map[uuid.UUID]*websocket.Conn),
	}
}

// ServeHTTP upgrades the connection and runs its read loop until the client disconnects.
func (f *Facade) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logger.ContextWithLogSubSystem(r.Context(), SubSystem)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn(ctx, "Upgrade failed : %s", err)
		return
	}
	defer conn.Close()

	clientID := uuid.New()
	f.addClient(clientID, conn)
	defer f.removeClient(clientID)

	logger.Verbose(ctx, "Client connected : %s", clientID)

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				logger.Verbose(ctx, "Client disconnected : %s", clientID)
			} else {
				logger.Verbose(ctx, "Client %s read failed : %s", clientID, err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		f.handleFrame(ctx, conn, payload)
	}
}

func (f *Facade) handleFrame(ctx context.Context, conn *websocket.Conn, payload []byte) {
	var raw []json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil || len(raw) < 2 {
		logger.Warn(ctx, "Malformed frame : %s", string(payload))
		return
	}

	var label string
	if err := json.Unmarshal(raw[0], &label); err != nil {
		logger.Warn(ctx, "Malformed frame label : %s", err)
		return
	}

	switch label {
	case "EVENT":
		f.handleEventFrame(ctx, conn, raw)
	case "REQ":
		// Subscriptions on the inbound facade are reserved (spec kinds 20013/20014); there is
		// nothing to subscribe to yet.
	default:
		logger.Warn(ctx, "Unknown frame label : %s", label)
	}
}

func (f *Facade) handleEventFrame(ctx context.Context, conn *websocket.Conn, raw []json.RawMessage) {
	idx := len(raw) - 1

	var event nostr.Event
	if err := json.Unmarshal(raw[idx], &event); err != nil {
		logger.Warn(ctx, "Malformed event : %s", err)
		return
	}

	if event.Kind != nostr.KindTxSubmit {
		return
	}

	if _, err := f.validator.Validate(ctx, event.Content); err != nil {
		logger.Warn(ctx, "Client submit rejected : %s", err)
		f.reply(conn, nostr.SubmitAck{Success: false, Message: err.Error()})
		return
	}

	txid, err := f.node.Submit(ctx, event.Content)

	ack := nostr.SubmitAck{Success: err == nil}
	if err != nil {
		ack.Message = err.Error()
		logger.Warn(ctx, "Client submit failed : %s", err)
	} else {
		ack.Txid = txid.String()
		ack.Message = "accepted"
	}

	f.reply(conn, ack)
}

func (f *Facade) reply(conn *websocket.Conn, ack nostr.SubmitAck) {
	content, err := json.Marshal(ack)
	if err != nil {
		return
	}

	response := []interface{}{"EVENT", nostr.Event{
		Kind:    nostr.KindTxSubmitAck,
		Content: string(content),
	}}

	_ = conn.WriteJSON(response)
}

func (f *Facade) addClient(id uuid.UUID, conn *websocket.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[id] = conn
}

func (f *Facade) removeClient(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.clients, id)
}

// ClientCount returns the number of currently connected clients, for metrics/tests.
func (f *Facade) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}
