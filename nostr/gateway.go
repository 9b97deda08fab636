package nostr

import (
	"context"
	"fmt"
	"io/ioutil"
	"sync"
	"time"

	"github.com/tokenized/tx-relay/threads"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/tokenized/logger"
)

// SubSystem is used by the logger package.
const SubSystem = "Nostr"

// reconnectDelay is the constant backoff on any connection error. The federation is small enough
// that exponential backoff would only add latency without protecting a shared resource.
const reconnectDelay = 5 * time.Second

// State is a Gateway's position in its connection state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribing
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateSubscribing:
		return "Subscribing"
	case StateLive:
		return "Live"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// OnEvent is invoked for every event delivered on the gateway's subscription.
type OnEvent func(ctx context.Context, event *Event)

// Gateway owns a single outbound websocket connection to the shared Nostr relay ("strfry"). It
// exposes Publish (non-blocking enqueue) and Subscribe (install a delivery callback), and runs its
// own reconnect loop, grounded on the dial/read-loop/reconnect shape of a long-lived relay
// websocket client.
type Gateway struct {
	url      string
	identity *Identity
	filter   *Filter
	subID    string
	onEvent  OnEvent

	queue *outboundQueue

	mu    sync.Mutex
	state State

	thread *threads.Thread
}

// NewGateway creates a gateway that will connect to url once Start is called. processStartUnix
// pins the subscription's `since` filter; it must not be recomputed on reconnect.
func NewGateway(url string, identity *Identity, processStartUnix int64) *Gateway {
	return &Gateway{
		url:      url,
		identity: identity,
		filter:   NewBroadcastFilter(processStartUnix),
		subID:    fmt.Sprintf("tx_relay_%d", identity.RelayID),
		queue:    newOutboundQueue(),
		state:    StateDisconnected,
	}
}

// Subscribe installs the callback invoked for every event delivered on the subscription. Must be
// called before Start.
func (g *Gateway) Subscribe(onEvent OnEvent) {
	g.onEvent = onEvent
}

// Publish enqueues an event to be sent to the relay. Non-blocking: the outbound queue is
// unbounded, so backpressure never blocks the caller. A reconnect drops whatever was in flight;
// callers must not rely on individual publishes succeeding.
func (g *Gateway) Publish(event *Event) {
	g.queue.push(event)
}

// SubscriptionID returns this gateway's "tx_relay_<N>" subscription label.
func (g *Gateway) SubscriptionID() string {
	return g.subID
}

// PendingPublishes returns the number of events waiting in the outbound queue. Exposed for
// metrics and tests; not consulted by the connection loop itself.
func (g *Gateway) PendingPublishes() int {
	return g.queue.len()
}

// State returns the gateway's current connection state.
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gateway) setState(ctx context.Context, state State) {
	g.mu.Lock()
	g.state = state
	g.mu.Unlock()
	logger.Verbose(ctx, "Gateway state : %s", state)
}

// Start launches the connection loop as a managed thread. Call Stop to shut down cleanly.
func (g *Gateway) Start(ctx context.Context) {
	ctx = logger.ContextWithLogSubSystem(ctx, SubSystem)
	g.thread = threads.NewThread("nostr gateway", g.run)
	g.thread.Start(ctx)
}

// Stop closes the gateway and waits for the connection loop to exit.
func (g *Gateway) Stop(ctx context.Context) {
	ctx = logger.ContextWithLogSubSystem(ctx, SubSystem)
	complete := g.thread.GetCompleteChannel()
	g.thread.Stop(ctx)
	<-complete
	g.setState(ctx, StateClosed)
}

// Error returns the connection loop's terminal error, if any.
func (g *Gateway) Error() error {
	return g.thread.Error()
}

// run is the Disconnected -> Connecting -> Subscribing -> Live loop. It only returns when
// interrupted by an explicit Stop.
func (g *Gateway) run(ctx context.Context, interrupt <-chan interface{}) error {
	for {
		err := g.connectAndServe(ctx, interrupt)
		if err != nil && errors.Cause(err) == threads.Interrupted {
			return nil
		}
		if err == nil {
			err = errors.New("connection closed by relay")
		}

		logger.Warn(ctx, "Gateway connection failed : %s", err)
		g.setState(ctx, StateDisconnected)

		select {
		case <-interrupt:
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func (g *Gateway) connectAndServe(ctx context.Context, interrupt <-chan interface{}) error {
	g.setState(ctx, StateConnecting)

	conn, response, err := websocket.DefaultDialer.Dial(g.url, nil)
	if err != nil {
		if errors.Cause(err) == websocket.ErrBadHandshake && response != nil {
			body, _ := ioutil.ReadAll(response.Body)
			return errors.Wrapf(err, "dial : %s", string(body))
		}
		return errors.Wrap(err, "dial")
	}
	defer conn.Close()

	g.setState(ctx, StateSubscribing)

	if err := conn.WriteJSON([]interface{}{"REQ", g.subID, g.filter}); err != nil {
		return errors.Wrap(err, "send subscribe")
	}

	g.setState(ctx, StateLive)

	readErrors := make(chan error, 1)
	go g.readLoop(ctx, conn, readErrors)

	for {
		select {
		case <-interrupt:
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return errors.Wrap(threads.Interrupted, "stop requested")

		case err := <-readErrors:
			return err

		case <-g.queue.signal():
			if err := g.drainQueue(conn); err != nil {
				return err
			}
		}
	}
}

// drainQueue writes every currently queued event to the connection. If a write fails, the event
// being written is lost and the rest stay queued for the next connection; the mempool poller does
// not re-enqueue a txid it has already seen.
func (g *Gateway) drainQueue(conn *websocket.Conn) error {
	for {
		event, ok := g.queue.pop()
		if !ok {
			return nil
		}
		if err := conn.WriteJSON([]interface{}{"EVENT", event}); err != nil {
			return errors.Wrap(err, "send event")
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, errs chan<- error) {
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				errs <- nil
			} else {
				errs <- errors.Wrap(err, "read")
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		event, err := parseEventFrame(payload)
		if err != nil {
			logger.Warn(ctx, "Malformed event frame : %s", err)
			continue
		}
		if event == nil {
			continue // not an EVENT frame (e.g. NOTICE, EOSE)
		}

		if g.onEvent != nil {
			g.onEvent(ctx, event)
		}
	}
}
