package nostr

import "testing"

func Test_OutboundQueue_FIFO(t *testing.T) {
	q := newOutboundQueue()

	a := &Event{ID: "a"}
	b := &Event{ID: "b"}
	q.push(a)
	q.push(b)

	got, ok := q.pop()
	if !ok || got.ID != "a" {
		t.Fatalf("expected a first, got %+v ok=%v", got, ok)
	}

	got, ok = q.pop()
	if !ok || got.ID != "b" {
		t.Fatalf("expected b second, got %+v ok=%v", got, ok)
	}

	if _, ok := q.pop(); ok {
		t.Fatal("expected empty queue")
	}
}

func Test_OutboundQueue_SignalsOnce(t *testing.T) {
	q := newOutboundQueue()

	q.push(&Event{ID: "a"})
	q.push(&Event{ID: "b"})

	select {
	case <-q.signal():
	default:
		t.Fatal("expected a signal after push")
	}

	select {
	case <-q.signal():
		t.Fatal("did not expect a second buffered signal")
	default:
	}
}
